package middleware

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}

// NewTraceID 生成查询追踪 ID
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID 将 trace_id 写入 context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceIDFromContext 读取 trace_id，不存在时返回空串
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}
