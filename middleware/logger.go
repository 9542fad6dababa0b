package middleware

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志中间件
type Logger struct {
	log   *logrus.Logger
	level string
}

// LogOptions 日志输出选项
type LogOptions struct {
	Level      string
	Format     string
	Output     string // stdout, stderr 或文件路径
	MaxSize    int    // MB
	MaxBackups int
	MaxAge     int // 天
}

// NewLogger 创建日志中间件（输出到 stdout）
func NewLogger(level, format string) *Logger {
	return NewLoggerWithOptions(LogOptions{Level: level, Format: format, Output: "stdout"})
}

// NewLoggerWithOptions 按选项创建日志中间件
func NewLoggerWithOptions(opts LogOptions) *Logger {
	log := logrus.New()

	// 设置日志级别
	switch opts.Level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	// 设置格式
	if opts.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	log.SetOutput(openOutput(opts))

	return &Logger{
		log:   log,
		level: opts.Level,
	}
}

// openOutput 根据配置选择输出，文件输出按大小滚动
func openOutput(opts LogOptions) io.Writer {
	switch opts.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}

	return &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
	}
}

// SetOutput 替换日志输出
func (l *Logger) SetOutput(w io.Writer) {
	l.log.SetOutput(w)
}

// Printf 供 cron 等第三方组件使用
func (l *Logger) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

// Info 记录 info 日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

// Debug 记录 debug 日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}

// Warn 记录 warn 日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

// Error 记录 error 日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

// withTrace 附加 trace_id 字段
func (l *Logger) withTrace(ctx context.Context, fields logrus.Fields) *logrus.Entry {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields["trace_id"] = traceID
	}
	return l.log.WithFields(fields)
}

// LogQueryStart 记录查询开始（DEBUG 级别）
func (l *Logger) LogQueryStart(ctx context.Context, clientIP, domain string, qtype uint16) {
	l.withTrace(ctx, logrus.Fields{
		"client": clientIP,
		"domain": domain,
		"qtype":  dns.TypeToString[qtype],
	}).Debug("[查询开始]")
}

// LogQueryComplete 记录查询完成（INFO 级别）
func (l *Logger) LogQueryComplete(ctx context.Context, domain string, qtype, rcode uint16, cached bool, latency time.Duration, answerCount int) {
	l.withTrace(ctx, logrus.Fields{
		"domain":       domain,
		"qtype":        dns.TypeToString[qtype],
		"rcode":        dns.RcodeToString[int(rcode)],
		"cached":       cached,
		"latency_ms":   latency.Milliseconds(),
		"answer_count": answerCount,
	}).Info("DNS查询完成")
}

// LogQueryError 记录查询失败（ERROR 级别）
func (l *Logger) LogQueryError(ctx context.Context, clientIP, domain string, err error) {
	l.withTrace(ctx, logrus.Fields{
		"client": clientIP,
		"domain": domain,
		"error":  err.Error(),
	}).Error("DNS查询失败")
}

// LogMalformedQuery 记录无法解析的报文（DEBUG 级别）
func (l *Logger) LogMalformedQuery(clientIP string, size int, err error) {
	l.log.WithFields(logrus.Fields{
		"client": clientIP,
		"size":   size,
		"error":  err.Error(),
	}).Debug("[丢弃畸形报文]")
}

// LogCacheHit 记录缓存命中（DEBUG 级别）
func (l *Logger) LogCacheHit(ctx context.Context, domain string, qtype uint16, ttl time.Duration) {
	l.withTrace(ctx, logrus.Fields{
		"domain":        domain,
		"qtype":         dns.TypeToString[qtype],
		"remaining_ttl": ttl.Seconds(),
	}).Debug("[缓存命中]")
}

// LogCacheMiss 记录缓存未命中（DEBUG 级别）
func (l *Logger) LogCacheMiss(ctx context.Context, domain string, qtype uint16) {
	l.withTrace(ctx, logrus.Fields{
		"domain": domain,
		"qtype":  dns.TypeToString[qtype],
	}).Debug("[缓存未命中]")
}

// LogCacheSet 记录缓存写入（DEBUG 级别）
func (l *Logger) LogCacheSet(ctx context.Context, domain string, qtype uint16, ttl time.Duration) {
	l.withTrace(ctx, logrus.Fields{
		"domain":  domain,
		"qtype":   dns.TypeToString[qtype],
		"ttl_sec": ttl.Seconds(),
	}).Debug("[缓存写入]")
}

// LogCacheSweep 记录缓存清理（DEBUG 级别，有删除时 INFO）
func (l *Logger) LogCacheSweep(removed, remaining int, latency time.Duration) {
	entry := l.log.WithFields(logrus.Fields{
		"removed":    removed,
		"remaining":  remaining,
		"latency_ms": latency.Milliseconds(),
	})
	if removed > 0 {
		entry.Info("缓存清理完成")
		return
	}
	entry.Debug("[缓存清理]")
}

// LogCacheFlush 记录缓存持久化（DEBUG 级别）
func (l *Logger) LogCacheFlush(backend string, records int, latency time.Duration) {
	l.log.WithFields(logrus.Fields{
		"backend":    backend,
		"records":    records,
		"latency_ms": latency.Milliseconds(),
	}).Debug("[缓存持久化]")
}

// LogUpstreamQuery 记录上游查询（DEBUG 级别）
func (l *Logger) LogUpstreamQuery(ctx context.Context, domain string, qtype uint16, nameserver string) {
	l.withTrace(ctx, logrus.Fields{
		"domain":     domain,
		"qtype":      dns.TypeToString[qtype],
		"nameserver": nameserver,
	}).Debug("[上游查询]")
}

// LogUpstreamResponse 记录上游响应（DEBUG 级别）
func (l *Logger) LogUpstreamResponse(ctx context.Context, domain string, qtype uint16, nameserver string, rcode uint16, answerCount int, latency time.Duration) {
	l.withTrace(ctx, logrus.Fields{
		"domain":       domain,
		"qtype":        dns.TypeToString[qtype],
		"nameserver":   nameserver,
		"rcode":        dns.RcodeToString[int(rcode)],
		"answer_count": answerCount,
		"latency_ms":   latency.Milliseconds(),
	}).Debug("[上游响应]")
}

// LogUpstreamError 记录上游错误（WARN 级别）
func (l *Logger) LogUpstreamError(ctx context.Context, domain, nameserver string, err error, latency time.Duration) {
	l.withTrace(ctx, logrus.Fields{
		"domain":     domain,
		"nameserver": nameserver,
		"error":      err.Error(),
		"latency_ms": latency.Milliseconds(),
	}).Warn("上游查询失败")
}

// LogDNSAnswer 记录 DNS 应答详情（DEBUG 级别）
func (l *Logger) LogDNSAnswer(ctx context.Context, domain string, answers []dns.RR) {
	if len(answers) == 0 {
		return
	}

	answerStrs := make([]string, 0, len(answers))
	for _, ans := range answers {
		answerStrs = append(answerStrs, ans.String())
	}

	l.withTrace(ctx, logrus.Fields{
		"domain":  domain,
		"answers": answerStrs,
	}).Debug("[DNS应答]")
}

// LogError 记录错误（ERROR 级别）
func (l *Logger) LogError(ctx context.Context, msg, domain string, err error, additionalInfo map[string]interface{}) {
	fields := logrus.Fields{
		"context": msg,
		"domain":  domain,
		"error":   err.Error(),
	}
	for k, v := range additionalInfo {
		fields[k] = v
	}
	l.withTrace(ctx, fields).Error("发生错误")
}

// FormatDuration 格式化时间间隔为易读格式
func FormatDuration(d time.Duration) string {
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	} else if d < time.Millisecond {
		return fmt.Sprintf("%.2fμs", float64(d.Nanoseconds())/1000.0)
	} else if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Milliseconds()))
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
