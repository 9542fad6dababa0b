package admin

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"cachedns/cache"
	"cachedns/middleware"
	"cachedns/resolver"
	"cachedns/server"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"
)

// Flusher 持久化操作
type Flusher interface {
	Flush(ctx context.Context) error
	MarkDirty()
	Stats() cache.FlushStats
}

// Deps 管理接口依赖，Flusher 未启用持久化时为 nil
type Deps struct {
	Cache    cache.RecordCache
	Sweeper  interface{ SweepNow() int }
	Flusher  Flusher
	Resolver interface{ Stats() resolver.Stats }
	Server   interface{ Stats() server.Stats }
}

// API 管理 HTTP 接口
type API struct {
	deps   Deps
	listen string
	logger *middleware.Logger
	engine *gin.Engine
}

// recordView 缓存记录的展示格式
type recordView struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	TTL      uint32    `json:"ttl"`
	ExpireAt time.Time `json:"expire_at"`
	RR       string    `json:"rr"`
}

// NewAPI 创建管理接口，allowOrigins 非空时允许这些来源跨域访问
func NewAPI(listen string, allowOrigins []string, deps Deps, logger *middleware.Logger) *API {
	gin.SetMode(gin.ReleaseMode)

	a := &API{
		deps:   deps,
		listen: listen,
		logger: logger,
		engine: gin.New(),
	}
	a.engine.Use(gin.Recovery())
	if len(allowOrigins) > 0 {
		a.engine.Use(cors.New(cors.Config{
			AllowOrigins: allowOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
			MaxAge:       12 * time.Hour,
		}))
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := a.engine.Group("/api")
	{
		api.GET("/cache/stats", a.stats)
		api.GET("/cache/records", a.records)
		api.POST("/cache/sweep", a.sweep)
		api.POST("/cache/flush", a.flush)
		api.DELETE("/cache", a.clear)
	}
}

// Handler 返回 HTTP 处理器
func (a *API) Handler() http.Handler {
	return a.engine
}

// Start 启动管理接口，上下文取消时关闭
func (a *API) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.listen,
		Handler:           a.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("管理接口启动: http://%s", a.listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) stats(c *gin.Context) {
	resp := gin.H{
		"records": a.deps.Cache.Len(),
	}
	if a.deps.Resolver != nil {
		resp["resolver"] = a.deps.Resolver.Stats()
	}
	if a.deps.Server != nil {
		resp["server"] = a.deps.Server.Stats()
	}
	if a.deps.Flusher != nil {
		resp["persistence"] = a.deps.Flusher.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) records(c *gin.Context) {
	filter := ""
	if name := c.Query("name"); name != "" {
		filter = dns.CanonicalName(name)
	}

	now := time.Now()
	views := make([]recordView, 0)
	for _, rec := range a.deps.Cache.Snapshot() {
		if rec.IsExpired(now) {
			continue
		}
		key := rec.Key()
		if filter != "" && key.Name != filter {
			continue
		}
		views = append(views, recordView{
			Name:     strings.TrimSuffix(key.Name, "."),
			Type:     dns.TypeToString[key.Type],
			TTL:      rec.RemainingTTL(now),
			ExpireAt: rec.ExpireAt,
			RR:       rec.RR.String(),
		})
	}

	sort.Slice(views, func(i, j int) bool {
		if views[i].Name != views[j].Name {
			return views[i].Name < views[j].Name
		}
		return views[i].Type < views[j].Type
	})

	c.JSON(http.StatusOK, gin.H{"count": len(views), "records": views})
}

func (a *API) sweep(c *gin.Context) {
	removed := a.deps.Sweeper.SweepNow()
	c.JSON(http.StatusOK, gin.H{"removed": removed, "remaining": a.deps.Cache.Len()})
}

func (a *API) flush(c *gin.Context) {
	if a.deps.Flusher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未启用持久化"})
		return
	}
	if err := a.deps.Flusher.Flush(c.Request.Context()); err != nil {
		a.logger.Warn("手动持久化失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": a.deps.Cache.Len()})
}

func (a *API) clear(c *gin.Context) {
	removed := a.deps.Cache.Len()
	a.deps.Cache.Clear()
	if a.deps.Flusher != nil {
		a.deps.Flusher.MarkDirty()
	}
	a.logger.Info("缓存已通过管理接口清空: removed=%d", removed)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
