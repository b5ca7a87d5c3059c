package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/scoutbatch-go/internal/batch/adapters/stream"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/metrics"
	"github.com/scoutbatch-go/pkg/middleware/auth"
	"github.com/scoutbatch-go/pkg/ratelimit"
	"github.com/scoutbatch-go/pkg/telemetry"
)

// RouterOptions carries the optional pieces of the router. Nil fields are
// left out. Limiter only applies to the manual flush endpoints.
type RouterOptions struct {
	Limiter   ratelimit.RateLimiter
	Keys      auth.APIKeyValidator
	Telemetry *telemetry.Telemetry
	Stream    *stream.Hub
	Logger    logger.Logger
}

func NewRouter(h *BatchHandlers, opts RouterOptions) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	if opts.Telemetry != nil {
		router.Use(opts.Telemetry.HTTPMiddleware())
	}
	router.Use(metricsMiddleware())
	if opts.Logger != nil {
		router.Use(loggingMiddleware(opts.Logger))
	}

	// Health checks
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	throttle := pass
	if opts.Limiter != nil {
		throttle = ratelimit.Middleware(opts.Limiter, ratelimit.ParamKeyFunc("entityType"))
	}
	read, write, flush := pass, pass, pass

	v1 := router.Group("/api/v1/batches")
	if opts.Keys != nil {
		v1.Use(auth.APIKeyMiddleware(opts.Keys))
		read = auth.RequireAPIKeyPermission("batches", "read")
		write = auth.RequireAPIKeyPermission("batches", "write")
		flush = auth.RequireAPIKeyPermission("batches", "flush")
	}
	{
		v1.GET("", read, h.ListActive)
		if opts.Stream != nil {
			v1.GET("/stream", read, opts.Stream.ServeWS)
		}
		v1.POST("/flush", flush, throttle, h.Sweep)
		v1.GET("/:entityType", read, h.Status)
		v1.POST("/:entityType/flush", flush, throttle, h.Flush)
		v1.POST("/:entityType/:direction", write, h.Enqueue)
	}

	return router
}

func pass(c *gin.Context) { c.Next() }

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func loggingMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"ip", c.ClientIP(),
		)
	}
}
