package stage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carepipe/internal/config"
	"carepipe/internal/constants"
	"carepipe/internal/logger"
	"carepipe/pkg/health"
	"carepipe/pkg/middleware"
	"carepipe/pkg/ratelimit"
	"carepipe/pkg/tracing"
)

// NewRouter builds the gin engine shared by every service: recovery, request ids, request logs,
// optional tracing and rate limiting, plus /health and /metrics.
func NewRouter(service string, cfg *config.Config, log logger.Logger, registry *health.CheckerRegistry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(service))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware(service))
	router.Use(middleware.LoggerMiddleware(log))

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit))
		router.Use(ratelimit.Middleware(limiter))
		log.Infow("Rate limiting enabled", "rps", cfg.RateLimit.RPS, "burst", cfg.RateLimit.Burst)
	}

	router.GET("/health", func(c *gin.Context) {
		h := registry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Serve runs handler on port until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, port int, handler http.Handler, log logger.Logger) error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.InfowCtx(ctx, "HTTP server starting", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return <-errCh
	}
}
