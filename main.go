package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"embed-proxy/work/buffer"
	"embed-proxy/work/cache"
	"embed-proxy/work/client"
	"embed-proxy/work/config"
	"embed-proxy/work/handlers"
	"embed-proxy/work/logger"
	"embed-proxy/work/middleware"
	"embed-proxy/work/proxy"
	"embed-proxy/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()

	// Set up logging
	logger.Setup(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	// Initialize the segment cache and its expiry sweep
	segmentCache, err := cache.NewSegmentCache(cache.Options{
		TTL:           cfg.CacheTTL,
		SweepInterval: cfg.CacheSweepInterval,
		MaxBytes:      cfg.CacheMaxBytes,
		AdminToken:    cfg.AdminToken,
	})
	if err != nil {
		logger.Error("{main - main} Failed to create segment cache: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	segmentCache.Start(ctx)
	defer segmentCache.Close()

	// Initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// Initialize worker pool for buffered fetches
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} Failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	// Create the orchestrator
	orchestrator := proxy.New(cfg, segmentCache, httpClient, workerPool, buffer.NewBufferPool(32*1024))

	router := newRouter(orchestrator, segmentCache, time.Now())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// show info
	logger.Info("{main - main} Starting embed-proxy %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Port: %d", cfg.Port)
	logger.Info("{main - main}   - Cache TTL: %s (sweep every %s)", cfg.CacheTTL, cfg.CacheSweepInterval)
	logger.Info("{main - main}   - Cache Ceiling: %s", utils.FormatBytes(cfg.CacheMaxBytes))
	logger.Info("{main - main}   - Upstream Timeout: %s", cfg.UpstreamTimeout)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Upstream Rate Limit: %d req/s per host", cfg.UpstreamRateLimit)
	logger.Info("{main - main}   - Gateway: %s/api/proxy/%s", cfg.GatewayHost, cfg.ProviderTag)
	logger.Info("{main - main}   - Admin Token Set: %v", cfg.AdminToken != "")
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)
	logger.Info("{main - main}   - Log Level: %s", logger.GetLogLevel())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	// fire us up and wait for a signal or a listener failure
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{main - main} Server failed to start: %v", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("{main - main} Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("{main - main} Graceful shutdown failed: %v", err)
		}
	}
}

// newRouter wires the proxy, admin and metrics routes. SkipClean keeps the
// "//" of embedded upstream URLs and UseEncodedPath keeps their escaping.
func newRouter(orchestrator *proxy.Orchestrator, segmentCache *cache.SegmentCache, startedAt time.Time) *mux.Router {
	router := mux.NewRouter().SkipClean(true).UseEncodedPath()

	// Proxy routes
	router.HandleFunc("/proxy-stream/{url:.*}", corsMiddleware(middleware.GzipMiddleware(handlers.HandleProxyStream(orchestrator)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/viper-proxy/{url:.*}", corsMiddleware(middleware.GzipMiddleware(handlers.HandleViperProxy(orchestrator)))).Methods("GET", "OPTIONS")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, segmentCache, startedAt)

	return router
}
