package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"embed-proxy/work/cache"
	"embed-proxy/work/handlers"
	"embed-proxy/work/logger"
	"embed-proxy/work/middleware"
	"embed-proxy/work/types"
	"embed-proxy/work/utils"

	"github.com/gorilla/mux"
)

// CacheStatsResponse is the cache section of /status.
type CacheStatsResponse struct {
	Keys   int   `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	KSize  int64 `json:"ksize"`
	VSize  int64 `json:"vsize"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status     string             `json:"status"`
	CacheStats CacheStatsResponse `json:"cacheStats"`
	Uptime     float64            `json:"uptime"` // seconds since start
}

// ClearCacheRequest is the body of POST /clear-cache.
type ClearCacheRequest struct {
	Token string `json:"token"`
}

// ClearCacheResponse is the success body of POST /clear-cache.
type ClearCacheResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// setupAdminRoutes registers the descriptor, status and cache-clear endpoints.
func setupAdminRoutes(router *mux.Router, segmentCache *cache.SegmentCache, startedAt time.Time) {
	router.HandleFunc("/", corsMiddleware(middleware.GzipMiddleware(handleRoot))).Methods("GET", "OPTIONS")
	router.HandleFunc("/status", corsMiddleware(middleware.GzipMiddleware(handleStatus(segmentCache, startedAt)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/clear-cache", corsMiddleware(handleClearCache(segmentCache))).Methods("POST", "OPTIONS")
}

// corsMiddleware allows browser players on other origins to call the proxy and
// answers preflight requests directly.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// recoverMiddleware turns a panic in an admin handler into a 500 JSON error.
func recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("{admin_handlers - recoverMiddleware} Recovered panic on %s %s: %v", r.Method, r.URL.Path, rec)
				handlers.WriteError(w, types.Internal("unexpected failure", nil))
			}
		}()
		next(w, r)
	}
}

// handleRoot describes the available endpoints.
func handleRoot(w http.ResponseWriter, r *http.Request) {
	handlers.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "embed-proxy",
		"version": Version,
		"endpoints": map[string]string{
			"GET /proxy-stream/{url}": "Proxy an upstream URL as-is; manifests are rewritten, segments cached",
			"GET /viper-proxy/{url}":  "Proxy an upstream URL through the viper gateway",
			"GET /status":             "Service and cache statistics",
			"POST /clear-cache":       "Clear the segment cache, body {\"token\": \"...\"}",
			"GET /metrics":            "Prometheus metrics",
		},
	})
}

// handleStatus reports liveness, cache statistics and uptime.
func handleStatus(segmentCache *cache.SegmentCache, startedAt time.Time) http.HandlerFunc {
	return recoverMiddleware(func(w http.ResponseWriter, r *http.Request) {
		stats := segmentCache.Stats()

		logger.Debug("{admin_handlers - handleStatus} %d live entries, %s payload",
			stats.Count, utils.FormatBytes(stats.ValueSize))

		handlers.WriteJSON(w, http.StatusOK, StatusResponse{
			Status: "ok",
			CacheStats: CacheStatsResponse{
				Keys:   stats.Count,
				Hits:   stats.Hits,
				Misses: stats.Misses,
				KSize:  stats.KeySize,
				VSize:  stats.ValueSize,
			},
			Uptime: time.Since(startedAt).Seconds(),
		})
	})
}

// handleClearCache empties the segment cache when the posted token matches the
// admin secret. A malformed body counts as a wrong token.
func handleClearCache(segmentCache *cache.SegmentCache) http.HandlerFunc {
	return recoverMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req ClearCacheRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
			logger.Debug("{admin_handlers - handleClearCache} Unreadable body: %v", err)
		}

		removed, err := segmentCache.Clear(req.Token)
		if err != nil {
			handlers.WriteError(w, err)
			return
		}

		handlers.WriteJSON(w, http.StatusOK, ClearCacheResponse{
			Success: true,
			Message: fmt.Sprintf("Cache cleared: %d entries removed", removed),
			Removed: removed,
		})
	})
}
