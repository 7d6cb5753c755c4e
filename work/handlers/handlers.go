package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"embed-proxy/work/logger"
	"embed-proxy/work/metrics"
	"embed-proxy/work/proxy"
	"embed-proxy/work/transform"
	"embed-proxy/work/types"

	"github.com/gorilla/mux"
)

// HandleProxyStream serves /proxy-stream/{url}: the target is fetched verbatim.
func HandleProxyStream(o *proxy.Orchestrator) http.HandlerFunc {
	return handleProxy(o, transform.NewPassThrough())
}

// HandleViperProxy serves /viper-proxy/{url}: the target is rebuilt on the gateway host.
func HandleViperProxy(o *proxy.Orchestrator) http.HandlerFunc {
	return handleProxy(o, transform.NewHostRewriting(o.Config.GatewayHost, o.Config.ProviderTag))
}

func handleProxy(o *proxy.Orchestrator, strategy transform.Strategy) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		variant := string(strategy.Variant())
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("{handlers/handlers - handleProxy} Recovered panic on %s: %v", r.URL.Path, rec)
				metrics.ProxyRequests.WithLabelValues(variant, "unknown", types.KindInternal.String()).Inc()
				WriteError(w, types.Internal("unexpected failure", nil))
			}
		}()

		// Step 1: resolve the upstream target and apply the host rules
		clientURL := TargetURL(r)
		req, err := strategy.Resolve(clientURL)
		if err == nil && !o.Hosts.Allowed(clientURL) {
			err = types.InvalidInput("upstream host not allowed", nil)
		}
		if err != nil {
			metrics.ProxyRequests.WithLabelValues(variant, "unknown", types.KindOf(err).String()).Inc()
			WriteError(w, err)
			return
		}

		// Step 2: fetch through the cache or the upstream
		resp, err := o.Fetch(r.Context(), req)
		if err != nil {
			metrics.ProxyRequests.WithLabelValues(variant, types.Classify(req.TargetURL).String(), types.KindOf(err).String()).Inc()
			WriteError(w, err)
			return
		}

		category := resp.Category.String()
		w.Header().Set("Content-Type", resp.ContentType)

		// Step 3a: passthrough bodies are streamed chunk by chunk
		if resp.Body != nil {
			defer resp.Body.Close()

			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)

			n, err := o.Buffers.CopyFlush(w, resp.Body)
			metrics.BytesTransferred.WithLabelValues(category, "downstream").Add(float64(n))
			metrics.ProxyRequests.WithLabelValues(variant, category, "streamed").Inc()
			if err != nil {
				// headers are gone, the client just sees a truncated body
				logger.Debug("{handlers/handlers - handleProxy} Stream ended early after %d bytes: %v", n, err)
			}
			return
		}

		// Step 3b: buffered payloads go out in one write
		outcome := "fetched"
		if resp.CacheHit {
			outcome = "hit"
		}
		metrics.ProxyRequests.WithLabelValues(variant, category, outcome).Inc()

		w.Header().Set("Content-Length", strconv.Itoa(len(resp.Payload)))
		w.WriteHeader(http.StatusOK)
		n, err := w.Write(resp.Payload)
		metrics.BytesTransferred.WithLabelValues(category, "downstream").Add(float64(n))
		if err != nil {
			logger.Debug("{handlers/handlers - handleProxy} Client write failed: %v", err)
		}
	}
}

// TargetURL returns the upstream URL embedded in the request path, with the
// client's query string re-attached.
func TargetURL(r *http.Request) string {
	target := mux.Vars(r)["url"]
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers/handlers - WriteJSON} Failed to encode response: %v", err)
	}
}

// WriteError converts err into the single JSON error body of a failed request.
func WriteError(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	message := err.Error()

	var pe *types.ProxyError
	if errors.As(err, &pe) && pe.Kind == types.KindUnauthorized {
		message = pe.Message
	} else {
		message = "proxy error: " + message
	}

	if status >= http.StatusInternalServerError {
		logger.Error("{handlers/handlers - WriteError} %s", message)
	} else {
		logger.Debug("{handlers/handlers - WriteError} %d %s", status, message)
	}

	WriteJSON(w, status, map[string]string{"error": message})
}
