package client

import (
	"net/http"
	"time"

	"embed-proxy/work/config"
	"embed-proxy/work/logger"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"
)

// HeaderSettingClient wraps http.Client to stamp variant headers on every
// upstream request and pace requests per upstream host.
type HeaderSettingClient struct {
	Client   *http.Client
	config   *config.Config
	limiters *xsync.MapOf[string, ratelimit.Limiter]
}

// NewHeaderSettingClient builds the shared upstream client. There is no overall
// client timeout: buffered fetches carry their own deadline and streamed
// passthrough only bounds the wait for response headers.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.StreamHeaderTimeout,
		},
	}

	return &HeaderSettingClient{
		Client:   client,
		config:   cfg,
		limiters: xsync.NewMapOf[string, ratelimit.Limiter](),
	}
}

// Do applies headers to req, waits for the host's rate limiter and sends it.
func (hsc *HeaderSettingClient) Do(req *http.Request, headers http.Header) (*http.Response, error) {
	setHeaders(req, headers)
	hsc.limiterFor(req.URL.Host).Take()
	return hsc.Client.Do(req)
}

func setHeaders(req *http.Request, headers http.Header) {
	for name, values := range headers {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
}

func (hsc *HeaderSettingClient) limiterFor(host string) ratelimit.Limiter {
	limiter, _ := hsc.limiters.LoadOrCompute(host, func() ratelimit.Limiter {
		if hsc.config.UpstreamRateLimit <= 0 {
			return ratelimit.NewUnlimited()
		}
		logger.Debug("{client/client - limiterFor} Pacing %s at %d req/s", host, hsc.config.UpstreamRateLimit)
		return ratelimit.New(hsc.config.UpstreamRateLimit, ratelimit.WithoutSlack)
	})
	return limiter
}
