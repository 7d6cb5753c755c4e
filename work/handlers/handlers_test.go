package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"embed-proxy/work/buffer"
	"embed-proxy/work/cache"
	"embed-proxy/work/client"
	"embed-proxy/work/config"
	"embed-proxy/work/proxy"
	"embed-proxy/work/types"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrigin(t *testing.T, hits *atomic.Int64, seen *http.Header) *httptest.Server {
	t.Helper()

	m := http.NewServeMux()
	m.HandleFunc("/live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, "#EXTM3U\nhttps://cdn.example/a.ts\n#EXT-X-ENDLIST")
	})
	m.HandleFunc("/live/a.ts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Write([]byte("segment:" + r.URL.RawQuery))
	})
	m.HandleFunc("/live/movie.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		io.WriteString(w, strings.Repeat("x", 10000))
	})
	m.HandleFunc("/api/proxy/viper/stormyclouds42.xyz/file2/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = r.Header.Clone()
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, "#EXTM3U\n#EXTINF:6.0,\nseg.ts\n")
	})

	return httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		m.ServeHTTP(w, r)
	}))
}

func newRouter(t *testing.T, cfg *config.Config, httpClient *http.Client) (*mux.Router, *proxy.Orchestrator) {
	t.Helper()

	segmentCache, err := cache.NewSegmentCache(cache.Options{TTL: cfg.CacheTTL})
	require.NoError(t, err)
	t.Cleanup(segmentCache.Close)

	hsc := client.NewHeaderSettingClient(cfg)
	if httpClient != nil {
		hsc.Client = httpClient
	}

	o := proxy.New(cfg, segmentCache, hsc, nil, buffer.NewBufferPool(4096))

	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.HandleFunc("/proxy-stream/{url:.*}", HandleProxyStream(o)).Methods(http.MethodGet)
	router.HandleFunc("/viper-proxy/{url:.*}", HandleViperProxy(o)).Methods(http.MethodGet)

	return router, o
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func TestProxyStream_ManifestRewritten(t *testing.T) {
	var hits atomic.Int64
	origin := newOrigin(t, &hits, nil)
	origin.Start()
	defer origin.Close()

	router, _ := newRouter(t, config.Validated(&config.Config{}), nil)

	rec := get(router, "/proxy-stream/"+origin.URL+"/live/index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "#EXTM3U\n/proxy-stream/https://cdn.example/a.ts\n#EXT-X-ENDLIST", rec.Body.String())
}

func TestProxyStream_SegmentCachedWithQuery(t *testing.T) {
	var hits atomic.Int64
	origin := newOrigin(t, &hits, nil)
	origin.Start()
	defer origin.Close()

	router, o := newRouter(t, config.Validated(&config.Config{}), nil)
	path := "/proxy-stream/" + origin.URL + "/live/a.ts?token=abc"

	first := get(router, path)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "segment:token=abc", first.Body.String())
	assert.Equal(t, "video/mp2t", first.Header().Get("Content-Type"))

	second := get(router, path)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())

	assert.Equal(t, int64(1), hits.Load())
	_, ok := o.Cache.Get(origin.URL + "/live/a.ts?token=abc")
	assert.True(t, ok, "cache key is the full upstream URL including the query")
}

func TestProxyStream_PassthroughBody(t *testing.T) {
	var hits atomic.Int64
	origin := newOrigin(t, &hits, nil)
	origin.Start()
	defer origin.Close()

	router, o := newRouter(t, config.Validated(&config.Config{}), nil)

	rec := get(router, "/proxy-stream/"+origin.URL+"/live/movie.mp4")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, 10000, rec.Body.Len())
	assert.True(t, rec.Flushed)
	assert.Equal(t, 0, o.Cache.Len())
}

func TestProxyStream_BadInput(t *testing.T) {
	router, _ := newRouter(t, config.Validated(&config.Config{}), nil)

	for _, path := range []string{
		"/proxy-stream/",
		"/proxy-stream/ftp://cdn.example/a.ts",
		"/proxy-stream/not-a-url",
		"/viper-proxy/",
	} {
		rec := get(router, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
		assert.NotEmpty(t, decodeError(t, rec), path)
	}
}

func TestProxyStream_Upstream404(t *testing.T) {
	var hits atomic.Int64
	origin := newOrigin(t, &hits, nil)
	origin.Start()
	defer origin.Close()

	router, o := newRouter(t, config.Validated(&config.Config{}), nil)

	rec := get(router, "/proxy-stream/"+origin.URL+"/live/missing.ts")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeError(t, rec), "404")
	assert.Equal(t, 0, o.Cache.Len())
}

func TestViperProxy_RoutesThroughGateway(t *testing.T) {
	var hits atomic.Int64
	var seen http.Header
	origin := newOrigin(t, &hits, &seen)
	origin.StartTLS()
	defer origin.Close()

	cfg := config.Validated(&config.Config{GatewayHost: origin.Listener.Addr().String()})
	router, _ := newRouter(t, cfg, origin.Client())

	rec := get(router, "/viper-proxy/https://stormyclouds42.xyz/file2/index.m3u8")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	want := "/proxy-stream/https://" + cfg.GatewayHost + "/api/proxy/viper/stormyclouds42.xyz/file2/seg.ts"
	assert.Equal(t, "#EXTM3U\n#EXTINF:6.0,\n"+want+"\n", rec.Body.String())
	assert.Equal(t, "cors", seen.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "https://embed.su", seen.Get("Origin"))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.UpstreamStatus(http.StatusBadGateway, "502 Bad Gateway"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "proxy error: upstream responded with 502 Bad Gateway", decodeError(t, rec))

	rec = httptest.NewRecorder()
	WriteError(rec, types.Unauthorized())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Unauthorized", decodeError(t, rec))
}

func TestTargetURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/proxy-stream/x?a=1&b=2", nil)
	req = mux.SetURLVars(req, map[string]string{"url": "https://cdn.example/a.ts"})
	assert.Equal(t, "https://cdn.example/a.ts?a=1&b=2", TargetURL(req))
}

func TestProxyStream_HostFilter(t *testing.T) {
	cfg := config.Validated(&config.Config{UpstreamHostExclude: `^127\.`})
	router, _ := newRouter(t, cfg, nil)

	rec := get(router, "/proxy-stream/http://127.0.0.1:9/live/a.ts")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec), "upstream host not allowed")
}
