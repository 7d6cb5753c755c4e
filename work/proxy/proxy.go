package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"embed-proxy/work/buffer"
	"embed-proxy/work/cache"
	"embed-proxy/work/client"
	"embed-proxy/work/config"
	"embed-proxy/work/filter"
	"embed-proxy/work/logger"
	"embed-proxy/work/metrics"
	"embed-proxy/work/rewriter"
	"embed-proxy/work/types"
	"embed-proxy/work/utils"

	"github.com/panjf2000/ants/v2"
)

const (
	manifestContentType = "application/vnd.apple.mpegurl"
	defaultContentType  = "application/octet-stream"
)

// Response is the result of one proxied fetch. Buffered categories carry the
// whole body in Payload; CategoryOther carries the open upstream Body instead,
// which the caller must stream and close.
type Response struct {
	Category    types.Category
	ContentType string
	Payload     []byte
	Body        io.ReadCloser
	CacheHit    bool
	StatusCode  int
}

// Orchestrator decides per request between a cache hit, a buffered fetch that
// rewrites or populates the cache, and a passthrough stream.
type Orchestrator struct {
	Config  *config.Config              // Application configuration
	Cache   *cache.SegmentCache         // Segment, image and page bodies by upstream URL
	Client  *client.HeaderSettingClient // Upstream client with per-host pacing
	Pool    *ants.Pool                  // Runs buffered fetches, nil runs them inline
	Buffers *buffer.BufferPool          // Pooled buffers for body reads
	Hosts   *filter.HostFilter          // Upstream host allow/deny rules, nil allows all
}

// New creates an Orchestrator.
func New(cfg *config.Config, segmentCache *cache.SegmentCache, httpClient *client.HeaderSettingClient, workerPool *ants.Pool, bufferPool *buffer.BufferPool) *Orchestrator {
	return &Orchestrator{
		Config:  cfg,
		Cache:   segmentCache,
		Client:  httpClient,
		Pool:    workerPool,
		Buffers: bufferPool,
		Hosts:   filter.NewHostFilter(cfg.UpstreamHostInclude, cfg.UpstreamHostExclude),
	}
}

// Fetch serves one proxied request.
//
// Parameters:
//   - ctx: the client's request context
//   - req: resolved upstream target, headers and manifest rewrite mode
//
// Returns:
//   - *Response: a buffered Payload, or an open Body for passthrough content
//   - error: a *types.ProxyError; non-2xx upstream answers are KindUpstream
//
// Behavior:
//   - Cacheable targets are answered from the cache when a live entry exists.
//   - Manifests are fetched and rewritten every time and never cached.
//   - Cacheable misses are fetched on the worker pool, detached from ctx, and
//     stored before returning.
//   - Everything else streams through bound to ctx.
func (o *Orchestrator) Fetch(ctx context.Context, req *types.FetchRequest) (*Response, error) {
	category := types.Classify(req.TargetURL)

	// Step 1: cache lookup
	if category == types.CategoryCacheable {
		if e, ok := o.Cache.Get(req.TargetURL); ok {
			logger.Debug("{proxy/proxy - Fetch} Cache hit: %s", o.logURL(req.TargetURL))
			return &Response{
				Category:    category,
				ContentType: e.ContentType,
				Payload:     e.Payload,
				CacheHit:    true,
				StatusCode:  http.StatusOK,
			}, nil
		}
	}

	// Step 2: passthrough streams skip the pool
	if category == types.CategoryOther {
		return o.openStream(ctx, req)
	}

	// Step 3: buffered fetch for manifests and cache misses
	return o.runBuffered(ctx, req, category)
}

type fetchResult struct {
	resp *Response
	err  error
}

// runBuffered hands the fetch to the worker pool. The fetch is detached from the
// client's cancellation, so a cacheable body still lands in the cache when the
// client gives up early.
func (o *Orchestrator) runBuffered(ctx context.Context, req *types.FetchRequest, category types.Category) (*Response, error) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.Config.UpstreamTimeout)

	done := make(chan fetchResult, 1)
	task := func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("{proxy/proxy - runBuffered} Recovered panic fetching %s: %v", o.logURL(req.TargetURL), r)
				done <- fetchResult{err: types.Internal("fetch failed", nil)}
			}
		}()
		resp, err := o.fetchBuffered(fetchCtx, req, category)
		done <- fetchResult{resp: resp, err: err}
	}

	if o.Pool == nil {
		task()
	} else if err := o.Pool.Submit(task); err != nil {
		cancel()
		logger.Error("{proxy/proxy - runBuffered} Worker pool rejected fetch: %v", err)
		return nil, types.Internal("worker pool unavailable", err)
	}

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, types.Internal("client went away", ctx.Err())
	}
}

func (o *Orchestrator) fetchBuffered(ctx context.Context, req *types.FetchRequest, category types.Category) (*Response, error) {
	upstream, err := o.open(ctx, req, category)
	if err != nil {
		return nil, err
	}
	defer upstream.Body.Close()

	// one body may never outweigh the whole cache
	payload, err := o.Buffers.ReadAll(upstream.Body, o.Config.CacheMaxBytes)
	if errors.Is(err, buffer.ErrTooLarge) {
		logger.Warn("{proxy/proxy - fetchBuffered} Body of %s exceeds %s", o.logURL(req.TargetURL), utils.FormatBytes(o.Config.CacheMaxBytes))
		metrics.UpstreamErrors.WithLabelValues("too_large").Inc()
		return nil, types.UpstreamFailure(err)
	}
	if err != nil {
		logger.Error("{proxy/proxy - fetchBuffered} Failed reading body of %s: %v", o.logURL(req.TargetURL), err)
		metrics.UpstreamErrors.WithLabelValues("network").Inc()
		return nil, types.UpstreamFailure(err)
	}
	metrics.BytesTransferred.WithLabelValues(category.String(), "upstream").Add(float64(len(payload)))

	contentType := contentTypeOf(upstream, category)

	if category == types.CategoryManifest {
		text, rewritten := rewriter.Rewrite(string(payload), req.RewriteMode, rewriter.RewriteContext{BaseURL: req.TargetURL})
		info := rewriter.Inspect(text)
		metrics.ManifestsRewritten.WithLabelValues(req.RewriteMode.String(), info.Kind).Inc()
		logger.Debug("{proxy/proxy - fetchBuffered} Rewrote %s manifest %s (%d refs, mode %s)",
			info.Kind, o.logURL(req.TargetURL), rewritten, req.RewriteMode)

		return &Response{
			Category:    category,
			ContentType: contentType,
			Payload:     []byte(text),
			StatusCode:  http.StatusOK,
		}, nil
	}

	o.Cache.Put(req.TargetURL, payload, contentType)
	logger.Debug("{proxy/proxy - fetchBuffered} Cached %s (%s)", o.logURL(req.TargetURL), utils.FormatBytes(int64(len(payload))))

	return &Response{
		Category:    category,
		ContentType: contentType,
		Payload:     payload,
		StatusCode:  http.StatusOK,
	}, nil
}

// openStream opens a passthrough fetch bound to the client's context, so the
// upstream read stops when the client disconnects.
func (o *Orchestrator) openStream(ctx context.Context, req *types.FetchRequest) (*Response, error) {
	upstream, err := o.open(ctx, req, types.CategoryOther)
	if err != nil {
		return nil, err
	}

	return &Response{
		Category:    types.CategoryOther,
		ContentType: contentTypeOf(upstream, types.CategoryOther),
		Body:        upstream.Body,
		StatusCode:  http.StatusOK,
	}, nil
}

// open sends the upstream GET and rejects non-2xx answers. The caller owns the
// body of a successful response.
func (o *Orchestrator) open(ctx context.Context, req *types.FetchRequest, category types.Category) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.TargetURL, nil)
	if err != nil {
		return nil, types.InvalidInput("invalid target URL", err)
	}

	start := time.Now()
	resp, err := o.Client.Do(httpReq, req.Headers)
	if err != nil {
		logger.Error("{proxy/proxy - open} Upstream request failed for %s: %v", o.logURL(req.TargetURL), err)
		metrics.UpstreamErrors.WithLabelValues("network").Inc()
		return nil, types.UpstreamFailure(err)
	}
	metrics.UpstreamDuration.WithLabelValues(category.String()).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		logger.Warn("{proxy/proxy - open} Upstream %s answered %s", o.logURL(req.TargetURL), resp.Status)
		metrics.UpstreamErrors.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
		return nil, types.UpstreamStatus(resp.StatusCode, resp.Status)
	}

	return resp, nil
}

func (o *Orchestrator) logURL(u string) string {
	return utils.LogURL(o.Config.ObfuscateUrls, u)
}

func contentTypeOf(resp *http.Response, category types.Category) string {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	if category == types.CategoryManifest {
		return manifestContentType
	}
	return defaultContentType
}
