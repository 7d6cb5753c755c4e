package types

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Category is the content class of an upstream URL, derived from its file extension.
// It decides whether a response is rewritten, cached or streamed straight through.
type Category int

const (
	CategoryOther     Category = iota // streamed to the client, never buffered or cached
	CategoryManifest                  // .m3u8 playlists, rewritten and never cached
	CategoryCacheable                 // .ts segments, .jpg images, .html pages
)

// String returns the label used in logs and metrics.
func (c Category) String() string {
	switch c {
	case CategoryManifest:
		return "manifest"
	case CategoryCacheable:
		return "cacheable"
	default:
		return "other"
	}
}

// cacheableExtensions are the binary categories stored in the segment cache.
var cacheableExtensions = map[string]struct{}{
	".ts":   {},
	".jpg":  {},
	".html": {},
}

// Classify returns the category of rawURL by the extension of its path.
// The query string and fragment never take part in the decision.
func Classify(rawURL string) Category {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}

	ext := strings.ToLower(path.Ext(p))
	if ext == ".m3u8" {
		return CategoryManifest
	}
	if _, ok := cacheableExtensions[ext]; ok {
		return CategoryCacheable
	}
	return CategoryOther
}

// Variant names the upstream flavour selected by the endpoint the client used.
type Variant string

const (
	VariantDirect      Variant = "direct"      // /proxy-stream: target used verbatim
	VariantTransformed Variant = "transformed" // /viper-proxy: target rebuilt on the gateway host
)

// RewriteMode selects how manifest references are turned into proxy paths.
type RewriteMode int

const (
	RewriteDirect       RewriteMode = iota // absolute URL lines only
	RewriteContextAware                    // resolve relative references against the manifest URL
)

// String returns the mode name.
func (m RewriteMode) String() string {
	if m == RewriteContextAware {
		return "context-aware"
	}
	return "direct"
}

// FetchRequest describes one upstream fetch. It lives for a single proxy request.
type FetchRequest struct {
	TargetURL   string      // absolute upstream URL, also the cache key
	Variant     Variant     // which transform produced the target
	Headers     http.Header // browser-emulation headers for the upstream
	RewriteMode RewriteMode // applied when the target is a manifest
}
