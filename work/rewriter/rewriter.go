package rewriter

import (
	"net/url"
	"path"
	"strings"

	"embed-proxy/work/types"

	"github.com/grafana/regexp"
)

// ProxyPrefix is prepended to every rewritten reference so the client fetches it
// back through the passthrough endpoint.
const ProxyPrefix = "/proxy-stream/"

// Mode selects how references are recognised and resolved.
type Mode = types.RewriteMode

const (
	ModeDirect       = types.RewriteDirect
	ModeContextAware = types.RewriteContextAware
)

var (
	schemePattern    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*://`)
	extensionPattern = regexp.MustCompile(`(?i)\.(m3u8|ts|aac|mp4|m4s|jpg|jpeg|png|webp|html|htm)$`)
)

// RewriteContext carries the manifest's own URL for context-aware resolution.
type RewriteContext struct {
	BaseURL string
}

// Rewrite turns every reference line of a manifest into a proxy-relative path.
//
// Parameters:
//   - text: the manifest body as received from upstream
//   - mode: ModeDirect or ModeContextAware
//   - rc: the manifest's own URL, used only by ModeContextAware
//
// Returns:
//   - string: the rewritten manifest, same line count and separators
//   - int: number of lines that were rewritten
//
// Behavior:
//   - ModeDirect only rewrites absolute URLs.
//   - ModeContextAware only rewrites references whose path ends in a known
//     media extension, resolving relative ones against rc.BaseURL.
//   - Lines starting with '#', blank lines and anything not recognised as a
//     reference are kept byte-for-byte, including a trailing '\r'.
func Rewrite(text string, mode Mode, rc RewriteContext) (string, int) {
	var base *url.URL
	if mode == ModeContextAware {
		if u, err := url.Parse(rc.BaseURL); err == nil && u.Scheme != "" && u.Host != "" {
			base = u
		}
	}

	// LF split, a trailing '\r' is restored per line
	lines := strings.Split(text, "\n")
	rewritten := 0

	for i, raw := range lines {
		line, cr := strings.CutSuffix(raw, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var out string
		var ok bool
		switch mode {
		case ModeContextAware:
			out, ok = rewriteContextAware(line, base)
		default:
			out, ok = rewriteDirect(line)
		}
		if !ok {
			continue
		}

		if cr {
			out += "\r"
		}
		lines[i] = out
		rewritten++
	}

	return strings.Join(lines, "\n"), rewritten
}

func rewriteDirect(line string) (string, bool) {
	if !schemePattern.MatchString(line) {
		return "", false
	}
	return ProxyPrefix + line, true
}

func rewriteContextAware(line string, base *url.URL) (string, bool) {
	if strings.HasPrefix(line, ProxyPrefix) {
		return "", false
	}

	ref, err := url.Parse(line)
	if err != nil || !extensionPattern.MatchString(ref.Path) {
		return "", false
	}

	if ref.Scheme != "" {
		if ref.Host == "" {
			return "", false
		}
		return ProxyPrefix + line, true
	}

	if base == nil {
		return "", false
	}

	origin := base.Scheme + "://" + base.Host
	switch {
	case strings.HasPrefix(line, "//"):
		return ProxyPrefix + base.Scheme + ":" + line, true
	case strings.HasPrefix(line, "/"):
		return ProxyPrefix + origin + line, true
	default:
		return ProxyPrefix + origin + baseDir(base.EscapedPath()) + line, true
	}
}

// baseDir returns the directory of p with a trailing slash.
func baseDir(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	dir := path.Dir(p)
	if dir == "/" || dir == "." {
		return "/"
	}
	return dir + "/"
}
