package filter

import (
	"net/url"
	"strings"

	"embed-proxy/work/logger"

	"github.com/grafana/regexp"
)

// HostFilter limits which upstream hosts the proxy will fetch from. A host must
// match Include (when set) and must not match Exclude (when set). A nil filter
// allows everything.
type HostFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// NewHostFilter compiles the include and exclude patterns. An empty pattern is
// no constraint. A pattern that fails to compile is logged and ignored, the
// same as leaving it empty.
func NewHostFilter(include, exclude string) *HostFilter {
	f := &HostFilter{
		Include: compile("include", include),
		Exclude: compile("exclude", exclude),
	}
	if f.Include == nil && f.Exclude == nil {
		return nil
	}
	return f
}

func compile(name, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	compiled, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		logger.Error("{filter/filter - compile} Failed to compile host %s pattern '%s': %v", name, pattern, err)
		return nil
	}
	logger.Debug("{filter/filter - compile} Compiled host %s pattern: '%s'", name, pattern)
	return compiled
}

// Allowed reports whether rawURL points at a permitted host. The host is
// compared without its port.
func (f *HostFilter) Allowed(rawURL string) bool {
	if f == nil {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())

	if f.Include != nil && !f.Include.MatchString(host) {
		logger.Debug("{filter/filter - Allowed} Host %s not in include list", host)
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(host) {
		logger.Debug("{filter/filter - Allowed} Host %s excluded", host)
		return false
	}
	return true
}
