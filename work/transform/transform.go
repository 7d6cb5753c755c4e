package transform

import (
	"net/http"
	"net/url"
	"strings"

	"embed-proxy/work/types"
)

// Strategy maps the URL a client asked for to the upstream fetch it implies.
type Strategy interface {
	Resolve(clientURL string) (*types.FetchRequest, error)
	Variant() types.Variant
}

const (
	embedOrigin  = "https://embed.su"
	embedReferer = "https://embed.su/"
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36"
	secChUA      = `"Google Chrome";v="129", "Not=A?Brand";v="8", "Chromium";v="129"`
)

// PassThrough fetches the client URL verbatim with the direct browser header set.
type PassThrough struct{}

// NewPassThrough returns the /proxy-stream strategy.
func NewPassThrough() *PassThrough {
	return &PassThrough{}
}

// Variant reports types.VariantDirect.
func (PassThrough) Variant() types.Variant {
	return types.VariantDirect
}

// Resolve validates clientURL and returns it unchanged as the fetch target.
//
// Parameters:
//   - clientURL: the absolute URL taken from the request path, query included
//
// Returns:
//   - *types.FetchRequest: direct headers and direct manifest rewriting
//   - error: KindInvalidInput for an empty, non-http(s) or hostless URL
func (PassThrough) Resolve(clientURL string) (*types.FetchRequest, error) {
	u, err := parseUpstream(clientURL)
	if err != nil {
		return nil, err
	}

	return &types.FetchRequest{
		TargetURL:   u.String(),
		Variant:     types.VariantDirect,
		Headers:     DirectHeaders(),
		RewriteMode: types.RewriteDirect,
	}, nil
}

// HostRewriting routes the client URL through the gateway's provider endpoint:
// https://<GatewayHost>/api/proxy/<ProviderTag>/<host><path>[?query]
type HostRewriting struct {
	GatewayHost string
	ProviderTag string
}

// NewHostRewriting returns the /viper-proxy strategy for the given gateway.
func NewHostRewriting(gatewayHost, providerTag string) *HostRewriting {
	return &HostRewriting{
		GatewayHost: gatewayHost,
		ProviderTag: strings.Trim(providerTag, "/"),
	}
}

// Variant reports types.VariantTransformed.
func (HostRewriting) Variant() types.Variant {
	return types.VariantTransformed
}

// Resolve rebuilds clientURL on the gateway host.
//
// Parameters:
//   - clientURL: the absolute URL taken from the request path, query included
//
// Returns:
//   - *types.FetchRequest: gateway headers and context-aware manifest rewriting
//   - error: KindInvalidInput for an empty, non-http(s) or hostless URL
//
// Behavior:
//   - The original scheme is dropped, the gateway is always reached over https.
//   - Host (with port), escaped path and raw query are carried over unchanged.
func (h HostRewriting) Resolve(clientURL string) (*types.FetchRequest, error) {
	u, err := parseUpstream(clientURL)
	if err != nil {
		return nil, err
	}

	// https://<gateway>/api/proxy/<tag>/<host><path>[?query]
	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(h.GatewayHost)
	b.WriteString("/api/proxy/")
	b.WriteString(h.ProviderTag)
	b.WriteByte('/')
	b.WriteString(u.Host)
	b.WriteString(u.EscapedPath())
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}

	return &types.FetchRequest{
		TargetURL:   b.String(),
		Variant:     types.VariantTransformed,
		Headers:     GatewayHeaders(),
		RewriteMode: types.RewriteContextAware,
	}, nil
}

// parseUpstream accepts only absolute http(s) URLs with a host.
func parseUpstream(clientURL string) (*url.URL, error) {
	if strings.TrimSpace(clientURL) == "" {
		return nil, types.InvalidInput("missing target URL", nil)
	}

	u, err := url.Parse(clientURL)
	if err != nil {
		return nil, types.InvalidInput("invalid target URL", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, types.InvalidInput("target URL must use http or https", nil)
	}
	if u.Host == "" {
		return nil, types.InvalidInput("target URL has no host", nil)
	}

	return u, nil
}

// DirectHeaders is the browser header set sent straight to an upstream CDN.
func DirectHeaders() http.Header {
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Origin", embedOrigin)
	h.Set("Referer", embedReferer)
	h.Set("Sec-Ch-Ua", secChUA)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("User-Agent", userAgent)
	return h
}

// GatewayHeaders is the fuller client-hint fingerprint the gateway expects.
func GatewayHeaders() http.Header {
	h := DirectHeaders()
	h.Set("Sec-Ch-Ua-Arch", `"x86"`)
	h.Set("Sec-Ch-Ua-Bitness", `"64"`)
	h.Set("Sec-Ch-Ua-Full-Version-List", `"Google Chrome";v="129.0.6668.90", "Not=A?Brand";v="8.0.0.0", "Chromium";v="129.0.6668.90"`)
	h.Set("Sec-Ch-Ua-Model", `""`)
	h.Set("Sec-Ch-Ua-Platform-Version", `"15.0.0"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	return h
}
