package federation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/mcpfed/gateway/pkg/gwerrors"
)

const (
	defaultRequestBodyLimit  = 10 * 1024 * 1024
	defaultResponseBodyLimit = 50 * 1024 * 1024
)

// redactedHeaders are stripped to "[REDACTED]" in audit records.
var redactedHeaders = map[string]bool{
	"authorization": true, "x-api-key": true, "cookie": true, "set-cookie": true,
}

// RedactHeadersForAudit returns a copy of headers with sensitive values
// replaced, for use when constructing an Audit Record (spec.md §4.6.1).
func RedactHeadersForAudit(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = []string{"[REDACTED]"}
			continue
		}
		out[k] = v
	}
	return out
}

// NormalizeURL resolves "." and "..", collapses duplicate slashes, and
// rejects non-http(s) schemes (spec.md §4.6.1).
func NormalizeURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, gwerrors.New(gwerrors.SSRFBlocked, "unparseable url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, gwerrors.New(gwerrors.SSRFBlocked, "non-http(s) scheme rejected")
	}
	u.Path = path.Clean("/" + u.Path)
	for strings.Contains(u.Path, "//") {
		u.Path = strings.ReplaceAll(u.Path, "//", "/")
	}
	return u, nil
}

// HostAllowed reports whether host matches at least one allowlist entry,
// case-insensitively: by exact match, by a "*.suffix" entry matching any
// subdomain of suffix, or by a plain entry matching any of its own
// subdomains. A leading "." without "*" has no special meaning.
func HostAllowed(host string, allowlist []string) bool {
	host = strings.ToLower(host)
	for _, entry := range allowlist {
		entry = strings.ToLower(entry)
		if host == entry {
			return true
		}
		if strings.HasPrefix(entry, "*.") && strings.HasSuffix(host, entry[1:]) {
			return true
		}
		if strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

var privateCIDRs = mustParseCIDRs(
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "169.254.0.0/16",
	"::1/128", "fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// IsPrivateAddress reports whether host resolves to (or literally is) an
// address in one of the refused private/link-local ranges (spec.md
// §4.6.1). Resolution failures are treated as private (fail closed).
func IsPrivateAddress(host string) bool {
	ip := net.ParseIP(host)
	ips := []net.IP{ip}
	if ip == nil {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return true
		}
		ips = resolved
	}
	for _, addr := range ips {
		if addr == nil {
			continue
		}
		for _, n := range privateCIDRs {
			if n.Contains(addr) {
				return true
			}
		}
	}
	return false
}

// Guard validates a resolved passthrough request against spec.md §4.6.1
// before any REST caller dials out.
func Guard(spec *RESTSpec, resolvedURL string, allowPrivate bool) (*url.URL, error) {
	if !spec.ExposePassthrough {
		return nil, gwerrors.New(gwerrors.Forbidden, "passthrough disabled for this tool")
	}
	u, err := NormalizeURL(resolvedURL)
	if err != nil {
		return nil, err
	}
	if !HostAllowed(u.Hostname(), spec.Allowlist) {
		return nil, gwerrors.New(gwerrors.AllowlistViolation, "host not in allowlist: "+u.Hostname())
	}
	if !allowPrivate && IsPrivateAddress(u.Hostname()) {
		return nil, gwerrors.New(gwerrors.SSRFBlocked, "target resolves to a private address")
	}
	return u, nil
}

// HTTPRESTCaller is the default RESTCaller, applying body size limits and
// the SSRF/allowlist guard before dispatch.
type HTTPRESTCaller struct {
	Client            *http.Client
	AllowPrivateHosts bool
	RequestBodyLimit  int64
	ResponseBodyLimit int64
}

func NewHTTPRESTCaller() *HTTPRESTCaller {
	return &HTTPRESTCaller{
		Client:            &http.Client{Timeout: 30 * time.Second},
		RequestBodyLimit:  defaultRequestBodyLimit,
		ResponseBodyLimit: defaultResponseBodyLimit,
	}
}

func (c *HTTPRESTCaller) Call(ctx context.Context, spec *RESTSpec, args map[string]any) (map[string]any, error) {
	resolved := buildURL(spec, args)
	u, err := Guard(spec, resolved, c.AllowPrivateHosts)
	if err != nil {
		return nil, err
	}

	body, _ := args["body"].(string)
	if int64(len(body)) > c.reqLimit() {
		return nil, gwerrors.New(gwerrors.PayloadTooLarge, "request body exceeds limit")
	}

	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	timeout := 30 * time.Second
	if spec.TimeoutMS > 0 {
		timeout = time.Duration(spec.TimeoutMS) * time.Millisecond
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, method, u.String(), bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "build passthrough request")
	}
	for k, v := range spec.HeaderMapping {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.UpstreamUnavailable, err, "passthrough dial failed")
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.respLimit()+1)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.Internal, err, "read passthrough response")
	}
	if int64(len(respBody)) > c.respLimit() {
		return nil, gwerrors.New(gwerrors.PayloadTooLarge, "response body exceeds limit")
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeader(resp.Header),
		"body":        string(respBody),
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

func (c *HTTPRESTCaller) reqLimit() int64 {
	if c.RequestBodyLimit > 0 {
		return c.RequestBodyLimit
	}
	return defaultRequestBodyLimit
}

func (c *HTTPRESTCaller) respLimit() int64 {
	if c.ResponseBodyLimit > 0 {
		return c.ResponseBodyLimit
	}
	return defaultResponseBodyLimit
}

func buildURL(spec *RESTSpec, args map[string]any) string {
	pathTemplate := spec.PathTemplate
	for k, v := range spec.QueryMapping {
		if arg, ok := args[v]; ok {
			pathTemplate = strings.ReplaceAll(pathTemplate, "{"+k+"}", fmt.Sprintf("%v", arg))
		}
	}
	return strings.TrimRight(spec.BaseURL, "/") + "/" + strings.TrimLeft(pathTemplate, "/")
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
