// Package panel is a typed HTTP client for the remote VPN admin panel
//: session login, inbound listing, client add/update/delete, and
// vless:// URI rendering.
package panel

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError marks a request that failed before any network I/O was
// attempted — an unparsable or empty host.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "panel: " + e.Reason }

// Endpoint is a normalized panel base URL: scheme, host[:port], and any path
// prefix. Construction is the only place panel host strings are parsed; every
// other operation works on this value.
type Endpoint struct {
	raw string
}

// NewEndpoint normalizes a raw host string into an Endpoint. A bare
// "host[:port]" defaults to scheme https; an empty or unparsable string fails
// with ValidationError and performs no I/O.
func NewEndpoint(host string) (Endpoint, error) {
	if strings.TrimSpace(host) == "" {
		return Endpoint{}, &ValidationError{Reason: "empty host"}
	}

	candidate := host
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return Endpoint{}, &ValidationError{Reason: fmt.Sprintf("unparsable host %q: %v", host, err)}
	}
	if u.Host == "" {
		return Endpoint{}, &ValidationError{Reason: fmt.Sprintf("empty netloc in %q", host)}
	}

	base := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	if path := strings.TrimSuffix(u.Path, "/"); path != "" {
		base += path
	}
	return Endpoint{raw: base}, nil
}

// String returns the normalized base URL.
func (e Endpoint) String() string { return e.raw }

// URL joins the endpoint with a relative path.
func (e Endpoint) URL(path string) string {
	return e.raw + path
}
