package gateway

import (
	"net/http"
)

// allowedHeaders defines the HTTP headers permitted to pass through to the upstream API.
// Browser cookies and any client-supplied Authorization are dropped: upstream
// credentials come exclusively from the token store.
var allowedHeaders = map[string]bool{
	"Accept":          true,
	"Accept-Encoding": true,
	"Accept-Language": true,
	"Content-Type":    true,
	"Content-Length":  true,
	"If-Match":        true,
	"If-None-Match":   true,
	"X-Request-Id":    true,

	// W3C Trace Context for distributed tracing correlation.
	"Traceparent": true,
	"Tracestate":  true,

	// Set by httputil.ReverseProxy.SetXForwarded
	"X-Forwarded-For":   true,
	"X-Forwarded-Host":  true,
	"X-Forwarded-Proto": true,
}

// HeaderFilterTransport is an http.RoundTripper that strips headers not on the allow-list.
type HeaderFilterTransport struct {
	Base http.RoundTripper
}

// Compile-time check that HeaderFilterTransport implements http.RoundTripper.
var _ http.RoundTripper = (*HeaderFilterTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *HeaderFilterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())

	originalHeaders := newReq.Header
	newReq.Header = make(http.Header, len(originalHeaders))
	for key, values := range originalHeaders {
		if allowedHeaders[http.CanonicalHeaderKey(key)] {
			newReq.Header[key] = values
		}
	}

	return base.RoundTrip(newReq)
}
