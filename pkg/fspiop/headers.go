package fspiop

import (
	"net/http"
	"strings"
)

const (
	HeaderContentType = "Content-Type"
	HeaderAccept      = "Accept"
	HeaderDate        = "Date"
	HeaderSource      = "FSPIOP-Source"
	HeaderDestination = "FSPIOP-Destination"
	HeaderSignature   = "FSPIOP-Signature"
	HeaderHTTPMethod  = "FSPIOP-HTTP-Method"
	HeaderURI         = "FSPIOP-URI"
	HeaderProxy       = "FSPIOP-Proxy"
)

// hopHeaders are never copied onto an outbound request.
var hopHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"transfer-encoding": {},
	"keep-alive":        {},
	"upgrade":           {},
}

// Headers is a case-insensitive header set. Keys are stored lower-cased.
type Headers map[string]string

// NewHeaders copies m, normalising keys.
func NewHeaders(m map[string]string) Headers {
	h := make(Headers, len(m))
	for k, v := range m {
		h[strings.ToLower(k)] = v
	}
	return h
}

func (h Headers) Get(name string) string { return h[strings.ToLower(name)] }

func (h Headers) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

func (h Headers) Set(name, value string) { h[strings.ToLower(name)] = value }

func (h Headers) Del(name string) { delete(h, strings.ToLower(name)) }

func (h Headers) Clone() Headers {
	c := make(Headers, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

func (h Headers) Source() string      { return h.Get(HeaderSource) }
func (h Headers) Destination() string { return h.Get(HeaderDestination) }

// ToHTTP writes the set into an http.Header, skipping hop-by-hop headers.
func (h Headers) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		if _, hop := hopHeaders[k]; hop {
			continue
		}
		out[canonical(k)] = []string{v}
	}
	return out
}

// canonical keeps the FSPIOP-* capitalisation participants expect.
func canonical(k string) string {
	if strings.HasPrefix(k, "fspiop-") {
		return "FSPIOP-" + http.CanonicalHeaderKey(k[len("fspiop-"):])
	}
	return http.CanonicalHeaderKey(k)
}
