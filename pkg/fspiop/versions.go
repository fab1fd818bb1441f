package fspiop

import (
	"fmt"
	"regexp"
	"slices"
)

var versionRe = regexp.MustCompile(`application/vnd\.interoperability\.([A-Za-z]+)\+json\s*;\s*version=([0-9]+(?:\.[0-9]+)?)`)

// ProtocolVersions lists the content and accept versions the switch negotiates.
type ProtocolVersions struct {
	ContentDefault string
	ContentValid   []string
	AcceptDefault  string
	AcceptValid    []string
	FxDefault      string
}

// ContentType formats an interoperability media type.
func ContentType(r Resource, version string) string {
	return fmt.Sprintf("application/vnd.interoperability.%s+json;version=%s", r, version)
}

// ParseMediaType extracts the resource and version from an interoperability media type.
func ParseMediaType(v string) (resource, version string, ok bool) {
	m := versionRe.FindStringSubmatch(v)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func (p ProtocolVersions) defaults(r Resource) (content, accept string) {
	if r == ResourceFxQuotes && p.FxDefault != "" {
		return p.FxDefault, p.FxDefault
	}
	return p.ContentDefault, p.AcceptDefault
}

// supported reports whether inbound names resource r with a version it may keep.
// fxQuotes only accepts the FX default version.
func (p ProtocolVersions) supported(r Resource, inbound string, valid []string) (string, bool) {
	res, v, ok := ParseMediaType(inbound)
	if !ok || res != string(r) {
		return "", false
	}
	if r == ResourceFxQuotes && p.FxDefault != "" {
		return v, v == p.FxDefault
	}
	return v, slices.Contains(valid, v)
}

// NegotiateContentType keeps the inbound version when it names r and is
// supported, otherwise falls back to the resource default.
func (p ProtocolVersions) NegotiateContentType(r Resource, inbound string) string {
	def, _ := p.defaults(r)
	if v, ok := p.supported(r, inbound, p.ContentValid); ok {
		return ContentType(r, v)
	}
	return ContentType(r, def)
}

// NegotiateAccept works like NegotiateContentType against the accept list.
func (p ProtocolVersions) NegotiateAccept(r Resource, inbound string) string {
	_, def := p.defaults(r)
	if v, ok := p.supported(r, inbound, p.AcceptValid); ok {
		return ContentType(r, v)
	}
	return ContentType(r, def)
}
