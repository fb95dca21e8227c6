// File: internal/browser/history/origin.go
package history

import (
	"net"
	"net/url"
	"strings"
	"sync/atomic"
)

var nextOpaqueID atomic.Uint64

// Origin is a web origin: either a (scheme, host, port) tuple or an opaque
// origin that is only same-origin with itself.
type Origin struct {
	Scheme string `json:"scheme,omitempty"`
	Host   string `json:"host,omitempty"`
	Port   string `json:"port,omitempty"`
	// OpaqueID is non-zero for opaque origins.
	OpaqueID uint64 `json:"opaque_id,omitempty"`
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// NewOpaqueOrigin returns a fresh opaque origin.
func NewOpaqueOrigin() Origin {
	return Origin{OpaqueID: nextOpaqueID.Add(1)}
}

// OriginFromURL derives the origin of u. Schemes without a tuple origin
// (data:, javascript:, file:, about: and unknown schemes) yield a new opaque origin.
func OriginFromURL(u *url.URL) Origin {
	if u == nil {
		return NewOpaqueOrigin()
	}
	scheme := strings.ToLower(u.Scheme)
	def, ok := defaultPorts[scheme]
	if !ok || u.Host == "" {
		return NewOpaqueOrigin()
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || port == def {
		port = ""
	}
	return Origin{Scheme: scheme, Host: host, Port: port}
}

// IsOpaque reports whether o is an opaque origin.
func (o Origin) IsOpaque() bool { return o.OpaqueID != 0 || o.Scheme == "" }

// SameOrigin reports whether o and other are the same origin.
func (o Origin) SameOrigin(other Origin) bool {
	if o.IsOpaque() || other.IsOpaque() {
		return o.OpaqueID != 0 && o.OpaqueID == other.OpaqueID
	}
	return o.Scheme == other.Scheme && o.Host == other.Host && o.Port == other.Port
}

// String serializes o as an ASCII origin; opaque origins serialize to "null".
func (o Origin) String() string {
	if o.IsOpaque() {
		return "null"
	}
	if o.Port == "" {
		return o.Scheme + "://" + o.Host
	}
	return o.Scheme + "://" + net.JoinHostPort(o.Host, o.Port)
}
