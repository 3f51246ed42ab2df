package discovery

import (
	"fmt"
	"strings"
	"time"

	"github.com/webthings/thingcheck/internal/transport"
)

// Thing represents a web thing advertised on the local network
type Thing struct {
	// Instance is the advertised service instance name (e.g., "My Lamp")
	Instance string `json:"instance"`

	// Hostname is the mDNS hostname (e.g., "lamp.local.")
	Hostname string `json:"hostname"`

	// IP is the advertised address, IPv4 when available
	IP string `json:"ip"`

	// Port is the HTTP port
	Port int `json:"port"`

	// Path is the TXT "path" record: where the thing description lives
	Path string `json:"path"`

	// TLS is set when the TXT "tls" record is "1"
	TLS bool `json:"tls,omitempty"`

	// Metadata contains every TXT record
	Metadata map[string]string `json:"metadata,omitempty"`

	// DiscoveredAt is when the thing was discovered
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// String returns a human-readable string representation of the thing
func (t *Thing) String() string {
	return fmt.Sprintf("%s (%s) at %s", t.Instance, t.Hostname, t.URL())
}

// Protocol returns https for things advertising TLS, http otherwise.
func (t *Thing) Protocol() string {
	if t.TLS {
		return "https"
	}
	return "http"
}

// Transport returns connection settings that point at the thing.
func (t *Thing) Transport() transport.Config {
	prefix := strings.TrimRight(t.Path, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	host := t.IP
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return transport.Config{
		Protocol:   t.Protocol(),
		Host:       host,
		Port:       t.Port,
		PathPrefix: prefix,
	}
}

// URL returns the address of the thing description
func (t *Thing) URL() string {
	cfg := t.Transport()
	return cfg.BaseURL() + cfg.PathPrefix
}
