package discovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func entry(instance, host string, port int, ip string, txt ...string) *zeroconf.ServiceEntry {
	e := &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: instance, Service: ServiceType, Domain: ServiceDomain},
		HostName:      host,
		Port:          port,
		Text:          txt,
	}
	if parsed := net.ParseIP(ip); parsed != nil {
		if parsed.To4() != nil {
			e.AddrIPv4 = []net.IP{parsed}
		} else {
			e.AddrIPv6 = []net.IP{parsed}
		}
	}
	return e
}

// fakeBrowse delivers the given entries then waits for ctx.
func fakeBrowse(entries ...*zeroconf.ServiceEntry) BrowseFunc {
	return func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		if service != ServiceType || domain != ServiceDomain {
			return errors.New("unexpected service " + service + " in " + domain)
		}
		go func() {
			for _, e := range entries {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
		wantPath string
		wantTLS  bool
	}{
		{
			name:     "IPv4 with path",
			entry:    entry(`My\ Lamp`, "lamp.local.", 8888, "192.168.1.20", "path=/things/lamp"),
			wantIP:   "192.168.1.20",
			wantPort: 8888,
			wantPath: "/things/lamp",
		},
		{
			name:     "no path defaults to root",
			entry:    entry("Lamp", "lamp.local.", 8888, "10.0.0.5"),
			wantIP:   "10.0.0.5",
			wantPort: 8888,
			wantPath: "/",
		},
		{
			name:     "tls",
			entry:    entry("Lamp", "lamp.local.", 443, "10.0.0.5", "path=/", "tls=1"),
			wantIP:   "10.0.0.5",
			wantPort: 443,
			wantPath: "/",
			wantTLS:  true,
		},
		{
			name:     "no port specified (should default to 80)",
			entry:    entry("Lamp", "lamp.local.", 0, "172.16.0.1"),
			wantIP:   "172.16.0.1",
			wantPort: 80,
			wantPath: "/",
		},
		{
			name:     "IPv6 only",
			entry:    entry("Lamp", "lamp.local.", 8888, "fe80::1"),
			wantIP:   "fe80::1",
			wantPort: 8888,
			wantPath: "/",
		},
		{
			name:    "no IP address",
			entry:   entry("Lamp", "lamp.local.", 8888, ""),
			wantNil: true,
		},
		{
			name:    "nil entry",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thing := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if thing != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", thing)
				}
				return
			}
			if thing == nil {
				t.Fatal("parseServiceEntry() = nil, want non-nil thing")
			}

			if thing.IP != tt.wantIP {
				t.Errorf("thing.IP = %v, want %v", thing.IP, tt.wantIP)
			}
			if thing.Port != tt.wantPort {
				t.Errorf("thing.Port = %v, want %v", thing.Port, tt.wantPort)
			}
			if thing.Path != tt.wantPath {
				t.Errorf("thing.Path = %v, want %v", thing.Path, tt.wantPath)
			}
			if thing.TLS != tt.wantTLS {
				t.Errorf("thing.TLS = %v, want %v", thing.TLS, tt.wantTLS)
			}
			if time.Since(thing.DiscoveredAt) > time.Second {
				t.Errorf("thing.DiscoveredAt is not recent: %v", thing.DiscoveredAt)
			}
		})
	}
}

func TestParseServiceEntry_Metadata(t *testing.T) {
	thing := parseServiceEntry(entry(`My\ Lamp`, "lamp.local.", 8888, "192.168.1.20", "path=/", "tls=0", "flag", "a=b=c"))
	if thing == nil {
		t.Fatal("parseServiceEntry() = nil, want thing")
	}

	if thing.Instance != "My Lamp" {
		t.Errorf("thing.Instance = %q, want unescaped %q", thing.Instance, "My Lamp")
	}

	expected := map[string]string{"path": "/", "tls": "0", "flag": "", "a": "b=c"}
	if len(thing.Metadata) != len(expected) {
		t.Errorf("thing.Metadata has %d entries, want %d", len(thing.Metadata), len(expected))
	}
	for key, want := range expected {
		if got, ok := thing.Metadata[key]; !ok || got != want {
			t.Errorf("thing.Metadata[%q] = %q, want %q", key, got, want)
		}
	}
}

func TestThingTransport(t *testing.T) {
	tests := []struct {
		name   string
		thing  Thing
		url    string
		prefix string
	}{
		{name: "root", thing: Thing{IP: "192.168.1.20", Port: 8888, Path: "/"}, url: "http://192.168.1.20:8888", prefix: ""},
		{name: "prefix", thing: Thing{IP: "192.168.1.20", Port: 8888, Path: "/things/lamp/"}, url: "http://192.168.1.20:8888/things/lamp", prefix: "/things/lamp"},
		{name: "relative path", thing: Thing{IP: "192.168.1.20", Port: 80, Path: "lamp"}, url: "http://192.168.1.20/lamp", prefix: "/lamp"},
		{name: "tls default port", thing: Thing{IP: "10.0.0.5", Port: 443, Path: "/", TLS: true}, url: "https://10.0.0.5", prefix: ""},
		{name: "ipv6", thing: Thing{IP: "fe80::1", Port: 8888, Path: "/"}, url: "http://[fe80::1]:8888", prefix: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.thing.Transport()
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Transport().Validate() error = %v", err)
			}
			if cfg.PathPrefix != tt.prefix {
				t.Errorf("PathPrefix = %q, want %q", cfg.PathPrefix, tt.prefix)
			}
			if got := tt.thing.URL(); got != tt.url {
				t.Errorf("URL() = %q, want %q", got, tt.url)
			}
		})
	}
}

func TestScanForThings(t *testing.T) {
	scanner := &Scanner{
		Timeout: 100 * time.Millisecond,
		Browse: fakeBrowse(
			entry("Porch", "porch.local.", 8888, "192.168.1.21"),
			entry("Lamp", "lamp.local.", 8888, "192.168.1.20"),
			entry("Lamp", "lamp.local.", 8888, "192.168.1.20"),
			entry("Broken", "broken.local.", 8888, ""),
		),
	}

	things, err := scanner.ScanForThings(context.Background())
	if err != nil {
		t.Fatalf("ScanForThings() error = %v", err)
	}
	if len(things) != 2 {
		t.Fatalf("ScanForThings() found %d things, want 2 (duplicates and addressless skipped)", len(things))
	}
	if things[0].Instance != "Lamp" || things[1].Instance != "Porch" {
		t.Errorf("things not sorted by instance: %v, %v", things[0], things[1])
	}
}

func TestScanForThings_BrowseError(t *testing.T) {
	scanner := &Scanner{
		Timeout: time.Second,
		Browse: func(context.Context, string, string, chan<- *zeroconf.ServiceEntry) error {
			return errors.New("no multicast interface")
		},
	}
	_, err := scanner.ScanForThings(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no multicast interface") {
		t.Errorf("ScanForThings() error = %v, want browse failure", err)
	}
}

func TestWaitForThing(t *testing.T) {
	scanner := &Scanner{
		Timeout: 2 * time.Second,
		Browse: fakeBrowse(
			entry("Porch", "porch.local.", 8888, "192.168.1.21"),
			entry(`My\ Lamp`, "lamp.local.", 8888, "192.168.1.20", "path=/things/lamp"),
		),
	}

	start := time.Now()
	thing, err := scanner.WaitForThing(context.Background(), "my lamp")
	if err != nil {
		t.Fatalf("WaitForThing() error = %v", err)
	}
	if thing.IP != "192.168.1.20" || thing.Path != "/things/lamp" {
		t.Errorf("WaitForThing() = %v", thing)
	}
	if time.Since(start) > time.Second {
		t.Error("WaitForThing() should return as soon as the thing is seen")
	}

	scanner.Timeout = 50 * time.Millisecond
	if _, err := scanner.WaitForThing(context.Background(), "Garage"); err == nil {
		t.Error("WaitForThing() should fail for an absent thing")
	}
}

func TestNewScanner(t *testing.T) {
	scanner := NewScanner()
	if scanner.Timeout != DefaultScanTimeout {
		t.Errorf("scanner.Timeout = %v, want %v", scanner.Timeout, DefaultScanTimeout)
	}
	if scanner.Browse == nil {
		t.Error("scanner.Browse should default to the zeroconf resolver")
	}
}

func TestLocalIP(t *testing.T) {
	if ip := net.ParseIP(LocalIP()); ip == nil {
		t.Errorf("LocalIP() = %q, want an IP address", LocalIP())
	}
}
