package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/webthings/thingcheck/internal/logging"
)

const (
	// ServiceType is the mDNS service type advertised by web things
	ServiceType = "_webthing._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for discovery
	DefaultScanTimeout = 5 * time.Second

	// DefaultPort is assumed when an advertisement carries no port
	DefaultPort = 80
)

// BrowseFunc browses for service instances, delivering them on entries
// until ctx is done.
type BrowseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Scanner handles mDNS discovery of web things
type Scanner struct {
	// Timeout is the maximum time to wait for advertisements
	Timeout time.Duration

	// Browse replaces the zeroconf resolver
	Browse BrowseFunc
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
		Browse:  zeroconfBrowse,
	}
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// ScanForThings collects every web thing advertised before the timeout.
// Things are returned sorted by instance name, each listed once.
func (s *Scanner) ScanForThings(ctx context.Context) ([]*Thing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		things = make(map[string]*Thing)
	)
	done, err := s.browse(ctx, func(t *Thing) bool {
		mu.Lock()
		defer mu.Unlock()
		key := t.Instance + "|" + t.IP + "|" + fmt.Sprint(t.Port)
		if _, seen := things[key]; !seen {
			things[key] = t
			logging.Debug("Web thing discovered", zap.String("instance", t.Instance), zap.String("url", t.URL()))
		}
		return false
	})
	if err != nil {
		return nil, err
	}

	<-ctx.Done()
	<-done

	mu.Lock()
	defer mu.Unlock()
	result := make([]*Thing, 0, len(things))
	for _, t := range things {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Instance != result[j].Instance {
			return result[i].Instance < result[j].Instance
		}
		return result[i].IP < result[j].IP
	})
	return result, nil
}

// WaitForThing waits for the named instance. Matching ignores case.
func (s *Scanner) WaitForThing(ctx context.Context, instance string) (*Thing, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	found := make(chan *Thing, 1)
	done, err := s.browse(ctx, func(t *Thing) bool {
		if !strings.EqualFold(t.Instance, instance) {
			return false
		}
		found <- t
		return true
	})
	if err != nil {
		return nil, err
	}

	select {
	case t := <-found:
		cancel()
		<-done
		return t, nil
	case <-ctx.Done():
		<-done
		select {
		case t := <-found:
			return t, nil
		default:
		}
		return nil, fmt.Errorf("web thing %q not found within %v", instance, s.Timeout)
	}
}

// browse starts browsing and hands each parsed thing to visit until visit
// returns true or ctx is done. The returned channel closes when the
// consumer has stopped.
func (s *Scanner) browse(ctx context.Context, visit func(*Thing) bool) (<-chan struct{}, error) {
	browse := s.Browse
	if browse == nil {
		browse = zeroconfBrowse
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if t := parseServiceEntry(entry); t != nil && visit(t) {
					return
				}
			}
		}
	}()

	if err := browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}
	return done, nil
}

// parseServiceEntry converts a zeroconf service entry to a Thing.
// Returns nil if the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Thing {
	if entry == nil {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	path := metadata["path"]
	if path == "" {
		path = "/"
	}

	return &Thing{
		Instance:     unescapeInstance(entry.Instance),
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Path:         path,
		TLS:          metadata["tls"] == "1",
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// unescapeInstance removes DNS escaping from an instance name ("My\ Lamp").
func unescapeInstance(name string) string {
	return strings.ReplaceAll(name, `\`, "")
}

// ScanForThings is a convenience function to scan with a custom timeout
func ScanForThings(ctx context.Context, timeout time.Duration) ([]*Thing, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.ScanForThings(ctx)
}
