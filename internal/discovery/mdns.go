package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type flexgate advertises.
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default browse duration.
	DefaultScanTimeout = 5 * time.Second

	// appKey/appValue mark TXT records published by flexgate, so other
	// HTTP services on the network are ignored while browsing.
	appKey   = "app"
	appValue = "flexgate"
)

// Advertiser publishes one server instance until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers instance on port with the given metadata. The
// metadata is published as TXT "key=value" entries alongside app=flexgate.
func Advertise(instance string, port int, metadata map[string]string) (*Advertiser, error) {
	srv, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, BuildTXT(metadata), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return &Advertiser{server: srv}, nil
}

// Shutdown withdraws the advertisement.
func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// BuildTXT renders metadata as sorted TXT entries, always including the
// app marker.
func BuildTXT(metadata map[string]string) []string {
	txt := make([]string, 0, len(metadata)+1)
	txt = append(txt, appKey+"="+appValue)
	for k, v := range metadata {
		if k == appKey {
			continue
		}
		txt = append(txt, k+"="+v)
	}
	sort.Strings(txt[1:])
	return txt
}

// ParseTXT splits TXT entries into a map. Keys without '=' map to "".
func ParseTXT(txt []string) map[string]string {
	metadata := make(map[string]string, len(txt))
	for _, entry := range txt {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}
	return metadata
}

// Scanner browses for flexgate instances.
type Scanner struct {
	// Timeout is the maximum time to wait for answers.
	Timeout time.Duration
}

// NewScanner creates a scanner with default settings.
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan collects every instance that answers before the timeout.
func (s *Scanner) Scan(ctx context.Context) ([]*Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu        sync.Mutex
		instances []*Instance
		seen      = make(map[string]bool)
		collected = make(chan struct{})
	)
	go func() {
		defer close(collected)
		for entry := range entries {
			inst := parseServiceEntry(entry)
			if inst == nil {
				continue
			}
			mu.Lock()
			if !seen[inst.Addr()] {
				seen[inst.Addr()] = true
				instances = append(instances, inst)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	// The resolver closes entries once ctx is done.
	select {
	case <-collected:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return instances, nil
}

// parseServiceEntry converts a zeroconf entry to an Instance. It returns
// nil for services that are not flexgate or have no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Instance {
	metadata := ParseTXT(entry.Text)
	if metadata[appKey] != appValue {
		return nil
	}

	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port == 0 {
		return nil
	}

	return &Instance{
		Name:         entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// QuickScan browses for three seconds.
func QuickScan(ctx context.Context) ([]*Instance, error) {
	scanner := NewScanner()
	scanner.Timeout = 3 * time.Second
	return scanner.Scan(ctx)
}
