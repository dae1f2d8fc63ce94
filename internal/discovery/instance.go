package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Instance is a flexgate server found on the local network.
type Instance struct {
	// Name is the mDNS instance name (e.g., "flexgate").
	Name string

	// Hostname is the advertised host (e.g., "build-box.local.").
	Hostname string

	// IP is the first advertised address, IPv4 preferred.
	IP string

	// Port is the listening port.
	Port int

	// Metadata holds the TXT record, e.g. "version" and "mode".
	Metadata map[string]string

	// DiscoveredAt is when the instance answered.
	DiscoveredAt time.Time
}

func (i *Instance) String() string {
	return fmt.Sprintf("flexgate %s (%s) at %s", i.Name, i.Hostname, i.Addr())
}

// Addr returns host:port suitable for dialing.
func (i *Instance) Addr() string {
	return net.JoinHostPort(i.IP, strconv.Itoa(i.Port))
}

// BaseURL returns the HTTP base URL.
func (i *Instance) BaseURL() string {
	return "http://" + i.Addr()
}

// WebSocketURL returns the ws:// URL for path.
func (i *Instance) WebSocketURL(path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return "ws://" + i.Addr() + path
}

// GetMetadata returns a TXT value, or "" if absent.
func (i *Instance) GetMetadata(key string) string {
	if i.Metadata == nil {
		return ""
	}
	return i.Metadata[key]
}
