package discovery

import (
	"net"
	"reflect"
	"testing"

	"github.com/grandcat/zeroconf"
)

func newEntry(instance, host string, port int, v4, v6 []net.IP, txt []string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, ServiceType, ServiceDomain)
	e.HostName = host
	e.Port = port
	e.AddrIPv4 = v4
	e.AddrIPv6 = v6
	e.Text = txt
	return e
}

func TestParseServiceEntry(t *testing.T) {
	marker := []string{"app=flexgate", "version=1.2.0", "mode=echo"}

	tests := []struct {
		name     string
		entry    *zeroconf.ServiceEntry
		wantNil  bool
		wantIP   string
		wantPort int
	}{
		{
			name:     "flexgate instance with IPv4",
			entry:    newEntry("flexgate", "box.local.", 8080, []net.IP{net.ParseIP("192.168.4.16")}, nil, marker),
			wantIP:   "192.168.4.16",
			wantPort: 8080,
		},
		{
			name:     "IPv6 only",
			entry:    newEntry("flexgate", "box.local.", 8080, nil, []net.IP{net.ParseIP("fe80::1")}, marker),
			wantIP:   "fe80::1",
			wantPort: 8080,
		},
		{
			name: "prefers IPv4",
			entry: newEntry("flexgate", "box.local.", 9000,
				[]net.IP{net.ParseIP("10.0.0.5")}, []net.IP{net.ParseIP("fe80::2")}, marker),
			wantIP:   "10.0.0.5",
			wantPort: 9000,
		},
		{
			name:    "other http service",
			entry:   newEntry("printer", "printer.local.", 80, []net.IP{net.ParseIP("10.0.0.9")}, nil, []string{"path=/"}),
			wantNil: true,
		},
		{
			name:    "no address",
			entry:   newEntry("flexgate", "box.local.", 8080, nil, nil, marker),
			wantNil: true,
		},
		{
			name:    "no port",
			entry:   newEntry("flexgate", "box.local.", 0, []net.IP{net.ParseIP("10.0.0.5")}, nil, marker),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if inst != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", inst)
				}
				return
			}
			if inst == nil {
				t.Fatal("parseServiceEntry() = nil, want instance")
			}
			if inst.IP != tt.wantIP {
				t.Errorf("IP = %q, want %q", inst.IP, tt.wantIP)
			}
			if inst.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", inst.Port, tt.wantPort)
			}
			if inst.Name != "flexgate" {
				t.Errorf("Name = %q, want flexgate", inst.Name)
			}
			if inst.GetMetadata("mode") != "echo" {
				t.Errorf("mode = %q, want echo", inst.GetMetadata("mode"))
			}
		})
	}
}

func TestBuildTXT(t *testing.T) {
	got := BuildTXT(map[string]string{"version": "1.0", "mode": "broadcast", "app": "other"})
	want := []string{"app=flexgate", "mode=broadcast", "version=1.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildTXT() = %v, want %v", got, want)
	}

	if got := BuildTXT(nil); !reflect.DeepEqual(got, []string{"app=flexgate"}) {
		t.Errorf("BuildTXT(nil) = %v", got)
	}
}

func TestParseTXT(t *testing.T) {
	got := ParseTXT([]string{"a=1", "flag", "b=x=y"})
	want := map[string]string{"a": "1", "flag": "", "b": "x=y"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseTXT() = %v, want %v", got, want)
	}
}

func TestTXTRoundTripKeepsMarker(t *testing.T) {
	meta := ParseTXT(BuildTXT(map[string]string{"version": "dev"}))
	if meta[appKey] != appValue || meta["version"] != "dev" {
		t.Errorf("round trip lost entries: %v", meta)
	}
}

func TestInstanceURLs(t *testing.T) {
	tests := []struct {
		inst   Instance
		base   string
		wsPath string
		ws     string
	}{
		{Instance{IP: "192.168.1.2", Port: 8080}, "http://192.168.1.2:8080", "/", "ws://192.168.1.2:8080/"},
		{Instance{IP: "fe80::1", Port: 80}, "http://[fe80::1]:80", "chat", "ws://[fe80::1]:80/chat"},
	}
	for _, tt := range tests {
		if got := tt.inst.BaseURL(); got != tt.base {
			t.Errorf("BaseURL() = %q, want %q", got, tt.base)
		}
		if got := tt.inst.WebSocketURL(tt.wsPath); got != tt.ws {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tt.wsPath, got, tt.ws)
		}
	}
}

func TestInstanceGetMetadataNilMap(t *testing.T) {
	inst := &Instance{}
	if got := inst.GetMetadata("version"); got != "" {
		t.Errorf("GetMetadata() = %q, want empty", got)
	}
}

func TestNewScanner(t *testing.T) {
	if s := NewScanner(); s.Timeout != DefaultScanTimeout {
		t.Errorf("Timeout = %v, want %v", s.Timeout, DefaultScanTimeout)
	}
}
