// Package discovery advertises and finds flexgate servers over mDNS.
//
// A running server publishes itself as an "_http._tcp" service whose TXT
// record carries "app=flexgate" plus version and WebSocket mode. Scanning
// browses the same service type and keeps only entries with that marker,
// so printers, routers and other HTTP services on the segment are ignored.
//
// # Usage Example
//
//	adv, err := discovery.Advertise("flexgate", 8080, map[string]string{
//	    "version": version.Version,
//	    "mode":    "echo",
//	})
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
//	instances, err := discovery.QuickScan(ctx)
//	for _, inst := range instances {
//	    fmt.Println(inst, inst.WebSocketURL("/"))
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Instances must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
