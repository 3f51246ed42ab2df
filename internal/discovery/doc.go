// Package discovery finds web things on the local network over mDNS.
//
// Web things advertise the "_webthing._tcp" service. The TXT record "path"
// names where the thing description is served and "tls=1" marks things
// that expect https. Each advertisement becomes a Thing whose Transport
// settings can be handed straight to a conformance run.
//
// # Usage Example
//
//	things, err := discovery.ScanForThings(ctx, 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	for _, t := range things {
//	    fmt.Println(t.Instance, t.URL())
//	}
//
// # Network Requirements
//
//   - Requires multicast support on the network interface
//   - Things must be on the same local network segment
//   - Firewall must allow mDNS (UDP port 5353)
package discovery
