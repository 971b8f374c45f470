// Package clientip resolves the address a request came from.
//
// Security contract:
//   - Forwarding headers are honoured only when the direct peer is a trusted proxy.
//   - When trusted, the first parseable X-Forwarded-For entry wins, then X-Real-IP.
//   - Otherwise RemoteAddr is used and spoofed headers are ignored.
package clientip

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Resolver picks the client IP for a request.
// The zero value never trusts forwarding headers.
type Resolver struct {
	trustProxy bool
	trusted    []netip.Prefix
}

// New returns a Resolver.
// With trustProxy set and no CIDRs, every peer is treated as a proxy (the deployment sits
// behind a load balancer that is the only ingress). CIDRs narrow that to known proxies.
func New(trustProxy bool, cidrs []string) (Resolver, error) {
	r := Resolver{trustProxy: trustProxy}
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return Resolver{}, fmt.Errorf("clientip: parse %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return Resolver{}, fmt.Errorf("clientip: parse %q: %w", raw, err)
		}
		r.trusted = append(r.trusted, p.Masked())
	}
	return r, nil
}

// IP returns the client address or nil when nothing parses.
func (r Resolver) IP(req *http.Request) net.IP {
	peer := peerIP(req)
	if r.trustsPeer(peer) {
		if ip := parseForwardedIP(req.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(req.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	return peer
}

// String returns IP as text, or "unknown".
func (r Resolver) String(req *http.Request) string {
	if ip := r.IP(req); ip != nil {
		return ip.String()
	}
	return "unknown"
}

func (r Resolver) trustsPeer(peer net.IP) bool {
	if !r.trustProxy {
		return false
	}
	if len(r.trusted) == 0 {
		return true
	}
	if peer == nil {
		return false
	}
	addr, ok := netip.AddrFromSlice(peer)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerIP(req *http.Request) net.IP {
	raw := strings.TrimSpace(req.RemoteAddr)
	host, _, err := net.SplitHostPort(raw)
	if err != nil {
		host = raw
	}
	return net.ParseIP(host)
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
