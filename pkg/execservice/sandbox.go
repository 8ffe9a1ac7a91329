package execservice

import (
	"net"
	"net/url"
	"strings"
)

// forbiddenIPv4Blocks is the exact set of private/reserved/meta ranges
// the sandbox guard blocks, matching the boundary list this package was
// built against (localhost variants, RFC1918 + carrier-grade NAT +
// benchmarking ranges, cloud metadata).
var forbiddenIPv4Blocks = []string{
	"127.0.0.0/8",    // localhost variants
	"10.0.0.0/8",     // private
	"172.16.0.0/12",  // private
	"192.168.0.0/16", // private
	"169.254.0.0/16", // link-local / cloud metadata
	"0.0.0.0/8",      // "this network"
	"100.64.0.0/10",  // carrier-grade NAT
	"198.18.0.0/15",  // benchmarking
}

var forbiddenIPv4Nets = mustParseCIDRs(forbiddenIPv4Blocks)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("execservice: invalid CIDR literal " + c)
		}
		out = append(out, n)
	}
	return out
}

var cloudMetadataSubstrings = []string{"169.254.", "metadata.internal", "metadata.google"}

// isForbiddenTarget reports whether a connector execution target resolves
// (by literal form only — no DNS lookups) to a sandboxed network: any
// localhost variant, private/reserved IPv4, a cloud metadata hint, IPv6
// unique-local or link-local space, or an IPv4-mapped IPv6 address whose
// embedded IPv4 is itself forbidden. Anything that cannot be parsed as a
// clean host is blocked — the guard fails closed.
func isForbiddenTarget(target string) bool {
	host := extractHost(target)
	if host == "" {
		return true
	}
	host = strings.ToLower(host)

	for _, substr := range cloudMetadataSubstrings {
		if strings.Contains(host, substr) {
			return true
		}
	}
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(stripZone(host))
	if ip == nil {
		// Bare hostname with no literal IP form: only blocked via the
		// metadata substring check above: anything else is an opaque
		// name a DNS resolver would need to resolve, outside this
		// literal-form guard's scope.
		return false
	}
	return forbiddenIP(ip)
}

func forbiddenIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		for _, n := range forbiddenIPv4Nets {
			if n.Contains(v4) {
				return true
			}
		}
		return false
	}

	// net.IP.To4 already unwraps ::ffff:a.b.c.d IPv4-mapped addresses
	// into 4-byte form, so the branch above recursively covers mapped
	// addresses without a separate unwrap step.
	if ip.Equal(net.IPv6loopback) || ip.Equal(net.IPv6unspecified) {
		return true
	}
	if ip[0]&0xfe == 0xfc { // fc00::/7 unique local
		return true
	}
	if ip[0] == 0xfe && ip[1]&0xc0 == 0x80 { // fe80::/10 link-local
		return true
	}
	return false
}

func stripZone(host string) string {
	if i := strings.Index(host, "%"); i >= 0 {
		return host[:i]
	}
	return host
}

// extractHost pulls a bare host (no port, no brackets) out of a target
// string. Targets starting with http(s):// are parsed as URLs; anything
// else is treated as a bare host, optionally with a port, optionally
// bracket-wrapped IPv6.
func extractHost(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}

	trimmed := target
	if strings.HasPrefix(trimmed, "[") {
		if end := strings.Index(trimmed, "]"); end > 0 {
			return trimmed[1:end]
		}
		return ""
	}
	if host, _, err := net.SplitHostPort(trimmed); err == nil {
		return host
	}
	return trimmed
}
