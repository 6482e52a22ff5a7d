// Package zones classifies a caller IP into an access zone and gates
// security levels against it. Classification is a pure function of the
// address plus static configuration, following the hand-rolled (not
// net.ParseIP-based) parsing style used for the same class of check in
// the teacher's SSRF guard.
package zones

import (
	"strconv"
	"strings"

	"github.com/dbusmcp/opctl/pkg/models"
)

// meshIPv6Prefixes are well-known overlay-network prefixes treated as
// TrustedMesh regardless of explicit trusted-network configuration.
var meshIPv6Prefixes = []string{
	"fd00:", // IPv6 ULA, used by several mesh VPNs including Nebula/Netmaker defaults
}

// privateIPv6Prefixes identifies link-local IPv6, mapped to PrivateNetwork.
var privateIPv6Prefixes = []string{"fe80:"}

// Classifier derives an AccessZone from a caller IP plus configured
// trusted networks (OP_TRUSTED_NETWORKS: comma-separated prefixes/CIDRs).
type Classifier struct {
	trusted []trustedEntry
}

type trustedEntry struct {
	// prefix is a dotted or colon-separated string prefix match (simple,
	// allocation-free, mirrors the teacher's string-prefix style rather
	// than parsing full CIDR masks for the common case).
	prefix string
	// net/mask hold a parsed CIDR when the entry included a "/".
	net  [4]byte
	mask [4]byte
	cidr bool
}

// NewClassifier builds a Classifier from a comma-separated list of trusted
// network prefixes or CIDRs (the OP_TRUSTED_NETWORKS environment variable).
func NewClassifier(trustedNetworks string) *Classifier {
	c := &Classifier{}
	for _, raw := range strings.Split(trustedNetworks, ",") {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if n, m, ok := parseCIDRv4(entry); ok {
				c.trusted = append(c.trusted, trustedEntry{net: n, mask: m, cidr: true})
				continue
			}
		}
		c.trusted = append(c.trusted, trustedEntry{prefix: strings.ToLower(entry)})
	}
	return c
}

func parseCIDRv4(s string) (net, mask [4]byte, ok bool) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return net, mask, false
	}
	ip, err := parseIPv4(parts[0])
	if err != nil {
		return net, mask, false
	}
	bits, err := strconv.Atoi(parts[1])
	if err != nil || bits < 0 || bits > 32 {
		return net, mask, false
	}
	m := maskForBits(bits)
	var masked [4]byte
	for i := range ip {
		masked[i] = ip[i] & m[i]
	}
	return masked, m, true
}

func maskForBits(bits int) [4]byte {
	var m [4]byte
	for i := 0; i < 4; i++ {
		if bits >= 8 {
			m[i] = 0xff
			bits -= 8
			continue
		}
		if bits > 0 {
			m[i] = byte(0xff << (8 - bits))
			bits = 0
			continue
		}
		m[i] = 0
	}
	return m
}

func parseIPv4(address string) ([4]byte, error) {
	var result [4]byte
	parts := strings.Split(address, ".")
	if len(parts) != 4 {
		return result, errInvalidIPv4
	}
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return result, errInvalidIPv4
		}
		result[i] = byte(v)
	}
	return result, nil
}

// isRFC1918 reports whether the address is in one of the three RFC 1918
// private ranges.
func isRFC1918(ip [4]byte) bool {
	switch {
	case ip[0] == 10:
		return true
	case ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31:
		return true
	case ip[0] == 192 && ip[1] == 168:
		return true
	}
	return false
}

// isTailscaleCGNAT reports whether the address falls in 100.64.0.0/10, the
// carrier-grade NAT range Tailscale and similar mesh VPNs assign from.
func isTailscaleCGNAT(ip [4]byte) bool {
	return ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127
}

func (c *Classifier) matchesTrusted(normalized string, ipv4 [4]byte, hasIPv4 bool) bool {
	for _, t := range c.trusted {
		if t.cidr && hasIPv4 {
			var masked [4]byte
			for i := range ipv4 {
				masked[i] = ipv4[i] & t.mask[i]
			}
			if masked == t.net {
				return true
			}
			continue
		}
		if t.prefix != "" && strings.HasPrefix(normalized, t.prefix) {
			return true
		}
	}
	return false
}

// Classify derives an AccessZone for a caller IP. Pure function of ip plus
// the Classifier's static trusted-network configuration.
func (c *Classifier) Classify(ip string) models.AccessZone {
	normalized := strings.ToLower(strings.TrimSpace(ip))
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}

	if normalized == "localhost" || normalized == "::1" || strings.HasPrefix(normalized, "127.") {
		return models.ZoneLocalhost
	}

	ipv4, ipv4err := parseIPv4(normalized)
	hasIPv4 := ipv4err == nil

	if c.matchesTrusted(normalized, ipv4, hasIPv4) {
		return models.ZoneTrustedMesh
	}

	if strings.Contains(normalized, ":") {
		for _, p := range meshIPv6Prefixes {
			if strings.HasPrefix(normalized, p) {
				return models.ZoneTrustedMesh
			}
		}
		for _, p := range privateIPv6Prefixes {
			if strings.HasPrefix(normalized, p) {
				return models.ZonePrivateNetwork
			}
		}
		return models.ZonePublic
	}

	if hasIPv4 {
		if isTailscaleCGNAT(ipv4) {
			return models.ZoneTrustedMesh
		}
		if isRFC1918(ipv4) {
			return models.ZonePrivateNetwork
		}
	}

	return models.ZonePublic
}

// CanAccess re-exports the zone×level access matrix for convenience at
// call sites that only import this package.
func CanAccess(zone models.AccessZone, level models.SecurityLevel) bool {
	return models.CanAccess(zone, level)
}
