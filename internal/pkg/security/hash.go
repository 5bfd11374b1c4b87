package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// FingerprintHash hashes a raw device fingerprint for storage and token
// claims. Returns "" when no fingerprint was supplied.
func FingerprintHash(fingerprint string) string {
	if fingerprint == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(fingerprint))
	return hex.EncodeToString(sum[:])
}

// UserAgentHash is a truncated digest of the user agent, enough to detect
// a browser swap without storing the full string in the token.
func UserAgentHash(ua string) string {
	if ua == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:16]
}

// NetworkHash digests the client's network class together with the user
// agent. The class is coarse on purpose so ordinary DHCP churn inside one
// network does not look like a network change.
func NetworkHash(ip, ua string) string {
	class := networkClass(ip)
	sum := sha256.Sum256([]byte(class + "|" + ua))
	return hex.EncodeToString(sum[:])
}

// networkClass reduces an IP to its network prefix. Private IPv4 keeps
// three octets, public IPv4 two, IPv6 the first four groups.
func networkClass(ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "unknown"
	}

	if v4 := parsed.To4(); v4 != nil {
		octets := strings.Split(v4.String(), ".")
		if isPrivateV4(v4) {
			return strings.Join(octets[:3], ".")
		}
		return strings.Join(octets[:2], ".")
	}

	groups := strings.Split(parsed.String(), ":")
	if len(groups) > 4 {
		groups = groups[:4]
	}
	return strings.Join(groups, ":")
}

func isPrivateV4(ip net.IP) bool {
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
