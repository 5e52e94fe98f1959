package logger

import "strings"

// RedactAddr masks the host-identifying tail of a source address for safe
// logging. IPv4 keeps the first two octets: "203.0.113.9" -> "203.0.*.*".
// IPv6 keeps the first two groups. Anything else is fully masked.
func RedactAddr(addr string) string {
	if octets := strings.Split(addr, "."); len(octets) == 4 {
		return octets[0] + "." + octets[1] + ".*.*"
	}
	if groups := strings.Split(addr, ":"); len(groups) > 2 {
		return groups[0] + ":" + groups[1] + ":*"
	}
	return "***"
}
