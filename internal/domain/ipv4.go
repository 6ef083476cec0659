package domain

import (
	"encoding/binary"
	"net"
)

// IPv4ToUint32 parses a dotted-quad address (IPv4-mapped IPv6 is unmapped)
// and returns its integer form. ok is false for anything that is not IPv4.
func IPv4ToUint32(raw string) (uint32, bool) {
	parsed := net.ParseIP(raw)
	if parsed == nil {
		return 0, false
	}
	ip := parsed.To4()
	if ip == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(ip), true
}

func Uint32ToIPv4(value uint32) string {
	ip := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(ip, value)
	return ip.String()
}

// IsIPv4 reports whether raw is a well-formed IPv4 address.
func IsIPv4(raw string) bool {
	_, ok := IPv4ToUint32(raw)
	return ok
}
