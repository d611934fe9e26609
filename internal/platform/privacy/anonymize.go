// Package privacy masks client identifying data before it reaches logs.
package privacy

import (
	"net"
	"net/netip"
)

// AnonymizeIP keeps the network part of an address: the /24 of an IPv4
// address, the /48 of an IPv6 one. It returns "unknown" for an empty input
// and "invalid" when the input does not parse.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap()
	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// ClientIP returns the anonymized host of a RemoteAddr ("host:port" or bare host).
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return AnonymizeIP(host)
}
