package rrdata

import (
	"fmt"
	"net"
)

// encodeAData encodes an A record string into its binary representation.
func encodeAData(data string) ([]byte, error) {
	// data = "192.0.2.1"
	ip := net.ParseIP(data)
	if ip == nil || !isIPv4(ip) {
		return nil, fmt.Errorf("invalid A record IP: %s", data)
	}
	return ip.To4(), nil
}

// decodeAData decodes A record data from its 4-byte binary representation.
func decodeAData(b []byte) (string, error) {
	if len(b) != net.IPv4len {
		return "", fmt.Errorf("invalid A data length: %d", len(b))
	}
	return net.IP(b).String(), nil
}
