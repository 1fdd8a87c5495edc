package rrdata

import (
	"fmt"
	"strings"
)

// encodeTXTData encodes a TXT record string into its binary representation.
func encodeTXTData(data string) ([]byte, error) {
	// Supports multiple character-strings separated by semicolons
	// see RFC 1035 section 3.3.14
	segments := strings.Split(data, ";")
	var encoded []byte
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if len(segment) > 255 {
			return nil, fmt.Errorf("TXT segment too long: %d bytes", len(segment))
		}
		encoded = append(encoded, byte(len(segment)))
		encoded = append(encoded, []byte(segment)...)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("TXT record must contain at least one segment")
	}
	return encoded, nil
}

// decodeTXTData decodes TXT record data into its character-string segments,
// joined with "; " when more than one is present.
func decodeTXTData(b []byte) (string, error) {
	var segments []string
	for i := 0; i < len(b); {
		segLen := int(b[i])
		i++
		if i+segLen > len(b) {
			return "", fmt.Errorf("invalid TXT segment length")
		}
		segments = append(segments, string(b[i:i+segLen]))
		i += segLen
	}
	if len(segments) == 0 {
		return "", fmt.Errorf("TXT record contains no segments")
	}
	return strings.Join(segments, "; "), nil
}
