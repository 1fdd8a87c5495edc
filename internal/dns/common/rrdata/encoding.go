// Package rrdata encodes and decodes RDATA for the record types this server
// can answer: A, AAAA, CNAME, MX, and TXT. Everything else is an explicit
// unsupported error rather than a silent passthrough.
package rrdata

import (
	"fmt"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// Encode encodes a record value based on its type, to its binary representation.
func Encode(rrType domain.RRType, data string) ([]byte, error) {
	switch rrType {
	case domain.RRTypeA: // 1
		return encodeAData(data)
	case domain.RRTypeCNAME: // 5
		return encodeCNAMEData(data)
	case domain.RRTypeMX: // 15
		return encodeMXData(data)
	case domain.RRTypeTXT: // 16
		return encodeTXTData(data)
	case domain.RRTypeAAAA: // 28
		return encodeAAAAData(data)
	default:
		return nil, fmt.Errorf("%s record encoding not supported", rrType)
	}
}

// Decode decodes a record value based on its type, from its binary representation.
func Decode(rrType domain.RRType, data []byte) (string, error) {
	switch rrType {
	case domain.RRTypeA: // 1
		return decodeAData(data)
	case domain.RRTypeCNAME: // 5
		return decodeCNAMEData(data)
	case domain.RRTypeMX: // 15
		return decodeMXData(data)
	case domain.RRTypeTXT: // 16
		return decodeTXTData(data)
	case domain.RRTypeAAAA: // 28
		return decodeAAAAData(data)
	default:
		return "", fmt.Errorf("%s record decoding not supported", rrType)
	}
}
