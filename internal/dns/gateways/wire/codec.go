// Package wire provides encoding and decoding of full DNS messages in the
// RFC 1035 wire format. It has no network awareness; transports hand it raw
// message bytes and get domain objects back.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// ErrMalformed is wrapped by every decode failure: truncated buffers, count
// mismatches, invalid classes, and bad compression pointers. Callers use
// errors.Is to distinguish protocol-level decode errors from everything else.
var ErrMalformed = errors.New("malformed dns message")

// Codec encodes and decodes DNS messages between wire format and domain objects.
type Codec interface {
	// DecodeMessage parses a complete DNS wire message. It never returns a
	// partial message: any structural defect yields an error wrapping ErrMalformed.
	DecodeMessage(data []byte) (domain.Message, error)

	// EncodeMessage serializes a DNS message into canonical wire format
	// without name compression.
	EncodeMessage(msg domain.Message) ([]byte, error)
}

// TransactionID recovers the transaction id from the first two bytes of a raw
// message, for synthesizing SERVFAIL responses to messages that failed to
// decode. Returns 0 when not even the id field is present.
func TransactionID(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(data[:2])
}
