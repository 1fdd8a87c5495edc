package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/common/rrdata"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// maxPointerJumps bounds compression pointer chasing during name decoding.
// Real messages need a handful of jumps at most; anything deeper is a crafted
// loop and decodes as ErrMalformed instead of recursing forever.
const maxPointerJumps = 16

// messageCodec implements Codec for the RFC 1035 wire format.
type messageCodec struct {
	logger log.Logger
}

// NewMessageCodec creates and returns a new instance of messageCodec using the
// provided logger.
func NewMessageCodec(logger log.Logger) *messageCodec {
	return &messageCodec{
		logger: logger,
	}
}

// DecodeMessage parses a DNS message from data.
func (c *messageCodec) DecodeMessage(data []byte) (domain.Message, error) {
	if len(data) < 12 {
		return domain.Message{}, fmt.Errorf("%w: header truncated (%d bytes)", ErrMalformed, len(data))
	}

	id := binary.BigEndian.Uint16(data[0:2])
	flags := binary.BigEndian.Uint16(data[2:4])
	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])

	msg := domain.Message{
		ID:                 id,
		Response:           flags&0x8000 != 0,
		Opcode:             uint8(flags >> 11 & 0x0F),
		RecursionDesired:   flags&0x0100 != 0,
		RecursionAvailable: flags&0x0080 != 0,
		RCode:              domain.RCode(flags & 0x000F),
	}

	offset := 12
	for i := 0; i < int(qdCount); i++ {
		name, qtype, qclass, newOffset, err := decodeQuestion(data, offset)
		if err != nil {
			// A question count larger than the questions actually present
			// surfaces here as a truncation error.
			return domain.Message{}, fmt.Errorf("%w: question %d of %d: %v", ErrMalformed, i+1, qdCount, err)
		}
		q := domain.Question{
			Name:  name,
			Type:  domain.RRType(qtype),
			Class: domain.RRClass(qclass),
		}
		if !q.Class.IsValid() {
			return domain.Message{}, fmt.Errorf("%w: unsupported record class %d", ErrMalformed, qclass)
		}
		msg.Questions = append(msg.Questions, q)
		offset = newOffset
	}

	for i := 0; i < int(anCount); i++ {
		rr, newOffset, err := parseResourceRecord(data, offset)
		if err != nil {
			return domain.Message{}, fmt.Errorf("%w: answer record %d: %v", ErrMalformed, i+1, err)
		}
		msg.Answers = append(msg.Answers, rr)
		offset = newOffset
	}

	return msg, nil
}

// EncodeMessage serializes a DNS message into wire format. Responses always
// carry RD and RA set, mirror the question section verbatim, and include only
// the answers explicitly supplied. Names are encoded without compression.
func (c *messageCodec) EncodeMessage(msg domain.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	var flags uint16
	if msg.Response {
		flags |= 0x8000
	}
	flags |= uint16(msg.Opcode&0x0F) << 11
	flags |= 0x0100 // RD
	flags |= 0x0080 // RA
	flags |= uint16(msg.RCode) & 0x000F

	qdCount := len(msg.Questions)
	anCount := len(msg.Answers)
	if qdCount > 65535 || anCount > 65535 {
		return nil, fmt.Errorf("too many records: %d questions, %d answers", qdCount, anCount)
	}

	_ = binary.Write(&buf, binary.BigEndian, msg.ID)
	_ = binary.Write(&buf, binary.BigEndian, flags)
	_ = binary.Write(&buf, binary.BigEndian, uint16(qdCount))
	_ = binary.Write(&buf, binary.BigEndian, uint16(anCount))
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // NSCOUNT
	_ = binary.Write(&buf, binary.BigEndian, uint16(0)) // ARCOUNT

	for _, q := range msg.Questions {
		name, err := encodeDomainName(q.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		_ = binary.Write(&buf, binary.BigEndian, uint16(q.Type))
		_ = binary.Write(&buf, binary.BigEndian, uint16(q.Class))
	}

	for _, rr := range msg.Answers {
		name, err := encodeDomainName(rr.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		_ = binary.Write(&buf, binary.BigEndian, uint16(rr.Type))
		_ = binary.Write(&buf, binary.BigEndian, uint16(rr.Class))
		_ = binary.Write(&buf, binary.BigEndian, rr.TTL)

		data := rr.Data
		if len(data) == 0 {
			data, err = rrdata.Encode(rr.Type, rr.Text)
			if err != nil {
				return nil, fmt.Errorf("encoding %s record for %s: %w", rr.Type, rr.Name, err)
			}
		}
		if len(data) > 65535 {
			return nil, fmt.Errorf("resource record data too large: %d bytes (max 65535)", len(data))
		}
		_ = binary.Write(&buf, binary.BigEndian, uint16(len(data)))
		buf.Write(data)
	}

	c.logger.Debug(map[string]any{
		"id":   msg.ID,
		"qd":   qdCount,
		"an":   anCount,
		"size": buf.Len(),
	}, "Encoded DNS message")

	return buf.Bytes(), nil
}

// decodeName decodes a domain name from a DNS message at the specified offset,
// handling label compression as defined in RFC 1035. Pointer chasing is
// bounded by maxPointerJumps.
func decodeName(data []byte, offset int) (string, int, error) {
	return decodeNameBounded(data, offset, 0)
}

func decodeNameBounded(data []byte, offset, jumps int) (string, int, error) {
	var labels []string
	for {
		if offset >= len(data) {
			return "", 0, fmt.Errorf("name offset out of bounds")
		}
		length := int(data[offset])
		if length == 0 {
			offset++
			break
		}
		if length&0xC0 == 0xC0 {
			if jumps >= maxPointerJumps {
				return "", 0, fmt.Errorf("compression pointer limit exceeded")
			}
			if offset+1 >= len(data) {
				return "", 0, fmt.Errorf("compression pointer out of bounds")
			}
			ptr := int(binary.BigEndian.Uint16(data[offset:offset+2]) & 0x3FFF)
			if ptr >= offset {
				return "", 0, fmt.Errorf("forward compression pointer")
			}
			suffix, _, err := decodeNameBounded(data, ptr, jumps+1)
			if err != nil {
				return "", 0, err
			}
			labels = append(labels, suffix)
			offset += 2
			break
		}
		if length&0xC0 != 0 {
			return "", 0, fmt.Errorf("unsupported label type 0x%02x", length&0xC0)
		}
		offset++
		if offset+length > len(data) {
			return "", 0, fmt.Errorf("label length out of bounds")
		}
		labels = append(labels, string(data[offset:offset+length]))
		offset += length
	}
	return strings.Join(labels, "."), offset, nil
}

// encodeDomainName encodes a domain name into DNS wire format without compression.
func encodeDomainName(name string) ([]byte, error) {
	var buf bytes.Buffer
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if len(label) > 63 {
			return nil, fmt.Errorf("label too long: %s", label)
		}
		if len(label) > 0 {
			buf.WriteByte(byte(len(label)))
			buf.WriteString(label)
		}
	}
	buf.WriteByte(0)
	return buf.Bytes(), nil
}

// decodeQuestion parses a DNS question section entry starting at the given offset.
// It returns the domain name, query type, query class, and the updated offset.
func decodeQuestion(data []byte, offset int) (string, uint16, uint16, int, error) {
	name, newOffset, err := decodeName(data, offset)
	if err != nil {
		return "", 0, 0, 0, err
	}
	if newOffset+4 > len(data) {
		return "", 0, 0, 0, fmt.Errorf("truncated question fields")
	}
	qtype := binary.BigEndian.Uint16(data[newOffset : newOffset+2])
	qclass := binary.BigEndian.Uint16(data[newOffset+2 : newOffset+4])
	return name, qtype, qclass, newOffset + 4, nil
}

// parseResourceRecord extracts a single resource record starting at offset.
func parseResourceRecord(data []byte, offset int) (domain.ResourceRecord, int, error) {
	name, newOffset, err := decodeName(data, offset)
	if err != nil {
		return domain.ResourceRecord{}, 0, fmt.Errorf("failed to decode record name: %v", err)
	}
	offset = newOffset

	if offset+10 > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("truncated record section after name")
	}

	typ := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	class := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2
	ttl := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	rdLen := binary.BigEndian.Uint16(data[offset : offset+2])
	offset += 2

	if offset+int(rdLen) > len(data) {
		return domain.ResourceRecord{}, 0, fmt.Errorf("truncated rdata")
	}
	rdata := make([]byte, rdLen)
	copy(rdata, data[offset:offset+int(rdLen)])
	offset += int(rdLen)

	rr := domain.ResourceRecord{
		Name:  name,
		Type:  domain.RRType(typ),
		Class: domain.RRClass(class),
		TTL:   ttl,
		Data:  rdata,
	}
	if !rr.Class.IsValid() {
		return domain.ResourceRecord{}, 0, fmt.Errorf("unsupported record class %d", class)
	}
	// The presentation form is best-effort; unsupported types keep raw bytes only.
	if text, err := rrdata.Decode(rr.Type, rdata); err == nil {
		rr.Text = text
	}

	return rr, offset, nil
}

var _ Codec = &messageCodec{}
