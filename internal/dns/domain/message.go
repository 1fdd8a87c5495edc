package domain

import (
	"errors"
	"fmt"
)

// ErrNameNotFound signals a clean "name does not exist" from a resolution
// back end. It maps to NXDOMAIN; every other back end error maps to SERVFAIL.
var ErrNameNotFound = errors.New("name not found")

// Message represents a full DNS message: header fields plus the question and
// answer sections. The same type carries queries and responses; the Response
// flag distinguishes them.
type Message struct {
	ID                 uint16
	Response           bool
	Opcode             uint8
	RecursionDesired   bool
	RecursionAvailable bool
	RCode              RCode
	Questions          []Question
	Answers            []ResourceRecord
}

// NewResponse builds a successful response to query: same transaction id,
// the question section mirrored verbatim, and the supplied answers.
func NewResponse(query Message, answers []ResourceRecord) Message {
	return Message{
		ID:                 query.ID,
		Response:           true,
		Opcode:             query.Opcode,
		RecursionDesired:   true,
		RecursionAvailable: true,
		RCode:              RCodeNoError,
		Questions:          query.Questions,
		Answers:            answers,
	}
}

// NewErrorResponse builds an error response to query with the given rcode.
// A non-zero rcode always carries an empty answer section.
func NewErrorResponse(query Message, rcode RCode) Message {
	resp := NewResponse(query, nil)
	resp.RCode = rcode
	return resp
}

// NewServFail builds a SERVFAIL response from nothing but a transaction id,
// for use when the original message could not be decoded. The id should be
// recovered from the raw header bytes where possible; 0 means even the id
// was unrecoverable.
func NewServFail(id uint16) Message {
	return Message{
		ID:                 id,
		Response:           true,
		RecursionDesired:   true,
		RecursionAvailable: true,
		RCode:              RCodeServFail,
	}
}

// Validate checks whether the Message fields are structurally valid.
func (m Message) Validate() error {
	if !m.RCode.IsValid() {
		return fmt.Errorf("invalid RCode: %d", m.RCode)
	}
	if m.RCode != RCodeNoError && len(m.Answers) > 0 {
		return fmt.Errorf("non-zero RCode %s must not carry answers", m.RCode)
	}
	for i, q := range m.Questions {
		if err := q.Validate(); err != nil {
			return fmt.Errorf("invalid question at index %d: %w", i, err)
		}
	}
	for i, rr := range m.Answers {
		if err := rr.Validate(); err != nil {
			return fmt.Errorf("invalid answer record at index %d: %w", i, err)
		}
	}
	return nil
}
