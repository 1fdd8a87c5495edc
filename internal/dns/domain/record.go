package domain

import (
	"fmt"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/utils"
)

// ResourceRecord represents a DNS resource record in the answer section.
// Data holds the wire-encoded RDATA; Text holds the human-readable form
// (e.g. "192.0.2.1" or "10 mail.example.com").
type ResourceRecord struct {
	Name  string
	Type  RRType
	Class RRClass
	TTL   uint32
	Data  []byte
	Text  string
}

// NewResourceRecord constructs a ResourceRecord and validates its fields.
func NewResourceRecord(name string, rrtype RRType, class RRClass, ttl uint32, data []byte, text string) (ResourceRecord, error) {
	rr := ResourceRecord{
		Name:  utils.CanonicalDNSName(name),
		Type:  rrtype,
		Class: class,
		TTL:   ttl,
		Data:  data,
		Text:  text,
	}
	if err := rr.Validate(); err != nil {
		return ResourceRecord{}, err
	}
	return rr, nil
}

// Validate checks whether the ResourceRecord fields are valid.
func (rr ResourceRecord) Validate() error {
	if rr.Name == "" {
		return fmt.Errorf("record name must not be empty")
	}
	if !rr.Class.IsValid() {
		return fmt.Errorf("invalid RRClass: %d", rr.Class)
	}
	if rr.Text == "" && len(rr.Data) == 0 {
		return fmt.Errorf("either Text or Data must be set")
	}
	return nil
}

// CacheKey returns a cache key string derived from the record's canonical
// name, type, and class.
func (rr ResourceRecord) CacheKey() string {
	return fmt.Sprintf("%s:%d:%d", utils.CanonicalDNSName(rr.Name), rr.Type, rr.Class)
}
