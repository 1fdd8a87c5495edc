package domain

import (
	"fmt"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/utils"
)

// Question represents a single entry in the question section of a DNS message.
// Name keeps its wire-format casing; comparisons and cache keys use the
// canonical (lowercased) form.
type Question struct {
	Name  string
	Type  RRType
	Class RRClass
}

// NewQuestion constructs a Question and validates its fields.
func NewQuestion(name string, rrtype RRType, class RRClass) (Question, error) {
	q := Question{
		Name:  name,
		Type:  rrtype,
		Class: class,
	}
	if err := q.Validate(); err != nil {
		return Question{}, err
	}
	return q, nil
}

// Validate checks whether the Question fields are structurally and semantically valid.
func (q Question) Validate() error {
	if q.Name == "" {
		return fmt.Errorf("question name must not be empty")
	}
	if !q.Class.IsValid() {
		return fmt.Errorf("unsupported RRClass: %d", q.Class)
	}
	return nil
}

// CacheKey returns a cache key string derived from the question's canonical
// name, type, and class.
func (q Question) CacheKey() string {
	return fmt.Sprintf("%s:%d:%d", utils.CanonicalDNSName(q.Name), q.Type, q.Class)
}
