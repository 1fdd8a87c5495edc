package resolver

import (
	"context"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// Backend is the external resolution capability: given a question, return the
// matching records. A clean "does not exist" is signalled with
// domain.ErrNameNotFound; any other error is treated as a back-end failure.
// Question types the back end cannot serve return an empty set with nil error.
type Backend interface {
	Resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error)
}

// Cache stores resolved answer sets keyed by question name:type:class.
type Cache interface {
	Get(key string) ([]domain.ResourceRecord, bool)
	Set(records []domain.ResourceRecord) error
}

// Blocklist answers whether a name is administratively blocked.
type Blocklist interface {
	IsBlocked(name string) bool
}
