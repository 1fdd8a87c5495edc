// Package upstream provides the resolution back ends: the operating system's
// resolver and a plain-DNS forwarder against configured upstream servers.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/rrdata"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/resolver"
)

// hostLookups is the slice of net.Resolver this backend needs; narrowed to an
// interface so tests can substitute lookups without the network.
type hostLookups interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// SystemBackend resolves questions through the operating system's resolver,
// mapping each question type onto the matching lookup call.
type SystemBackend struct {
	lookups hostLookups
}

// NewSystemBackend returns a SystemBackend backed by net.DefaultResolver.
func NewSystemBackend() *SystemBackend {
	return &SystemBackend{lookups: net.DefaultResolver}
}

// Resolve performs the type-appropriate lookup for the question. The system
// resolver supplies no TTLs, so records are returned with TTL 0 and the
// service layer applies its default.
func (b *SystemBackend) Resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	switch q.Type {
	case domain.RRTypeA:
		return b.lookupIP(ctx, q, "ip4")
	case domain.RRTypeAAAA:
		return b.lookupIP(ctx, q, "ip6")
	case domain.RRTypeCNAME:
		return b.lookupCNAME(ctx, q)
	case domain.RRTypeMX:
		return b.lookupMX(ctx, q)
	case domain.RRTypeTXT:
		return b.lookupTXT(ctx, q)
	default:
		return nil, nil
	}
}

func (b *SystemBackend) lookupIP(ctx context.Context, q domain.Question, network string) ([]domain.ResourceRecord, error) {
	ips, err := b.lookups.LookupIP(ctx, network, q.Name)
	if err != nil {
		return nil, mapLookupError(err)
	}
	var records []domain.ResourceRecord
	for _, ip := range ips {
		rr, err := newRecord(q, ip.String())
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
	}
	return records, nil
}

func (b *SystemBackend) lookupCNAME(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	target, err := b.lookups.LookupCNAME(ctx, q.Name)
	if err != nil {
		return nil, mapLookupError(err)
	}
	if target == "" {
		return nil, domain.ErrNameNotFound
	}
	rr, err := newRecord(q, target)
	if err != nil {
		return nil, err
	}
	return []domain.ResourceRecord{rr}, nil
}

func (b *SystemBackend) lookupMX(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	hosts, err := b.lookups.LookupMX(ctx, q.Name)
	if err != nil {
		return nil, mapLookupError(err)
	}
	var records []domain.ResourceRecord
	for _, mx := range hosts {
		rr, err := newRecord(q, fmt.Sprintf("%d %s", mx.Pref, mx.Host))
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
	}
	return records, nil
}

func (b *SystemBackend) lookupTXT(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	texts, err := b.lookups.LookupTXT(ctx, q.Name)
	if err != nil {
		return nil, mapLookupError(err)
	}
	var records []domain.ResourceRecord
	for _, text := range texts {
		rr, err := newRecord(q, text)
		if err != nil {
			return nil, err
		}
		records = append(records, rr)
	}
	return records, nil
}

// newRecord builds an answer record for the question from its presentation text.
func newRecord(q domain.Question, text string) (domain.ResourceRecord, error) {
	data, err := rrdata.Encode(q.Type, text)
	if err != nil {
		return domain.ResourceRecord{}, fmt.Errorf("encoding %s answer for %s: %w", q.Type, q.Name, err)
	}
	return domain.NewResourceRecord(q.Name, q.Type, q.Class, 0, data, text)
}

// mapLookupError converts resolver errors into the domain's taxonomy: a clean
// not-found becomes ErrNameNotFound, everything else stays a back-end failure.
func mapLookupError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return domain.ErrNameNotFound
	}
	return err
}

var _ resolver.Backend = &SystemBackend{}
