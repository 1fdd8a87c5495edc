// Package resolver adapts decoded DNS queries onto the external resolution
// capability: it walks the question section, performs the type-appropriate
// lookup for each question, and maps back-end outcomes onto response codes.
package resolver

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
)

// DefaultTTL is applied to answers whose back end supplied no TTL.
const DefaultTTL = 300

// defaultTimeout bounds a single message's resolution when no timeout is
// configured, so a hung back end degrades to SERVFAIL instead of stalling
// the connection indefinitely.
const defaultTimeout = 5 * time.Second

// Resolver orchestrates per-question resolution for a decoded message.
type Resolver struct {
	backend   Backend
	blocklist Blocklist
	cache     Cache
	logger    log.Logger
	timeout   time.Duration
}

// Options carries the dependencies for NewResolver. Blocklist and Cache are
// optional; Timeout defaults to defaultTimeout when zero.
type Options struct {
	Backend   Backend
	Blocklist Blocklist
	Cache     Cache
	Logger    log.Logger
	Timeout   time.Duration
}

// NewResolver constructs a Resolver from its options.
func NewResolver(opts Options) *Resolver {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Resolver{
		backend:   opts.Backend,
		blocklist: opts.Blocklist,
		cache:     opts.Cache,
		logger:    opts.Logger,
		timeout:   timeout,
	}
}

// HandleQuery resolves every question in the message and builds the response.
// The response always echoes the transaction id and the question section.
// Policy, applied per question in order:
//   - blocked name: REFUSED, stop
//   - unsupported type: empty answer set, continue
//   - name not found: NXDOMAIN, stop (first failure wins)
//   - back-end failure or timeout: SERVFAIL, stop
func (r *Resolver) HandleQuery(ctx context.Context, query domain.Message, clientAddr net.Addr) domain.Message {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var answers []domain.ResourceRecord
	for _, q := range query.Questions {
		if r.blocklist != nil && r.blocklist.IsBlocked(q.Name) {
			r.logger.Info(map[string]any{
				"client": addrString(clientAddr),
				"name":   q.Name,
			}, "Refused blocked name")
			return domain.NewErrorResponse(query, domain.RCodeRefused)
		}

		if !q.Type.Resolvable() {
			r.logger.Debug(map[string]any{
				"name": q.Name,
				"type": q.Type.String(),
			}, "Unsupported question type")
			continue
		}

		records, err := r.resolve(ctx, q)
		if err != nil {
			if errors.Is(err, domain.ErrNameNotFound) {
				r.logger.Debug(map[string]any{
					"client": addrString(clientAddr),
					"name":   q.Name,
					"type":   q.Type.String(),
				}, "Name not found")
				return domain.NewErrorResponse(query, domain.RCodeNXDomain)
			}
			r.logger.Error(map[string]any{
				"client": addrString(clientAddr),
				"name":   q.Name,
				"type":   q.Type.String(),
				"error":  err.Error(),
			}, "Resolution failed")
			return domain.NewErrorResponse(query, domain.RCodeServFail)
		}
		answers = append(answers, records...)
	}

	return domain.NewResponse(query, answers)
}

// resolve answers a single question, consulting the cache around the back end.
func (r *Resolver) resolve(ctx context.Context, q domain.Question) ([]domain.ResourceRecord, error) {
	key := q.CacheKey()
	if r.cache != nil {
		if records, found := r.cache.Get(key); found {
			return records, nil
		}
	}

	records, err := r.backend.Resolve(ctx, q)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrNameNotFound) {
			return nil, ctx.Err()
		}
		return nil, err
	}

	for i := range records {
		if records[i].TTL == 0 {
			records[i].TTL = DefaultTTL
		}
	}

	if r.cache != nil && len(records) > 0 {
		if err := r.cache.Set(records); err != nil {
			r.logger.Warn(map[string]any{
				"key":   key,
				"error": err.Error(),
			}, "Failed to cache answer set")
		}
	}

	return records, nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
