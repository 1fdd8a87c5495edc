// Package dnscache provides a TTL-aware in-memory answer cache using an LRU
// strategy. Each cache key can store multiple resource records, as DNS
// queries often return multiple records.
package dnscache

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tlsdns/tlsdnsd/internal/dns/domain"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/resolver"
)

var (
	ErrMultipleKeys = errors.New("multiple records with different keys provided")
)

// entry carries a record set with the absolute time it stops being served.
// The expiry is derived from the smallest TTL in the set, so a mixed-TTL
// answer never outlives its shortest-lived record.
type entry struct {
	records   []domain.ResourceRecord
	expiresAt time.Time
}

// dnsCache is an in-memory TTL-aware cache for resolved answer sets.
type dnsCache struct {
	lru *lru.Cache[string, entry]
}

// New returns a new dnsCache instance of the given size using an LRU backing store.
func New(size int) (*dnsCache, error) {
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &dnsCache{lru: cache}, nil
}

// Set replaces the existing records for the given key with the provided records.
// All records passed must share the same cache key.
func (c *dnsCache) Set(records []domain.ResourceRecord) error {
	if len(records) == 0 {
		return nil
	}
	key := records[0].CacheKey()
	minTTL := records[0].TTL
	for _, record := range records {
		if record.CacheKey() != key {
			return ErrMultipleKeys
		}
		if record.TTL < minTTL {
			minTTL = record.TTL
		}
	}
	c.lru.Add(key, entry{
		records:   records,
		expiresAt: time.Now().Add(time.Duration(minTTL) * time.Second),
	})
	return nil
}

// Get retrieves resource records from the cache if present and not expired.
// Expired entries are removed on read.
func (c *dnsCache) Get(key string) ([]domain.ResourceRecord, bool) {
	e, found := c.lru.Get(key)
	if !found {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.records, true
}

// Delete removes the entry for the given key from the cache.
func (c *dnsCache) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cache entries (keys) currently stored in the cache.
func (c *dnsCache) Len() int {
	return c.lru.Len()
}

var _ resolver.Cache = (*dnsCache)(nil)
