// Package blocklist provides an in-memory domain blocklist loaded from a
// plain-text file. Lookups hit a Bloom filter first for a fast negative
// answer, then an exact set so a filter false positive never blocks an
// innocent name.
package blocklist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/utils"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/resolver"
)

// falsePositiveRate is the Bloom filter target FP rate. False positives only
// cost an extra map lookup, so this can stay loose.
const falsePositiveRate = 0.01

// Blocklist answers membership queries for blocked domain names.
type Blocklist struct {
	mu     sync.RWMutex
	filter *bitsbloom.BloomFilter
	exact  map[string]struct{}
}

// New returns an empty Blocklist sized for the expected number of entries.
func New(capacity uint) *Blocklist {
	if capacity == 0 {
		capacity = 1
	}
	return &Blocklist{
		filter: bitsbloom.NewWithEstimates(capacity, falsePositiveRate),
		exact:  make(map[string]struct{}, capacity),
	}
}

// Add registers a domain name as blocked.
func (b *Blocklist) Add(name string) {
	name = utils.CanonicalDNSName(name)
	if name == "" {
		return
	}
	b.mu.Lock()
	b.filter.AddString(name)
	b.exact[name] = struct{}{}
	b.mu.Unlock()
}

// IsBlocked reports whether the given name is on the blocklist.
func (b *Blocklist) IsBlocked(name string) bool {
	name = utils.CanonicalDNSName(name)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.filter.TestString(name) {
		return false
	}
	_, blocked := b.exact[name]
	return blocked
}

// Len returns the number of blocked names.
func (b *Blocklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.exact)
}

// LoadFile builds a Blocklist from a plain-text file: one domain per line,
// blank lines and '#' comments ignored.
func LoadFile(path string) (*Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocklist: %w", err)
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			names = append(names, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read blocklist: %w", err)
	}

	b := New(uint(len(names)))
	for _, name := range names {
		b.Add(name)
	}
	return b, nil
}

// Nop is a Blocklist implementation that blocks nothing, used when no
// blocklist is configured.
type Nop struct{}

// IsBlocked always returns false.
func (Nop) IsBlocked(string) bool { return false }

var (
	_ resolver.Blocklist = (*Blocklist)(nil)
	_ resolver.Blocklist = Nop{}
)
