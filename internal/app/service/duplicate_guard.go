package service

import (
	"crypto/sha256"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

const (
	defaultGuardCapacity = 100000
	guardFalsePositive   = 0.01
)

// DuplicateGuard remembers submission fingerprints seen by this process.
// A miss means the store lookup for an identical active listing can be
// skipped; a hit must be confirmed against the store.
type DuplicateGuard struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewDuplicateGuard sizes the filter for n fingerprints.
func NewDuplicateGuard(n uint) *DuplicateGuard {
	if n == 0 {
		n = defaultGuardCapacity
	}
	return &DuplicateGuard{filter: bloom.NewWithEstimates(n, guardFalsePositive)}
}

// MaybeSeen reports whether the fingerprint may have been added before.
func (g *DuplicateGuard) MaybeSeen(fp []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.filter.Test(fp)
}

// Add records a fingerprint.
func (g *DuplicateGuard) Add(fp []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filter.Add(fp)
}

func submissionFingerprint(owner string, category model.Category, title, body string) []byte {
	h := sha256.New()
	for _, part := range []string{owner, string(category), title, body} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}
