package core

import (
	"sync"
	"sync/atomic"
)

// Interner deduplicates strings across goroutines so that repeated tokens
// and file addresses share one backing allocation. The sync stage interns
// addresses, the indexer workers intern tokens; both write concurrently.
//
// The runtime offers no weak references we can lean on here, so entries are
// not collected by the interner itself. The index actor prunes empty reverse
// buckets on removal, which keeps the live token population bounded by what
// is actually on disk.
type Interner struct {
	mu      sync.Mutex
	strings map[string]string
	hits    atomic.Uint64
	misses  atomic.Uint64
}

func NewInterner() *Interner {
	return &Interner{strings: make(map[string]string)}
}

// Intern returns the canonical copy of s, storing it on first sight.
func (in *Interner) Intern(s string) string {
	in.mu.Lock()
	canon, ok := in.strings[s]
	if !ok {
		// Force a fresh allocation so the canonical string does not pin
		// a larger buffer (s is often a slice of a whole file line).
		canon = string(append([]byte(nil), s...))
		in.strings[canon] = canon
	}
	in.mu.Unlock()

	if ok {
		in.hits.Add(1)
	} else {
		in.misses.Add(1)
	}
	return canon
}

// Len reports the number of distinct strings held.
func (in *Interner) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.strings)
}

// Stats returns hit/miss counts since creation.
func (in *Interner) Stats() (hits, misses uint64) {
	return in.hits.Load(), in.misses.Load()
}
