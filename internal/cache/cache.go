// Package cache fronts ProvenanceStore's content-hash lookup with a
// two-tier cache (in-memory LRU + the store itself as tier two), so the
// common case — checking whether a hash has already been claimed — does
// not round-trip to SQLite on every ingest.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Source is the tier-two backend: a content-hash keyed lookup, as
// implemented by ingest.Provenance.ByContentHash.
type Source[T any] interface {
	ByContentHash(hash string) (*T, bool, error)
}

// ProvenanceLookup is a read-through cache over Source, keyed by
// ContentHash.
type ProvenanceLookup[T any] struct {
	memory *lru.Cache[string, *T]
	source Source[T]
}

// NewProvenanceLookup creates a ProvenanceLookup with an in-memory LRU of
// maxEntries (defaulting to 4096 if non-positive) in front of source.
func NewProvenanceLookup[T any](source Source[T], maxEntries int) (*ProvenanceLookup[T], error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	memory, err := lru.New[string, *T](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: creating LRU: %w", err)
	}
	return &ProvenanceLookup[T]{memory: memory, source: source}, nil
}

// ByContentHash returns the cached record for hash if present in the
// in-memory tier; otherwise it consults the source and promotes a hit to
// memory. Misses are not cached, since a miss becomes stale the instant
// this same upload claims the hash.
func (c *ProvenanceLookup[T]) ByContentHash(hash string) (*T, bool, error) {
	if rec, ok := c.memory.Get(hash); ok {
		return rec, true, nil
	}
	rec, ok, err := c.source.ByContentHash(hash)
	if err != nil {
		return nil, false, err
	}
	if ok {
		c.memory.Add(hash, rec)
	}
	return rec, ok, nil
}

// Invalidate evicts hash from the in-memory tier, for callers that mutate
// the underlying store out of band (e.g. deleting a provenance record) and
// need the next lookup to bypass the stale cached entry.
func (c *ProvenanceLookup[T]) Invalidate(hash string) {
	c.memory.Remove(hash)
}
