package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// newProvenanceID produces a 16-character hex ProvenanceId by hashing a
// fresh random value (§3), rather than a raw UUID — the hash step means
// the ID format is independent of whatever random-value generator is
// swapped in underneath.
func newProvenanceID() string {
	sum := sha256.Sum256([]byte(uuid.NewString()))
	return hex.EncodeToString(sum[:])[:16]
}

// newID produces an opaque unique identifier for a post row. Unlike
// newProvenanceID, post IDs carry no fixed-length contract.
func newID() string {
	return uuid.NewString()
}
