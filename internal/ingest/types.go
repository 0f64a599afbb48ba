// Package ingest implements the ingest decision procedure: the state
// machine that classifies an upload as a fresh accept, a self-duplicate,
// third-party theft, or a fraudulent resubmission, composing KeyVault,
// Fingerprint, Watermark, MetaStamp, and the provenance store.
package ingest

import "errors"

// UserRecord is the narrow view of a user the decider needs.
type UserRecord struct {
	UserID      string
	Username    string
	SecurityKey string // EncryptedUserKey, as stored
	Warning     int
}

// PostRecord is the narrow view of a post the decider needs.
type PostRecord struct {
	ID        string
	UserID    string
	MediaURL  string
	MediaType string
}

// ProvenanceRecord is the narrow view of a dmm row the decider needs.
type ProvenanceRecord struct {
	ProvenanceID string
	PostID       string
	ContentHash  string
}

// Users is the user-lookup/mutation surface IngestDecider consumes.
type Users interface {
	ByID(userID string) (*UserRecord, bool, error)
	IncrementWarning(userID string) (int, error)
}

// Posts is the post persistence surface IngestDecider consumes.
type Posts interface {
	Create(p *PostRecord) error
	Get(id string) (*PostRecord, bool, error)
	Delete(id string) error
}

// Provenance is the dmm-table surface IngestDecider consumes.
type Provenance interface {
	ByID(id string) (*ProvenanceRecord, bool, error)
	ByContentHash(hash string) (*ProvenanceRecord, bool, error)
	Create(r *ProvenanceRecord) error
	Delete(id string) error
}

// Activities is the theft-notification surface IngestDecider consumes.
type Activities interface {
	RecordTheft(receiverUserID, senderUserID, mediaType, postID, postURL string) error
}

// BlobStore is the upload/delete surface IngestDecider consumes (an
// external collaborator per the spec's Non-goals; IngestDecider only
// needs put/delete).
type BlobStore interface {
	Put(mediaType, filename string, data []byte) (url string, err error)
	Delete(url string) error
}

// ErrContentHashExists mirrors store.ErrContentHashExists without this
// package importing the store package's error type directly; adapters
// translate between the two.
var ErrContentHashExists = errors.New("ingest: content hash already claimed")
