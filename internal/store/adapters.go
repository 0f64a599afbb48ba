package store

import (
	"errors"

	"github.com/deepmark/deepmark/internal/ingest"
)

// UserAdapter adapts Store to ingest.Users.
type UserAdapter struct{ store *Store }

// NewUserAdapter creates a new UserAdapter wrapping the given Store.
func NewUserAdapter(s *Store) *UserAdapter { return &UserAdapter{store: s} }

func (a *UserAdapter) ByID(userID string) (*ingest.UserRecord, bool, error) {
	u, err := a.store.GetUser(userID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ingest.UserRecord{
		UserID:      u.UserID,
		Username:    u.Username,
		SecurityKey: u.SecurityKey,
		Warning:     u.Warning,
	}, true, nil
}

func (a *UserAdapter) IncrementWarning(userID string) (int, error) {
	return a.store.IncrementWarning(userID)
}

// PostAdapter adapts Store to ingest.Posts.
type PostAdapter struct{ store *Store }

// NewPostAdapter creates a new PostAdapter wrapping the given Store.
func NewPostAdapter(s *Store) *PostAdapter { return &PostAdapter{store: s} }

func (a *PostAdapter) Create(p *ingest.PostRecord) error {
	return a.store.CreatePost(&Post{
		ID:        p.ID,
		UserID:    p.UserID,
		MediaURL:  p.MediaURL,
		MediaType: MediaType(p.MediaType),
	})
}

func (a *PostAdapter) Get(id string) (*ingest.PostRecord, bool, error) {
	p, err := a.store.GetPost(id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ingest.PostRecord{
		ID:        p.ID,
		UserID:    p.UserID,
		MediaURL:  p.MediaURL,
		MediaType: string(p.MediaType),
	}, true, nil
}

func (a *PostAdapter) Delete(id string) error {
	return a.store.DeletePost(id)
}

// ProvenanceAdapter adapts Store to ingest.Provenance.
type ProvenanceAdapter struct{ store *Store }

// NewProvenanceAdapter creates a new ProvenanceAdapter wrapping the given Store.
func NewProvenanceAdapter(s *Store) *ProvenanceAdapter { return &ProvenanceAdapter{store: s} }

func (a *ProvenanceAdapter) ByID(id string) (*ingest.ProvenanceRecord, bool, error) {
	r, err := a.store.GetProvenanceByID(id)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ingest.ProvenanceRecord{ProvenanceID: r.ProvenanceID, PostID: r.PostID, ContentHash: r.ContentHash}, true, nil
}

func (a *ProvenanceAdapter) ByContentHash(hash string) (*ingest.ProvenanceRecord, bool, error) {
	r, err := a.store.GetProvenanceByContentHash(hash)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ingest.ProvenanceRecord{ProvenanceID: r.ProvenanceID, PostID: r.PostID, ContentHash: r.ContentHash}, true, nil
}

func (a *ProvenanceAdapter) Create(r *ingest.ProvenanceRecord) error {
	err := a.store.CreateProvenanceRecord(&ProvenanceRecord{
		ProvenanceID: r.ProvenanceID,
		PostID:       r.PostID,
		ContentHash:  r.ContentHash,
	})
	if errors.Is(err, ErrContentHashExists) {
		return ingest.ErrContentHashExists
	}
	return err
}

func (a *ProvenanceAdapter) Delete(id string) error {
	return a.store.DeleteProvenanceRecord(id)
}

// ActivityAdapter adapts Store to ingest.Activities.
type ActivityAdapter struct{ store *Store }

// NewActivityAdapter creates a new ActivityAdapter wrapping the given Store.
func NewActivityAdapter(s *Store) *ActivityAdapter { return &ActivityAdapter{store: s} }

func (a *ActivityAdapter) RecordTheft(receiverUserID, senderUserID, mediaType, postID, postURL string) error {
	receiver, err := a.store.GetUser(receiverUserID)
	if err != nil {
		return err
	}
	sender, err := a.store.GetUser(senderUserID)
	if err != nil {
		return err
	}
	return a.store.CreateTheftActivity(&Activity{
		ReceiverName:               receiver.Username,
		SenderName:                 sender.Username,
		MediaType:                  mediaType,
		DetectedPostID:             postID,
		DetectedPostURL:            postURL,
		DetectedUserProfilePicture: sender.ProfilePicture,
	})
}
