package store

import (
	"fmt"
	"time"
)

// Activity is a persisted notification row. The provenance pipeline only
// ever creates the "theft detected" shape (receiver/sender/detected_post_*);
// the liked_*/followed_* columns exist for the external collaborators that
// own likes/follows (an explicit Non-goal of this module) and are carried
// here so the table matches the full external schema.
type Activity struct {
	ID                         int64
	ReceiverName               string
	SenderName                 string
	MediaType                  string
	DetectedPostID             string
	DetectedPostURL            string
	DetectedUserProfilePicture string
	CreatedAt                  string
}

// CreateTheftActivity appends a theft-detected activity: receiver is the
// original content's owner, sender is the uploader who triggered the
// detection (spec §3 Activity.theft).
func (s *Store) CreateTheftActivity(a *Activity) error {
	_, err := s.writer.Exec(`
		INSERT INTO activities (
			receiver_name, sender_name, media_type,
			detected_post_id, detected_post_url, detected_user_profile_picture,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ReceiverName, a.SenderName, a.MediaType,
		a.DetectedPostID, a.DetectedPostURL, a.DetectedUserProfilePicture,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: create theft activity: %w", err)
	}
	return nil
}
