package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MaxWarning is the upper bound on User.Warning; a user at this bound is
// locked out of further ingest attempts.
const MaxWarning = 3

// User is the persisted subset of the users table the provenance pipeline
// reads and mutates. Bio exists in the schema for the external collaborator
// (profile rendering) and is not carried here; ProfilePicture is, since a
// theft activity row records the detected uploader's profile picture
// alongside the core's SecurityKey/Warning bookkeeping.
type User struct {
	UserID         string
	Name           string
	Username       string
	Email          string
	SecurityKey    string // EncryptedUserKey: the per-user key, encrypted under the master key
	ProfilePicture string
	Warning        int
	CreatedAt      string
}

// ErrNotFound is returned when a lookup by primary or unique key matches no row.
var ErrNotFound = errors.New("store: not found")

// GetUser retrieves a user by user_id.
func (s *Store) GetUser(userID string) (*User, error) {
	return s.scanUser(s.reader.QueryRow(`
		SELECT user_id, name, username, email, security_key, profile_picture, warning, created_at
		FROM users WHERE user_id = ?`, userID))
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(username string) (*User, error) {
	return s.scanUser(s.reader.QueryRow(`
		SELECT user_id, name, username, email, security_key, profile_picture, warning, created_at
		FROM users WHERE username = ?`, username))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.UserID, &u.Name, &u.Username, &u.Email, &u.SecurityKey, &u.ProfilePicture, &u.Warning, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// UserExists reports whether any user has this username or this email,
// matching the reference's either-match semantics (see DESIGN.md, Open
// Question resolution #4).
func (s *Store) UserExists(username, email string) (bool, error) {
	var n int
	err := s.reader.QueryRow(
		`SELECT COUNT(1) FROM users WHERE username = ? OR email = ?`,
		username, email,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: user exists: %w", err)
	}
	return n > 0, nil
}

// CreateUser inserts a new user row with SecurityKey set to its
// already-encrypted per-user key (KeyVault.GenerateUserKey's output) and
// Warning at zero.
func (s *Store) CreateUser(u *User) error {
	_, err := s.writer.Exec(`
		INSERT INTO users (user_id, name, username, email, security_key, warning, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		u.UserID, u.Name, u.Username, u.Email, u.SecurityKey, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}

// IncrementWarning adds one to the user's warning counter, clamped at
// MaxWarning, and returns the counter's new value. Uses an UPDATE against
// the primary key; no upsert is needed since the row always pre-exists.
func (s *Store) IncrementWarning(userID string) (int, error) {
	_, err := s.writer.Exec(`
		UPDATE users SET warning = MIN(warning + 1, ?) WHERE user_id = ?`,
		MaxWarning, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: increment warning: %w", err)
	}
	u, err := s.GetUser(userID)
	if err != nil {
		return 0, err
	}
	return u.Warning, nil
}

// IsLockedOut reports whether the user has hit MaxWarning.
func (s *Store) IsLockedOut(userID string) (bool, error) {
	u, err := s.GetUser(userID)
	if err != nil {
		return false, err
	}
	return u.Warning >= MaxWarning, nil
}
