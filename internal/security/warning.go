// Package security enforces the per-user warning/lockout policy: a user
// whose warning counter reaches MaxWarning (three strikes of detected
// theft) is locked out of further ingest attempts.
package security

import (
	"encoding/json"
	"fmt"
)

// MaxWarning mirrors store.MaxWarning; a user at this bound is locked out.
const MaxWarning = 3

// WarningStore is the persistence surface this package needs. store.Store
// satisfies it directly.
type WarningStore interface {
	IsLockedOut(userID string) (bool, error)
	IncrementWarning(userID string) (int, error)
}

// LockoutError is returned when a locked-out user attempts to ingest.
// It carries structured data an HTTP handler can serialize as a 403 body.
type LockoutError struct {
	UserID string `json:"user_id"`
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("user %s is locked out after %d warnings", e.UserID, MaxWarning)
}

// ToJSON serializes the lockout error to a JSON response body.
func (e *LockoutError) ToJSON() []byte {
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "quota_exhausted",
			"message": e.Error(),
			"user_id": e.UserID,
		},
	}
	b, _ := json.Marshal(body)
	return b
}

// Gate enforces the warning/lockout policy ahead of an ingest attempt and
// records new warnings as theft is detected during one.
type Gate struct {
	store WarningStore
}

// NewGate wraps a WarningStore with warning/lockout enforcement.
func NewGate(store WarningStore) *Gate {
	return &Gate{store: store}
}

// CheckLockedOut returns a *LockoutError if userID has already exhausted
// its warning budget (§7 QuotaExhausted); nil otherwise.
func (g *Gate) CheckLockedOut(userID string) (*LockoutError, error) {
	locked, err := g.store.IsLockedOut(userID)
	if err != nil {
		return nil, fmt.Errorf("security: checking lockout: %w", err)
	}
	if locked {
		return &LockoutError{UserID: userID}, nil
	}
	return nil, nil
}

// Warn increments userID's warning counter (clamped at MaxWarning by the
// store) and returns how many chances remain, for the "you have only N
// chances remaining" reject detail.
func (g *Gate) Warn(userID string) (remaining int, err error) {
	warning, err := g.store.IncrementWarning(userID)
	if err != nil {
		return 0, fmt.Errorf("security: recording warning: %w", err)
	}
	remaining = MaxWarning - warning
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
