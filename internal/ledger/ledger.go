// Package ledger talks to the verification ledger that provides provenance for
// consent state changes.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types recorded for consents.
const (
	EventConsentCreated       = "consent.created"
	EventConsentStatusChanged = "consent.status_changed"
)

var (
	// ErrUnavailable means the ledger could not be reached, timed out, or the breaker is open.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrRejected means the ledger refused the entry and retrying will not help.
	ErrRejected = errors.New("ledger rejected entry")
)

// Appender writes one entry to the ledger and returns its id.
type Appender interface {
	Append(ctx context.Context, consentID, eventType string, payload map[string]any) (string, error)
}

// RejectedError is a permanent rejection reported by the ledger.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("ledger rejected entry (status %d): %s", e.Status, e.Reason)
	}
	return "ledger rejected entry: " + e.Reason
}

// Is lets errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// IsRejected reports whether err is a permanent ledger rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

// PayloadHash is the hex sha256 of the JSON encoding of payload.
// encoding/json sorts map keys, so equal payloads hash equally.
func PayloadHash(payload map[string]any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
