package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one link of the hash chain.
type Entry struct {
	ID          string
	ConsentID   string
	EventType   string
	PayloadHash string
	PrevHash    string
	Hash        string
	RecordedAt  time.Time
}

// MemoryLedger is an append-only, hash-chained, in-process ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{now: time.Now}
}

// Append adds an entry chained to the previous one.
func (l *MemoryLedger) Append(ctx context.Context, consentID, eventType string, payload map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(consentID) == "" || strings.TrimSpace(eventType) == "" {
		return "", &RejectedError{Reason: "consent id and event type required"}
	}
	payloadHash, err := PayloadHash(payload)
	if err != nil {
		return "", &RejectedError{Reason: err.Error()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := genesisHash
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}
	entry := Entry{
		ID:          uuid.NewString(),
		ConsentID:   consentID,
		EventType:   eventType,
		PayloadHash: payloadHash,
		PrevHash:    prev,
		RecordedAt:  l.now().UTC(),
	}
	entry.Hash = chainHash(entry)
	l.entries = append(l.entries, entry)
	return entry.ID, nil
}

// Entries returns the chain links recorded for consentID in append order.
func (l *MemoryLedger) Entries(consentID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []Entry{}
	for _, e := range l.entries {
		if e.ConsentID == consentID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total number of entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify walks the chain and reports the first broken link.
func (l *MemoryLedger) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := genesisHash
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("ledger entry %d: prev hash mismatch", i)
		}
		if chainHash(e) != e.Hash {
			return fmt.Errorf("ledger entry %d: hash mismatch", i)
		}
		prev = e.Hash
	}
	return nil
}

func chainHash(e Entry) string {
	var b strings.Builder
	b.WriteString(e.PrevHash)
	b.WriteString("\n")
	b.WriteString(e.ID)
	b.WriteString("\n")
	b.WriteString(e.ConsentID)
	b.WriteString("\n")
	b.WriteString(e.EventType)
	b.WriteString("\n")
	b.WriteString(e.PayloadHash)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
