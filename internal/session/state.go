// Package session implements the client-side document synchronization
// core: the edit session state machine, the auto-save debouncer, and
// the change-feed subscriber that together reconcile local edits,
// remote notifications, and persisted state into one consistent view.
package session

import (
	"encoding/json"
	"time"

	"codraft/internal/document/model"
)

// State is the edit session lifecycle position.
type State int

const (
	// StateClean: local content equals the last persisted content and
	// no save is pending.
	StateClean State = iota
	// StateDirty: a local edit has not been saved yet.
	StateDirty
	// StateSaving: a save is in flight; new edits keep being accepted.
	StateSaving
	// StateConflict: a save came back stale; an explicit Resolve is
	// required before further saves.
	StateConflict
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Store is the authoritative persistence surface the session drives.
// Save is compare-and-swap keyed on expectedUpdatedAt and returns the
// new timestamp so the session can advance its baseline.
type Store interface {
	Load(docID string) (*model.Document, error)
	Save(docID string, changes model.SaveChanges, expectedUpdatedAt time.Time) (time.Time, error)
	Delete(docID string) error
}

// Feed delivers remote change notifications in FIFO order.
// Unsubscribe must be idempotent.
type Feed interface {
	Events() <-chan model.ChangeEvent
	Unsubscribe()
}

// Snapshot is the read-only view handed to the presentation layer on
// every state change.
type Snapshot struct {
	State           State
	Title           string
	Content         json.RawMessage
	Dirty           bool
	Saving          bool
	LastSavedAt     time.Time
	BaselineAt      time.Time
	RemoteDeleted   bool
	SaveExhausted   bool // bounded transient retries used up; "changes not yet saved"
	PendingRemote   bool
	PendingRemoteAt time.Time
}
