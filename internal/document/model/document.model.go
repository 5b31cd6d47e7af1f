package model

import (
	"bytes"
	"encoding/json"
	"time"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type Permission string

const (
	PermissionView Permission = "view"
	PermissionEdit Permission = "edit"
)

// Document is the authoritative row. Content is an opaque rich-text
// payload; the sync core only ever compares and serializes it.
// UpdatedAt is monotonically non-decreasing and is the sole arbiter
// of "most recent" for conflict detection.
type Document struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content"`
	OwnerID    string          `json:"owner_id"`
	Visibility Visibility      `json:"visibility"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Collaborator struct {
	DocumentID string     `json:"document_id"`
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
}

type Action string

const (
	ActionCreated           Action = "created"
	ActionEdited            Action = "edited"
	ActionRenamed           Action = "renamed"
	ActionShared            Action = "shared"
	ActionDeleted           Action = "deleted"
	ActionCollaboratorAdded Action = "collaborator_added"
)

// ActivityEntry is append-only: written once, never mutated. Seq is
// assigned by the store and breaks ordering ties between entries that
// share a timestamp.
type ActivityEntry struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	DocumentID string          `json:"document_id"`
	ActorID    string          `json:"actor_id"`
	Action     Action          `json:"action"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type RenameDetails struct {
	OldTitle string `json:"old_title"`
	NewTitle string `json:"new_title"`
}

type ShareDetails struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
}

// SaveChanges carries the mutable fields of a save. Nil pointers /
// nil content mean "leave unchanged".
type SaveChanges struct {
	Title      *string         `json:"title,omitempty" validate:"omitempty,min=1"`
	Content    json.RawMessage `json:"content,omitempty"`
	Visibility *Visibility     `json:"visibility,omitempty" validate:"omitempty,oneof=private public"`
}

// Change feed wire format: one event per mutated row.
const (
	EntityDocument     = "documents"
	EntityCollaborator = "collaborators"

	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

type ChangeEvent struct {
	Entity     string          `json:"entity"`
	EventType  string          `json:"event_type"`
	DocumentID string          `json:"document_id"`
	Payload    json.RawMessage `json:"payload"`
}

// ContentEqual reports whether two opaque content payloads are the
// same bytes. The core never looks inside the payload.
func ContentEqual(a, b json.RawMessage) bool {
	return bytes.Equal(a, b)
}
