package activity

import (
	"errors"
	"testing"

	"codraft/internal/document/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	entries []*model.ActivityEntry
	err     error
}

func (s *flakyStore) Append(entry *model.ActivityEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *flakyStore) List(docID string, limit int) ([]model.ActivityEntry, error) {
	var out []model.ActivityEntry
	for _, e := range s.entries {
		if e.DocumentID == docID && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func TestRecordAppendsEntry(t *testing.T) {
	store := &flakyStore{}
	r := NewRecorder(store)

	r.Record("doc-1", "user-1", model.ActionRenamed, model.RenameDetails{OldTitle: "Draft", NewTitle: "Report"})

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "doc-1", e.DocumentID)
	assert.Equal(t, "user-1", e.ActorID)
	assert.Equal(t, model.ActionRenamed, e.Action)
	assert.JSONEq(t, `{"old_title":"Draft","new_title":"Report"}`, string(e.Details))
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &flakyStore{err: errors.New("disk on fire")}
	r := NewRecorder(store)

	// Must not panic or surface anything: recording is best-effort.
	r.Record("doc-1", "user-1", model.ActionEdited, nil)
	assert.Empty(t, store.entries)
}

func TestListClampsLimit(t *testing.T) {
	store := &flakyStore{}
	r := NewRecorder(store)
	for i := 0; i < 60; i++ {
		r.Record("doc-1", "user-1", model.ActionEdited, nil)
	}

	entries, err := r.List("doc-1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 50)
}
