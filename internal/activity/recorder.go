// Package activity provides the best-effort audit recorder. Recording
// annotates primary operations; it must never fail or roll them back.
package activity

import (
	"encoding/json"

	"codraft/internal/document/model"
	"codraft/internal/document/repository"
	"codraft/pkg/logger"

	"github.com/google/uuid"
)

type Recorder struct {
	store repository.Activities
}

func NewRecorder(store repository.Activities) *Recorder {
	return &Recorder{store: store}
}

// Record appends one audit entry. Failures are logged and swallowed;
// callers never see them.
func (r *Recorder) Record(docID, actorID string, action model.Action, details any) {
	entry := &model.ActivityEntry{
		ID:         uuid.New().String(),
		DocumentID: docID,
		ActorID:    actorID,
		Action:     action,
	}
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			logger.Sugar.Errorf("Failed to marshal activity details for doc %s: %v", docID, err)
		} else {
			entry.Details = payload
		}
	}
	if err := r.store.Append(entry); err != nil {
		logger.Sugar.Warnf("Dropped activity entry %s/%s for doc %s: %v", actorID, action, docID, err)
	}
}

func (r *Recorder) List(docID string, limit int) ([]model.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.store.List(docID, limit)
}
