package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"codraft/internal/document/model"
	"codraft/internal/errs"
	"codraft/pkg/logger"
)

// Activities is append-only storage for the audit trail. Entries are
// never updated or deleted here; removal happens only through the
// documents cascade.
type Activities interface {
	Append(entry *model.ActivityEntry) error
	List(docID string, limit int) ([]model.ActivityEntry, error)
}

type ActivityRepository struct {
	DB *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{DB: db}
}

func (r *ActivityRepository) Append(entry *model.ActivityEntry) error {
	var details []byte
	if entry.Details != nil {
		details = []byte(entry.Details)
	}
	err := r.DB.QueryRow(`INSERT INTO activity (id, document_id, actor_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING seq, created_at`,
		entry.ID, entry.DocumentID, entry.ActorID, string(entry.Action), details,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to append activity for doc %s: %v", entry.DocumentID, err)
		return fmt.Errorf("append activity: %w: %v", errs.ErrTransient, err)
	}
	return nil
}

// List returns the newest entries first; ties on created_at fall back
// to insertion order.
func (r *ActivityRepository) List(docID string, limit int) ([]model.ActivityEntry, error) {
	rows, err := r.DB.Query(`SELECT id, seq, document_id, actor_id, action, details, created_at
		FROM activity WHERE document_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`, docID, limit)
	if err != nil {
		logger.Sugar.Errorf("Failed to list activity for doc %s: %v", docID, err)
		return nil, fmt.Errorf("list activity: %w: %v", errs.ErrTransient, err)
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		var e model.ActivityEntry
		var action string
		var details []byte
		if err := rows.Scan(&e.ID, &e.Seq, &e.DocumentID, &e.ActorID, &action, &details, &e.CreatedAt); err != nil {
			continue
		}
		e.Action = model.Action(action)
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
