package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"codraft/internal/document/model"
	"codraft/internal/errs"
	"codraft/pkg/logger"
)

// Documents is the persistence contract the service layer depends on.
type Documents interface {
	Create(doc *model.Document) error
	Get(docID string) (*model.Document, error)
	Save(docID string, changes model.SaveChanges, expectedUpdatedAt time.Time) (time.Time, error)
	Delete(docID string) error
	GetCollaboratorPermission(docID, userID string) (model.Permission, error)
	UpsertCollaborator(docID, userID string, permission model.Permission) error
	ListCollaborators(docID string) ([]model.Collaborator, error)
}

type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	err := r.DB.QueryRow(`INSERT INTO documents (id, title, content, owner_id, visibility, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at`,
		doc.ID, doc.Title, []byte(doc.Content), doc.OwnerID, string(doc.Visibility),
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document %s: %v", doc.ID, err)
		return fmt.Errorf("create document: %w: %v", errs.ErrTransient, err)
	}
	return nil
}

func (r *DocumentRepository) Get(docID string) (*model.Document, error) {
	var doc model.Document
	var content []byte
	var visibility string
	err := r.DB.QueryRow(`SELECT id, title, content, owner_id, visibility, created_at, updated_at
		FROM documents WHERE id = $1`, docID,
	).Scan(&doc.ID, &doc.Title, &content, &doc.OwnerID, &visibility, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to load document %s: %v", docID, err)
		return nil, fmt.Errorf("load document: %w: %v", errs.ErrTransient, err)
	}
	doc.Content = json.RawMessage(content)
	doc.Visibility = model.Visibility(visibility)
	return &doc, nil
}

// Save is a compare-and-swap update keyed on updated_at. The row is only
// touched when its stored updated_at still equals expectedUpdatedAt; an
// advanced timestamp means somebody else saved first and the caller gets
// ErrStaleWrite instead of a silent overwrite.
func (r *DocumentRepository) Save(docID string, changes model.SaveChanges, expectedUpdatedAt time.Time) (time.Time, error) {
	var title, visibility sql.NullString
	if changes.Title != nil {
		title = sql.NullString{String: *changes.Title, Valid: true}
	}
	if changes.Visibility != nil {
		visibility = sql.NullString{String: string(*changes.Visibility), Valid: true}
	}
	var content []byte
	if changes.Content != nil {
		content = []byte(changes.Content)
	}

	var newUpdatedAt time.Time
	err := r.DB.QueryRow(`UPDATE documents
		SET title = COALESCE($2, title),
		    content = COALESCE($3, content),
		    visibility = COALESCE($4, visibility),
		    updated_at = NOW()
		WHERE id = $1 AND updated_at = $5
		RETURNING updated_at`,
		docID, title, content, visibility, expectedUpdatedAt,
	).Scan(&newUpdatedAt)
	if err == nil {
		return newUpdatedAt, nil
	}
	if err != sql.ErrNoRows {
		logger.Sugar.Errorf("Failed to save document %s: %v", docID, err)
		return time.Time{}, fmt.Errorf("save document: %w: %v", errs.ErrTransient, err)
	}

	// Zero rows: either the document is gone or its timestamp moved on.
	var current time.Time
	err = r.DB.QueryRow(`SELECT updated_at FROM documents WHERE id = $1`, docID).Scan(&current)
	if err == sql.ErrNoRows {
		return time.Time{}, errs.ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("save document: %w: %v", errs.ErrTransient, err)
	}
	return time.Time{}, fmt.Errorf("document %s: persisted at %s, expected %s: %w",
		docID, current.Format(time.RFC3339Nano), expectedUpdatedAt.Format(time.RFC3339Nano), errs.ErrStaleWrite)
}

func (r *DocumentRepository) Delete(docID string) error {
	result, err := r.DB.Exec(`DELETE FROM documents WHERE id = $1`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to delete document %s: %v", docID, err)
		return fmt.Errorf("delete document: %w: %v", errs.ErrTransient, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) GetCollaboratorPermission(docID, userID string) (model.Permission, error) {
	var permission string
	err := r.DB.QueryRow(`SELECT permission FROM collaborators WHERE document_id = $1 AND user_id = $2`,
		docID, userID).Scan(&permission)
	if err == sql.ErrNoRows {
		return "", errs.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get collaborator permission: %v", err)
		return "", fmt.Errorf("collaborator permission: %w: %v", errs.ErrTransient, err)
	}
	return model.Permission(permission), nil
}

// UpsertCollaborator keeps at most one row per (document, user) pair.
func (r *DocumentRepository) UpsertCollaborator(docID, userID string, permission model.Permission) error {
	_, err := r.DB.Exec(`INSERT INTO collaborators (document_id, user_id, permission) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET permission = $3`,
		docID, userID, string(permission))
	if err != nil {
		logger.Sugar.Errorf("Failed to add collaborator %s to doc %s: %v", userID, docID, err)
		return fmt.Errorf("upsert collaborator: %w: %v", errs.ErrTransient, err)
	}
	return nil
}

func (r *DocumentRepository) ListCollaborators(docID string) ([]model.Collaborator, error) {
	rows, err := r.DB.Query(`SELECT document_id, user_id, permission FROM collaborators WHERE document_id = $1`, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list collaborators for doc %s: %v", docID, err)
		return nil, fmt.Errorf("list collaborators: %w: %v", errs.ErrTransient, err)
	}
	defer rows.Close()

	var collabs []model.Collaborator
	for rows.Next() {
		var c model.Collaborator
		var permission string
		if err := rows.Scan(&c.DocumentID, &c.UserID, &permission); err != nil {
			continue
		}
		c.Permission = model.Permission(permission)
		collabs = append(collabs, c)
	}
	return collabs, rows.Err()
}
