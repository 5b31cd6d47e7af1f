package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"codraft/internal/activity"
	"codraft/internal/document/model"
	"codraft/internal/document/repository"
	"codraft/internal/errs"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const defaultContent = `{"ops":[]}`

// Feed receives row-level change events for fan-out to subscribed
// clients. Implemented by socket.Hub.
type Feed interface {
	Publish(ev model.ChangeEvent)
	RemoveDocument(docID string)
}

type DocumentService struct {
	Repo     repository.Documents
	Recorder *activity.Recorder
	Feed     Feed
	validate *validator.Validate
}

func NewDocumentService(repo repository.Documents, recorder *activity.Recorder, feed Feed) *DocumentService {
	return &DocumentService{
		Repo:     repo,
		Recorder: recorder,
		Feed:     feed,
		validate: validator.New(),
	}
}

func (s *DocumentService) CreateDocument(ownerID, title string) (*model.Document, error) {
	if title == "" {
		title = "Untitled Document"
	}
	doc := &model.Document{
		ID:         uuid.New().String(),
		Title:      title,
		Content:    json.RawMessage(defaultContent),
		OwnerID:    ownerID,
		Visibility: model.VisibilityPrivate,
	}
	if err := s.Repo.Create(doc); err != nil {
		return nil, err
	}

	s.Recorder.Record(doc.ID, ownerID, model.ActionCreated, nil)
	s.publishDocument(model.EventInsert, doc)
	return doc, nil
}

// LoadDocument distinguishes "does not exist" from "exists but you may
// not read it": collaborators and public documents are readable,
// everything else is denied.
func (s *DocumentService) LoadDocument(docID, userID string) (*model.Document, error) {
	doc, err := s.Repo.Get(docID)
	if err != nil {
		return nil, err
	}
	if !s.canRead(doc, userID) {
		return nil, fmt.Errorf("document %s: %w", docID, errs.ErrAccessDenied)
	}
	return doc, nil
}

// SaveDocument performs the compare-and-swap write. It returns the new
// updated_at on success so the caller can advance its baseline, and
// ErrStaleWrite when the persisted timestamp has moved past
// expectedUpdatedAt.
func (s *DocumentService) SaveDocument(docID, userID string, changes model.SaveChanges, expectedUpdatedAt time.Time) (time.Time, error) {
	if err := s.validate.Struct(&changes); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	if changes.Title != nil && strings.TrimSpace(*changes.Title) == "" {
		return time.Time{}, fmt.Errorf("%w: title cannot be empty", errs.ErrInvalid)
	}

	doc, err := s.Repo.Get(docID)
	if err != nil {
		return time.Time{}, err
	}
	if !s.canWrite(doc, userID) {
		return time.Time{}, fmt.Errorf("document %s: %w", docID, errs.ErrAccessDenied)
	}

	newUpdatedAt, err := s.Repo.Save(docID, changes, expectedUpdatedAt)
	if err != nil {
		return time.Time{}, err
	}

	renamed := changes.Title != nil && *changes.Title != doc.Title
	if renamed {
		s.Recorder.Record(docID, userID, model.ActionRenamed, model.RenameDetails{
			OldTitle: doc.Title,
			NewTitle: *changes.Title,
		})
	}
	if changes.Content != nil && !model.ContentEqual(changes.Content, doc.Content) {
		s.Recorder.Record(docID, userID, model.ActionEdited, nil)
	}
	if changes.Visibility != nil && *changes.Visibility != doc.Visibility {
		s.Recorder.Record(docID, userID, model.ActionShared, map[string]string{"visibility": string(*changes.Visibility)})
	}

	// Publish the row as saved.
	saved := *doc
	if changes.Title != nil {
		saved.Title = *changes.Title
	}
	if changes.Content != nil {
		saved.Content = changes.Content
	}
	if changes.Visibility != nil {
		saved.Visibility = *changes.Visibility
	}
	saved.UpdatedAt = newUpdatedAt
	s.publishDocument(model.EventUpdate, &saved)

	return newUpdatedAt, nil
}

func (s *DocumentService) DeleteDocument(docID, userID string) error {
	doc, err := s.Repo.Get(docID)
	if err != nil {
		return err
	}
	if doc.OwnerID != userID {
		return fmt.Errorf("document %s: only the owner can delete: %w", docID, errs.ErrAccessDenied)
	}

	if err := s.Repo.Delete(docID); err != nil {
		return err
	}
	s.Recorder.Record(docID, userID, model.ActionDeleted, nil)

	s.Feed.Publish(model.ChangeEvent{
		Entity:     model.EntityDocument,
		EventType:  model.EventDelete,
		DocumentID: docID,
	})
	s.Feed.RemoveDocument(docID)
	return nil
}

func (s *DocumentService) AddCollaborator(docID, ownerID, targetUserID string, permission model.Permission) error {
	doc, err := s.Repo.Get(docID)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return fmt.Errorf("document %s: only the owner can share: %w", docID, errs.ErrAccessDenied)
	}
	if permission != model.PermissionView && permission != model.PermissionEdit {
		return fmt.Errorf("%w: unknown permission %q", errs.ErrInvalid, permission)
	}

	if err := s.Repo.UpsertCollaborator(docID, targetUserID, permission); err != nil {
		return err
	}

	s.Recorder.Record(docID, ownerID, model.ActionCollaboratorAdded, model.ShareDetails{
		UserID:     targetUserID,
		Permission: permission,
	})

	payload, _ := json.Marshal(model.Collaborator{DocumentID: docID, UserID: targetUserID, Permission: permission})
	s.Feed.Publish(model.ChangeEvent{
		Entity:     model.EntityCollaborator,
		EventType:  model.EventInsert,
		DocumentID: docID,
		Payload:    payload,
	})
	return nil
}

func (s *DocumentService) ListActivity(docID, userID string, limit int) ([]model.ActivityEntry, error) {
	doc, err := s.Repo.Get(docID)
	if err != nil {
		return nil, err
	}
	if !s.canRead(doc, userID) {
		return nil, fmt.Errorf("document %s: %w", docID, errs.ErrAccessDenied)
	}
	return s.Recorder.List(docID, limit)
}

func (s *DocumentService) canRead(doc *model.Document, userID string) bool {
	if doc.OwnerID == userID || doc.Visibility == model.VisibilityPublic {
		return true
	}
	_, err := s.Repo.GetCollaboratorPermission(doc.ID, userID)
	return err == nil
}

func (s *DocumentService) canWrite(doc *model.Document, userID string) bool {
	if doc.OwnerID == userID {
		return true
	}
	permission, err := s.Repo.GetCollaboratorPermission(doc.ID, userID)
	return err == nil && permission == model.PermissionEdit
}

func (s *DocumentService) publishDocument(eventType string, doc *model.Document) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return
	}
	s.Feed.Publish(model.ChangeEvent{
		Entity:     model.EntityDocument,
		EventType:  eventType,
		DocumentID: doc.ID,
		Payload:    payload,
	})
}
