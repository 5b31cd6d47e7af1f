package service

import (
	"time"

	"codraft/internal/document/model"
)

// SessionStore binds the document service to a single acting user so an
// edit session can drive it without carrying identity on every call.
// It satisfies the session package's Store interface.
type SessionStore struct {
	Service *DocumentService
	UserID  string
}

func (s *SessionStore) Load(docID string) (*model.Document, error) {
	return s.Service.LoadDocument(docID, s.UserID)
}

func (s *SessionStore) Save(docID string, changes model.SaveChanges, expectedUpdatedAt time.Time) (time.Time, error) {
	return s.Service.SaveDocument(docID, s.UserID, changes, expectedUpdatedAt)
}

func (s *SessionStore) Delete(docID string) error {
	return s.Service.DeleteDocument(docID, s.UserID)
}
