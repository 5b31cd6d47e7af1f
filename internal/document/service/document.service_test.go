package service

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"codraft/internal/activity"
	"codraft/internal/document/model"
	"codraft/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockDocRepo struct {
	docs      map[string]*model.Document
	collabs   map[string]map[string]model.Permission
	deleteErr error
}

func newMockDocRepo() *mockDocRepo {
	return &mockDocRepo{
		docs:    make(map[string]*model.Document),
		collabs: make(map[string]map[string]model.Permission),
	}
}

func (m *mockDocRepo) Create(doc *model.Document) error {
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *mockDocRepo) Get(docID string) (*model.Document, error) {
	if d, ok := m.docs[docID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, errs.ErrNotFound
}

func (m *mockDocRepo) Save(docID string, changes model.SaveChanges, expected time.Time) (time.Time, error) {
	d, ok := m.docs[docID]
	if !ok {
		return time.Time{}, errs.ErrNotFound
	}
	if !expected.Equal(d.UpdatedAt) {
		return time.Time{}, fmt.Errorf("doc %s: %w", docID, errs.ErrStaleWrite)
	}
	if changes.Title != nil {
		d.Title = *changes.Title
	}
	if changes.Content != nil {
		d.Content = changes.Content
	}
	if changes.Visibility != nil {
		d.Visibility = *changes.Visibility
	}
	d.UpdatedAt = d.UpdatedAt.Add(time.Second)
	return d.UpdatedAt, nil
}

func (m *mockDocRepo) Delete(docID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.docs[docID]; !ok {
		return errs.ErrNotFound
	}
	delete(m.docs, docID)
	return nil
}

func (m *mockDocRepo) GetCollaboratorPermission(docID, userID string) (model.Permission, error) {
	if p, ok := m.collabs[docID][userID]; ok {
		return p, nil
	}
	return "", errs.ErrNotFound
}

func (m *mockDocRepo) UpsertCollaborator(docID, userID string, permission model.Permission) error {
	if m.collabs[docID] == nil {
		m.collabs[docID] = make(map[string]model.Permission)
	}
	m.collabs[docID][userID] = permission
	return nil
}

func (m *mockDocRepo) ListCollaborators(docID string) ([]model.Collaborator, error) {
	var out []model.Collaborator
	for userID, p := range m.collabs[docID] {
		out = append(out, model.Collaborator{DocumentID: docID, UserID: userID, Permission: p})
	}
	return out, nil
}

type mockActivityStore struct {
	entries []*model.ActivityEntry
	fail    bool
}

func (m *mockActivityStore) Append(entry *model.ActivityEntry) error {
	if m.fail {
		return fmt.Errorf("activity store down: %w", errs.ErrTransient)
	}
	entry.Seq = int64(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockActivityStore) List(docID string, limit int) ([]model.ActivityEntry, error) {
	var out []model.ActivityEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].DocumentID == docID {
			out = append(out, *m.entries[i])
		}
	}
	return out, nil
}

type mockFeed struct {
	events  []model.ChangeEvent
	removed []string
}

func (m *mockFeed) Publish(ev model.ChangeEvent) { m.events = append(m.events, ev) }
func (m *mockFeed) RemoveDocument(docID string)  { m.removed = append(m.removed, docID) }

func newTestService() (*DocumentService, *mockDocRepo, *mockActivityStore, *mockFeed) {
	repo := newMockDocRepo()
	acts := &mockActivityStore{}
	feed := &mockFeed{}
	svc := NewDocumentService(repo, activity.NewRecorder(acts), feed)
	return svc, repo, acts, feed
}

func TestCreateDocumentDefaultsTitle(t *testing.T) {
	svc, _, acts, feed := newTestService()

	doc, err := svc.CreateDocument("user-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Untitled Document", doc.Title)
	assert.Equal(t, model.VisibilityPrivate, doc.Visibility)

	require.Len(t, acts.entries, 1)
	assert.Equal(t, model.ActionCreated, acts.entries[0].Action)
	require.Len(t, feed.events, 1)
	assert.Equal(t, model.EventInsert, feed.events[0].EventType)
}

func TestLoadDocumentAccessRules(t *testing.T) {
	svc, repo, _, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	// Owner reads.
	_, err = svc.LoadDocument(doc.ID, "owner")
	assert.NoError(t, err)

	// Stranger is denied, distinctly from not-found.
	_, err = svc.LoadDocument(doc.ID, "stranger")
	assert.ErrorIs(t, err, errs.ErrAccessDenied)

	_, err = svc.LoadDocument("no-such-doc", "owner")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// View collaborator reads.
	require.NoError(t, repo.UpsertCollaborator(doc.ID, "viewer", model.PermissionView))
	_, err = svc.LoadDocument(doc.ID, "viewer")
	assert.NoError(t, err)

	// Public flips reads open for everyone.
	repo.docs[doc.ID].Visibility = model.VisibilityPublic
	_, err = svc.LoadDocument(doc.ID, "stranger")
	assert.NoError(t, err)
}

func TestSaveDocumentRequiresEditPermission(t *testing.T) {
	svc, repo, _, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	changes := model.SaveChanges{Content: json.RawMessage(`{"ops":[{"insert":"x"}]}`)}

	_, err = svc.SaveDocument(doc.ID, "viewer", changes, doc.UpdatedAt)
	assert.ErrorIs(t, err, errs.ErrAccessDenied)

	require.NoError(t, repo.UpsertCollaborator(doc.ID, "viewer", model.PermissionView))
	_, err = svc.SaveDocument(doc.ID, "viewer", changes, doc.UpdatedAt)
	assert.ErrorIs(t, err, errs.ErrAccessDenied, "view permission must not allow writes")

	require.NoError(t, repo.UpsertCollaborator(doc.ID, "editor", model.PermissionEdit))
	_, err = svc.SaveDocument(doc.ID, "editor", changes, doc.UpdatedAt)
	assert.NoError(t, err)
}

func TestSaveDocumentStaleWritePropagates(t *testing.T) {
	svc, _, _, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	changes := model.SaveChanges{Content: json.RawMessage(`{"ops":[{"insert":"a"}]}`)}
	_, err = svc.SaveDocument(doc.ID, "owner", changes, doc.UpdatedAt)
	require.NoError(t, err)

	// Second save with the original timestamp must fail stale.
	_, err = svc.SaveDocument(doc.ID, "owner", changes, doc.UpdatedAt)
	assert.ErrorIs(t, err, errs.ErrStaleWrite)
}

func TestSaveDocumentRejectsEmptyTitle(t *testing.T) {
	svc, _, _, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	empty := "   "
	_, err = svc.SaveDocument(doc.ID, "owner", model.SaveChanges{Title: &empty}, doc.UpdatedAt)
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestRenameRecordsOldAndNewTitle(t *testing.T) {
	svc, _, acts, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Draft")
	require.NoError(t, err)

	title := "Report"
	_, err = svc.SaveDocument(doc.ID, "owner", model.SaveChanges{Title: &title}, doc.UpdatedAt)
	require.NoError(t, err)

	var renamed *model.ActivityEntry
	for _, e := range acts.entries {
		if e.Action == model.ActionRenamed {
			renamed = e
		}
	}
	require.NotNil(t, renamed, "a renamed entry must be recorded")

	var details model.RenameDetails
	require.NoError(t, json.Unmarshal(renamed.Details, &details))
	assert.Equal(t, "Draft", details.OldTitle)
	assert.Equal(t, "Report", details.NewTitle)
}

func TestSaveSucceedsWhenActivityStoreIsDown(t *testing.T) {
	svc, _, acts, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	// Activity is best-effort observability: its failure must never
	// fail the save it annotates.
	acts.fail = true
	_, err = svc.SaveDocument(doc.ID, "owner",
		model.SaveChanges{Content: json.RawMessage(`{"ops":[{"insert":"x"}]}`)}, doc.UpdatedAt)
	assert.NoError(t, err)
}

func TestDeleteDocumentOwnerOnly(t *testing.T) {
	svc, repo, _, feed := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	require.NoError(t, repo.UpsertCollaborator(doc.ID, "editor", model.PermissionEdit))
	assert.ErrorIs(t, svc.DeleteDocument(doc.ID, "editor"), errs.ErrAccessDenied)

	require.NoError(t, svc.DeleteDocument(doc.ID, "owner"))
	assert.Contains(t, feed.removed, doc.ID)

	_, err = svc.LoadDocument(doc.ID, "owner")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFailedDeleteRecordsNoActivity(t *testing.T) {
	svc, repo, acts, feed := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	repo.deleteErr = fmt.Errorf("connection reset: %w", errs.ErrTransient)
	assert.ErrorIs(t, svc.DeleteDocument(doc.ID, "owner"), errs.ErrTransient)

	// A delete that never happened must not be in the audit trail or
	// on the feed.
	for _, e := range acts.entries {
		assert.NotEqual(t, model.ActionDeleted, e.Action)
	}
	assert.Empty(t, feed.removed)
}

func TestAddCollaboratorRecordsActivity(t *testing.T) {
	svc, repo, acts, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.AddCollaborator(doc.ID, "stranger", "friend", model.PermissionEdit), errs.ErrAccessDenied)
	require.NoError(t, svc.AddCollaborator(doc.ID, "owner", "friend", model.PermissionEdit))

	// Upsert keeps one row per (doc, user) pair.
	require.NoError(t, svc.AddCollaborator(doc.ID, "owner", "friend", model.PermissionView))
	collabs, err := repo.ListCollaborators(doc.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 1)
	assert.Equal(t, model.PermissionView, collabs[0].Permission)

	var found bool
	for _, e := range acts.entries {
		if e.Action == model.ActionCollaboratorAdded {
			found = true
		}
	}
	assert.True(t, found)
}

func TestListActivityRequiresReadAccess(t *testing.T) {
	svc, _, _, _ := newTestService()
	doc, err := svc.CreateDocument("owner", "Notes")
	require.NoError(t, err)

	_, err = svc.ListActivity(doc.ID, "stranger", 10)
	assert.ErrorIs(t, err, errs.ErrAccessDenied)

	entries, err := svc.ListActivity(doc.ID, "owner", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1) // the created entry
}
