package session

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"codraft/internal/config"
	"codraft/internal/document/model"
	"codraft/internal/errs"
	"codraft/pkg/logger"

	"github.com/sethvargo/go-retry"
)

// Config tunes one edit session.
type Config struct {
	AutoSaveInterval time.Duration
	AutoSaveEnabled  bool
	SaveRetries      int           // transient-failure retries before surfacing "not yet saved"
	RetryBase        time.Duration // backoff base for those retries
}

// NewConfig maps the application's sync settings onto a session Config.
func NewConfig(sc config.SyncConfig) Config {
	return Config{
		AutoSaveInterval: sc.AutoSaveInterval,
		AutoSaveEnabled:  sc.AutoSaveEnabled,
		SaveRetries:      sc.SaveRetries,
	}
}

// Session owns one client's in-memory view of a document. All state
// lives on a single event-processing goroutine: local edits, remote
// notifications, and save results are serialized through it, so no
// two mutations ever interleave.
//
// The machine moves through Clean, Dirty, Saving and Conflict. Saves
// are compare-and-swap on the baseline's updated_at; a stale save is
// surfaced as Conflict and never retried blindly.
type Session struct {
	docID string
	store Store
	feed  Feed
	cfg   Config

	scheduler *AutoSaveScheduler

	cmds        chan func()
	saveResults chan saveResult
	closed      chan struct{}
	closeOnce   sync.Once

	// Everything below is touched only on the run goroutine.
	state              State
	baseline           *model.Document
	localTitle         string
	localContent       json.RawMessage
	lastSavedAt        time.Time
	pendingRemote      *model.Document
	pendingRemoteAt    time.Time
	remoteDeleted      bool
	dirtiedWhileSaving bool
	fireDeferred       bool
	saveAttempts       int
	saveExhausted      bool
	retryBackoff       retry.Backoff
	onChange           func(Snapshot)
}

type saveResult struct {
	changes model.SaveChanges
	newAt   time.Time
	err     error
}

// Open loads the document and starts the session loop. NotFound and
// AccessDenied from the initial load are terminal: no session is
// created and the feed subscription is released.
func Open(docID string, store Store, feed Feed, cfg Config) (*Session, error) {
	doc, err := store.Load(docID)
	if err != nil {
		feed.Unsubscribe()
		return nil, err
	}

	if cfg.SaveRetries <= 0 {
		cfg.SaveRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}

	s := &Session{
		docID:        docID,
		store:        store,
		feed:         feed,
		cfg:          cfg,
		cmds:         make(chan func()),
		saveResults:  make(chan saveResult, 1),
		closed:       make(chan struct{}),
		state:        StateClean,
		baseline:     doc,
		localTitle:   doc.Title,
		localContent: doc.Content,
	}
	s.scheduler = NewAutoSaveScheduler(cfg.AutoSaveInterval, cfg.AutoSaveEnabled, s.autosaveFired)
	go s.run()
	return s, nil
}

func (s *Session) run() {
	events := s.feed.Events()
	for {
		select {
		case <-s.closed:
			return
		case fn := <-s.cmds:
			fn()
		case res := <-s.saveResults:
			s.finishSave(res)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleRemote(ev)
		}
	}
}

// do posts work to the loop; after Close it is silently dropped.
func (s *Session) do(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.closed:
	}
}

// OnStateChange registers the presentation callback. It is invoked on
// the session goroutine, immediately once and then after every state
// transition. The callback must not call back into the session
// synchronously.
func (s *Session) OnStateChange(cb func(Snapshot)) {
	s.do(func() {
		s.onChange = cb
		s.notify()
	})
}

// ApplyLocalEdit replaces the in-memory content with the user's latest
// edit and (re)arms the auto-save debouncer. Edits keep being accepted
// while a save is in flight.
func (s *Session) ApplyLocalEdit(content json.RawMessage) {
	s.do(func() {
		s.localContent = content
		switch s.state {
		case StateSaving:
			s.dirtiedWhileSaving = true
		case StateConflict:
			// Stay in Conflict; the edit is kept for resolution.
		default:
			s.state = StateDirty
			s.scheduler.Arm()
		}
		s.notify()
	})
}

// Rename applies a title edit and saves immediately through the same
// path as content saves.
func (s *Session) Rename(title string) {
	s.do(func() {
		s.localTitle = title
		switch s.state {
		case StateSaving:
			s.dirtiedWhileSaving = true
		case StateConflict:
		default:
			s.state = StateDirty
			s.saveNowLocked()
		}
		s.notify()
	})
}

// SaveNow is the explicit user save. It cancels any pending auto-save
// timer first so a duplicate save cannot race right behind it.
func (s *Session) SaveNow() {
	s.do(func() {
		s.saveAttempts = 0
		s.saveNowLocked()
		s.notify()
	})
}

func (s *Session) saveNowLocked() {
	s.scheduler.Cancel()
	if s.state == StateDirty {
		s.beginSave()
	}
}

// Resolve leaves the Conflict state. The remote row is reloaded; if
// the local divergence was title-only the title is re-applied on the
// fresh baseline automatically. Otherwise overwrite=false keeps the
// remote content (local edits are discarded) and overwrite=true keeps
// the local content for a forced save on the new baseline.
func (s *Session) Resolve(overwrite bool) {
	s.do(func() {
		if s.state != StateConflict {
			return
		}
		go func() {
			doc, err := s.store.Load(s.docID)
			s.do(func() { s.finishResolve(doc, err, overwrite) })
		}()
	})
}

// Close tears the session down: pending timers are cancelled and the
// feed subscription released. An in-flight save is left to complete;
// its result is discarded. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.scheduler.Cancel()
		s.feed.Unsubscribe()
		close(s.closed)
	})
}

// SetAutoSave toggles the debouncer. Disabling it does not clear the
// dirty flag; a manual save remains required.
func (s *Session) SetAutoSave(enabled bool) {
	s.do(func() {
		s.scheduler.SetEnabled(enabled)
	})
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	s.do(func() { ch <- s.snapshot() })
	select {
	case snap := <-ch:
		return snap
	case <-s.closed:
		return Snapshot{}
	}
}

func (s *Session) autosaveFired() {
	s.do(func() {
		if s.state == StateSaving {
			// Defer: re-armed once the in-flight save resolves.
			s.fireDeferred = true
			return
		}
		if s.state == StateDirty {
			s.beginSave()
			s.notify()
		}
	})
}

// beginSave computes the delta against the baseline and dispatches the
// compare-and-swap write off the loop goroutine. Only callable from
// Dirty.
func (s *Session) beginSave() {
	titleChanged := s.localTitle != s.baseline.Title
	contentChanged := !model.ContentEqual(s.localContent, s.baseline.Content)
	if !titleChanged && !contentChanged {
		// The edit reverted to the baseline: nothing to write, but a
		// remote row buffered while dirty can land now.
		s.state = StateClean
		s.applyPendingRemote()
		return
	}

	changes := model.SaveChanges{}
	if titleChanged {
		t := s.localTitle
		changes.Title = &t
	}
	if contentChanged {
		changes.Content = s.localContent
	}

	expected := s.baseline.UpdatedAt
	s.state = StateSaving
	s.dirtiedWhileSaving = false

	go func() {
		newAt, err := s.store.Save(s.docID, changes, expected)
		select {
		case s.saveResults <- saveResult{changes: changes, newAt: newAt, err: err}:
		case <-s.closed:
			// Session closed mid-save: the write completed (or failed)
			// upstream, the result is simply discarded.
		}
	}()
}

func (s *Session) finishSave(res saveResult) {
	if s.state != StateSaving {
		return
	}

	switch {
	case res.err == nil:
		if res.changes.Title != nil {
			s.baseline.Title = *res.changes.Title
		}
		if res.changes.Content != nil {
			s.baseline.Content = res.changes.Content
		}
		s.baseline.UpdatedAt = res.newAt
		s.lastSavedAt = res.newAt
		s.saveAttempts = 0
		s.saveExhausted = false

		// A remote row buffered while we were dirty is obsolete once our
		// own write advanced past it.
		if s.pendingRemote != nil && !s.pendingRemoteAt.After(res.newAt) {
			s.pendingRemote = nil
			s.pendingRemoteAt = time.Time{}
		}

		if s.dirtiedWhileSaving {
			s.state = StateDirty
			s.scheduler.Arm()
		} else {
			s.state = StateClean
			s.applyPendingRemote()
		}

	case errors.Is(res.err, errs.ErrStaleWrite):
		// Never blindly retried: the same expectedUpdatedAt would fail
		// forever. Requires an explicit Resolve.
		s.state = StateConflict
		logger.Sugar.Infof("Save conflict on doc %s: %v", s.docID, res.err)

	case errors.Is(res.err, errs.ErrTransient):
		s.state = StateDirty
		s.saveAttempts++
		if s.saveAttempts <= s.cfg.SaveRetries {
			if s.retryBackoff == nil {
				s.retryBackoff = retry.WithJitterPercent(20, retry.NewFibonacci(s.cfg.RetryBase))
			}
			wait, _ := s.retryBackoff.Next()
			logger.Sugar.Warnf("Transient save failure on doc %s (attempt %d), retrying in %s: %v",
				s.docID, s.saveAttempts, wait, res.err)
			s.scheduler.RetryAfter(wait)
		} else {
			// Bounded retries used up: surface "changes not yet saved",
			// keep the dirty state, never drop the edit.
			s.saveExhausted = true
			s.retryBackoff = nil
			logger.Sugar.Errorf("Save retries exhausted on doc %s: %v", s.docID, res.err)
		}

	case errors.Is(res.err, errs.ErrNotFound):
		s.state = StateDirty
		s.remoteDeleted = true
		s.scheduler.Cancel()
		logger.Sugar.Warnf("Doc %s disappeared during save", s.docID)

	default:
		// AccessDenied or anything unclassified: keep the edit, stop
		// scheduling, tell the user.
		s.state = StateDirty
		s.saveExhausted = true
		s.scheduler.Cancel()
		logger.Sugar.Errorf("Save failed on doc %s: %v", s.docID, res.err)
	}

	if s.fireDeferred {
		s.fireDeferred = false
		if s.state == StateDirty && !s.saveExhausted {
			s.scheduler.Arm()
		}
	}
	s.notify()
}

func (s *Session) handleRemote(ev model.ChangeEvent) {
	if ev.Entity != model.EntityDocument {
		// Collaborator changes don't touch document state.
		return
	}

	if ev.EventType == model.EventDelete {
		s.remoteDeleted = true
		s.scheduler.Cancel()
		s.notify()
		return
	}

	var doc model.Document
	if err := json.Unmarshal(ev.Payload, &doc); err != nil {
		logger.Sugar.Errorf("Malformed change event for doc %s: %v", s.docID, err)
		return
	}

	// At-least-once delivery: our own save comes back as an echo, and
	// redeliveries repeat old rows. Anything not newer than the
	// baseline carries no information.
	if !doc.UpdatedAt.After(s.baseline.UpdatedAt) {
		return
	}

	if s.state == StateClean {
		// Nothing local to lose: apply immediately and advance baseline.
		s.baseline = &doc
		s.localTitle = doc.Title
		s.localContent = doc.Content
		s.notify()
		return
	}

	// Dirty, Saving or Conflict: applying the remote payload would
	// destroy unsaved local work. Buffer it for conflict detection and
	// resolution; localContent is never touched here.
	s.pendingRemote = &doc
	s.pendingRemoteAt = doc.UpdatedAt
	s.notify()
}

// applyPendingRemote promotes a buffered remote row once the session is
// Clean again.
func (s *Session) applyPendingRemote() {
	if s.pendingRemote == nil || s.state != StateClean {
		return
	}
	if s.pendingRemoteAt.After(s.baseline.UpdatedAt) {
		s.baseline = s.pendingRemote
		s.localTitle = s.pendingRemote.Title
		s.localContent = s.pendingRemote.Content
	}
	s.pendingRemote = nil
	s.pendingRemoteAt = time.Time{}
}

func (s *Session) finishResolve(doc *model.Document, err error, overwrite bool) {
	if s.state != StateConflict {
		return
	}
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.remoteDeleted = true
		} else {
			logger.Sugar.Errorf("Conflict reload failed on doc %s: %v", s.docID, err)
		}
		s.notify()
		return
	}

	titleOnly := model.ContentEqual(s.localContent, s.baseline.Content) && s.localTitle != s.baseline.Title

	s.baseline = doc
	s.pendingRemote = nil
	s.pendingRemoteAt = time.Time{}
	s.saveAttempts = 0
	s.saveExhausted = false
	s.retryBackoff = nil

	switch {
	case titleOnly:
		// A rename cannot collide with a content edit; re-apply it on
		// the fresh baseline without bothering the user.
		s.localContent = doc.Content
		s.state = StateDirty
		s.scheduler.Arm()
	case overwrite:
		// Explicit user confirmation to replace the newer remote
		// content with the local edit.
		s.state = StateDirty
		s.scheduler.Arm()
	default:
		s.localTitle = doc.Title
		s.localContent = doc.Content
		s.state = StateClean
	}
	s.notify()
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		State:           s.state,
		Title:           s.localTitle,
		Content:         s.localContent,
		Dirty:           s.state == StateDirty || s.state == StateConflict || s.dirtiedWhileSaving,
		Saving:          s.state == StateSaving,
		LastSavedAt:     s.lastSavedAt,
		BaselineAt:      s.baseline.UpdatedAt,
		RemoteDeleted:   s.remoteDeleted,
		SaveExhausted:   s.saveExhausted,
		PendingRemote:   s.pendingRemote != nil,
		PendingRemoteAt: s.pendingRemoteAt,
	}
}

func (s *Session) notify() {
	if s.onChange != nil {
		s.onChange(s.snapshot())
	}
}
