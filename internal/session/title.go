package session

import (
	"fmt"
	"strings"
	"sync"

	"codraft/internal/errs"
)

// TitleEditor is the in-place rename state machine. While editing it
// holds a scratch copy of the title, independent of the session's
// content buffer; Commit funnels through the session's save path and
// Cancel discards the scratch without saving.
type TitleEditor struct {
	session *Session

	mu      sync.Mutex
	editing bool
	scratch string
}

func NewTitleEditor(session *Session) *TitleEditor {
	return &TitleEditor{session: session}
}

// Begin enters editing with the current title as the scratch value.
// Re-entering while already editing keeps the existing scratch.
func (t *TitleEditor) Begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.editing {
		return
	}
	t.editing = true
	t.scratch = t.session.Snapshot().Title
}

func (t *TitleEditor) SetValue(v string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.editing {
		t.scratch = v
	}
}

func (t *TitleEditor) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scratch
}

func (t *TitleEditor) Editing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.editing
}

// Commit validates the scratch title and saves it through the session.
// An empty title is rejected and leaves the editor in Editing so the
// user can fix it.
func (t *TitleEditor) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.editing {
		return fmt.Errorf("%w: not editing", errs.ErrInvalid)
	}
	title := strings.TrimSpace(t.scratch)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", errs.ErrInvalid)
	}
	t.editing = false
	t.scratch = ""
	t.session.Rename(title)
	return nil
}

// Cancel discards the scratch copy without saving.
func (t *TitleEditor) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.editing = false
	t.scratch = ""
}
