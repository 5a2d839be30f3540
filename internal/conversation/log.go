package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTurnNotFound = errors.New("turn not found")
	ErrTurnPending  = errors.New("another turn is still pending")
	ErrNotPending   = errors.New("turn is not pending")
)

// Log holds the ordered turn sequence for one interview screen. It is an
// in-memory transaction log: turns are kept in an id-keyed map plus an
// insertion-order slice, with a single explicit pending-id marker, so
// reconciliation never scans the list by identity.
type Log struct {
	mu        sync.Mutex
	byID      map[string]*Turn
	order     []string
	pendingID string
}

func NewLog() *Log {
	return &Log{byID: make(map[string]*Turn)}
}

// Hydrate replaces the log contents with history fetched from the backend.
// Hydrated turns are never pending.
func (l *Log) Hydrate(turns []Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byID = make(map[string]*Turn, len(turns))
	l.order = l.order[:0]
	l.pendingID = ""
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.Pending = false
		c := t
		l.byID[t.ID] = &c
		l.order = append(l.order, t.ID)
	}
}

// AppendOpening inserts the system-authored greeting as the first turn.
func (l *Log) AppendOpening(aiResponse string) Turn {
	t := Turn{
		ID:         uuid.NewString(),
		AIResponse: aiResponse,
		Kind:       KindText,
		CreatedAt:  time.Now().UTC(),
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := t
	l.byID[t.ID] = &c
	l.order = append(l.order, t.ID)
	return t
}

// AppendPending makes the optimistic insert for a dispatched user message.
// Only one turn may be pending at a time.
func (l *Log) AppendPending(userMessage string, kind Kind) (Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pendingID != "" {
		return Turn{}, ErrTurnPending
	}
	t := Turn{
		ID:          uuid.NewString(),
		UserMessage: userMessage,
		Kind:        kind,
		Pending:     true,
		CreatedAt:   time.Now().UTC(),
	}
	c := t
	l.byID[t.ID] = &c
	l.order = append(l.order, t.ID)
	l.pendingID = t.ID
	return t, nil
}

// Resolve applies the backend reply to the pending turn with the given id.
func (l *Log) Resolve(id string, remoteID int64, aiResponse string) (Turn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.byID[id]
	if !ok {
		return Turn{}, ErrTurnNotFound
	}
	if !t.Pending {
		return Turn{}, ErrNotPending
	}
	t.RemoteID = remoteID
	t.AIResponse = aiResponse
	t.Pending = false
	if l.pendingID == id {
		l.pendingID = ""
	}
	return *t, nil
}

// Rollback removes an optimistic turn entirely. No partial turn remains.
func (l *Log) Rollback(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return ErrTurnNotFound
	}
	delete(l.byID, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	if l.pendingID == id {
		l.pendingID = ""
	}
	return nil
}

// Turns returns the conversation in insertion order.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Turn, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// PendingID returns the id of the outstanding optimistic turn, if any.
func (l *Log) PendingID() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pendingID, l.pendingID != ""
}
