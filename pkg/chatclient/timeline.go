package chatclient

import (
	"fmt"
	"sync"
	"time"

	"qrguard/internal/models"

	"github.com/google/uuid"
)

// EntryState tags a timeline entry as the client's own optimistic copy or
// the server-committed version.
type EntryState int

const (
	// StateProvisional: appended locally on send, awaiting the canonical
	// echo from the room broadcast.
	StateProvisional EntryState = iota
	// StateConfirmed: carries the server-assigned id and timestamp.
	StateConfirmed
	// StateFailed: a provisional entry whose echo never arrived inside the
	// reconciliation window.
	StateFailed
)

type Entry struct {
	Message models.Message
	State   EntryState

	// sentAt anchors the provisional matching tolerance and the stale
	// cleanup window.
	sentAt time.Time
}

// Timeline keeps one consistent, duplicate-free, causally-ordered message
// list despite optimistic sends, replayed broadcasts and reconnects. Safe
// for concurrent use.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry

	// Dedup indexes: canonical id, and (content, timestamp) for messages
	// that arrive without one.
	byID        map[string]struct{}
	byComposite map[string]struct{}

	matchTolerance  time.Duration
	reconcileWindow time.Duration
}

const (
	// DefaultMatchTolerance bounds how far a canonical echo's timestamp may
	// sit from the local send time and still claim a provisional entry.
	DefaultMatchTolerance = 5 * time.Second

	// DefaultReconcileWindow is how long a provisional entry may wait for
	// its echo before it is flagged failed.
	DefaultReconcileWindow = 5 * time.Second
)

func NewTimeline() *Timeline {
	return &Timeline{
		byID:            make(map[string]struct{}),
		byComposite:     make(map[string]struct{}),
		matchTolerance:  DefaultMatchTolerance,
		reconcileWindow: DefaultReconcileWindow,
	}
}

// AppendProvisional records an optimistic local send: temporary id, local
// wall-clock timestamp, shown immediately.
func (t *Timeline) AppendProvisional(role models.SenderRole, content string, language models.MessageLanguage, isPredefined bool, sessionToken string, now time.Time) models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := models.Message{
		ID:           "local-" + uuid.NewString(),
		SenderRole:   role,
		Content:      content,
		Language:     language,
		IsPredefined: isPredefined,
		SessionToken: sessionToken,
		Timestamp:    now,
	}

	t.entries = append(t.entries, Entry{
		Message: msg,
		State:   StateProvisional,
		sentAt:  now,
	})

	return msg
}

// ApplyCanonical reconciles a server-committed message into the list.
// Duplicates are silently dropped; a matching provisional entry is replaced
// in place rather than appended, so the sender sees the server-confirmed
// version, not its own optimistic copy.
func (t *Timeline) ApplyCanonical(msg models.Message, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, seen := t.byID[msg.ID]; msg.ID != "" && seen {
		return false
	}
	composite := compositeKey(msg)
	if _, seen := t.byComposite[composite]; seen {
		return false
	}

	if idx, ok := t.matchProvisional(msg); ok {
		t.entries[idx] = Entry{
			Message: msg,
			State:   StateConfirmed,
			sentAt:  t.entries[idx].sentAt,
		}
		t.index(msg, composite)
		return true
	}

	t.entries = append(t.entries, Entry{
		Message: msg,
		State:   StateConfirmed,
	})
	t.index(msg, composite)
	return true
}

// matchProvisional finds the oldest unconfirmed entry with the same content
// and sender role whose send time sits within the tolerance of the
// canonical timestamp.
func (t *Timeline) matchProvisional(msg models.Message) (int, bool) {
	for i, entry := range t.entries {
		if entry.State != StateProvisional {
			continue
		}
		if entry.Message.Content != msg.Content || entry.Message.SenderRole != msg.SenderRole {
			continue
		}
		delta := msg.Timestamp.Sub(entry.sentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= t.matchTolerance {
			return i, true
		}
	}
	return 0, false
}

// PruneStale flags-and-removes provisional entries whose echo never came
// back inside the reconciliation window, and returns them so the caller can
// surface the failure. Confirmed entries are never touched.
func (t *Timeline) PruneStale(now time.Time) []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var failed []models.Message
	kept := t.entries[:0]
	for _, entry := range t.entries {
		if entry.State == StateProvisional && now.Sub(entry.sentAt) > t.reconcileWindow {
			entry.State = StateFailed
			failed = append(failed, entry.Message)
			continue
		}
		kept = append(kept, entry)
	}
	t.entries = kept

	return failed
}

// Reset replaces local state wholesale with the authoritative snapshot.
// This is the only path that corrects divergence after a missed broadcast
// window; it never merges.
func (t *Timeline) Reset(messages []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make([]Entry, 0, len(messages))
	t.byID = make(map[string]struct{})
	t.byComposite = make(map[string]struct{})

	for _, msg := range messages {
		t.entries = append(t.entries, Entry{
			Message: msg,
			State:   StateConfirmed,
		})
		t.index(msg, compositeKey(msg))
	}
}

// Messages returns the visible list in order.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.Message, len(t.entries))
	for i, entry := range t.entries {
		out[i] = entry.Message
	}
	return out
}

// Len reports the number of visible entries.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Timeline) index(msg models.Message, composite string) {
	if msg.ID != "" {
		t.byID[msg.ID] = struct{}{}
	}
	t.byComposite[composite] = struct{}{}
}

func compositeKey(msg models.Message) string {
	return fmt.Sprintf("%s|%d", msg.Content, msg.Timestamp.UnixMilli())
}
