package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/google/uuid"
)

// Snapshot is an immutable, ordered view of the transcript at one point in time. Receivers must not modify the
// slice, every publication hands out a fresh copy.
type Snapshot []models.Message

// Transcript is the ordered message log of one conversation. Messages are only ever appended, except for the
// single pending bot message at the tail whose text grows while a reply streams in, and the wholesale reset
// done by ReplaceAll.
//
// Every mutation publishes a new Snapshot to all current subscribers synchronously and in mutation order.
// Subscribers may read the transcript from inside their callback but must not mutate it.
type Transcript struct {
	// pubMu serializes mutation+publication so subscribers observe snapshots in mutation order.
	pubMu sync.Mutex

	mu       sync.RWMutex
	messages []models.Message
	pending  *pendingSlot

	subs   map[uint64]func(Snapshot)
	nextID uint64
}

type pendingSlot struct {
	id    string
	index int
	text  strings.Builder
}

var (
	// ErrPendingOpen is returned when an operation would place a message after the pending one, or open a
	// second pending message.
	ErrPendingOpen = errors.New("a pending message is already open")
	// ErrNoPending is returned when the addressed pending message no longer exists, typically because the
	// transcript was replaced while the reply was streaming.
	ErrNoPending = errors.New("no such pending message")
)

// NewTranscript creates a transcript holding the given messages. Pending states of the given messages are
// dropped, they are all stored as final.
func NewTranscript(messages ...models.Message) *Transcript {
	t := &Transcript{
		subs: make(map[uint64]func(Snapshot)),
	}
	t.messages = finalized(messages)
	return t
}

func finalized(messages []models.Message) []models.Message {
	msgs := slices.Clone(messages)
	for i := range msgs {
		msgs[i].State = models.StateFinal
	}
	return msgs
}

// Subscribe registers fn to receive every snapshot published after this call. The returned function removes
// the subscription.
func (t *Transcript) Subscribe(fn func(Snapshot)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Snapshot returns the current ordered content of the transcript.
func (t *Transcript) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// Len returns the number of messages, the pending one included.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Append adds a final message at the end of the transcript. It fails with ErrPendingOpen while a reply is
// streaming, since the pending message must stay last.
func (t *Transcript) Append(msg models.Message) error {
	return t.mutate(func() error {
		if t.pending != nil {
			return ErrPendingOpen
		}
		msg.State = models.StateFinal
		t.messages = append(t.messages, msg)
		return nil
	})
}

// ReplaceAll discards the whole transcript, the pending message included, and stores messages instead.
func (t *Transcript) ReplaceAll(messages []models.Message) {
	_ = t.mutate(func() error {
		t.messages = finalized(messages)
		t.pending = nil
		return nil
	})
}

// BeginPending appends an empty pending bot message stamped with now and returns the id addressing it.
func (t *Transcript) BeginPending(now time.Time) (string, error) {
	id := uuid.New().String()
	err := t.mutate(func() error {
		if t.pending != nil {
			return ErrPendingOpen
		}
		t.pending = &pendingSlot{
			id:    id,
			index: len(t.messages),
		}
		t.messages = append(t.messages, models.Message{
			ID:    id,
			Time:  now,
			State: models.StatePending,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AppendPending concatenates chunk to the text of the pending message identified by id.
func (t *Transcript) AppendPending(id, chunk string) error {
	return t.mutate(func() error {
		p, err := t.pendingLocked(id)
		if err != nil {
			return err
		}
		p.text.WriteString(chunk)
		t.messages[p.index].Text = p.text.String()
		return nil
	})
}

// FinalizePending marks the pending message identified by id as final, keeping the text it received.
func (t *Transcript) FinalizePending(id string) error {
	return t.mutate(func() error {
		p, err := t.pendingLocked(id)
		if err != nil {
			return err
		}
		t.messages[p.index].State = models.StateFinal
		t.pending = nil
		return nil
	})
}

// FailPending resolves the pending message identified by id after its reply failed. An empty pending message
// is turned into a final bot message holding fallback. A message that already received part of the reply
// keeps that text, and a separate fallback message stamped with now is appended after it. Both outcomes are
// published as a single snapshot.
func (t *Transcript) FailPending(id, fallback string, now time.Time) error {
	return t.mutate(func() error {
		p, err := t.pendingLocked(id)
		if err != nil {
			return err
		}
		msg := &t.messages[p.index]
		msg.State = models.StateFinal
		t.pending = nil

		if msg.Text == "" {
			msg.Text = fallback
			return nil
		}
		t.messages = append(t.messages, models.NewBotMessage(fallback, now))
		return nil
	})
}

func (t *Transcript) pendingLocked(id string) (*pendingSlot, error) {
	if t.pending == nil || t.pending.id != id {
		return nil, ErrNoPending
	}
	return t.pending, nil
}

func (t *Transcript) snapshotLocked() Snapshot {
	return Snapshot(slices.Clone(t.messages))
}

// mutate applies fn under the write lock and, when fn succeeds, publishes the resulting snapshot to every
// subscriber before any other mutation can happen.
func (t *Transcript) mutate(fn func() error) error {
	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.mu.Lock()
	if err := fn(); err != nil {
		t.mu.Unlock()
		return err
	}
	snap := t.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(t.subs))
	for _, id := range sortedKeys(t.subs) {
		subs = append(subs, t.subs[id])
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
