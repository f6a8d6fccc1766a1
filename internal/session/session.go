package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
)

// Endpoint represents the remote chat collaborator. Chat sends a single user message and returns an iterator
// over the decoded text chunks of the streamed reply. An error yielded by the iterator ends the reply.
type Endpoint interface {
	Chat(ctx context.Context, message string) iter.Seq2[string, error]
}

// Session ties a transcript and its loading flag to an endpoint. It runs the send pipeline: the user message is
// appended, a pending bot message is opened and every streamed chunk is written into it in place, until the
// reply ends or fails. At most one send runs at a time.
type Session struct {
	transcript *Transcript
	loading    *Flag
	endpoint   Endpoint

	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	sending bool
	cancel  context.CancelFunc

	// clearMu keeps Clear from interleaving with the opening steps of a send.
	clearMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

var (
	// ErrEmptyMessage is returned by SendMessage for a message that is empty or only whitespace.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned by SendMessage while another send of the same session is in flight.
	ErrBusy = errors.New("a message is already being sent")
)

const errLoggerKey = "err"

// WithClock replaces the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithHistory starts the session from a previously saved transcript instead of the seed greeting. An empty
// history is ignored.
func WithHistory(messages []models.Message) Option {
	return func(s *Session) {
		if len(messages) == 0 {
			return
		}
		s.transcript = NewTranscript(messages...)
	}
}

// New creates a session talking to endpoint. The transcript starts with the seed greeting unless WithHistory
// is given.
func New(endpoint Endpoint, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		loading:  NewFlag(),
		endpoint: endpoint,
		logger:   logger.With(slog.String("module", "session")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transcript == nil {
		s.transcript = NewTranscript(models.Greeting(s.now()))
	}
	return s
}

// Transcript returns the transcript store of the session.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// Loading returns the flag that is true while a send is in flight.
func (s *Session) Loading() *Flag {
	return s.loading
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// SendMessage sends text to the endpoint and streams the reply into the transcript. It blocks until the reply
// has ended, failed or been cancelled.
//
// An empty text fails with ErrEmptyMessage and a concurrent call fails with ErrBusy, neither touches the
// transcript or the loading flag. Failures of the endpoint never remove messages: the pending message is
// resolved with models.FallbackText and the underlying error is returned. Cancelling ctx, or calling Clear,
// stops reading the reply and keeps whatever text already arrived.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	ctx, cancel, err := s.claim(ctx, text)
	if err != nil {
		return err
	}
	return s.run(ctx, cancel, text)
}

// StartMessage claims the session for text like SendMessage does, then sends it in the background. Claim
// failures are returned directly. Otherwise the returned channel receives the result of the send once it has
// finished, by which time the session accepts the next message.
func (s *Session) StartMessage(ctx context.Context, text string) (<-chan error, error) {
	ctx, cancel, err := s.claim(ctx, text)
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	go func() {
		done <- s.run(ctx, cancel, text)
	}()
	return done, nil
}

func (s *Session) claim(ctx context.Context, text string) (context.Context, context.CancelFunc, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, ErrEmptyMessage
	}

	ctx, cancel := context.WithCancel(ctx)
	if !s.acquire(cancel) {
		cancel()
		return nil, nil, ErrBusy
	}
	return ctx, cancel, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, text string) error {
	defer cancel()
	defer s.release()

	pendingID, err := s.open(ctx, text)
	if err != nil {
		return err
	}
	defer s.loading.Set(false)
	logger := s.logger.With(slog.String("pendingID", pendingID))

	err = s.stream(ctx, pendingID, text)
	switch {
	case err == nil && ctx.Err() == nil:
		if err := s.transcript.FinalizePending(pendingID); err != nil && !errors.Is(err, ErrNoPending) {
			return fmt.Errorf("failed to finalize reply: %w", err)
		}
		logger.Debug("Reply received")
		return nil
	case ctx.Err() != nil || errors.Is(err, ErrNoPending):
		logger.Info("Send cancelled")
		if err := s.transcript.FinalizePending(pendingID); err != nil && !errors.Is(err, ErrNoPending) {
			return fmt.Errorf("failed to finalize cancelled reply: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return context.Canceled
	}

	logger.Error("Failed to receive reply", slog.String(errLoggerKey, err.Error()))
	if ferr := s.transcript.FailPending(pendingID, models.FallbackText, s.now()); ferr != nil && !errors.Is(ferr, ErrNoPending) {
		logger.Error("Failed to store fallback message", slog.String(errLoggerKey, ferr.Error()))
	}
	return fmt.Errorf("failed to receive reply: %w", err)
}

// open appends the user message, raises the loading flag and opens the pending reply. It holds clearMu so a
// Clear either happens before, and the send stops without touching the transcript, or after, and drops
// everything open added. On success the caller owns lowering the loading flag.
func (s *Session) open(ctx context.Context, text string) (string, error) {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.transcript.Append(models.NewUserMessage(text, s.now())); err != nil {
		return "", fmt.Errorf("failed to append user message: %w", err)
	}

	s.loading.Set(true)
	pendingID, err := s.transcript.BeginPending(s.now())
	if err != nil {
		s.loading.Set(false)
		return "", fmt.Errorf("failed to open pending message: %w", err)
	}
	return pendingID, nil
}

func (s *Session) stream(ctx context.Context, pendingID, text string) error {
	for chunk, err := range s.endpoint.Chat(ctx, text) {
		if err != nil {
			return err
		}
		if chunk == "" {
			continue
		}
		if err := s.transcript.AppendPending(pendingID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Clear resets the transcript to a fresh seed greeting. A send in flight is cancelled, its loading flag is
// lowered by the send itself once it has stopped.
func (s *Session) Clear() {
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	s.transcript.ReplaceAll([]models.Message{models.Greeting(s.now())})

	if cancel != nil {
		cancel()
	}
}

func (s *Session) acquire(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sending {
		return false
	}
	s.sending = true
	s.cancel = cancel
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false
	s.cancel = nil
}
