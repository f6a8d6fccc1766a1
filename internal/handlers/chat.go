package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/stream-chat-ui/internal/session"
)

// HandleChats accepts a user message through the "message" form field and starts sending it. The reply is not
// part of the response: it streams into the transcript and reaches the browser over server-sent events.
//
// The handler answers 405 for methods other than POST, 400 for an empty message and 409 while another
// message is still being answered. Otherwise it answers 202 as soon as the send has been started.
func (m *Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	done, err := m.chat.StartMessage(m.ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrBusy):
		m.logger.Warn("Message rejected, a reply is still streaming")
		http.Error(w, "A reply is still streaming", http.StatusConflict)
		return
	case errors.Is(err, session.ErrEmptyMessage):
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	default:
		m.logger.Error("Failed to start send", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Failed to send message", http.StatusInternalServerError)
		return
	}

	go m.awaitSend(done)

	w.WriteHeader(http.StatusAccepted)
}

func (m *Main) awaitSend(done <-chan error) {
	err := <-done
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.logger.Debug("Send cancelled")
	default:
		// The session already stored the fallback reply, this is diagnostic only.
		m.logger.Debug("Send failed", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleClear resets the transcript to the greeting, cancelling a reply that is still streaming.
func (m *Main) HandleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.chat.Clear()

	w.WriteHeader(http.StatusNoContent)
}
