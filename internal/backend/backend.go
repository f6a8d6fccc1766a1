// Package backend implements the companion chat endpoint: it accepts a single JSON message and streams the
// reply of a language model back as plain text chunks.
package backend

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
)

// LLM represents a large language model that replies to a single message. It returns an iterator that yields
// response chunks and potential errors.
type LLM interface {
	Chat(ctx context.Context, message string) iter.Seq2[string, error]
}

// Handler serves POST /chat.
type Handler struct {
	llm LLM

	logger *slog.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

const (
	errLoggerKey = "err"

	maxRequestBytes = 1 << 20
)

// NewHandler creates a Handler answering with llm.
func NewHandler(llm LLM, logger *slog.Logger) Handler {
	return Handler{
		llm:    llm,
		logger: logger.With(slog.String("module", "backend")),
	}
}

// HandleChat reads {"message": "..."} and streams the reply as text/plain, flushing after every chunk.
//
// A request that is not a POST gets 405, an undecodable or empty message 400. When the model fails before
// producing anything the handler answers 502. A failure after the first chunk can only end the stream early,
// since the status line has already been sent.
func (h Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		h.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		h.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	next, stop := iter.Pull2(h.llm.Chat(r.Context(), req.Message))
	defer stop()

	chunk, err, ok := next()
	if ok && err != nil {
		h.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Upstream model failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	// Flushing right away commits a chunked body, so an empty reply is still a readable stream.
	if flusher != nil {
		flusher.Flush()
	}

	written := 0
	for ok {
		if err != nil {
			h.logger.Error("Reply interrupted",
				slog.Int("written", written),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			h.logger.Debug("Client went away", slog.String(errLoggerKey, err.Error()))
			return
		}
		written += len(chunk)
		if flusher != nil {
			flusher.Flush()
		}
		chunk, err, ok = next()
	}

	h.logger.Debug("Reply sent", slog.Int("bytes", written))
}
