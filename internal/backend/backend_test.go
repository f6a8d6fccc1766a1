package backend_test

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/stream-chat-ui/internal/backend"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	responses []string
	err       error

	gotMessage *string
}

func newHandler(llm backend.LLM) backend.Handler {
	return backend.NewHandler(llm, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleChat(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		llm        mockLLM
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Invalid body",
			method:     http.MethodPost,
			body:       "not json",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			body:       `{"message": "  "}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Streamed reply",
			method:     http.MethodPost,
			body:       `{"message": "hi"}`,
			llm:        mockLLM{responses: []string{"Hel", "lo, ", "world"}},
			wantStatus: http.StatusOK,
			wantBody:   "Hello, world",
		},
		{
			name:       "Model fails before replying",
			method:     http.MethodPost,
			body:       `{"message": "hi"}`,
			llm:        mockLLM{err: errors.New("down")},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "Model fails mid reply",
			method:     http.MethodPost,
			body:       `{"message": "hi"}`,
			llm:        mockLLM{responses: []string{"par"}, err: errors.New("down")},
			wantStatus: http.StatusOK,
			wantBody:   "par",
		},
		{
			name:       "Preflight",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			newHandler(tt.llm).HandleChat(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				require.Equal(t, tt.wantBody, w.Body.String())
				require.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
			}
			require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestHandleChatForwardsMessage(t *testing.T) {
	var got string
	h := newHandler(mockLLM{responses: []string{"ok"}, gotMessage: &got})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "what time is it?"}`))
	w := httptest.NewRecorder()
	h.HandleChat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "what time is it?", got)
}

func TestHandleChatEmptyReplyIsReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(newHandler(mockLLM{}).HandleChat))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/chat", "application/json", strings.NewReader(`{"message": "hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEqual(t, http.NoBody, resp.Body)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func (m mockLLM) Chat(_ context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.gotMessage != nil {
			*m.gotMessage = message
		}
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield("", m.err)
		}
	}
}
