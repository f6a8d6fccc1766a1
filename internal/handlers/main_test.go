package handlers_test

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/stream-chat-ui/internal/handlers"
	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/session"
	"github.com/stretchr/testify/require"
)

type mockEndpoint struct {
	responses []string
	gate      chan struct{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, ep session.Endpoint) (*handlers.Main, *session.Session) {
	t.Helper()
	sess := session.New(ep, discardLogger())
	main, err := handlers.NewMain(sess, sess.Transcript(), sess.Loading(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
	})
	return main, sess
}

func postForm(message string) *http.Request {
	form := url.Values{"message": {message}}
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNewMain(t *testing.T) {
	sess := session.New(mockEndpoint{}, discardLogger())
	main, err := handlers.NewMain(sess, sess.Transcript(), sess.Loading(), discardLogger())
	require.NoError(t, err)

	require.NoError(t, main.Shutdown(context.Background()))
}

func TestHandleHome(t *testing.T) {
	main, sess := newMain(t, mockEndpoint{responses: []string{"**bold** reply"}})
	require.NoError(t, sess.SendMessage(context.Background(), "<b>raw</b>"))

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Home page",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody: []string{
				"AI Chat Assistant",
				models.GreetingText,
				"&lt;b&gt;raw&lt;/b&gt;",
				"<strong>bold</strong> reply",
			},
		},
		{
			name:       "Unknown path",
			url:        "/nope",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			for _, want := range tt.wantBody {
				require.Contains(t, w.Body.String(), want)
			}
		})
	}
}

func TestHandleHomeWhileLoading(t *testing.T) {
	gate := make(chan struct{})
	main, sess := newMain(t, mockEndpoint{responses: []string{"late"}, gate: gate})

	done := make(chan error, 1)
	go func() {
		done <- sess.SendMessage(context.Background(), "hi")
	}()
	require.Eventually(t, sess.Loading().Value, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sess.Transcript().Len() == 3 }, time.Second, time.Millisecond)

	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `class="spinner"`)
	require.Contains(t, w.Body.String(), "disabled")

	close(gate)
	require.NoError(t, <-done)
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Whitespace message",
			method:     http.MethodPost,
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "New message",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, sess := newMain(t, mockEndpoint{responses: []string{"AI ", "response"}})

			req := postForm(tt.message)
			req.Method = tt.method
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusAccepted {
				require.Equal(t, 1, sess.Transcript().Len())
				return
			}

			require.Eventually(t, func() bool {
				snap := sess.Transcript().Snapshot()
				return len(snap) == 3 && snap[2].Text == "AI response" && !sess.Loading().Value()
			}, time.Second, time.Millisecond)
			require.Equal(t, tt.message, sess.Transcript().Snapshot()[1].Text)
		})
	}
}

func TestHandleChatsBusy(t *testing.T) {
	gate := make(chan struct{})
	main, sess := newMain(t, mockEndpoint{responses: []string{"slow"}, gate: gate})

	w := httptest.NewRecorder()
	main.HandleChats(w, postForm("first"))
	require.Equal(t, http.StatusAccepted, w.Code)
	// The session is claimed before the 202 is written.
	require.True(t, sess.Busy())

	w = httptest.NewRecorder()
	main.HandleChats(w, postForm("second"))
	require.Equal(t, http.StatusConflict, w.Code)

	close(gate)
	require.Eventually(t, func() bool { return !sess.Busy() }, time.Second, time.Millisecond)
	require.Equal(t, 3, sess.Transcript().Len())
}

func TestHandleChatsConcurrentSubmits(t *testing.T) {
	gate := make(chan struct{})
	main, sess := newMain(t, mockEndpoint{responses: []string{"slow"}, gate: gate})

	const submits = 8
	codes := make(chan int, submits)
	var wg sync.WaitGroup
	for i := range submits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			main.HandleChats(w, postForm(fmt.Sprintf("message %d", i)))
			codes <- w.Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	require.Equal(t, map[int]int{http.StatusAccepted: 1, http.StatusConflict: submits - 1}, counts)

	close(gate)
	require.Eventually(t, func() bool { return !sess.Busy() }, time.Second, time.Millisecond)
	require.Equal(t, 3, sess.Transcript().Len())
}

func TestHandleClear(t *testing.T) {
	main, sess := newMain(t, mockEndpoint{responses: []string{"reply"}})
	require.NoError(t, sess.SendMessage(context.Background(), "hi"))

	w := httptest.NewRecorder()
	main.HandleClear(w, httptest.NewRequest(http.MethodGet, "/clear", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	require.Equal(t, 3, sess.Transcript().Len())

	w = httptest.NewRecorder()
	main.HandleClear(w, httptest.NewRequest(http.MethodPost, "/clear", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	snap := sess.Transcript().Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, models.GreetingText, snap[0].Text)
}

func (m mockEndpoint) Chat(ctx context.Context, _ string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if m.gate != nil {
			select {
			case <-m.gate:
			case <-ctx.Done():
				return
			}
		}
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
	}
}
