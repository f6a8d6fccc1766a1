package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	streamchatui "github.com/MegaGrindStone/stream-chat-ui"
	"github.com/MegaGrindStone/stream-chat-ui/internal/models"
	"github.com/MegaGrindStone/stream-chat-ui/internal/session"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// Chat is the send pipeline the handlers forward user actions to.
type Chat interface {
	StartMessage(ctx context.Context, text string) (<-chan error, error)
	Clear()
}

// Transcript is the observable message list rendered by the handlers.
type Transcript interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
}

// Loading is the observable in-flight state rendered by the handlers.
type Loading interface {
	Value() bool
	Subscribe(fn func(bool)) func()
}

// Main is the presentation layer of the chat. It renders the chat page, forwards submits and clears to the
// Chat, and pushes every transcript snapshot and loading change to connected browsers over server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	chat       Chat
	transcript Transcript
	loading    Loading

	// ctx outlives requests: sends keep streaming after the submit request has been answered.
	ctx    context.Context
	cancel context.CancelFunc

	unsubscribe []func()

	logger *slog.Logger
}

type homePageData struct {
	Messages []messageView
	Loading  bool
}

type messageView struct {
	ID      string
	IsUser  bool
	Content template.HTML
	Time    time.Time

	Pending  bool
	Spinning bool
}

// SSE topics and event types for real-time updates.
const (
	transcriptSSETopic = "transcript"
	loadingSSETopic    = "loading"
)

var (
	transcriptSSEType = sse.Type("transcript")
	loadingSSEType    = sse.Type("loading")
)

const errLoggerKey = "err"

// NewMain creates a new Main instance wired to chat, transcript and loading. It parses the HTML templates from
// the embedded filesystem and subscribes to transcript and loading so that every change is published to the
// SSE clients.
func NewMain(chat Chat, transcript Transcript, loading Loading, logger *slog.Logger) (*Main, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(highlighting.WithStyle("github")),
		),
	)

	funcs := template.FuncMap{
		"clock": func(t time.Time) string {
			return t.Format(time.Kitchen)
		},
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(funcs).ParseFS(
		streamchatui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, transcriptSSETopic, loadingSSETopic},
				}, true
			},
		},
		templates:  tmpl,
		markdown:   md,
		chat:       chat,
		transcript: transcript,
		loading:    loading,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(slog.String("module", "handlers")),
	}

	m.unsubscribe = append(m.unsubscribe,
		transcript.Subscribe(func(snap session.Snapshot) {
			m.publishTranscript(snap, loading.Value())
		}),
		loading.Subscribe(func(v bool) {
			m.publishLoading(v)
			// The spinner of the pending message depends on the flag as well.
			m.publishTranscript(transcript.Snapshot(), v)
		}),
	)

	return m, nil
}

func (m *Main) messageViews(snap session.Snapshot, loading bool) []messageView {
	views := make([]messageView, len(snap))
	for i, msg := range snap {
		views[i] = messageView{
			ID:       msg.ID,
			IsUser:   msg.IsUser,
			Content:  m.render(msg),
			Time:     msg.Time,
			Pending:  msg.Pending(),
			Spinning: loading && !msg.IsUser && msg.Text == "",
		}
	}
	return views
}

// render turns the message text into HTML. Bot replies are Markdown, user input is shown verbatim.
func (m *Main) render(msg models.Message) template.HTML {
	if msg.IsUser || msg.Text == "" {
		return template.HTML(template.HTMLEscapeString(msg.Text))
	}

	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(msg.Text), &buf); err != nil {
		m.logger.Error("Failed to render markdown",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
		return template.HTML(template.HTMLEscapeString(msg.Text))
	}
	return template.HTML(buf.String())
}

func (m *Main) publishTranscript(snap session.Snapshot, loading bool) {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "messages", m.messageViews(snap, loading)); err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: transcriptSSEType,
	}
	msg.AppendData(sb.String())
	if err := m.sseSrv.Publish(&msg, transcriptSSETopic); err != nil {
		m.logger.Error("Failed to publish transcript", slog.String(errLoggerKey, err.Error()))
	}
}

func (m *Main) publishLoading(v bool) {
	msg := sse.Message{
		Type: loadingSSEType,
	}
	msg.AppendData(fmt.Sprintf("%t", v))
	if err := m.sseSrv.Publish(&msg, loadingSSETopic); err != nil {
		m.logger.Error("Failed to publish loading state", slog.String(errLoggerKey, err.Error()))
	}
}

// Shutdown gracefully terminates the Main instance. Sends in flight are cancelled, a close message is broadcast
// to all connected clients and the SSE server waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m *Main) Shutdown(ctx context.Context) error {
	m.cancel()
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
