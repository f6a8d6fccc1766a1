package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// ChatEndpoint is the HTTP client of the remote chat collaborator. It posts a single message to <baseURL>/chat
// and reads the reply body as a stream of UTF-8 text chunks.
type ChatEndpoint struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

// ErrorKind categorizes endpoint failures.
type ErrorKind int

const (
	// ErrKindTransport covers requests that could not be sent and responses outside the 2xx range.
	ErrKindTransport ErrorKind = iota
	// ErrKindStreamUnavailable covers 2xx responses without a readable body.
	ErrKindStreamUnavailable
	// ErrKindDecode covers chunks that are not valid UTF-8.
	ErrKindDecode
)

// EndpointError is the error yielded by ChatEndpoint.Chat.
type EndpointError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Sentinels for errors.Is, matched by kind.
var (
	ErrTransport         = &EndpointError{Kind: ErrKindTransport, Message: "transport error"}
	ErrStreamUnavailable = &EndpointError{Kind: ErrKindStreamUnavailable, Message: "response has no readable body"}
	ErrDecode            = &EndpointError{Kind: ErrKindDecode, Message: "response is not valid utf-8"}
)

// DefaultEndpointURL is the base URL used when none is configured.
const DefaultEndpointURL = "http://localhost:3000"

const readBufferSize = 4096

func (e *EndpointError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *EndpointError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *EndpointError of the same kind.
func (e *EndpointError) Is(target error) bool {
	var t *EndpointError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewChatEndpoint creates a client for the endpoint at baseURL. An empty baseURL falls back to
// DefaultEndpointURL, a nil client to a plain http.Client without timeout, since replies stream for as long as
// the remote side keeps writing.
func NewChatEndpoint(baseURL string, client *http.Client, logger *slog.Logger) ChatEndpoint {
	if baseURL == "" {
		baseURL = DefaultEndpointURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return ChatEndpoint{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger.With(slog.String("module", "endpoint")),
	}
}

// Chat posts message and returns an iterator over the decoded chunks of the reply. Each read of the response
// body yields at most one chunk, a multi-byte character split across reads is held back until it is complete.
// The iterator yields a single *EndpointError and stops on failure. A cancelled ctx ends the iteration silently.
func (c ChatEndpoint) Chat(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := c.doRequest(ctx, message)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", err)
			return
		}
		defer resp.Body.Close()

		rd := transform.NewReader(resp.Body, encoding.UTF8Validator)
		buf := make([]byte, readBufferSize)
		for {
			n, err := rd.Read(buf)
			if n > 0 && !yield(string(buf[:n]), nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, encoding.ErrInvalidUTF8) {
				yield("", &EndpointError{Kind: ErrKindDecode, Message: "error decoding response", Cause: err})
				return
			}
			yield("", &EndpointError{Kind: ErrKindTransport, Message: "error reading response", Cause: err})
			return
		}
	}
}

func (c ChatEndpoint) doRequest(ctx context.Context, message string) (*http.Response, error) {
	jsonBody, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return nil, &EndpointError{Kind: ErrKindTransport, Message: "error marshaling request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, &EndpointError{Kind: ErrKindTransport, Message: "error creating request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending message", slog.String("url", req.URL.String()))

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &EndpointError{Kind: ErrKindTransport, Message: "error sending request", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &EndpointError{
			Kind:    ErrKindTransport,
			Message: fmt.Sprintf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)),
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrStreamUnavailable
	}
	return resp, nil
}
