package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

var errStopped = errors.New("consumer stopped reading")

// Ollama streams replies from a model served by an Ollama instance.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host parameter
// should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}, nil
}

// Chat sends message to the model and returns an iterator over the streamed reply.
func (o Ollama) Chat(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var msgs []api.Message
		if o.systemPrompt != "" {
			msgs = append(msgs, api.Message{
				Role:    "system",
				Content: o.systemPrompt,
			})
		}
		msgs = append(msgs, api.Message{
			Role:    "user",
			Content: message,
		})

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				// The client keeps calling back for lines it already buffered unless told to stop.
				return errStopped
			}
			return nil
		}); err != nil {
			if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}
