package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a single entry of a chat transcript. A message is either authored by the user or by the
// bot behind the chat endpoint, and it carries the time it was created. Bot messages may be pending while
// their text is still being streamed, every other message is final.
type Message struct {
	ID     string
	Text   string
	IsUser bool
	Time   time.Time

	State MessageState
}

// MessageState tells whether the message text may still change.
type MessageState string

const (
	// StateFinal marks a message whose text will never change again.
	StateFinal MessageState = "final"
	// StatePending marks the bot message that is currently receiving streamed chunks.
	StatePending MessageState = "pending"
)

const (
	// GreetingText is the text of the bot message every transcript starts with.
	GreetingText = "Hello! How can I help you today?"
	// FallbackText is shown to the user in place of a reply that could not be obtained.
	FallbackText = "Sorry, I encountered an error. Please try again."
)

// NewUserMessage creates a final message authored by the user.
func NewUserMessage(text string, t time.Time) Message {
	return Message{
		ID:     uuid.New().String(),
		Text:   text,
		IsUser: true,
		Time:   t,
		State:  StateFinal,
	}
}

// NewBotMessage creates a final message authored by the bot.
func NewBotMessage(text string, t time.Time) Message {
	return Message{
		ID:    uuid.New().String(),
		Text:  text,
		Time:  t,
		State: StateFinal,
	}
}

// Greeting creates a fresh seed greeting stamped with t.
func Greeting(t time.Time) Message {
	return NewBotMessage(GreetingText, t)
}

// Pending reports whether the message is still receiving text.
func (m Message) Pending() bool {
	return m.State == StatePending
}
