package session

import (
	"context"
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message represents a single chat message
type Message struct {
	ID        int64     `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Clock formats the message time for display as hours:minutes.
func (m Message) Clock() string {
	return m.Timestamp.Format("15:04")
}

// Snapshot is a point-in-time copy of a session, used for archiving.
type Snapshot struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Provider  string    `json:"provider"`
	Messages  []Message `json:"messages"`
}

// ReplyProvider produces assistant text for a user utterance.
//
// history holds the messages logged before prompt was submitted and is nil
// when the session does not share context with its provider. An empty reply
// with a nil error is treated as malformed.
type ReplyProvider interface {
	Name() string
	Reply(ctx context.Context, prompt string, history []Message) (string, error)
}

// EventKind tags what changed in a session.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventPending  EventKind = "pending"
	EventFailure  EventKind = "failure"
	EventDisposed EventKind = "disposed"
)

// Result is the outcome of an accepted submission.
type Result struct {
	Message Message // the assistant reply on success
	Err     error
}

// Event is delivered to subscribers after every session mutation.
type Event struct {
	Kind    EventKind
	Message Message // set for EventMessage
	Pending bool    // pending state after the mutation
	Err     error   // set for EventFailure
}
