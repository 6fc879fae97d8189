package imports

import (
	"context"
	"time"
)

// MessageDescriptor identifies one message discovered during enumeration.
// Only identity and ordering metadata is carried; bodies are fetched later,
// per item, by the processing pipeline.
type MessageDescriptor struct {
	ExternalID string
	ThreadID   string
	ReceivedAt time.Time
}

// MessagePage is one page of inbox enumeration results. NextCursor is opaque
// to callers; an empty cursor means the listing is exhausted.
type MessagePage struct {
	Messages   []MessageDescriptor
	NextCursor string
}

// Message is a fully fetched message ready for pipeline processing.
type Message struct {
	ExternalID string
	ThreadID   string
	From       string
	To         []string
	Subject    string
	ReceivedAt time.Time
	Raw        []byte
}

// Provider is the mail backend the orchestrator enumerates and fetches from.
//
// ListInbox pages forward through the recent mailbox window using an opaque
// cursor. SearchBefore walks strictly backward in time, returning messages
// received before the given instant, newest first; callers use the oldest
// returned timestamp as the next cursor. Both are required to be safe to call
// repeatedly with the same arguments.
type Provider interface {
	ListInbox(ctx context.Context, mailbox string, cursor string, limit int) (*MessagePage, error)
	SearchBefore(ctx context.Context, mailbox string, before time.Time, limit int) ([]MessageDescriptor, error)
	FetchMessage(ctx context.Context, externalID string) (*Message, error)
}
