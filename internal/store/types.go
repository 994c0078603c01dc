package store

import "github.com/matheus3301/smsd/internal/state"

// Conversation is a message thread with one or more external participants.
// IDMatcher is the normalized lookup key for one-on-one conversations; it
// is blank for groups, which are matched on PhoneNumbers or Title instead.
type Conversation struct {
	ID              int64
	IDMatcher       string
	PhoneNumbers    string // canonically ordered, comma-joined participant list
	Title           string
	Pinned          bool
	Read            bool
	Mute            bool
	Archived        bool
	Private         bool
	Timestamp       int64 // last-activity time, millis
	Snippet         string
	SnippetMimeType string
}

// Group reports whether the conversation has more than one participant.
func (c *Conversation) Group() bool {
	return c.IDMatcher == ""
}

// Message is a single ingested or composed message row.
type Message struct {
	ID             int64
	ConversationID int64
	Type           state.Type
	Data           string // body text or attachment URI
	MimeType       string
	Timestamp      int64
	Read           bool
	Seen           bool
	SenderLabel    string // set only inside group conversations
	SimIdentifier  string // originating line, empty when unknown
}

// OutboxEntry is a locally composed send waiting to be handed to the
// transport. MessageID references the SENDING message row the compose
// flow persisted.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID int64
	MessageID      int64
	Body           string
	Status         string // queued, sending, sent, failed
	Attempts       int
	ErrorMessage   string
}
