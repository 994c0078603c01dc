package bus

// Signal payloads published by the core for UI and notification
// collaborators. Message types are carried as strings so subscribers
// outside the process boundary can consume them without the lifecycle
// package.

// ConversationListChanged reports that a conversation's list row needs
// refreshing.
type ConversationListChanged struct {
	ConversationID int64
	Snippet        string
	Read           bool
	Title          string
}

// MessageListChanged reports a change inside an open conversation.
type MessageListChanged struct {
	ConversationID int64
	NewMessageText string
	MessageType    string
}

// NotificationRequested asks the notification collaborator to surface a
// conversation. Resend marks a failed outbound send that should offer a
// manual resend action.
type NotificationRequested struct {
	ConversationID int64
	Resend         bool
	ClientMsgID    string
}

// NotificationDismissRequested asks the notification collaborator to
// clear any notification for a conversation.
type NotificationDismissRequested struct {
	ConversationID int64
}

// AttachmentParseRequested asks the attachment collaborator to fetch and
// parse a non-plain-text body.
type AttachmentParseRequested struct {
	ConversationID int64
	Body           string
}
