package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Collaborators subscribe by
// namespace prefix, e.g. "conversation." or "notification.".
const (
	// Transport events: published by the transport handler, consumed by
	// the ingestion engine.
	KindInboundMessage = "transport.inbound"
	KindDeliveryReport = "transport.delivery_report"

	// Collaborator signals: consumed by UI and notification collaborators.
	KindConversationListChanged = "conversation.list_changed"
	KindMessageListChanged      = "message.list_changed"
	KindNotificationRequested   = "notification.requested"
	KindNotificationDismiss     = "notification.dismiss_requested"
	KindAttachmentParse         = "attachment.parse_requested"
)
