package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/smsd/internal/address"
	"github.com/matheus3301/smsd/internal/bus"
	"github.com/matheus3301/smsd/internal/config"
	"github.com/matheus3301/smsd/internal/dedup"
	"github.com/matheus3301/smsd/internal/index"
	"github.com/matheus3301/smsd/internal/state"
	"github.com/matheus3301/smsd/internal/store"
	"github.com/matheus3301/smsd/internal/transport"
	"go.uber.org/zap"
)

// Engine orchestrates ingestion of one inbound or outbound event:
// resolve the conversation, discard duplicates, persist, advance the
// message lifecycle, patch the sectioned index and signal collaborators.
// It subscribes to "transport." events on the bus and processes each on
// its own goroutine; per-conversation locks keep same-conversation events
// ordered while unrelated conversations proceed concurrently.
type Engine struct {
	db       *store.DB
	bus      *bus.Bus
	resolver *address.Resolver
	guard    *dedup.Guard
	idx      *index.Index
	cfg      *config.Config
	logger   *zap.Logger
	locks    *convLocks
	cancel   context.CancelFunc
}

// NewEngine creates an ingestion engine.
func NewEngine(db *store.DB, b *bus.Bus, resolver *address.Resolver, guard *dedup.Guard, idx *index.Index, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		bus:      b,
		resolver: resolver,
		guard:    guard,
		idx:      idx,
		cfg:      cfg,
		logger:   logger,
		locks:    newConvLocks(),
	}
}

// Index exposes the sectioned projection for the list renderer.
func (e *Engine) Index() *index.Index {
	return e.idx
}

// Start subscribes to transport events on the bus. Each event is handled
// on its own goroutine: transport callbacks arrive asynchronously and
// fragments of concurrent conversations must not serialize behind each
// other.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("transport.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				go e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine. In-flight ingestions run to completion; the
// pipeline is fire-and-forget with no cancellation of started work.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindInboundMessage:
		msg, ok := evt.Payload.(*transport.InboundMessage)
		if !ok {
			return
		}
		result, err := e.IngestInbound(msg)
		if err != nil {
			e.logger.Error("inbound ingestion failed", zap.Error(err))
			return
		}
		e.logger.Info("inbound event processed", zap.String("result", result.String()))
	case bus.KindDeliveryReport:
		rep, ok := evt.Payload.(*transport.DeliveryReport)
		if !ok {
			return
		}
		if err := e.HandleDeliveryReport(rep); err != nil {
			e.logger.Error("delivery report failed", zap.Error(err))
		}
	}
}

// IngestInbound runs the inbound sequence: resolve, dedup, persist,
// touch conversation, patch index, signal collaborators. A storage
// failure fails the ingestion; the transport is expected to redeliver.
func (e *Engine) IngestInbound(msg *transport.InboundMessage) (Result, error) {
	if len(msg.Addresses) == 0 {
		return Failed, fmt.Errorf("inbound event without addresses")
	}

	conv, created, err := e.resolver.Resolve(msg.Addresses, e.cfg.OwnNumbers, msg.GroupTitle)
	if err != nil {
		return Failed, fmt.Errorf("resolve conversation: %w", err)
	}

	unlock := e.locks.acquire(conv.ID)
	defer unlock()

	candidate := &store.Message{
		ConversationID: conv.ID,
		Type:           state.Received,
		Data:           msg.Body,
		MimeType:       msg.MimeType,
		Timestamp:      msg.Timestamp,
		SimIdentifier:  msg.SimIdentifier,
	}
	if conv.Group() {
		candidate.SenderLabel = senderLabel(msg)
	}

	dup, err := e.guard.IsDuplicate(candidate)
	if err != nil {
		return Failed, fmt.Errorf("dedup scan: %w", err)
	}
	if dup {
		e.logger.Info("duplicate inbound discarded",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("timestamp", candidate.Timestamp))
		return DuplicateDiscarded, nil
	}

	if _, err := e.db.InsertMessage(candidate); err != nil {
		return Failed, fmt.Errorf("persist message: %w", err)
	}

	snippet := truncate(msg.Body, e.cfg.Ingest.SnippetLength)
	touched, err := e.db.TouchConversation(conv.ID, candidate.Timestamp, snippet, msg.MimeType, false)
	if err != nil {
		return Failed, fmt.Errorf("touch conversation: %w", err)
	}

	// The CAS losing means a newer message already owns the conversation
	// row; the projection and the list signal must not regress to this
	// event's older timestamp and snippet. Private conversations never
	// enter the projection at all.
	if touched && !conv.Private {
		e.idx.Insert(index.Entry{ID: conv.ID, Pinned: conv.Pinned, Timestamp: candidate.Timestamp})
		e.bus.Publish(bus.KindConversationListChanged, bus.ConversationListChanged{
			ConversationID: conv.ID,
			Snippet:        snippet,
			Read:           false,
			Title:          conv.Title,
		})
	}
	e.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: conv.ID,
		NewMessageText: msg.Body,
		MessageType:    string(state.Received),
	})
	if !conv.Mute {
		e.bus.Publish(bus.KindNotificationRequested, bus.NotificationRequested{ConversationID: conv.ID})
	}
	if msg.MimeType != "text/plain" {
		e.bus.Publish(bus.KindAttachmentParse, bus.AttachmentParseRequested{
			ConversationID: conv.ID,
			Body:           msg.Body,
		})
	}

	if created {
		return ConversationCreated, nil
	}
	return Ingested, nil
}

// HandleDeliveryReport matches a delivery confirmation to its message and
// advances it to DELIVERED. Matching tries the exact body within the
// report's conversation context, then trimmed, then an accent-stripped
// comparison over recent outbound messages; failing all of those, a
// bounded scan over the oldest recent SENDING messages resolves the
// first one, so no message stays stuck in SENDING forever. An unmatched
// report is dropped and logged, never an ingestion failure.
func (e *Engine) HandleDeliveryReport(rep *transport.DeliveryReport) error {
	var convID int64
	if conv, err := e.db.FindConversationByMatcher(address.Matcher(rep.Address)); err != nil {
		return fmt.Errorf("report conversation lookup: %w", err)
	} else if conv != nil {
		convID = conv.ID
	}

	msg, err := e.db.FindOutboundByBody(convID, rep.Body)
	if err != nil {
		return fmt.Errorf("report body match: %w", err)
	}
	if msg == nil && strings.TrimSpace(rep.Body) != rep.Body {
		// Carrier signatures pad the echoed body; retry trimmed.
		msg, err = e.db.FindOutboundByBody(convID, strings.TrimSpace(rep.Body))
		if err != nil {
			return fmt.Errorf("report body match: %w", err)
		}
	}

	if msg == nil {
		// Carrier re-encoding defeats byte equality; compare accent-stripped.
		recent, err := e.db.RecentOutbound(convID, e.cfg.Send.ReportFallbackScan)
		if err != nil {
			return fmt.Errorf("report normalized match: %w", err)
		}
		want := dedup.Normalize(rep.Body)
		for i := range recent {
			if dedup.Normalize(recent[i].Data) == want {
				msg = &recent[i]
				break
			}
		}
	}

	if msg == nil {
		sending, err := e.db.RecentSending(e.cfg.Send.ReportFallbackScan)
		if err != nil {
			return fmt.Errorf("report fallback scan: %w", err)
		}
		if len(sending) > 0 {
			msg = &sending[0]
		}
	}

	if msg == nil {
		e.logger.Warn("delivery report unmatched, dropping",
			zap.String("address", rep.Address))
		return nil
	}

	unlock := e.locks.acquire(msg.ConversationID)
	defer unlock()

	if err := e.markDelivered(msg); err != nil {
		return err
	}
	e.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: msg.ConversationID,
		MessageType:    string(state.Delivered),
	})
	return nil
}

// markDelivered walks the message through the legal edges to DELIVERED.
// A message still in SENDING passes through SENT first.
func (e *Engine) markDelivered(msg *store.Message) error {
	cur := msg.Type
	if cur == state.Sending {
		next, err := state.Transition(cur, state.Sent)
		if err != nil {
			return err
		}
		cur = next
	}
	next, err := state.Transition(cur, state.Delivered)
	if err != nil {
		return fmt.Errorf("deliver message %d: %w", msg.ID, err)
	}
	if err := e.db.UpdateMessageType(msg.ID, next); err != nil {
		return fmt.Errorf("persist delivered state: %w", err)
	}
	return nil
}

// RebuildIndex replaces the in-memory projection from the store. Run at
// startup and after any bulk mutation outside the pipeline, e.g. a full
// resync.
func (e *Engine) RebuildIndex() error {
	convs, err := e.db.ListConversations()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	entries := make([]index.Entry, 0, len(convs))
	for _, c := range convs {
		entries = append(entries, index.Entry{ID: c.ID, Pinned: c.Pinned, Timestamp: c.Timestamp})
	}
	e.idx.Rebuild(entries)
	e.logger.Info("index rebuilt", zap.Int("conversations", len(entries)))
	return nil
}

// DeleteConversation removes a conversation and its messages, patches the
// index and signals collaborators.
func (e *Engine) DeleteConversation(id int64) error {
	unlock := e.locks.acquire(id)
	defer unlock()

	if err := e.db.DeleteConversation(id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	e.idx.RemoveConversation(id, index.ReasonDelete)
	e.bus.Publish(bus.KindNotificationDismiss, bus.NotificationDismissRequested{ConversationID: id})
	e.bus.Publish(bus.KindConversationListChanged, bus.ConversationListChanged{ConversationID: id})
	return nil
}

// MarkBucketRead persists the read flag for every conversation in a
// bucket and returns the affected ids.
func (e *Engine) MarkBucketRead(kind index.Kind) ([]int64, error) {
	ids := e.idx.MarkBucketRead(kind)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := e.db.MarkConversationsRead(ids); err != nil {
		return nil, fmt.Errorf("mark bucket read: %w", err)
	}
	for _, id := range ids {
		e.bus.Publish(bus.KindNotificationDismiss, bus.NotificationDismissRequested{ConversationID: id})
	}
	return ids, nil
}

func senderLabel(msg *transport.InboundMessage) string {
	if msg.SenderLabel != "" {
		return msg.SenderLabel
	}
	if len(msg.Addresses) > 0 {
		return msg.Addresses[0]
	}
	return ""
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
