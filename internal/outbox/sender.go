package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/matheus3301/smsd/internal/bus"
	"github.com/matheus3301/smsd/internal/config"
	"github.com/matheus3301/smsd/internal/index"
	"github.com/matheus3301/smsd/internal/state"
	"github.com/matheus3301/smsd/internal/store"
	"github.com/matheus3301/smsd/internal/transport"
	"go.uber.org/zap"
)

// Sender drains the persistent outbox: a polling loop picks up queued
// entries and hands them to the transport. Persisting sends before
// attempting them means a crash mid-send leaves a queued entry, not a
// lost message.
type Sender struct {
	db        *store.DB
	transport transport.Sender
	bus       *bus.Bus
	idx       *index.Index
	cfg       *config.Config
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewSender creates an outbox sender.
func NewSender(db *store.DB, t transport.Sender, b *bus.Bus, idx *index.Index, cfg *config.Config, logger *zap.Logger) *Sender {
	return &Sender{
		db:        db,
		transport: t,
		bus:       b,
		idx:       idx,
		cfg:       cfg,
		logger:    logger,
	}
}

// Queue persists an outbound message and its outbox entry, patches the
// conversation row and the index, and returns the generated client
// message id. The poll loop picks the entry up on its next tick.
func (s *Sender) Queue(conversationID int64, body, simIdentifier string) (string, error) {
	conv, err := s.db.GetConversation(conversationID)
	if err != nil {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}
	if conv == nil {
		return "", fmt.Errorf("conversation %d not found", conversationID)
	}

	clientMsgID := uuid.NewString()
	if _, err := s.db.QueueSend(clientMsgID, conversationID, body, "text/plain", simIdentifier); err != nil {
		return "", fmt.Errorf("queue send: %w", err)
	}

	now := time.Now().UnixMilli()
	snippet := truncate(body, s.cfg.Ingest.SnippetLength)
	if _, err := s.db.TouchConversation(conversationID, now, snippet, "text/plain", true); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}
	s.idx.Insert(index.Entry{ID: conversationID, Pinned: conv.Pinned, Timestamp: now})

	s.bus.Publish(bus.KindConversationListChanged, bus.ConversationListChanged{
		ConversationID: conversationID,
		Snippet:        snippet,
		Read:           true,
		Title:          conv.Title,
	})
	s.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: conversationID,
		NewMessageText: body,
		MessageType:    string(state.Sending),
	})
	return clientMsgID, nil
}

// Resend requeues a failed entry after the user asked for another try,
// moving its message back to SENDING. Only failed entries qualify: a
// resend of an already-sent entry must not drag its message out of a
// terminal state.
func (s *Sender) Resend(clientMsgID string) error {
	entry, err := s.db.GetOutboxEntry(clientMsgID)
	if err != nil {
		return fmt.Errorf("lookup outbox entry: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("outbox entry %s not found", clientMsgID)
	}
	if entry.Status != "failed" {
		return fmt.Errorf("outbox entry %s is %s, only failed sends can be resent", clientMsgID, entry.Status)
	}

	msg, err := s.db.GetMessage(entry.MessageID)
	if err != nil {
		return fmt.Errorf("lookup message: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("message %d not found", entry.MessageID)
	}
	next, err := state.Transition(msg.Type, state.Sending)
	if err != nil {
		return err
	}
	if err := s.db.UpdateMessageType(entry.MessageID, next); err != nil {
		return fmt.Errorf("restore sending state: %w", err)
	}
	if err := s.db.RequeueOutbox(clientMsgID); err != nil {
		return fmt.Errorf("requeue: %w", err)
	}
	s.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: entry.ConversationID,
		MessageType:    string(state.Sending),
	})
	return nil
}

// Start launches the polling loop.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(s.cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.processPending(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the polling loop. An in-flight send attempt completes.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// processPending drains the queue once, oldest entry first.
func (s *Sender) processPending(ctx context.Context) {
	entries, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("outbox poll failed", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		s.attempt(ctx, entry)
	}
}

func (s *Sender) attempt(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("outbox mark sending failed", zap.Error(err))
		return
	}
	attempts := entry.Attempts + 1

	conv, err := s.db.GetConversation(entry.ConversationID)
	if err != nil || conv == nil {
		s.fail(entry, attempts, "conversation missing")
		return
	}

	code, err := s.transport.Send(ctx, splitAddresses(conv.PhoneNumbers), entry.Body)
	if err == nil && !code.Failed() {
		s.succeed(entry)
		return
	}

	reason := code.String()
	if err != nil {
		reason = err.Error()
	}
	s.fail(entry, attempts, reason)
}

func (s *Sender) succeed(entry store.OutboxEntry) {
	next, err := state.Transition(state.Sending, state.Sent)
	if err != nil {
		s.logger.Error("send state transition failed", zap.Error(err))
		return
	}
	if err := s.db.UpdateMessageType(entry.MessageID, next); err != nil {
		s.logger.Error("persist sent state failed", zap.Error(err))
		return
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Error("outbox mark sent failed", zap.Error(err))
		return
	}
	s.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: entry.ConversationID,
		MessageType:    string(state.Sent),
	})
}

// fail records the error and either requeues for an automatic retry or
// parks the entry as failed and asks for a resend notification.
func (s *Sender) fail(entry store.OutboxEntry, attempts int, reason string) {
	if err := s.db.MarkOutboxFailed(entry.ClientMsgID, reason); err != nil {
		s.logger.Error("outbox mark failed failed", zap.Error(err))
		return
	}

	if s.cfg.Send.AutoRetry && attempts < s.cfg.Send.MaxAttempts {
		if err := s.db.RequeueOutbox(entry.ClientMsgID); err != nil {
			s.logger.Error("outbox requeue failed", zap.Error(err))
		}
		s.logger.Warn("send failed, requeued",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.Int("attempts", attempts),
			zap.String("reason", reason))
		return
	}

	next, err := state.Transition(state.Sending, state.Error)
	if err == nil {
		if uerr := s.db.UpdateMessageType(entry.MessageID, next); uerr != nil {
			s.logger.Error("persist error state failed", zap.Error(uerr))
		}
	}

	s.logger.Warn("send failed permanently",
		zap.String("client_msg_id", entry.ClientMsgID),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))

	s.bus.Publish(bus.KindMessageListChanged, bus.MessageListChanged{
		ConversationID: entry.ConversationID,
		MessageType:    string(state.Error),
	})
	s.bus.Publish(bus.KindNotificationRequested, bus.NotificationRequested{
		ConversationID: entry.ConversationID,
		Resend:         true,
		ClientMsgID:    entry.ClientMsgID,
	})
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

func splitAddresses(joined string) []string {
	parts := strings.Split(joined, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
