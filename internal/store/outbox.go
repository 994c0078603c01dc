package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/smsd/internal/state"
)

// QueueSend persists a SENDING message row and its outbox entry in one
// transaction, so a crash never leaves a queued send without a visible
// message or the reverse.
func (db *DB) QueueSend(clientMsgID string, conversationID int64, body, mimeType, simIdentifier string) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO messages (conversation_id, type, data, mime_type, timestamp, read, seen, sim_identifier)
		VALUES (?, ?, ?, ?, ?, 1, 1, ?)`,
		conversationID, state.Sending, body, mimeType, now, simIdentifier)
	if err != nil {
		return 0, fmt.Errorf("insert sending message: %w", err)
	}
	messageID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(`
		INSERT INTO outbox (client_msg_id, conversation_id, message_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, messageID, body, now, now); err != nil {
		return 0, fmt.Errorf("queue outbox: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit queue: %w", err)
	}
	return messageID, nil
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, message_id, body, status, attempts, error_message
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.MessageID, &e.Body, &e.Status, &e.Attempts, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetOutboxEntry returns an entry by client message id, or nil if missing.
func (db *DB) GetOutboxEntry(clientMsgID string) (*OutboxEntry, error) {
	var e OutboxEntry
	err := db.QueryRow(`
		SELECT id, client_msg_id, conversation_id, message_id, body, status, attempts, error_message
		FROM outbox WHERE client_msg_id = ?`, clientMsgID).
		Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.MessageID, &e.Body, &e.Status, &e.Attempts, &e.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// MarkOutboxSending moves an entry to 'sending' and bumps the attempt
// counter.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ?
		WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent moves an entry to the terminal 'sent' status.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxFailed moves an entry to the terminal 'failed' status with the
// transport error.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueOutbox puts a failed entry back in the queue for an automatic or
// user-initiated resend.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE outbox SET status = 'queued', error_message = '', updated_at = ?
		WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	return err
}
