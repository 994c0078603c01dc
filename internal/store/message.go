package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/smsd/internal/state"
)

const messageCols = `id, conversation_id, type, data, mime_type, timestamp, read, seen, sender_label, sim_identifier`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.Type, &m.Data, &m.MimeType,
		&m.Timestamp, &m.Read, &m.Seen, &m.SenderLabel, &m.SimIdentifier)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertMessage persists a message row and returns its id.
func (db *DB) InsertMessage(m *Message) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO messages (conversation_id, type, data, mime_type, timestamp, read, seen, sender_label, sim_identifier)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Type, m.Data, m.MimeType, m.Timestamp, m.Read, m.Seen, m.SenderLabel, m.SimIdentifier)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

// GetMessage returns a single message by id, or nil if missing.
func (db *DB) GetMessage(id int64) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageCols+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// RecentMessages returns the most recently persisted messages system-wide,
// newest first. The dedup guard scans these across all conversations:
// re-deliveries can arrive with differently formatted sender addresses.
func (db *DB) RecentMessages(limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// RecentSending returns up to limit messages still in SENDING state,
// newest window first but ordered oldest-to-newest within it, so a
// fallback scan resolves the first match deterministically.
func (db *DB) RecentSending(limit int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM (
			SELECT `+messageCols+` FROM messages
			WHERE type = ? ORDER BY timestamp DESC LIMIT ?
		) ORDER BY timestamp ASC`, state.Sending, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// FindOutboundByBody returns the newest SENT or SENDING message with the
// exact body, optionally scoped to a conversation (conversationID > 0).
// Used to match delivery reports to their message.
func (db *DB) FindOutboundByBody(conversationID int64, body string) (*Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages WHERE data = ? AND type IN (?, ?)`
	args := []any{body, state.Sent, state.Sending}
	if conversationID > 0 {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY timestamp DESC LIMIT 1`

	m, err := scanMessage(db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// RecentOutbound returns the most recent SENT or SENDING messages,
// newest first, optionally scoped to a conversation (conversationID > 0).
// Delivery-report matching scans these when byte-exact lookup misses.
func (db *DB) RecentOutbound(conversationID int64, limit int) ([]Message, error) {
	query := `SELECT ` + messageCols + ` FROM messages WHERE type IN (?, ?)`
	args := []any{state.Sent, state.Sending}
	if conversationID > 0 {
		query += ` AND conversation_id = ?`
		args = append(args, conversationID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UpdateMessageType advances a message to a new lifecycle state.
func (db *DB) UpdateMessageType(id int64, t state.Type) error {
	_, err := db.Exec(`UPDATE messages SET type = ? WHERE id = ?`, t, id)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by timestamp.
func (db *DB) ListMessages(conversationID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageCols+` FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// MarkMessagesRead flags all messages in a conversation as read and seen.
func (db *DB) MarkMessagesRead(conversationID int64) error {
	_, err := db.Exec(`UPDATE messages SET read = 1, seen = 1 WHERE conversation_id = ?`, conversationID)
	return err
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
