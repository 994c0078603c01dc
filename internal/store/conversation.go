package store

import (
	"database/sql"
	"fmt"
	"strings"
)

const conversationCols = `id, id_matcher, phone_numbers, title, pinned, read, mute, archived, private, timestamp, snippet, snippet_mime_type`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.IDMatcher, &c.PhoneNumbers, &c.Title, &c.Pinned, &c.Read,
		&c.Mute, &c.Archived, &c.Private, &c.Timestamp, &c.Snippet, &c.SnippetMimeType)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a conversation with insert-or-fetch semantics
// on the matcher key: if another writer created a row for the same matcher
// first, the existing row is returned with created=false instead of an
// error. Group conversations (blank matcher) always insert.
func (db *DB) CreateConversation(c *Conversation) (*Conversation, bool, error) {
	res, err := db.Exec(`
		INSERT INTO conversations (id_matcher, phone_numbers, title, pinned, read, mute, archived, private, timestamp, snippet, snippet_mime_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id_matcher) WHERE id_matcher != '' DO NOTHING`,
		c.IDMatcher, c.PhoneNumbers, c.Title, c.Pinned, c.Read, c.Mute, c.Archived, c.Private,
		c.Timestamp, c.Snippet, c.SnippetMimeType)
	if err != nil {
		return nil, false, fmt.Errorf("insert conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		// Lost the create race; the winner's row is the conversation.
		existing, err := db.FindConversationByMatcher(c.IDMatcher)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("conversation conflict for matcher %q but no row found", c.IDMatcher)
		}
		return existing, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	out := *c
	out.ID = id
	return &out, true, nil
}

// GetConversation returns a single conversation by id, or nil if missing.
func (db *DB) GetConversation(id int64) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindConversationByMatcher returns the non-group conversation owning the
// given matcher key, or nil if none exists.
func (db *DB) FindConversationByMatcher(matcher string) (*Conversation, error) {
	if matcher == "" {
		return nil, nil
	}
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationCols+` FROM conversations WHERE id_matcher = ?`, matcher))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindGroupByNumbers returns the group conversation whose canonical
// participant list equals phoneNumbers, or nil if none exists.
func (db *DB) FindGroupByNumbers(phoneNumbers string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationCols+` FROM conversations
		WHERE id_matcher = '' AND phone_numbers = ?`, phoneNumbers))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// FindGroupByTitle returns the group conversation with the given title,
// or nil if none exists.
func (db *DB) FindGroupByTitle(title string) (*Conversation, error) {
	if title == "" {
		return nil, nil
	}
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationCols+` FROM conversations
		WHERE id_matcher = '' AND title = ?`, title))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// TouchConversation updates last-activity state for an ingested message.
// The timestamp predicate is a compare-and-swap: a stale event for the
// same conversation never overwrites a newer snippet. New activity also
// clears the archived flag so the conversation resurfaces in the list.
// Returns whether the update was applied.
func (db *DB) TouchConversation(id, timestamp int64, snippet, mimeType string, read bool) (bool, error) {
	res, err := db.Exec(`
		UPDATE conversations
		SET timestamp = ?, snippet = ?, snippet_mime_type = ?, read = ?, archived = 0
		WHERE id = ? AND timestamp <= ?`,
		timestamp, snippet, mimeType, read, id, timestamp)
	if err != nil {
		return false, fmt.Errorf("touch conversation: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetConversationRead updates the read flag for one conversation.
func (db *DB) SetConversationRead(id int64, read bool) error {
	_, err := db.Exec(`UPDATE conversations SET read = ? WHERE id = ?`, read, id)
	return err
}

// MarkConversationsRead sets the read flag for a batch of conversations,
// used when a whole bucket is dismissed.
func (db *DB) MarkConversationsRead(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := db.Exec(`UPDATE conversations SET read = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// ListConversations returns all non-archived, non-private conversations
// ordered by last activity descending. Used to rebuild the sectioned
// index after bulk store mutations.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT ` + conversationCols + ` FROM conversations
		WHERE archived = 0 AND private = 0
		ORDER BY pinned DESC, timestamp DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes a conversation; its messages and outbox
// entries cascade.
func (db *DB) DeleteConversation(id int64) error {
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}
