package store

import (
	"database/sql"
	"time"
)

// Message is a single conversation turn. Content is immutable once written.
type Message struct {
	ID              int64
	ChannelID       string
	GuildID         string // empty when the message was sent outside a guild
	UserID          string
	PersonaName     string // set only for assistant turns
	Content         string
	IsAssistant     bool
	Emotion         string // set only for assistant turns
	ParentMessageID int64  // links an assistant turn to the user turn that produced it
	Timestamp       time.Time
}

// AppendMessage durably inserts one message and returns its id.
// Degraded stores drop the write and return id 0.
func (s *Store) AppendMessage(m Message) (int64, error) {
	if s.db == nil {
		s.log.Warn("database unavailable, dropping message write")
		return 0, nil
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`INSERT INTO messages (channel_id, guild_id, user_id, persona_name, content, is_assistant, emotion, parent_message_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChannelID, nullable(m.GuildID), m.UserID, nullable(m.PersonaName),
		m.Content, m.IsAssistant, nullable(m.Emotion), nullableID(m.ParentMessageID),
		ts.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentMessages returns up to limit messages for a channel, newest first.
// Degraded stores return an empty slice.
func (s *Store) RecentMessages(channelID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT id, channel_id, guild_id, user_id, persona_name, content, is_assistant, emotion, parent_message_id, timestamp
		 FROM messages
		 WHERE channel_id = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var results []Message
	for rows.Next() {
		var (
			m        Message
			guildID  sql.NullString
			persona  sql.NullString
			emotion  sql.NullString
			parentID sql.NullInt64
			ts       string
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &guildID, &m.UserID, &persona,
			&m.Content, &m.IsAssistant, &emotion, &parentID, &ts); err != nil {
			return nil, err
		}
		m.GuildID = guildID.String
		m.PersonaName = persona.String
		m.Emotion = emotion.String
		m.ParentMessageID = parentID.Int64
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.Timestamp = t
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// ClearOlderThan removes messages older than age and returns the count.
// Retention is an operator command, not part of the exchange pipeline.
func (s *Store) ClearOlderThan(age time.Duration) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
