package store

import (
	"encoding/json"
	"os"
	"time"
)

// Exchange is one user turn plus the assistant reply it produced.
type Exchange struct {
	ChannelID      string
	GuildID        string
	UserID         string
	Persona        string
	UserMessage    string
	AssistantReply string
	Emotion        string
	// ParentMessageID, when set, is the id of an already-written user turn;
	// LogExchange then writes only the assistant turn against it.
	ParentMessageID int64
}

// LogExchange durably records an exchange: the user turn (unless already
// written) and the assistant turn linked to it by parent_message_id. If the
// structured store is unavailable or the write fails, the exchange is
// appended to the JSONL fallback file instead. Never returns an error to the
// caller beyond fallback-file failures.
func (s *Store) LogExchange(ex Exchange) error {
	if s.db == nil {
		s.log.Warn("database unavailable, logging exchange to fallback file")
		return s.appendFallback(ex)
	}
	if err := s.logExchangeDB(ex); err != nil {
		s.log.WithError(err).Error("failed to log exchange, using fallback file")
		return s.appendFallback(ex)
	}
	return nil
}

func (s *Store) logExchangeDB(ex Exchange) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	parentID := ex.ParentMessageID
	if parentID == 0 {
		res, err := tx.Exec(
			`INSERT INTO messages (channel_id, guild_id, user_id, content, is_assistant, emotion, timestamp)
			 VALUES (?, ?, ?, ?, 0, NULL, ?)`,
			ex.ChannelID, nullable(ex.GuildID), ex.UserID, ex.UserMessage, ts,
		)
		if err != nil {
			return err
		}
		parentID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO messages (channel_id, guild_id, user_id, persona_name, content, is_assistant, emotion, parent_message_id, timestamp)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		ex.ChannelID, nullable(ex.GuildID), ex.UserID, nullable(ex.Persona),
		ex.AssistantReply, nullable(ex.Emotion), parentID, ts,
	); err != nil {
		return err
	}

	return tx.Commit()
}

type fallbackRecord struct {
	Timestamp      string  `json:"timestamp"`
	UserID         string  `json:"user_id"`
	GuildID        *string `json:"guild_id"`
	ChannelID      *string `json:"channel_id"`
	Persona        string  `json:"persona"`
	UserMessage    string  `json:"user_message"`
	AssistantReply string  `json:"assistant_reply"`
	Emotion        *string `json:"emotion"`
}

func (s *Store) appendFallback(ex Exchange) error {
	rec := fallbackRecord{
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
		UserID:         ex.UserID,
		GuildID:        optional(ex.GuildID),
		ChannelID:      optional(ex.ChannelID),
		Persona:        ex.Persona,
		UserMessage:    ex.UserMessage,
		AssistantReply: ex.AssistantReply,
		Emotion:        optional(ex.Emotion),
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.fallbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
