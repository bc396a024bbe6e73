package store

import "database/sql"

// AltTextRecord caches one image description keyed by message id.
type AltTextRecord struct {
	MessageID     string
	ChannelID     string
	AltText       string
	AttachmentURL string
}

// PutAltText stores alt text for a message. At most one record exists per
// message id; a second write for the same id is ignored.
func (s *Store) PutAltText(rec AltTextRecord) error {
	if s.db == nil {
		s.log.Warn("database unavailable, dropping alt text write")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO image_alt_text (message_id, channel_id, alt_text, attachment_url)
		 VALUES (?, ?, ?, ?)`,
		rec.MessageID, rec.ChannelID, rec.AltText, rec.AttachmentURL,
	)
	return err
}

// AltText returns the cached description for a message, if any.
func (s *Store) AltText(messageID string) (string, bool) {
	if s.db == nil {
		return "", false
	}

	var text string
	err := s.db.QueryRow(
		`SELECT alt_text FROM image_alt_text WHERE message_id = ?`, messageID,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).Error("failed to get alt text")
		return "", false
	}
	return text, true
}

// AltTextForAttachment returns the cached description for an attachment URL,
// if any message has one stored.
func (s *Store) AltTextForAttachment(url string) (string, bool) {
	if s.db == nil {
		return "", false
	}

	var text string
	err := s.db.QueryRow(
		`SELECT alt_text FROM image_alt_text WHERE attachment_url = ? LIMIT 1`, url,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		s.log.WithError(err).Error("failed to get alt text by attachment")
		return "", false
	}
	return text, true
}

// UnprocessedImages returns recent messages referencing images that have no
// cached alt text yet.
func (s *Store) UnprocessedImages(channelID string, limit int) ([]Message, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT m.id, m.channel_id, m.content
		 FROM messages m
		 LEFT JOIN image_alt_text i ON CAST(m.id AS TEXT) = i.message_id
		 WHERE m.channel_id = ?
		   AND m.content LIKE '%https://%'
		   AND i.message_id IS NULL
		 ORDER BY m.timestamp DESC
		 LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Content); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
