package store

import (
	"database/sql"
	"time"
)

// Summary condenses one span of channel conversation into a short text.
type Summary struct {
	ID        int64
	ChannelID string
	StartAt   time.Time
	EndAt     time.Time
	Summary   string
}

// AppendSummary durably inserts one chat summary.
// Degraded stores drop the write.
func (s *Store) AppendSummary(sum Summary) error {
	if s.db == nil {
		s.log.Warn("database unavailable, dropping summary write")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO chat_summaries (channel_id, start_timestamp, end_timestamp, summary)
		 VALUES (?, ?, ?, ?)`,
		sum.ChannelID,
		sum.StartAt.UTC().Format(time.RFC3339Nano),
		sum.EndAt.UTC().Format(time.RFC3339Nano),
		sum.Summary,
	)
	return err
}

// Summaries returns summaries for a channel ending after since, newest first.
// A zero since returns all of them. Degraded stores return an empty slice.
func (s *Store) Summaries(channelID string, since time.Time) ([]Summary, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT id, channel_id, start_timestamp, end_timestamp, summary
		 FROM chat_summaries
		 WHERE channel_id = ? AND end_timestamp > ?
		 ORDER BY end_timestamp DESC`,
		channelID, since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var (
			sum          Summary
			startAt, end string
		)
		if err := rows.Scan(&sum.ID, &sum.ChannelID, &startAt, &end, &sum.Summary); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, startAt); err == nil {
			sum.StartAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, end); err == nil {
			sum.EndAt = t
		}
		results = append(results, sum)
	}
	return results, rows.Err()
}

// LastSummaryEnd returns the end timestamp of the newest summary for a
// channel, or ok=false when the channel has none.
func (s *Store) LastSummaryEnd(channelID string) (time.Time, bool, error) {
	if s.db == nil {
		return time.Time{}, false, nil
	}

	var raw sql.NullString
	err := s.db.QueryRow(
		`SELECT MAX(end_timestamp) FROM chat_summaries WHERE channel_id = ?`, channelID,
	).Scan(&raw)
	if err != nil {
		return time.Time{}, false, err
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// MessagesSince returns a channel's messages newer than after, oldest first.
// Degraded stores return an empty slice.
func (s *Store) MessagesSince(channelID string, after time.Time) ([]Message, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(
		`SELECT id, channel_id, guild_id, user_id, persona_name, content, is_assistant, emotion, parent_message_id, timestamp
		 FROM messages
		 WHERE channel_id = ? AND timestamp > ?
		 ORDER BY timestamp ASC, id ASC`,
		channelID, after.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ClearSummaries removes a channel's summaries ending before olderThan and
// returns the count. A zero olderThan removes all of them.
func (s *Store) ClearSummaries(channelID string, olderThan time.Time) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if olderThan.IsZero() {
		res, err = s.db.Exec(`DELETE FROM chat_summaries WHERE channel_id = ?`, channelID)
	} else {
		res, err = s.db.Exec(
			`DELETE FROM chat_summaries WHERE channel_id = ? AND end_timestamp < ?`,
			channelID, olderThan.UTC().Format(time.RFC3339Nano),
		)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
