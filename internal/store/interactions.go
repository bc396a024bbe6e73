package store

import "encoding/json"

// RecordInteraction inserts one audit row for a settled backend call.
// Failures are logged and swallowed; a missed audit row must never fail the
// exchange that produced it.
func (s *Store) RecordInteraction(requestedAt, receivedAt int64, reqPayload, respPayload any, statusCode int, tags map[string]string) error {
	if s.db == nil {
		s.log.Warn("database unavailable, skipping interaction log")
		return nil
	}

	reqJSON, err := json.Marshal(reqPayload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal interaction request")
		return nil
	}
	respJSON, err := json.Marshal(respPayload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal interaction response")
		return nil
	}
	if tags == nil {
		tags = map[string]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal interaction tags")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO logs (requested_at, received_at, request, response, status_code, tags)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		requestedAt, receivedAt, string(reqJSON), string(respJSON), statusCode, string(tagsJSON),
	)
	if err != nil {
		s.log.WithError(err).Error("failed to record interaction")
	}
	return nil
}
