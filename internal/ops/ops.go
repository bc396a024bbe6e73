// Package ops exposes the operational HTTP surface: health, read-only
// history views over the message log, and retention commands.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/splintertree/splintertree/internal/store"
)

const defaultHistoryLimit = 50

// defaultSummaryLookback bounds the summaries view when no hours parameter
// is given.
const defaultSummaryLookback = 24 * time.Hour

// Summarizer triggers summary creation for a channel on demand.
type Summarizer interface {
	CheckAndSummarize(ctx context.Context, channelID string) (bool, error)
}

// NewRouter wires the ops routes over the log store and summarizer.
func NewRouter(st *store.Store, summarizer Summarizer, logger *logrus.Logger) http.Handler {
	log := logger.WithField("component", "ops")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"store_degraded": st.Degraded(),
		})
	})

	r.Post("/api/channels/{channelID}/summarize", func(w http.ResponseWriter, req *http.Request) {
		if summarizer == nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "summarizer unavailable"})
			return
		}
		channelID := chi.URLParam(req, "channelID")
		created, err := summarizer.CheckAndSummarize(req.Context(), channelID)
		if err != nil {
			log.WithError(err).Error("forced summary failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "summary failed"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"created": created})
	})

	r.Get("/api/channels/{channelID}/summaries", func(w http.ResponseWriter, req *http.Request) {
		channelID := chi.URLParam(req, "channelID")
		lookback := defaultSummaryLookback
		if v := req.URL.Query().Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid hours"})
				return
			}
			lookback = time.Duration(n) * time.Hour
		}

		summaries, err := st.Summaries(channelID, time.Now().UTC().Add(-lookback))
		if err != nil {
			log.WithError(err).Error("summaries query failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "summaries unavailable"})
			return
		}

		views := make([]summaryView, 0, len(summaries))
		for _, sum := range summaries {
			views = append(views, summaryView{
				ID:      sum.ID,
				StartAt: sum.StartAt.Format(time.RFC3339Nano),
				EndAt:   sum.EndAt.Format(time.RFC3339Nano),
				Summary: sum.Summary,
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"channel_id": channelID,
			"summaries":  views,
		})
	})

	r.Delete("/api/channels/{channelID}/summaries", func(w http.ResponseWriter, req *http.Request) {
		channelID := chi.URLParam(req, "channelID")
		var olderThan time.Time
		if v := req.URL.Query().Get("older_than_hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid older_than_hours"})
				return
			}
			olderThan = time.Now().UTC().Add(-time.Duration(n) * time.Hour)
		}

		deleted, err := st.ClearSummaries(channelID, olderThan)
		if err != nil {
			log.WithError(err).Error("summary delete failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	})

	r.Get("/api/channels/{channelID}/unprocessed-images", func(w http.ResponseWriter, req *http.Request) {
		channelID := chi.URLParam(req, "channelID")
		messages, err := st.UnprocessedImages(channelID, defaultHistoryLimit)
		if err != nil {
			log.WithError(err).Error("unprocessed images query failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
			return
		}

		views := make([]imageView, 0, len(messages))
		for _, m := range messages {
			views = append(views, imageView{ID: m.ID, Content: m.Content})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"channel_id": channelID,
			"messages":   views,
		})
	})

	r.Delete("/api/messages", func(w http.ResponseWriter, req *http.Request) {
		raw := req.URL.Query().Get("older_than")
		age, err := time.ParseDuration(raw)
		if err != nil || age <= 0 {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid older_than duration"})
			return
		}

		deleted, err := st.ClearOlderThan(age)
		if err != nil {
			log.WithError(err).Error("retention delete failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
			return
		}
		log.WithField("deleted", deleted).WithField("older_than", raw).Info("retention delete")
		respondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	})

	r.Get("/api/channels/{channelID}/history", func(w http.ResponseWriter, req *http.Request) {
		channelID := chi.URLParam(req, "channelID")
		limit := defaultHistoryLimit
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			limit = n
		}

		messages, err := st.RecentMessages(channelID, limit)
		if err != nil {
			log.WithError(err).Error("history query failed")
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
			return
		}

		views := make([]messageView, 0, len(messages))
		for _, m := range messages {
			views = append(views, messageView{
				ID:          m.ID,
				UserID:      m.UserID,
				PersonaName: m.PersonaName,
				Content:     m.Content,
				IsAssistant: m.IsAssistant,
				Emotion:     m.Emotion,
				Timestamp:   m.Timestamp.Format(time.RFC3339Nano),
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"channel_id": channelID,
			"messages":   views,
		})
	})

	return r
}

type summaryView struct {
	ID      int64  `json:"id"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	Summary string `json:"summary"`
}

type imageView struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

type messageView struct {
	ID          int64  `json:"id"`
	UserID      string `json:"user_id"`
	PersonaName string `json:"persona_name,omitempty"`
	Content     string `json:"content"`
	IsAssistant bool   `json:"is_assistant"`
	Emotion     string `json:"emotion,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
