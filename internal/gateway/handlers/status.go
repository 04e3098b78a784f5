package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/pool"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/models"
)

// CredentialReporter exposes pool health without raw keys
type CredentialReporter interface {
	Snapshot() []pool.CredentialStatus
}

// UsageReader aggregates the generation log
type UsageReader interface {
	CharacterUsage(ctx context.Context, since time.Time) ([]models.CharacterUsage, error)
}

type StatusHandler struct {
	credentials CredentialReporter
	usage       UsageReader
	logger      *zap.Logger
}

// NewStatusHandler creates status endpoints. usage may be nil when no
// database is configured.
func NewStatusHandler(credentials CredentialReporter, usage UsageReader, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{credentials: credentials, usage: usage, logger: logger}
}

type credentialsResponse struct {
	Total       int                     `json:"total"`
	Available   int                     `json:"available"`
	Credentials []pool.CredentialStatus `json:"credentials"`
}

// HandleHealth handles GET /health
func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleCredentials handles GET /health/credentials
func (h *StatusHandler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	snap := h.credentials.Snapshot()
	available := 0
	for _, c := range snap {
		if c.Available {
			available++
		}
	}
	writeJSON(w, http.StatusOK, credentialsResponse{
		Total:       len(snap),
		Available:   available,
		Credentials: snap,
	})
}

// HandleUsage handles GET /stats/characters?hours=N (default 24)
func (h *StatusHandler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if h.usage == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Usage statistics are not enabled"})
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "hours must be a positive integer"})
			return
		}
		hours = n
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	usage, err := h.usage.CharacterUsage(r.Context(), since)
	if err != nil {
		h.logger.Error("failed to load usage", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong. Please try again!"})
		return
	}
	if usage == nil {
		usage = []models.CharacterUsage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "characters": usage})
}
