package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/taskq/internal/api/shared"
	"github.com/phrazzld/taskq/internal/platform/archive"
)

// HistoryReader reads archived terminal tasks.
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]archive.Entry, error)
	Get(ctx context.Context, id string) (*archive.Entry, error)
}

// HistoryListResponse wraps archived entries.
type HistoryListResponse struct {
	Entries []archive.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// HistoryHandler serves the task archive.
type HistoryHandler struct {
	reader HistoryReader
	logger *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(reader HistoryReader, logger *slog.Logger) *HistoryHandler {
	if reader == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("reader cannot be nil for HistoryHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for HistoryHandler")
	}

	return &HistoryHandler{
		reader: reader,
		logger: logger.With(slog.String("component", "history_handler")),
	}
}

// ListHistory handles GET /api/history?limit=N, newest first.
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := getQueryInt(r, "limit", archive.DefaultListLimit)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(ListHistoryQuery{Limit: limit}); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	entries, err := h.reader.List(r.Context(), limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read task history")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, HistoryListResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// GetHistoryEntry handles GET /api/history/{id}.
func (h *HistoryHandler) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	entry, err := h.reader.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, entry)
}
