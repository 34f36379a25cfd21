package collab

import (
	"encoding/json"
	"errors"
	"net/http"

	"naskahcollab/internal/collab/manager"
	"naskahcollab/internal/collab/model"
	"naskahcollab/internal/collab/repository"
	"naskahcollab/pkg/logger"
)

type VersionHandler struct {
	Repo *repository.VersionRepository
}

func NewVersionHandler(repo *repository.VersionRepository) *VersionHandler {
	return &VersionHandler{Repo: repo}
}

// ListVersions serves GET /api/collab/versions?docId=.
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "Missing docId parameter", http.StatusBadRequest)
		return
	}

	records, err := h.Repo.ListByDocument(r.Context(), docID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

// GetVersion serves GET /api/collab/versions/get?id=.
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return
	}

	rec, err := h.Repo.Get(r.Context(), id)
	if errors.Is(err, model.ErrVersionNotFound) {
		http.Error(w, "Version not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Sugar.Errorf("Handler: Failed to get version %s: %v", id, err)
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// StatusSource reports the health of a replica's transport.
type StatusSource interface {
	ConnectionStatus() model.ConnectionState
	PerformanceMetrics() model.Metrics
}

type StatusHandler struct {
	Source StatusSource
}

func NewStatusHandler(src StatusSource) *StatusHandler {
	return &StatusHandler{Source: src}
}

type statusResponse struct {
	Connection model.ConnectionState `json:"connection"`
	Latency    string                `json:"latency"`
	Metrics    model.Metrics         `json:"metrics"`
}

// Status serves GET /api/collab/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics := h.Source.PerformanceMetrics()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Connection: h.Source.ConnectionStatus(),
		Latency:    manager.FormatLatency(metrics.AverageLatency),
		Metrics:    metrics,
	})
}
