package ingest

import (
	"encoding/json"
	"net/http"

	"github.com/marmos91/headerprop/internal/logger"
	"github.com/marmos91/headerprop/pkg/header"
	"github.com/marmos91/headerprop/pkg/propagate"
	"github.com/marmos91/headerprop/pkg/store/cache"
)

// maxBodyBytes caps a trigger request. Event Grid batches are at most 1MB.
const maxBodyBytes = 1 << 20

// Submitter accepts batches for background processing.
type Submitter interface {
	Submit(batch []propagate.Notification)
}

// HandlerConfig contains the collaborators of the HTTP handler.
type HandlerConfig struct {
	// SourceContainer is the only container whose notifications are admitted
	SourceContainer string

	Dispatcher Submitter

	// Cache backs the admin endpoints
	Cache cache.HeaderCache
}

// Handler serves the trigger and admin endpoints.
type Handler struct {
	sourceContainer string
	dispatcher      Submitter
	cache           cache.HeaderCache
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		sourceContainer: cfg.SourceContainer,
		dispatcher:      cfg.Dispatcher,
		cache:           cfg.Cache,
	}
}

// Routes returns the HTTP routes:
//
//	POST   /api/trigger            Event Grid batch (202) or validation handshake (200)
//	GET    /api/trigger            validation handshake probe
//	GET    /api/headers?prefix=    cached header of a folder
//	DELETE /api/headers?prefix=    reset the cached header of a folder
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/trigger", h.handleTrigger)
	mux.HandleFunc("GET /api/trigger", h.handleTrigger)
	mux.HandleFunc("GET /api/headers", h.handleGetHeader)
	mux.HandleFunc("DELETE /api/headers", h.handleResetHeader)
	return mux
}

func (h *Handler) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var events []Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&events); err != nil {
		logger.Warn("Rejecting undecodable trigger payload: %v", err)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	if len(events) > 0 && events[0].EventType == SubscriptionValidationEventType {
		var data ValidationData
		if err := json.Unmarshal(events[0].Data, &data); err != nil {
			http.Error(w, "invalid validation event", http.StatusBadRequest)
			return
		}
		logger.Info("Answering subscription validation handshake")
		writeJSON(w, http.StatusOK, ValidationResponse{ValidationResponse: data.ValidationCode})
		return
	}

	batch := FilterBlobCreated(events, h.sourceContainer)
	logger.Debug("Admitted %d of %d events", len(batch), len(events))
	if len(batch) > 0 {
		h.dispatcher.Submit(batch)
	}

	w.WriteHeader(http.StatusAccepted)
}

type headerResponse struct {
	Prefix string         `json:"prefix"`
	Header *header.Header `json:"header"`
}

func (h *Handler) handleGetHeader(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	hdr, ok, err := h.cache.Get(r.Context(), prefix)
	if err != nil {
		logger.Error("Failed to read header cache for %q: %v", prefix, err)
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	if !ok || !hdr.HasHeader() {
		http.Error(w, "no header cached for prefix", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, headerResponse{Prefix: prefix, Header: hdr})
}

func (h *Handler) handleResetHeader(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	if err := h.cache.Reset(r.Context(), prefix); err != nil {
		logger.Error("Failed to reset header cache for %q: %v", prefix, err)
		http.Error(w, "cache unavailable", http.StatusInternalServerError)
		return
	}
	logger.Info("Header cache reset for %q", prefix)

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}
