// Package api serves the provider webhook and a small internal REST surface
// over the reconciliation ledger.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/common"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/ingest"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/service"
)

const maxWebhookBody = 1 << 20

// BatchIngester stores webhook deliveries.
type BatchIngester interface {
	IngestBatch(ctx context.Context, raws []model.RawFlowEvent) ingest.BatchResult
}

// Server is the flowd HTTP API.
type Server struct {
	store          service.Storage
	ingester       BatchIngester
	logger         *slog.Logger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(store service.Storage, ingester BatchIngester) *Server {
	return &Server{
		store:    store,
		ingester: ingester,
		logger:   slog.Default().With("component", "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/flows", s.handleFlowWebhook)

		r.Post("/intents", s.handleCreateIntent)
		r.Get("/intents/{id}", s.handleGetIntent)
		r.Post("/intents/{id}/link", s.handleLinkIntent)

		r.Get("/events/{id}", s.handleGetEvent)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

type webhookResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// handleFlowWebhook always answers 200 so the provider never retries a
// delivery; anything that could not be stored is counted as rejected.
func (s *Server) handleFlowWebhook(w http.ResponseWriter, r *http.Request) {
	resp := webhookResponse{Status: "accepted"}

	raws, undecodable, err := decodeFlowEvents(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("Undecodable webhook body",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		resp.Rejected = 1
		writeJSON(w, http.StatusOK, resp)
		return
	}
	for _, err := range undecodable {
		s.logger.Warn("Undecodable webhook event",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}

	result := s.ingester.IngestBatch(r.Context(), raws)
	resp.Accepted = result.Accepted
	resp.Duplicates = result.Duplicates
	resp.Rejected = result.Rejected + len(undecodable)
	for _, err := range result.Errors {
		s.logger.Warn("Webhook event not stored",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeFlowEvents accepts a single event object or an array of them.
// Array elements are decoded one by one; an element that does not decode
// is reported in the second result and its siblings are still returned.
func decodeFlowEvents(body io.Reader) ([]model.RawFlowEvent, []error, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil, errors.New("empty body")
	}

	if data[0] != '[' {
		var raw model.RawFlowEvent
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, err
		}
		return []model.RawFlowEvent{raw}, nil, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, nil, err
	}

	raws := make([]model.RawFlowEvent, 0, len(elements))
	var undecodable []error
	for i, element := range elements {
		var raw model.RawFlowEvent
		if err := json.Unmarshal(element, &raw); err != nil {
			undecodable = append(undecodable, fmt.Errorf("element %d: %w", i, err))
			continue
		}
		raws = append(raws, raw)
	}
	return raws, undecodable, nil
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.store.GetFlowEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEventView(event))
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInvalidTransition), errors.Is(err, common.ErrConstraintViolation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("Storage request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    http.StatusText(status),
		},
	})
}
