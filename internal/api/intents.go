package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

type createIntentRequest struct {
	CreatedAt        *int64 `json:"createdAt,omitempty"`
	Sender           string `json:"sender"`
	Receiver         string `json:"receiver"`
	ExpectedFlowRate string `json:"expectedFlowRate"`
	TransactionHash  string `json:"transactionHash,omitempty"`
	Gated            bool   `json:"gated"`
}

type linkIntentRequest struct {
	TransactionHash string `json:"transactionHash"`
}

type intentView struct {
	MatchedAt        *int64 `json:"matchedAt,omitempty"`
	ID               string `json:"id"`
	Sender           string `json:"sender"`
	Receiver         string `json:"receiver"`
	ExpectedFlowRate string `json:"expectedFlowRate"`
	TransactionHash  string `json:"transactionHash,omitempty"`
	MatchedEventID   string `json:"matchedEventId,omitempty"`
	CreatedAt        int64  `json:"createdAt"`
	Gated            bool   `json:"gated"`
	Matched          bool   `json:"matched"`
}

func newIntentView(intent *model.DonationIntent) intentView {
	view := intentView{
		ID:               intent.ID,
		Sender:           intent.Sender,
		Receiver:         intent.Receiver,
		ExpectedFlowRate: intent.ExpectedFlowRate.String(),
		TransactionHash:  intent.TransactionHash,
		MatchedEventID:   intent.MatchedEventID,
		CreatedAt:        intent.CreatedAt.Unix(),
		Gated:            intent.Gated,
		Matched:          intent.Matched,
	}
	if intent.MatchedAt != nil {
		at := intent.MatchedAt.Unix()
		view.MatchedAt = &at
	}
	return view
}

func (req createIntentRequest) toIntent() (*model.DonationIntent, error) {
	for field, value := range map[string]string{"sender": req.Sender, "receiver": req.Receiver} {
		if !model.IsAddress(strings.TrimSpace(value)) {
			return nil, &model.ValidationError{Field: field, Reason: "not an address"}
		}
	}
	rate, err := model.ParseFlowRate(strings.TrimSpace(req.ExpectedFlowRate))
	if err != nil {
		return nil, err
	}
	if req.TransactionHash != "" && !model.IsTransactionHash(strings.TrimSpace(req.TransactionHash)) {
		return nil, &model.ValidationError{Field: "transactionHash", Reason: "not a transaction hash"}
	}

	intent := &model.DonationIntent{
		Sender:           model.NormalizeAddress(req.Sender),
		Receiver:         model.NormalizeAddress(req.Receiver),
		ExpectedFlowRate: rate,
		TransactionHash:  model.NormalizeAddress(req.TransactionHash),
		Gated:            req.Gated,
	}
	if req.CreatedAt != nil {
		intent.CreatedAt = time.Unix(*req.CreatedAt, 0).UTC()
	}
	return intent, nil
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	intent, err := req.toIntent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateIntent(r.Context(), intent); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.logger.Info("Created donation intent", "intent_id", intent.ID, "sender", intent.Sender, "receiver", intent.Receiver)
	writeJSON(w, http.StatusCreated, newIntentView(intent))
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := s.store.GetIntent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentView(intent))
}

func (s *Server) handleLinkIntent(w http.ResponseWriter, r *http.Request) {
	var req linkIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	hash := strings.TrimSpace(req.TransactionHash)
	if !model.IsTransactionHash(hash) {
		writeError(w, http.StatusBadRequest, "transactionHash: not a transaction hash")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.store.LinkIntentTransaction(r.Context(), id, model.NormalizeAddress(hash)); err != nil {
		s.writeStoreError(w, err)
		return
	}

	intent, err := s.store.GetIntent(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newIntentView(intent))
}
