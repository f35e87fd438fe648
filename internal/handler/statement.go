package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/idempotency"
	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

type StatementHandler struct {
	billing *service.BillingService
	keeper  idempotency.Keeper
	logger  *logrus.Logger
}

func NewStatementHandler(billing *service.BillingService, keeper idempotency.Keeper, logger *logrus.Logger) *StatementHandler {
	return &StatementHandler{billing: billing, keeper: keeper, logger: logger}
}

func (h *StatementHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.ListStatements).Methods("GET")
	router.HandleFunc("/purchases", h.RecordPurchase).Methods("POST")
	router.HandleFunc("/payments", h.RecordPayment).Methods("POST")
	router.HandleFunc("/close-current", h.CloseCurrent).Methods("POST")
	router.HandleFunc("/{id}", h.GetStatement).Methods("GET")
	router.HandleFunc("/{id}/summary", h.GetSummary).Methods("GET")
}

type postingResponse struct {
	Statement *model.Statement  `json:"statement"`
	Line      *model.LedgerLine `json:"line"`
}

type closeResponse struct {
	Closed  *model.Statement `json:"closed"`
	Current *model.Statement `json:"current"`
}

func (h *StatementHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.billing.ListStatements(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.Statement{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StatementHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	detail, err := h.billing.GetStatement(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *StatementHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	summary, err := h.billing.StatementSummary(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *StatementHandler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req model.RecordPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WithError(err).Warn("failed to decode purchase request")
		badRequest(w, "invalid request payload")
		return
	}

	st, line, err := h.billing.RecordPurchase(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, postingResponse{Statement: st, Line: line})
}

// RecordPayment posts a payment. With an Idempotency-Key header a retried request replays the
// first response instead of posting again.
func (h *StatementHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	var req model.RecordPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WithError(err).Warn("failed to decode payment request")
		badRequest(w, "invalid request payload")
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key == "" || h.keeper == nil {
		st, line, err := h.billing.RecordPayment(r.Context(), userID, req)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, postingResponse{Statement: st, Line: line})
		return
	}

	scoped := userID.String() + ":" + key
	log := h.logger.WithFields(logrus.Fields{"user_id": userID, "idempotency_key": key})

	prev, err := h.keeper.Reserve(r.Context(), scoped)
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		writeError(w, h.logger, err)
		return
	case err != nil:
		log.WithError(err).Error("idempotency store unavailable")
		writeError(w, h.logger, model.Transient(err))
		return
	case prev != nil:
		log.Info("replaying payment response")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(prev.Status)
		w.Write(prev.Body)
		return
	}

	st, line, err := h.billing.RecordPayment(r.Context(), userID, req)
	if err != nil {
		if relErr := h.keeper.Release(r.Context(), scoped); relErr != nil {
			log.WithError(relErr).Warn("failed to release idempotency key")
		}
		writeError(w, h.logger, err)
		return
	}

	body, err := json.Marshal(postingResponse{Statement: st, Line: line})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.keeper.Complete(r.Context(), scoped, idempotency.Response{Status: http.StatusCreated, Body: body}); err != nil {
		log.WithError(err).Error("failed to record payment response")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(body)
}

func (h *StatementHandler) CloseCurrent(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	closed, current, err := h.billing.CloseCurrentStatement(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, closeResponse{Closed: closed, Current: current})
}
