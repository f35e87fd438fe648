package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

type CreditHandler struct {
	creditService *service.CreditService
	logger        *logrus.Logger
}

func NewCreditHandler(creditService *service.CreditService, logger *logrus.Logger) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
		logger:        logger,
	}
}

func (h *CreditHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("", h.GetSummary).Methods("GET")
	router.HandleFunc("/history", h.GetHistory).Methods("GET")
}

// GetSummary reports approved, used and available limit of the caller's active capacity.
func (h *CreditHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	summary, err := h.creditService.Summary(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.creditService.History(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if list == nil {
		list = []model.CreditCapacity{}
	}
	writeJSON(w, http.StatusOK, list)
}
