package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/jobs"
	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

// JobRunner triggers a billing job by name.
type JobRunner interface {
	Run(ctx context.Context, name string) (jobs.Result, error)
}

// InternalHandler serves the routes used by the scheduler, the risk service and back office.
type InternalHandler struct {
	statements *service.StatementService
	credit     *service.CreditService
	runner     JobRunner
	logger     *logrus.Logger
}

func NewInternalHandler(statements *service.StatementService, credit *service.CreditService, runner JobRunner, logger *logrus.Logger) *InternalHandler {
	return &InternalHandler{statements: statements, credit: credit, runner: runner, logger: logger}
}

func (h *InternalHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/jobs/{name}", h.RunJob).Methods("POST")

	router.HandleFunc("/credit-capacities", h.CreateCapacity).Methods("POST")
	router.HandleFunc("/credit-capacities/{id}/activate", h.ActivateCapacity).Methods("POST")
	router.HandleFunc("/credit-capacities/{id}/suspend", h.SuspendCapacity).Methods("POST")

	router.HandleFunc("/statements/{id}/lines", h.AddLine).Methods("POST")
	router.HandleFunc("/lines/{id}", h.UpdateLine).Methods("PATCH")
	router.HandleFunc("/lines/{id}", h.DeleteLine).Methods("DELETE")
	router.HandleFunc("/lines/{id}/void", h.VoidLine).Methods("POST")
	router.HandleFunc("/lines/{id}/reverse", h.ReverseLine).Methods("POST")
}

func (h *InternalHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	res, err := h.runner.Run(r.Context(), name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InternalHandler) CreateCapacity(w http.ResponseWriter, r *http.Request) {
	var req model.CreateCapacityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WithError(err).Warn("failed to decode capacity request")
		badRequest(w, "invalid request payload")
		return
	}
	capacity, err := h.credit.CreatePending(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, capacity)
}

func (h *InternalHandler) ActivateCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid capacity id")
		return
	}
	capacity, err := h.credit.Activate(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}

func (h *InternalHandler) SuspendCapacity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid capacity id")
		return
	}
	capacity, err := h.credit.Suspend(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}

func (h *InternalHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	var req model.AddLineRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request payload")
		return
	}
	line, err := h.statements.AddLine(r.Context(), id, model.NewLine{
		Type:          req.Type,
		Amount:        req.Amount,
		TransactionID: req.Transaction,
		Description:   req.Description,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (h *InternalHandler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	var upd model.LineUpdate
	if err := decodeJSON(r, &upd); err != nil {
		badRequest(w, "invalid request payload")
		return
	}
	line, err := h.statements.UpdateLine(r.Context(), id, upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *InternalHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	writeError(w, h.logger, h.statements.DeleteLine(r.Context(), id))
}

func (h *InternalHandler) VoidLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	var req model.VoidLineRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request payload")
		return
	}
	voided, err := h.statements.VoidLine(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"voided": voided})
}

func (h *InternalHandler) ReverseLine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	var req model.ReverseLineRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request payload")
		return
	}
	line, err := h.statements.ReverseLine(r.Context(), id, req.Description)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}
