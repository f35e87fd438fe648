package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/calendar"
	"credit-billing/internal/idempotency"
	"credit-billing/internal/jobs"
	"credit-billing/internal/model"
	"credit-billing/internal/repository/memory"
	"credit-billing/internal/service"
)

const testJobToken = "job-secret"

type testServer struct {
	t      *testing.T
	router *mux.Router
	store  *memory.Store
	auth   *service.AuthService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cal, err := calendar.LoadJalali("")
	require.NoError(t, err)
	store := memory.NewStore()
	rates := model.DefaultBillingRates()

	statements := service.NewStatementService(store, store, cal, rates, logger)
	billing := service.NewBillingService(statements, logger)
	credit := service.NewCreditService(store, rates, nil, nil, logger)
	runner := jobs.NewRunner(service.NewBillingCycle(statements, logger), jobs.DefaultConfig(), nil, nil, logger)
	auth := service.NewAuthService("test-secret", time.Hour, logger)

	router := NewRouter(Routes{
		Statements: NewStatementHandler(billing, idempotency.NewMemoryKeeper(time.Hour), logger),
		Credit:     NewCreditHandler(credit, logger),
		Internal:   NewInternalHandler(statements, credit, runner, logger),
		Tokens:     auth,
		JobToken:   testJobToken,
	}, logger)

	return &testServer{t: t, router: router, store: store, auth: auth}
}

// do sends body as JSON. user authenticates with a bearer token; uuid.Nil sends the job token.
func (s *testServer) do(method, path string, user uuid.UUID, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user == uuid.Nil {
		req.Header.Set("X-Job-Token", testJobToken)
	} else {
		token, err := s.auth.GenerateJWTToken(user)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// grantCredit creates and activates a capacity through the internal API.
func (s *testServer) grantCredit(user uuid.UUID, limit int64) model.CreditCapacity {
	s.t.Helper()
	rec := s.do("POST", "/internal/credit-capacities", uuid.Nil, model.CreateCapacityRequest{UserID: user, ApprovedLimit: limit})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.CreditCapacity](s.t, rec)

	rec = s.do("POST", "/internal/credit-capacities/"+created.ID.String()+"/activate", uuid.Nil, nil)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[model.CreditCapacity](s.t, rec)
}

func (s *testServer) walletTxn(payer uuid.UUID, amount int64) uuid.UUID {
	id := uuid.New()
	s.store.AddTransaction(model.Transaction{
		ID: id, Amount: amount, Status: model.TransactionStatusSuccess, PayerID: &payer, CreatedAt: time.Now().UTC(),
	})
	return id
}

func TestAuthMiddleware(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/statements", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/statements", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do("GET", "/api/statements", uuid.New(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestJobTokenMiddleware(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do("POST", "/internal/jobs/daily_penalty", uuid.New(), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do("POST", "/internal/jobs/daily_penalty", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[jobs.Result](t, rec)
	assert.Equal(t, jobs.DailyPenalty, res.Job)
	assert.Equal(t, 1, res.Attempts)

	rec = srv.do("POST", "/internal/jobs/weekly_report", uuid.Nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()
	srv.grantCredit(user, 1_000_000)

	rec := srv.do("POST", "/api/statements/purchases", user, model.RecordPurchaseRequest{
		TransactionID: srv.walletTxn(user, 150000),
		Description:   "Groceries",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	posted := decode[postingResponse](t, rec)
	assert.Equal(t, int64(-150000), posted.Line.Amount)
	assert.Equal(t, "Groceries", posted.Line.Description)

	rec = srv.do("GET", "/api/credit-capacity", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.CapacitySummary](t, rec)
	assert.Equal(t, int64(150000), summary.UsedLimit)
	assert.Equal(t, int64(850000), summary.AvailableLimit)

	rec = srv.do("GET", "/api/statements/"+posted.Statement.ID.String(), user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[model.StatementDetail](t, rec)
	assert.Len(t, detail.Lines, 1)

	rec = srv.do("GET", "/api/statements/"+posted.Statement.ID.String(), uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do("POST", "/api/statements/purchases", user, model.RecordPurchaseRequest{
		TransactionID: srv.walletTxn(user, 900000),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "business_rule", decode[errorResponse](t, rec).Kind)

	rec = srv.do("POST", "/api/statements/purchases", user, model.RecordPurchaseRequest{
		TransactionID: srv.walletTxn(uuid.New(), 100),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecordPayment_IdempotencyKey(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()
	body := model.RecordPaymentRequest{Amount: 5000}

	first := srv.do("POST", "/api/statements/payments", user, body, idempotencyHeader, "pay-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := srv.do("POST", "/api/statements/payments", user, body, idempotencyHeader, "pay-1")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	posted := decode[postingResponse](t, first)
	lines, err := srv.store.Read().Lines().ListByStatement(context.Background(), posted.Statement.ID, true)
	require.NoError(t, err)
	assert.Len(t, lines, 1)

	// A different key posts again; a failed request frees its key.
	third := srv.do("POST", "/api/statements/payments", user, body, idempotencyHeader, "pay-2")
	require.Equal(t, http.StatusCreated, third.Code)

	bad := srv.do("POST", "/api/statements/payments", user, model.RecordPaymentRequest{}, idempotencyHeader, "pay-3")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	retry := srv.do("POST", "/api/statements/payments", user, body, idempotencyHeader, "pay-3")
	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Empty(t, retry.Header().Get("Idempotent-Replayed"))
}

func TestCloseCurrentAndSummary(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()
	srv.grantCredit(user, 1_000_000)
	rec := srv.do("POST", "/api/statements/purchases", user, model.RecordPurchaseRequest{
		TransactionID: srv.walletTxn(user, 300000),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do("POST", "/api/statements/close-current", user, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[closeResponse](t, rec)
	assert.Equal(t, model.StatementStatusPendingPayment, closed.Closed.Status)
	assert.Equal(t, int64(-300000), closed.Current.OpeningBalance)

	rec = srv.do("GET", "/api/statements/"+closed.Closed.ID.String()+"/summary", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.StatementSummary](t, rec)
	assert.Equal(t, int64(30000), summary.MinimumPayment)
	assert.Equal(t, 1, summary.LineCount)

	rec = srv.do("GET", "/api/statements", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Statement](t, rec), 2)
}

func TestLineAdministration(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()
	rec := srv.do("POST", "/api/statements/payments", user, model.RecordPaymentRequest{Amount: 100})
	require.Equal(t, http.StatusCreated, rec.Code)
	st := decode[postingResponse](t, rec).Statement

	rec = srv.do("POST", fmt.Sprintf("/internal/statements/%s/lines", st.ID), uuid.Nil, model.AddLineRequest{
		Type: model.LineTypeFee, Amount: 40, Description: "card fee",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fee := decode[model.LedgerLine](t, rec)
	assert.Equal(t, int64(-40), fee.Amount)

	amount := int64(60)
	rec = srv.do("PATCH", "/internal/lines/"+fee.ID.String(), uuid.Nil, model.LineUpdate{Amount: &amount})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(-60), decode[model.LedgerLine](t, rec).Amount)

	rec = srv.do("POST", "/internal/lines/"+fee.ID.String()+"/reverse", uuid.Nil, model.ReverseLineRequest{Description: "waived"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.LineTypeRepayment, decode[model.LedgerLine](t, rec).Type)

	rec = srv.do("POST", "/internal/lines/"+fee.ID.String()+"/void", uuid.Nil, model.VoidLineRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"voided":true}`, rec.Body.String())

	rec = srv.do("POST", "/internal/lines/"+fee.ID.String()+"/void", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"voided":false}`, rec.Body.String())

	rec = srv.do("DELETE", "/internal/lines/"+fee.ID.String(), uuid.Nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = srv.do("PATCH", "/internal/lines/not-a-uuid", uuid.Nil, model.LineUpdate{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCapacityAdministration(t *testing.T) {
	srv := newTestServer(t)
	user := uuid.New()
	c := srv.grantCredit(user, 500000)
	assert.Equal(t, model.CapacityStatusActive, c.Status)

	rec := srv.do("POST", "/internal/credit-capacities", uuid.Nil, model.CreateCapacityRequest{UserID: user})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do("POST", "/internal/credit-capacities/"+c.ID.String()+"/suspend", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.CapacityStatusSuspended, decode[model.CreditCapacity](t, rec).Status)

	rec = srv.do("GET", "/api/credit-capacity", user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do("GET", "/api/credit-capacity/history", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.CreditCapacity](t, rec), 1)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidAmount, http.StatusBadRequest},
		{model.ErrInvalidState, http.StatusBadRequest},
		{model.ErrDeletionNotAllowed, http.StatusMethodNotAllowed},
		{model.ErrUnauthorizedTransaction, http.StatusForbidden},
		{model.ErrNotFound, http.StatusNotFound},
		{model.ErrAlreadyExists, http.StatusConflict},
		{idempotency.ErrInProgress, http.StatusConflict},
		{jobs.ErrLocked, http.StatusConflict},
		{model.ErrInsufficientCredit, http.StatusUnprocessableEntity},
		{model.ErrCapacityExpired, http.StatusUnprocessableEntity},
		{model.Transient(errors.New("lock timeout")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}
