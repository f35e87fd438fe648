package service_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/calendar"
	"credit-billing/internal/model"
	"credit-billing/internal/repository/memory"
	"credit-billing/internal/service"
)

// 2025-10-17 is 1404/07/25 in Tehran.
var mehr1404 = time.Date(2025, 10, 17, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type notice struct {
	kind   string
	userID uuid.UUID
	amount int64
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (n *recordingNotifier) StatementIssued(_ context.Context, st model.Statement, minimum int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{kind: "issued", userID: st.UserID, amount: minimum})
}

func (n *recordingNotifier) PenaltyPosted(_ context.Context, userID uuid.UUID, _ model.Statement, amount int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{kind: "penalty", userID: userID, amount: amount})
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, x := range n.notices {
		if x.kind == kind {
			c++
		}
	}
	return c
}

type testEnv struct {
	ctx        context.Context
	store      *memory.Store
	clock      *fakeClock
	notifier   *recordingNotifier
	rates      model.BillingRates
	statements *service.StatementService
	billing    *service.BillingService
	credit     *service.CreditService
	cycle      *service.BillingCycle
}

func newTestEnv(t *testing.T, opts ...service.StatementOption) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cal, err := calendar.LoadJalali("")
	require.NoError(t, err)

	env := &testEnv{
		ctx:      context.Background(),
		store:    memory.NewStore(),
		clock:    &fakeClock{now: mehr1404},
		notifier: &recordingNotifier{},
		rates:    model.DefaultBillingRates(),
	}
	opts = append([]service.StatementOption{
		service.WithClock(env.clock),
		service.WithNotifier(env.notifier),
	}, opts...)

	env.statements = service.NewStatementService(env.store, env.store, cal, env.rates, logger, opts...)
	env.billing = service.NewBillingService(env.statements, logger)
	env.credit = service.NewCreditService(env.store, env.rates, env.clock, nil, logger)
	env.cycle = service.NewBillingCycle(env.statements, logger)
	return env
}

// activeCapacity creates and activates a capacity for user.
func (e *testEnv) activeCapacity(t *testing.T, user uuid.UUID, limit int64) *model.CreditCapacity {
	t.Helper()
	c, err := e.credit.CreatePending(e.ctx, model.CreateCapacityRequest{UserID: user, ApprovedLimit: limit})
	require.NoError(t, err)
	c, err = e.credit.Activate(e.ctx, c.ID)
	require.NoError(t, err)
	return c
}

// walletPurchase seeds a successful transaction paid by user.
func (e *testEnv) walletPurchase(user uuid.UUID, amount int64) uuid.UUID {
	merchant := uuid.New()
	id := uuid.New()
	e.store.AddTransaction(model.Transaction{
		ID: id, Amount: amount, Status: model.TransactionStatusSuccess,
		PayerID: &user, PayeeID: &merchant, CreatedAt: e.clock.Now(),
	})
	return id
}

func (e *testEnv) current(t *testing.T, user uuid.UUID) *model.Statement {
	t.Helper()
	st, err := e.store.Read().Statements().GetCurrent(e.ctx, user)
	require.NoError(t, err)
	return st
}

func (e *testEnv) statement(t *testing.T, id uuid.UUID) *model.Statement {
	t.Helper()
	st, err := e.store.Read().Statements().GetByID(e.ctx, id)
	require.NoError(t, err)
	return st
}

func (e *testEnv) lines(t *testing.T, statementID uuid.UUID, typ model.LineType) []model.LedgerLine {
	t.Helper()
	all, err := e.store.Read().Lines().ListByStatement(e.ctx, statementID, false)
	require.NoError(t, err)
	var out []model.LedgerLine
	for _, l := range all {
		if l.Type == typ {
			out = append(out, l)
		}
	}
	return out
}

func (e *testEnv) post(t *testing.T, statementID uuid.UUID, typ model.LineType, amount int64) *model.LedgerLine {
	t.Helper()
	l, err := e.statements.AddLine(e.ctx, statementID, model.NewLine{Type: typ, Amount: amount})
	require.NoError(t, err)
	return l
}
