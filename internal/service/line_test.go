package service_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credit-billing/internal/model"
)

func TestVoidLine(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	first := env.post(t, st.ID, model.LineTypeFee, 100)
	env.post(t, st.ID, model.LineTypeFee, 200)

	voided, err := env.statements.VoidLine(env.ctx, first.ID, strings.Repeat("x", 300))
	require.NoError(t, err)
	assert.True(t, voided)
	assert.Equal(t, int64(-200), env.statement(t, st.ID).ClosingBalance)

	line, err := env.store.Read().Lines().GetByID(env.ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, line.IsVoided)
	assert.NotNil(t, line.VoidedAt)
	assert.Len(t, line.VoidReason, 255)

	voided, err = env.statements.VoidLine(env.ctx, first.ID, "again")
	require.NoError(t, err)
	assert.False(t, voided)
	assert.Equal(t, int64(-200), env.statement(t, st.ID).ClosingBalance)

	_, err = env.statements.VoidLine(env.ctx, uuid.New(), "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestVoidLine_MultiByteReason(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	fee := env.post(t, st.ID, model.LineTypeFee, 100)

	_, err = env.statements.VoidLine(env.ctx, fee.ID, "xx"+strings.Repeat("ب", 200))
	require.NoError(t, err)

	line, err := env.store.Read().Lines().GetByID(env.ctx, fee.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(line.VoidReason))
	assert.Len(t, line.VoidReason, 254)
}

func TestReverseLine(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	purchase := env.post(t, st.ID, model.LineTypePurchase, 20000)
	payment := env.post(t, st.ID, model.LineTypePayment, 5000)

	reversal, err := env.statements.ReverseLine(env.ctx, purchase.ID, "merchant refund")
	require.NoError(t, err)
	assert.Equal(t, model.LineTypeRepayment, reversal.Type)
	assert.Equal(t, int64(20000), reversal.Amount)
	require.NotNil(t, reversal.Reverses)
	assert.Equal(t, purchase.ID, *reversal.Reverses)
	assert.Equal(t, "Reversal of line "+purchase.ID.String()+": merchant refund", reversal.Description)

	back, err := env.statements.ReverseLine(env.ctx, payment.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.LineTypePurchase, back.Type)
	assert.Equal(t, int64(-5000), back.Amount)

	// purchase and payment both cancelled out
	assert.Zero(t, env.statement(t, st.ID).ClosingBalance)

	_, err = env.statements.ReverseLine(env.ctx, purchase.ID, "twice")
	assert.ErrorIs(t, err, model.ErrUniquenessViolation)
}

func TestReverseLine_VoidedLine(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	fee := env.post(t, st.ID, model.LineTypeFee, 100)
	_, err = env.statements.VoidLine(env.ctx, fee.ID, "mistake")
	require.NoError(t, err)

	_, err = env.statements.ReverseLine(env.ctx, fee.ID, "")
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestReverseLine_OnPendingStatement(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	pending, _ := closedWithDebt(t, env, user, 30000)
	purchases := env.lines(t, pending.ID, model.LineTypePurchase)
	require.Len(t, purchases, 1)

	_, err := env.statements.ReverseLine(env.ctx, purchases[0].ID, "disputed")
	require.NoError(t, err)
	assert.Zero(t, env.statement(t, pending.ID).ClosingBalance)
}

func TestUpdateLine_DescriptionOnly(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	fee := env.post(t, st.ID, model.LineTypeFee, 100)
	before := env.statement(t, st.ID)

	env.clock.Advance(time.Hour)
	desc := "card fee"
	line, err := env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, line.Description)

	after := env.statement(t, st.ID)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.ClosingBalance, after.ClosingBalance)
}

func TestUpdateLine_AmountAndType(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	fee := env.post(t, st.ID, model.LineTypeFee, 100)

	amount := int64(250)
	line, err := env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, int64(-250), line.Amount)
	assert.Equal(t, int64(-250), env.statement(t, st.ID).ClosingBalance)

	credit := model.LineTypeRepayment
	line, err = env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Type: &credit})
	require.NoError(t, err)
	assert.Equal(t, int64(250), line.Amount)
	assert.Equal(t, int64(250), env.statement(t, st.ID).ClosingBalance)

	unknown := model.LineType("BONUS")
	_, err = env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Type: &unknown})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUpdateLine_InterestUniqueness(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	env.post(t, st.ID, model.LineTypeInterest, 100)
	fee := env.post(t, st.ID, model.LineTypeFee, 50)

	interest := model.LineTypeInterest
	_, err = env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Type: &interest})
	assert.ErrorIs(t, err, model.ErrUniquenessViolation)

	_, err = env.statements.AddLine(env.ctx, st.ID, model.NewLine{Type: model.LineTypeInterest, Amount: 10})
	assert.ErrorIs(t, err, model.ErrUniquenessViolation)
}

func TestUpdateLine_MovesBetweenStatements(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	pending, next := closedWithDebt(t, env, user, 30000)
	repayment := env.post(t, pending.ID, model.LineTypeRepayment, 1000)

	_, err := env.statements.UpdateLine(env.ctx, repayment.ID, model.LineUpdate{StatementID: &next.ID})
	require.NoError(t, err)

	assert.Equal(t, int64(-30000), env.statement(t, pending.ID).ClosingBalance)
	assert.Equal(t, int64(-29000), env.statement(t, next.ID).ClosingBalance)
}

func TestUpdateLine_StaysWithOwner(t *testing.T) {
	env := newTestEnv(t)
	alice, bob := uuid.New(), uuid.New()
	env.activeCapacity(t, alice, 1_000_000)
	aliceSt, purchase, err := env.billing.RecordPurchase(env.ctx, alice, model.RecordPurchaseRequest{
		TransactionID: env.walletPurchase(alice, 150000),
	})
	require.NoError(t, err)
	bobSt, err := env.statements.GetOrCreateCurrent(env.ctx, bob)
	require.NoError(t, err)

	_, err = env.statements.UpdateLine(env.ctx, purchase.ID, model.LineUpdate{StatementID: &bobSt.ID})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	line, err := env.store.Read().Lines().GetByID(env.ctx, purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, aliceSt.ID, line.StatementID)
	assert.Equal(t, int64(-150000), env.statement(t, aliceSt.ID).ClosingBalance)
	assert.Zero(t, env.statement(t, bobSt.ID).ClosingBalance)
}

func TestUpdateLine_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user := uuid.New()
	pending, _ := closedWithDebt(t, env, user, 30000)
	purchase := env.lines(t, pending.ID, model.LineTypePurchase)[0]

	// PURCHASE lines cannot be changed on a statement that is no longer CURRENT.
	amount := int64(10)
	_, err := env.statements.UpdateLine(env.ctx, purchase.ID, model.LineUpdate{Amount: &amount})
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = env.statements.DetermineDueOutcome(env.ctx, pending.ID, 0)
	require.NoError(t, err)
	repayment := model.LineTypeRepayment
	_, err = env.statements.UpdateLine(env.ctx, purchase.ID, model.LineUpdate{Type: &repayment})
	assert.ErrorIs(t, err, model.ErrInvalidState)

	st := env.current(t, user)
	fee := env.post(t, st.ID, model.LineTypeFee, 10)
	_, err = env.statements.VoidLine(env.ctx, fee.ID, "")
	require.NoError(t, err)
	_, err = env.statements.UpdateLine(env.ctx, fee.ID, model.LineUpdate{Amount: &amount})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestDeleteLine_NeverAllowed(t *testing.T) {
	env := newTestEnv(t)
	st, err := env.statements.GetOrCreateCurrent(env.ctx, uuid.New())
	require.NoError(t, err)
	fee := env.post(t, st.ID, model.LineTypeFee, 10)

	err = env.statements.DeleteLine(env.ctx, fee.ID)
	assert.ErrorIs(t, err, model.ErrDeletionNotAllowed)

	lines := env.lines(t, st.ID, model.LineTypeFee)
	assert.Len(t, lines, 1)
}
