package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"credit-billing/internal/model"
)

type lines struct{ *memTx }

// check mirrors the sign constraint and the partial unique indexes of ledger_lines.
func (r *lines) check(l *model.LedgerLine) error {
	if _, ok := r.s.st.statements[l.StatementID]; !ok {
		return fmt.Errorf("statement %s: %w", l.StatementID, model.ErrNotFound)
	}
	want, err := model.NormalizeAmount(l.Type, l.Amount)
	if err != nil {
		return err
	}
	if want != l.Amount {
		return fmt.Errorf("%w: %s amount %d violates sign constraint", model.ErrInvalidAmount, l.Type, l.Amount)
	}
	if l.IsVoided {
		return nil
	}
	for _, o := range r.s.st.lines {
		if o.ID == l.ID || o.IsVoided {
			continue
		}
		switch {
		case l.Type == model.LineTypeInterest && o.Type == model.LineTypeInterest && o.StatementID == l.StatementID:
			return fmt.Errorf("%w: interest on statement %s", model.ErrUniquenessViolation, l.StatementID)
		case l.Type == model.LineTypePenalty && o.Type == model.LineTypePenalty &&
			l.SourceStatementID != nil && o.SourceStatementID != nil && *o.SourceStatementID == *l.SourceStatementID:
			return fmt.Errorf("%w: penalty for statement %s", model.ErrUniquenessViolation, *l.SourceStatementID)
		case l.Reverses != nil && o.Reverses != nil && *o.Reverses == *l.Reverses:
			return fmt.Errorf("%w: reversal of line %s", model.ErrUniquenessViolation, *l.Reverses)
		case l.Type == model.LineTypePurchase && o.Type == model.LineTypePurchase &&
			l.TransactionID != nil && o.TransactionID != nil && *o.TransactionID == *l.TransactionID:
			return fmt.Errorf("%w: purchase for transaction %s", model.ErrUniquenessViolation, *l.TransactionID)
		}
	}
	return nil
}

func (r *lines) Create(ctx context.Context, l *model.LedgerLine) error {
	defer r.lock()()
	if _, ok := r.s.st.lines[l.ID]; ok {
		return fmt.Errorf("ledger line %s: %w", l.ID, model.ErrAlreadyExists)
	}
	if err := r.check(l); err != nil {
		return err
	}
	r.s.st.lines[l.ID] = *l
	return nil
}

func (r *lines) GetByID(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error) {
	defer r.lock()()
	l, ok := r.s.st.lines[id]
	if !ok {
		return nil, fmt.Errorf("ledger line %s: %w", id, model.ErrNotFound)
	}
	return &l, nil
}

func (r *lines) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.LedgerLine, error) {
	return r.GetByID(ctx, id)
}

func (r *lines) Update(ctx context.Context, in *model.LedgerLine) error {
	defer r.lock()()
	l, ok := r.s.st.lines[in.ID]
	if !ok {
		return fmt.Errorf("ledger line %s: %w", in.ID, model.ErrNotFound)
	}
	l.StatementID, l.Type, l.Amount, l.Description, l.UpdatedAt = in.StatementID, in.Type, in.Amount, in.Description, in.UpdatedAt
	if err := r.check(&l); err != nil {
		return err
	}
	r.s.st.lines[in.ID] = l
	return nil
}

func (r *lines) Void(ctx context.Context, in *model.LedgerLine) error {
	defer r.lock()()
	l, ok := r.s.st.lines[in.ID]
	if !ok || l.IsVoided {
		return fmt.Errorf("active ledger line %s: %w", in.ID, model.ErrNotFound)
	}
	l.IsVoided, l.VoidedAt, l.VoidReason, l.UpdatedAt = true, in.VoidedAt, in.VoidReason, in.UpdatedAt
	r.s.st.lines[in.ID] = l
	return nil
}

func (r *lines) each(fn func(l model.LedgerLine)) {
	defer r.lock()()
	for _, l := range r.s.st.lines {
		fn(l)
	}
}

func (r *lines) ListByStatement(ctx context.Context, statementID uuid.UUID, includeVoided bool) ([]model.LedgerLine, error) {
	var out []model.LedgerLine
	r.each(func(l model.LedgerLine) {
		if l.StatementID == statementID && (includeVoided || !l.IsVoided) {
			out = append(out, l)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *lines) Totals(ctx context.Context, statementID uuid.UUID) (model.Totals, error) {
	list, _ := r.ListByStatement(ctx, statementID, false)
	return model.SumLines(list), nil
}

func (r *lines) ExistsActive(ctx context.Context, statementID uuid.UUID, t model.LineType, excludeID *uuid.UUID) (bool, error) {
	found := false
	r.each(func(l model.LedgerLine) {
		if l.StatementID == statementID && l.Type == t && !l.IsVoided && (excludeID == nil || l.ID != *excludeID) {
			found = true
		}
	})
	return found, nil
}

func (r *lines) SumPayments(ctx context.Context, statementID uuid.UUID, from, to time.Time) (int64, error) {
	var sum int64
	r.each(func(l model.LedgerLine) {
		if l.StatementID == statementID && l.Type == model.LineTypePayment && !l.IsVoided &&
			!l.CreatedAt.Before(from) && !l.CreatedAt.After(to) {
			sum += l.Amount
		}
	})
	return sum, nil
}

func (r *lines) PenaltyExistsFor(ctx context.Context, sourceStatementID uuid.UUID) (bool, error) {
	found := false
	r.each(func(l model.LedgerLine) {
		if l.Type == model.LineTypePenalty && !l.IsVoided &&
			l.SourceStatementID != nil && *l.SourceStatementID == sourceStatementID {
			found = true
		}
	})
	return found, nil
}

func (r *lines) PurchaseExistsFor(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	found := false
	r.each(func(l model.LedgerLine) {
		if l.Type == model.LineTypePurchase && !l.IsVoided &&
			l.TransactionID != nil && *l.TransactionID == transactionID {
			found = true
		}
	})
	return found, nil
}

func (r *lines) ReversalExists(ctx context.Context, lineID uuid.UUID) (bool, error) {
	found := false
	r.each(func(l model.LedgerLine) {
		if !l.IsVoided && l.Reverses != nil && *l.Reverses == lineID {
			found = true
		}
	})
	return found, nil
}
