// Package memory is an in-process implementation of service.Store. It enforces the same
// uniqueness and sign constraints as the Postgres schema and serializes every unit of work.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"credit-billing/internal/model"
	"credit-billing/internal/service"
)

type state struct {
	statements map[uuid.UUID]model.Statement
	lines      map[uuid.UUID]model.LedgerLine
	capacities map[uuid.UUID]model.CreditCapacity
}

func (s *state) clone() *state {
	c := &state{
		statements: make(map[uuid.UUID]model.Statement, len(s.statements)),
		lines:      make(map[uuid.UUID]model.LedgerLine, len(s.lines)),
		capacities: make(map[uuid.UUID]model.CreditCapacity, len(s.capacities)),
	}
	for k, v := range s.statements {
		c.statements[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.capacities {
		c.capacities[k] = v
	}
	return c
}

// Store also plays the wallet and identity collaborators, guarded by their own lock so they can
// be consulted from inside a unit of work.
type Store struct {
	mu sync.Mutex
	st *state

	dirMu        sync.RWMutex
	transactions map[uuid.UUID]model.Transaction
	users        map[uuid.UUID]model.User
}

func NewStore() *Store {
	return &Store{
		st: &state{
			statements: make(map[uuid.UUID]model.Statement),
			lines:      make(map[uuid.UUID]model.LedgerLine),
			capacities: make(map[uuid.UUID]model.CreditCapacity),
		},
		transactions: make(map[uuid.UUID]model.Transaction),
		users:        make(map[uuid.UUID]model.User),
	}
}

// WithinTx holds the store lock for the whole of fn and restores the previous state if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return model.Transient(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&memTx{s: s, held: true}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) Read() service.Tx {
	return &memTx{s: s}
}

// AddTransaction seeds a wallet transaction.
func (s *Store) AddTransaction(t model.Transaction) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.transactions[t.ID] = t
}

func (s *Store) AddUser(u model.User) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, model.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return &u, nil
}

type memTx struct {
	s    *Store
	held bool
}

// lock acquires the store lock unless the enclosing WithinTx already holds it.
func (t *memTx) lock() func() {
	if t.held {
		return func() {}
	}
	t.s.mu.Lock()
	return t.s.mu.Unlock
}

func (t *memTx) Statements() service.StatementStore { return &statements{t} }
func (t *memTx) Lines() service.LineStore           { return &lines{t} }
func (t *memTx) Capacities() service.CapacityStore  { return &capacities{t} }

type statements struct{ *memTx }

func (r *statements) Create(ctx context.Context, s *model.Statement) error {
	defer r.lock()()
	for _, o := range r.s.st.statements {
		if o.UserID != s.UserID {
			if s.ReferenceCode != nil && o.ReferenceCode != nil && *o.ReferenceCode == *s.ReferenceCode {
				return fmt.Errorf("statement reference %s: %w", *s.ReferenceCode, model.ErrAlreadyExists)
			}
			continue
		}
		if o.Period == s.Period ||
			(o.Status == model.StatementStatusCurrent && s.Status == model.StatementStatusCurrent) ||
			(s.ReferenceCode != nil && o.ReferenceCode != nil && *o.ReferenceCode == *s.ReferenceCode) {
			return fmt.Errorf("statement %s for user %s: %w", s.Period, s.UserID, model.ErrAlreadyExists)
		}
	}
	r.s.st.statements[s.ID] = *s
	return nil
}

func (r *statements) get(match func(model.Statement) bool) (*model.Statement, error) {
	defer r.lock()()
	for _, s := range r.s.st.statements {
		if match(s) {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("statement: %w", model.ErrNotFound)
}

func (r *statements) GetByID(ctx context.Context, id uuid.UUID) (*model.Statement, error) {
	return r.get(func(s model.Statement) bool { return s.ID == id })
}

func (r *statements) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Statement, error) {
	return r.GetByID(ctx, id)
}

func (r *statements) GetCurrent(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	return r.get(func(s model.Statement) bool {
		return s.UserID == userID && s.Status == model.StatementStatusCurrent
	})
}

func (r *statements) GetCurrentForUpdate(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	return r.GetCurrent(ctx, userID)
}

func (r *statements) GetByPeriod(ctx context.Context, userID uuid.UUID, p model.BillingPeriod) (*model.Statement, error) {
	return r.get(func(s model.Statement) bool { return s.UserID == userID && s.Period == p })
}

func (r *statements) Latest(ctx context.Context, userID uuid.UUID) (*model.Statement, error) {
	list, _ := r.ListByUser(ctx, userID)
	if len(list) == 0 {
		return nil, fmt.Errorf("latest statement: %w", model.ErrNotFound)
	}
	return &list[0], nil
}

func (r *statements) filter(match func(model.Statement) bool, less func(a, b model.Statement) bool) []model.Statement {
	defer r.lock()()
	var out []model.Statement
	for _, s := range r.s.st.statements {
		if match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byPeriod(a, b model.Statement) bool {
	if a.Period != b.Period {
		return a.Period.Before(b.Period)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (r *statements) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Statement, error) {
	return r.filter(
		func(s model.Statement) bool { return s.UserID == userID },
		func(a, b model.Statement) bool { return b.Period.Before(a.Period) },
	), nil
}

func (r *statements) ListOutstanding(ctx context.Context, userID uuid.UUID) ([]model.Statement, error) {
	return r.filter(func(s model.Statement) bool {
		return s.UserID == userID &&
			(s.Status == model.StatementStatusCurrent || s.Status == model.StatementStatusPendingPayment)
	}, byPeriod), nil
}

func (r *statements) ListCurrentBefore(ctx context.Context, p model.BillingPeriod) ([]model.Statement, error) {
	return r.filter(func(s model.Statement) bool {
		return s.Status == model.StatementStatusCurrent && s.Period.Before(p)
	}, byPeriod), nil
}

func (r *statements) ListPendingDue(ctx context.Context, now time.Time) ([]model.Statement, error) {
	return r.filter(func(s model.Statement) bool {
		return s.Status == model.StatementStatusPendingPayment && s.DueDate != nil && s.DueDate.Before(now)
	}, func(a, b model.Statement) bool { return a.DueDate.Before(*b.DueDate) }), nil
}

func (r *statements) update(id uuid.UUID, fn func(s *model.Statement) error) error {
	defer r.lock()()
	s, ok := r.s.st.statements[id]
	if !ok {
		return fmt.Errorf("statement %s: %w", id, model.ErrNotFound)
	}
	if err := fn(&s); err != nil {
		return err
	}
	r.s.st.statements[id] = s
	return nil
}

func (r *statements) UpdateTotals(ctx context.Context, in *model.Statement) error {
	return r.update(in.ID, func(s *model.Statement) error {
		s.TotalDebit, s.TotalCredit, s.ClosingBalance = in.TotalDebit, in.TotalCredit, in.ClosingBalance
		s.UpdatedAt = in.UpdatedAt
		return nil
	})
}

func (r *statements) UpdateLifecycle(ctx context.Context, in *model.Statement) error {
	return r.update(in.ID, func(s *model.Statement) error {
		if in.Status == model.StatementStatusCurrent {
			for _, o := range r.s.st.statements {
				if o.ID != in.ID && o.UserID == in.UserID && o.Status == model.StatementStatusCurrent {
					return fmt.Errorf("current statement for user %s: %w", in.UserID, model.ErrAlreadyExists)
				}
			}
		}
		s.Status, s.ClosedAt, s.DueDate, s.UpdatedAt = in.Status, in.ClosedAt, in.DueDate, in.UpdatedAt
		return nil
	})
}
