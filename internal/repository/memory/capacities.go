package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"credit-billing/internal/model"
)

type capacities struct{ *memTx }

// conflict mirrors the one-active and one-pending partial indexes.
func (r *capacities) conflict(c *model.CreditCapacity) error {
	for _, o := range r.s.st.capacities {
		if o.ID == c.ID {
			continue
		}
		if c.ReferenceCode != nil && o.ReferenceCode != nil && *o.ReferenceCode == *c.ReferenceCode {
			return fmt.Errorf("credit capacity reference %s: %w", *c.ReferenceCode, model.ErrAlreadyExists)
		}
		if o.UserID == c.UserID && o.Status == c.Status &&
			(c.Status == model.CapacityStatusActive || c.Status == model.CapacityStatusPending) {
			return fmt.Errorf("%s credit capacity for user %s: %w", c.Status, c.UserID, model.ErrAlreadyExists)
		}
	}
	return nil
}

func (r *capacities) Create(ctx context.Context, c *model.CreditCapacity) error {
	defer r.lock()()
	if err := r.conflict(c); err != nil {
		return err
	}
	r.s.st.capacities[c.ID] = *c
	return nil
}

func (r *capacities) find(match func(model.CreditCapacity) bool) (*model.CreditCapacity, error) {
	defer r.lock()()
	for _, c := range r.s.st.capacities {
		if match(c) {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("credit capacity: %w", model.ErrNotFound)
}

func (r *capacities) GetByID(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	return r.find(func(c model.CreditCapacity) bool { return c.ID == id })
}

func (r *capacities) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	return r.GetByID(ctx, id)
}

func (r *capacities) GetActive(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	return r.find(func(c model.CreditCapacity) bool {
		return c.UserID == userID && c.Status == model.CapacityStatusActive
	})
}

func (r *capacities) GetActiveForUpdate(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	return r.GetActive(ctx, userID)
}

func (r *capacities) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.CreditCapacity, error) {
	defer r.lock()()
	var out []model.CreditCapacity
	for _, c := range r.s.st.capacities {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *capacities) UpdateUsedLimit(ctx context.Context, id uuid.UUID, used int64) error {
	defer r.lock()()
	c, ok := r.s.st.capacities[id]
	if !ok {
		return fmt.Errorf("credit capacity %s: %w", id, model.ErrNotFound)
	}
	if used < 0 {
		return fmt.Errorf("%w: used limit %d", model.ErrInvalidAmount, used)
	}
	c.UsedLimit, c.UpdatedAt = used, time.Now().UTC()
	r.s.st.capacities[id] = c
	return nil
}

func (r *capacities) UpdateStatus(ctx context.Context, in *model.CreditCapacity) error {
	defer r.lock()()
	c, ok := r.s.st.capacities[in.ID]
	if !ok {
		return fmt.Errorf("credit capacity %s: %w", in.ID, model.ErrNotFound)
	}
	c.Status, c.ApprovedAt, c.UpdatedAt = in.Status, in.ApprovedAt, in.UpdatedAt
	if err := r.conflict(&c); err != nil {
		return err
	}
	r.s.st.capacities[in.ID] = c
	return nil
}

func (r *capacities) SuspendActive(ctx context.Context, userID, exceptID uuid.UUID) (int, error) {
	defer r.lock()()
	n := 0
	for id, c := range r.s.st.capacities {
		if c.UserID == userID && c.Status == model.CapacityStatusActive && id != exceptID {
			c.Status, c.UpdatedAt = model.CapacityStatusSuspended, time.Now().UTC()
			r.s.st.capacities[id] = c
			n++
		}
	}
	return n, nil
}
