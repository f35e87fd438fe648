package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"credit-billing/internal/model"
)

// DefaultCapacityValidity applies when the risk decision carries no expiry date.
const DefaultCapacityValidity = 365 * 24 * time.Hour

type CreditService struct {
	store  Store
	rates  model.BillingRates
	clock  Clock
	codes  CodeGenerator
	logger *logrus.Logger
}

func NewCreditService(store Store, rates model.BillingRates, clock Clock, codes CodeGenerator, logger *logrus.Logger) *CreditService {
	if clock == nil {
		clock = SystemClock{}
	}
	if codes == nil {
		codes = RandomCode
	}
	return &CreditService{store: store, rates: rates, clock: clock, codes: codes, logger: logger}
}

// activeCapacity returns the user's active, unexpired capacity. forUpdate locks the row.
func activeCapacity(ctx context.Context, tx Tx, userID uuid.UUID, now time.Time, forUpdate bool) (*model.CreditCapacity, error) {
	get := tx.Capacities().GetActive
	if forUpdate {
		get = tx.Capacities().GetActiveForUpdate
	}
	capacity, err := get(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s", model.ErrCapacityInactive, userID)
		}
		return nil, err
	}
	if capacity.EffectiveStatus(now) == model.CapacityStatusExpired {
		return nil, fmt.Errorf("%w: capacity %s expired at %s", model.ErrCapacityExpired, capacity.ID, capacity.ExpiryDate)
	}
	return capacity, nil
}

// outstandingDebt sums the debt of the user's CURRENT and PENDING_PAYMENT statements. A pending
// statement whose balance opened the CURRENT statement is already inside that opening balance
// and is skipped.
func outstandingDebt(ctx context.Context, tx Tx, userID uuid.UUID) (int64, error) {
	statements, err := tx.Statements().ListOutstanding(ctx, userID)
	if err != nil {
		return 0, err
	}
	carried := make(map[uuid.UUID]bool)
	for _, st := range statements {
		if st.Status == model.StatementStatusCurrent && st.CarriedFromID != nil {
			carried[*st.CarriedFromID] = true
		}
	}
	var debt int64
	for _, st := range statements {
		if st.Status == model.StatementStatusPendingPayment && carried[st.ID] {
			continue
		}
		debt += st.Debt()
	}
	return debt, nil
}

// syncUsedLimit rewrites usedLimit of the active capacity from outstanding debt. Running it
// twice on unchanged ledger state writes the same value.
func syncUsedLimit(ctx context.Context, tx Tx, userID uuid.UUID) error {
	capacity, err := tx.Capacities().GetActiveForUpdate(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	debt, err := outstandingDebt(ctx, tx, userID)
	if err != nil {
		return err
	}
	used := model.ClampLimit(debt, capacity.ApprovedLimit)
	if used == capacity.UsedLimit {
		return nil
	}
	return tx.Capacities().UpdateUsedLimit(ctx, capacity.ID, used)
}

// GetActiveFor returns the user's active capacity whose expiry date is still ahead.
func (s *CreditService) GetActiveFor(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	return activeCapacity(ctx, s.store.Read(), userID, s.clock.Now(), false)
}

// SyncUsedLimit recomputes usedLimit for the user.
func (s *CreditService) SyncUsedLimit(ctx context.Context, userID uuid.UUID) (*model.CreditCapacity, error) {
	var capacity *model.CreditCapacity
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if err := syncUsedLimit(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		capacity, err = tx.Capacities().GetActive(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return capacity, nil
}

// CreatePending records a risk decision as a pending capacity.
func (s *CreditService) CreatePending(ctx context.Context, req model.CreateCapacityRequest) (*model.CreditCapacity, error) {
	s.logger.WithFields(logrus.Fields{
		"user_id":        req.UserID,
		"approved_limit": req.ApprovedLimit,
	}).Info("creating pending credit capacity")

	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrInvalidInput)
	}
	if req.ApprovedLimit <= 0 {
		return nil, fmt.Errorf("%w: approved limit must be positive", model.ErrInvalidAmount)
	}
	if req.GraceDays != nil && *req.GraceDays < 0 {
		return nil, fmt.Errorf("%w: grace days must not be negative", model.ErrInvalidInput)
	}

	now := s.clock.Now()
	expiry := now.Add(DefaultCapacityValidity)
	if req.ExpiryDate != nil {
		if !req.ExpiryDate.After(now) {
			return nil, fmt.Errorf("%w: expiry date must be in the future", model.ErrInvalidInput)
		}
		expiry = *req.ExpiryDate
	}

	capacity := &model.CreditCapacity{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ApprovedLimit: req.ApprovedLimit,
		GraceDays:     req.GraceDays,
		Status:        model.CapacityStatusPending,
		ExpiryDate:    &expiry,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		for attempt := 1; attempt <= maxRefAttempts+1; attempt++ {
			capacity.ReferenceCode = nil
			if attempt <= maxRefAttempts {
				code := s.codes(capacityRefPrefix)
				capacity.ReferenceCode = &code
			}
			err := tx.Capacities().Create(ctx, capacity)
			if err == nil {
				return nil
			}
			if !errors.Is(err, model.ErrAlreadyExists) {
				return err
			}
			pending, err := s.hasPending(ctx, tx, req.UserID)
			if err != nil {
				return err
			}
			if pending {
				return fmt.Errorf("%w: user %s already has a pending capacity", model.ErrCapacityExists, req.UserID)
			}
		}
		return fmt.Errorf("failed to create credit capacity: %w", model.ErrAlreadyExists)
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to create credit capacity for user %s", req.UserID)
		return nil, err
	}
	return capacity, nil
}

func (s *CreditService) hasPending(ctx context.Context, tx Tx, userID uuid.UUID) (bool, error) {
	list, err := tx.Capacities().ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range list {
		if c.Status == model.CapacityStatusPending {
			return true, nil
		}
	}
	return false, nil
}

// Activate makes the capacity the user's only active one. Activating an active capacity is a no-op.
func (s *CreditService) Activate(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	var capacity *model.CreditCapacity
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		capacity, err = tx.Capacities().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		switch capacity.Status {
		case model.CapacityStatusActive:
			return nil
		case model.CapacityStatusPending, model.CapacityStatusSuspended:
		default:
			return fmt.Errorf("%w: capacity %s is %s", model.ErrInvalidState, id, capacity.Status)
		}
		if capacity.ExpiryDate != nil && !now.Before(*capacity.ExpiryDate) {
			return fmt.Errorf("%w: capacity %s", model.ErrCapacityExpired, id)
		}

		suspended, err := tx.Capacities().SuspendActive(ctx, capacity.UserID, capacity.ID)
		if err != nil {
			return err
		}
		capacity.Status = model.CapacityStatusActive
		capacity.ApprovedAt = &now
		capacity.UpdatedAt = now
		if err := tx.Capacities().UpdateStatus(ctx, capacity); err != nil {
			return err
		}
		if err := syncUsedLimit(ctx, tx, capacity.UserID); err != nil {
			return err
		}
		capacity, err = tx.Capacities().GetByID(ctx, id)
		if err != nil {
			return err
		}

		s.logger.WithFields(logrus.Fields{
			"capacity_id": id,
			"user_id":     capacity.UserID,
			"suspended":   suspended,
		}).Info("credit capacity activated")
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to activate credit capacity %s", id)
		return nil, err
	}
	return capacity, nil
}

// Suspend takes an active or pending capacity out of use.
func (s *CreditService) Suspend(ctx context.Context, id uuid.UUID) (*model.CreditCapacity, error) {
	var capacity *model.CreditCapacity
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		var err error
		capacity, err = tx.Capacities().GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch capacity.Status {
		case model.CapacityStatusSuspended:
			return nil
		case model.CapacityStatusActive, model.CapacityStatusPending:
		default:
			return fmt.Errorf("%w: capacity %s is %s", model.ErrInvalidState, id, capacity.Status)
		}
		capacity.Status = model.CapacityStatusSuspended
		capacity.UpdatedAt = s.clock.Now()
		return tx.Capacities().UpdateStatus(ctx, capacity)
	})
	if err != nil {
		s.logger.WithError(err).Warnf("failed to suspend credit capacity %s", id)
		return nil, err
	}
	s.logger.WithField("capacity_id", id).Info("credit capacity suspended")
	return capacity, nil
}

// Summary projects the user's active capacity, reporting expiry as a status.
func (s *CreditService) Summary(ctx context.Context, userID uuid.UUID) (*model.CapacitySummary, error) {
	capacity, err := s.store.Read().Capacities().GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.CapacitySummary{
		ID:             capacity.ID,
		Status:         capacity.EffectiveStatus(s.clock.Now()),
		ApprovedLimit:  capacity.ApprovedLimit,
		UsedLimit:      capacity.UsedLimit,
		AvailableLimit: capacity.AvailableLimit(),
		GraceDays:      capacity.EffectiveGraceDays(s.rates.DefaultGraceDays),
		ExpiryDate:     capacity.ExpiryDate,
	}, nil
}

func (s *CreditService) History(ctx context.Context, userID uuid.UUID) ([]model.CreditCapacity, error) {
	list, err := s.store.Read().Capacities().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, nil
}
