package model

import (
	"time"

	"github.com/google/uuid"
)

type CapacityStatus string

const (
	CapacityStatusPending   CapacityStatus = "pending"
	CapacityStatusActive    CapacityStatus = "active"
	CapacityStatusSuspended CapacityStatus = "suspended"
	CapacityStatusExpired   CapacityStatus = "expired"
)

func (s CapacityStatus) Valid() bool {
	switch s {
	case CapacityStatusPending, CapacityStatusActive, CapacityStatusSuspended, CapacityStatusExpired:
		return true
	}
	return false
}

// CreditCapacity is a user's approved revolving limit.
type CreditCapacity struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	ApprovedLimit int64          `json:"approved_limit" db:"approved_limit"`
	UsedLimit     int64          `json:"used_limit" db:"used_limit"`
	GraceDays     *int           `json:"grace_days,omitempty" db:"grace_days"` // nil falls back to the system default
	Status        CapacityStatus `json:"status" db:"status"`
	ExpiryDate    *time.Time     `json:"expiry_date,omitempty" db:"expiry_date"`
	ApprovedAt    *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	ReferenceCode *string        `json:"reference_code,omitempty" db:"reference_code"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// EffectiveStatus reports expired for an active record whose expiry date has passed.
// Expiry is evaluated on read and never persisted by a sweep.
func (c *CreditCapacity) EffectiveStatus(now time.Time) CapacityStatus {
	if c.Status == CapacityStatusActive && c.ExpiryDate != nil && !now.Before(*c.ExpiryDate) {
		return CapacityStatusExpired
	}
	return c.Status
}

// AvailableLimit is approved minus used, clamped to [0, approved].
func (c *CreditCapacity) AvailableLimit() int64 {
	return ClampLimit(c.ApprovedLimit-c.UsedLimit, c.ApprovedLimit)
}

// EffectiveGraceDays resolves the per-user override against the system default.
func (c *CreditCapacity) EffectiveGraceDays(def int) int {
	if c == nil || c.GraceDays == nil || *c.GraceDays < 0 {
		return def
	}
	return *c.GraceDays
}

// ClampLimit bounds v to [0, max].
func ClampLimit(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if max >= 0 && v > max {
		return max
	}
	return v
}

// CapacitySummary is the read projection of a user's capacity.
type CapacitySummary struct {
	ID             uuid.UUID      `json:"id"`
	Status         CapacityStatus `json:"status"`
	ApprovedLimit  int64          `json:"approved_limit"`
	UsedLimit      int64          `json:"used_limit"`
	AvailableLimit int64          `json:"available_limit"`
	GraceDays      int            `json:"grace_days"`
	ExpiryDate     *time.Time     `json:"expiry_date,omitempty"`
}

// CreateCapacityRequest is the risk decision that opens a pending capacity.
type CreateCapacityRequest struct {
	UserID        uuid.UUID  `json:"user_id" validate:"required"`
	ApprovedLimit int64      `json:"approved_limit" validate:"required,gt=0"`
	GraceDays     *int       `json:"grace_days"`
	ExpiryDate    *time.Time `json:"expiry_date"`
}
