package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AllowedDurations are the rental terms, in days, a user can buy.
var AllowedDurations = []int{30, 90, 180}

// ValidateDuration checks that days is one of AllowedDurations.
func ValidateDuration(days int) error {
	for _, d := range AllowedDurations {
		if d == days {
			return nil
		}
	}
	return fmt.Errorf("%w: duration_days must be one of %v, got %d", ErrValidation, AllowedDurations, days)
}

// RentalState is the derived lifecycle state of a rental.
type RentalState string

const (
	RentalPending   RentalState = "pending"
	RentalActive    RentalState = "active"
	RentalCompleted RentalState = "completed"
	RentalFailed    RentalState = "failed"
	RentalCancelled RentalState = "cancelled"
)

// Rental is a contract granting a user a hashrate allocation on a miner for a fixed duration.
type Rental struct {
	// ID is the unique identifier for the rental.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// UserID is the owner of the rental.
	UserID uint `json:"user_id" gorm:"column:user_id;not null;index"`
	// MinerID is the miner profile the hashrate is allocated on.
	MinerID uint `json:"miner_id" gorm:"column:miner_id;not null;index"`
	// MinerName is filled for projections and not stored.
	MinerName string `json:"miner_name,omitempty" gorm:"-"`
	// HashrateAllocated is the rented hashrate in TH/s.
	HashrateAllocated decimal.Decimal `json:"hashrate_allocated" gorm:"column:hashrate_allocated;type:numeric(20,8);not null"`
	// DurationDays is the rental term.
	DurationDays int `json:"duration_days" gorm:"column:duration_days;not null"`
	// MonthlyFeeUSD is the 30-day equivalent price of the allocation.
	MonthlyFeeUSD decimal.Decimal `json:"monthly_fee_usd" gorm:"column:monthly_fee_usd;type:numeric(20,6);not null;default:0"`
	// StartDate is set at activation.
	StartDate *time.Time `json:"start_date" gorm:"column:start_date"`
	// EndDate is StartDate + DurationDays.
	EndDate *time.Time `json:"end_date" gorm:"column:end_date;index"`
	// IsActive is true from activation until completion or deactivation.
	IsActive bool `json:"is_active" gorm:"column:is_active;not null;default:false;index"`
	// TotalProfitBTC is the accumulated earnings. Never decreases.
	TotalProfitBTC decimal.Decimal `json:"total_profit_btc" gorm:"column:total_profit_btc;type:numeric(20,8);not null;default:0"`
	// LastAccrualAt is the end of the most recent accrued period.
	LastAccrualAt *time.Time `json:"last_accrual_at" gorm:"column:last_accrual_at"`
	// CompletedAt is set when the rental reached its end date.
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`
	// CancelledAt is set when the payment failed or an admin deactivated the rental.
	CancelledAt *time.Time `json:"cancelled_at,omitempty" gorm:"column:cancelled_at"`
	// CreatedAt is the time the rental was reserved.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for GORM
func (Rental) TableName() string {
	return "rentals"
}

// State derives the lifecycle state from the stored columns.
func (r *Rental) State() RentalState {
	switch {
	case r.IsActive:
		return RentalActive
	case r.CompletedAt != nil:
		return RentalCompleted
	case r.CancelledAt != nil && r.StartDate == nil:
		return RentalFailed
	case r.CancelledAt != nil:
		return RentalCancelled
	default:
		return RentalPending
	}
}

// Activate starts the rental at the given time.
func (r *Rental) Activate(at time.Time) error {
	if r.StartDate != nil || r.IsActive || r.CompletedAt != nil || r.CancelledAt != nil {
		return fmt.Errorf("%w: rental %d is %s, cannot activate", ErrInvariantViolation, r.ID, r.State())
	}
	start := at
	end := start.AddDate(0, 0, r.DurationDays)
	r.StartDate = &start
	r.EndDate = &end
	r.LastAccrualAt = &start
	r.IsActive = true
	return nil
}

// Cancel marks a pending rental failed, or stops an active one before its end date.
func (r *Rental) Cancel(at time.Time) error {
	if r.CompletedAt != nil || r.CancelledAt != nil {
		return fmt.Errorf("rental %d is %s: %w", r.ID, r.State(), ErrAlreadySettled)
	}
	cancelled := at
	r.IsActive = false
	r.CancelledAt = &cancelled
	return nil
}
