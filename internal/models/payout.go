package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus is the processing state of a payout request.
type PayoutStatus string

const (
	PayoutPending  PayoutStatus = "pending"
	PayoutPaid     PayoutStatus = "paid"
	PayoutRejected PayoutStatus = "rejected"
)

// ParsePayoutStatus converts a filter value into a PayoutStatus.
func ParsePayoutStatus(s string) (PayoutStatus, error) {
	switch PayoutStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PayoutPending:
		return PayoutPending, nil
	case PayoutPaid:
		return PayoutPaid, nil
	case PayoutRejected:
		return PayoutRejected, nil
	}
	return "", fmt.Errorf("%w: unknown payout status %q", ErrValidation, s)
}

// Payout is a withdrawal of referral commission balance.
type Payout struct {
	ID          uint            `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uint            `json:"user_id" gorm:"column:user_id;not null;index"`
	UserEmail   string          `json:"user_email,omitempty" gorm:"-"`
	AmountUSD   decimal.Decimal `json:"amount_usd" gorm:"column:amount_usd;type:numeric(20,6);not null"`
	PayoutType  string          `json:"payout_type" gorm:"column:payout_type;size:20;not null;default:'referral_commission'"`
	Status      PayoutStatus    `json:"status" gorm:"column:status;size:20;not null;default:'pending';index"`
	ProcessedAt *time.Time      `json:"processed_at" gorm:"column:processed_at"`
	CreatedAt   time.Time       `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for GORM
func (Payout) TableName() string {
	return "payouts"
}

// PayoutTypeReferralCommission is the only payout type the engine creates.
const PayoutTypeReferralCommission = "referral_commission"

// PayoutBatch summarizes a bulk payout processing.
type PayoutBatch struct {
	Count    int             `json:"count"`
	TotalUSD decimal.Decimal `json:"total_amount_usd"`
}
