package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralLink ties a referred user to the user who referred them.
// A user has at most one referrer, set at registration.
type ReferralLink struct {
	// ID is the unique identifier for the link.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// ReferrerUserID is the user earning commissions.
	ReferrerUserID uint `json:"referrer_id" gorm:"column:referrer_user_id;not null;index"`
	// ReferredUserID is the registered user. Unique.
	ReferredUserID uint `json:"referred_id" gorm:"column:referred_user_id;not null;uniqueIndex"`
	// CreatedAt is the registration time of the referred user.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (ReferralLink) TableName() string {
	return "referral_links"
}

// ReferralEarning is one commission generated by one confirmed payment of a referred user.
type ReferralEarning struct {
	// ID is the unique identifier for the earning.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// ReferralLinkID is the link the commission is credited through.
	ReferralLinkID uint `json:"referral_link_id" gorm:"column:referral_link_id;not null;index"`
	// PaymentIntentID is the commission-generating payment. Unique.
	PaymentIntentID uint `json:"payment_intent_id" gorm:"column:payment_intent_id;not null;uniqueIndex"`
	// CommissionUSD is amount_usd * referral_percentage / 100.
	CommissionUSD decimal.Decimal `json:"commission_usd" gorm:"column:commission_usd;type:numeric(20,6);not null"`
	// CreatedAt is the settlement time.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for GORM
func (ReferralEarning) TableName() string {
	return "referral_earnings"
}

// ReferralSummary is the per-link projection shown to referrers.
type ReferralSummary struct {
	ID                  uint            `json:"id"`
	ReferrerID          uint            `json:"referrer_id"`
	ReferredID          uint            `json:"referred_id"`
	ReferredEmail       string          `json:"referred_email"`
	CommissionEarnedUSD decimal.Decimal `json:"commission_earned_usd"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ReferralStats is the aggregate referral position of a user.
type ReferralStats struct {
	ReferralCode       string          `json:"referral_code"`
	TotalReferrals     int64           `json:"total_referrals"`
	TotalCommissionUSD decimal.Decimal `json:"total_commission_usd"`
	PaidOutUSD         decimal.Decimal `json:"paid_out_usd"`
	AvailableUSD       decimal.Decimal `json:"available_usd"`
	MinWithdrawalUSD   decimal.Decimal `json:"min_withdrawal_usd"`
}
