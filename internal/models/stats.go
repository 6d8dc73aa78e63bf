package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AdminStats is the dashboard aggregate over the ledger.
type AdminStats struct {
	TotalUsers            int64           `json:"total_users"`
	TotalMiners           int64           `json:"total_miners"`
	TotalRentals          int64           `json:"total_rentals"`
	ActiveRentals         int64           `json:"active_rentals"`
	CompletedRentals      int64           `json:"completed_rentals"`
	PendingPayments       int64           `json:"pending_payments"`
	ConfirmedPayments     int64           `json:"confirmed_payments"`
	FailedPayments        int64           `json:"failed_payments"`
	TotalRevenueUSD       decimal.Decimal `json:"total_revenue_usd"`
	TotalActiveHashrateTH decimal.Decimal `json:"total_active_hashrate_th"`
	TotalProfitBTC        decimal.Decimal `json:"total_profit_btc"`
	TotalReferralEarnings int64           `json:"total_referral_earnings"`
	ReferralCommissionUSD decimal.Decimal `json:"referral_commission_usd"`
	PendingPayoutsUSD     decimal.Decimal `json:"pending_payouts_usd"`
	RecentUsers           []*User         `json:"recent_users"`
	RecentRentals         []*Rental       `json:"recent_rentals"`
}

// UserDetails is the admin view of one user.
type UserDetails struct {
	User     *User              `json:"user"`
	Rentals  []*Rental          `json:"rentals"`
	Payments []*PaymentIntent   `json:"payments"`
	Referral []*ReferralSummary `json:"referrals"`
	Stats    UserStats          `json:"stats"`
}

// UserStats aggregates one user's activity.
type UserStats struct {
	TotalRentals        int             `json:"total_rentals"`
	ActiveRentals       int             `json:"active_rentals"`
	TotalSpentUSD       decimal.Decimal `json:"total_spent_usd"`
	TotalProfitBTC      decimal.Decimal `json:"total_profit_btc"`
	TotalReferrals      int             `json:"total_referrals"`
	ReferralEarningsUSD decimal.Decimal `json:"referral_earnings_usd"`
}

// Page selects a window of a listing.
type Page struct {
	Page    int
	PerPage int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if p.PerPage > 100 {
		p.PerPage = 100
	}
	return p
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pages returns the page count for total rows.
func (p Page) Pages(total int64) int {
	if total == 0 {
		return 0
	}
	return int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
}

// RentalFilter narrows admin rental listings.
type RentalFilter struct {
	// Active filters on is_active when set.
	Active *bool
	UserID uint
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	Status PaymentStatus
	UserID uint
}

// UserFilter narrows user listings.
type UserFilter struct {
	// Search matches a substring of the email.
	Search string
}

// CleanupKind is a bulk maintenance operation over the ledger.
type CleanupKind string

const (
	CleanupFailedPayments     CleanupKind = "failed_payments"
	CleanupOldInactiveRentals CleanupKind = "old_inactive_rentals"
	CleanupOrphanPayouts      CleanupKind = "orphan_payouts"
	CleanupAll                CleanupKind = "all"
)

// ParseCleanupKind converts user input into a CleanupKind.
func ParseCleanupKind(s string) (CleanupKind, error) {
	switch CleanupKind(strings.ToLower(strings.TrimSpace(s))) {
	case CleanupFailedPayments:
		return CleanupFailedPayments, nil
	case CleanupOldInactiveRentals:
		return CleanupOldInactiveRentals, nil
	case CleanupOrphanPayouts:
		return CleanupOrphanPayouts, nil
	case CleanupAll:
		return CleanupAll, nil
	}
	return "", fmt.Errorf("%w: unknown cleanup type %q", ErrValidation, s)
}

// CleanupResult reports rows removed per kind.
type CleanupResult struct {
	Deleted map[CleanupKind]int64 `json:"deleted"`
}
