package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository is the ledger storage used by the engine and the accrual scheduler.
//
// Methods called on the Repository handed to a Transaction callback run inside
// that transaction. The *ForUpdate getters take a row lock that is held until
// the transaction ends.
type Repository interface {
	// Transaction runs fn in a single atomic unit. Any error returned by fn rolls back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// Miner catalog
	GetMiner(ctx context.Context, id uint) (*MinerProfile, error)
	ListMiners(ctx context.Context) ([]*MinerProfile, error)
	CreateMiner(ctx context.Context, miner *MinerProfile) error
	UpdateMiner(ctx context.Context, miner *MinerProfile) error
	DeleteMiner(ctx context.Context, id uint) error
	// DecrementUnit atomically takes one unit of capacity, failing with ErrCapacityExhausted at zero.
	DecrementUnit(ctx context.Context, minerID uint) error
	// ReleaseUnit gives one unit of capacity back.
	ReleaseUnit(ctx context.Context, minerID uint) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uint) (*User, error)
	// GetUserForUpdate locks the user row. Used to serialize balance changes of one user.
	GetUserForUpdate(ctx context.Context, id uint) (*User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	ListUsers(ctx context.Context, filter UserFilter, page Page) ([]*User, int64, error)
	SetUserAdmin(ctx context.Context, id uint, isAdmin bool) error

	// Rentals
	CreateRental(ctx context.Context, rental *Rental) error
	GetRental(ctx context.Context, id uint) (*Rental, error)
	GetRentalForUpdate(ctx context.Context, id uint) (*Rental, error)
	SaveRental(ctx context.Context, rental *Rental) error
	ListRentals(ctx context.Context, filter RentalFilter, page Page) ([]*Rental, int64, error)
	// ListActiveRentalIDs returns the ids of every rental with is_active = true.
	ListActiveRentalIDs(ctx context.Context) ([]uint, error)
	CountActiveRentalsForMiner(ctx context.Context, minerID uint) (int64, error)
	// CountPendingRentalsForMiner counts never activated rentals on the miner whose payment is still pending.
	CountPendingRentalsForMiner(ctx context.Context, minerID uint) (int64, error)

	// Payments
	CreatePayment(ctx context.Context, payment *PaymentIntent) error
	GetPayment(ctx context.Context, id uint) (*PaymentIntent, error)
	GetPaymentForUpdate(ctx context.Context, id uint) (*PaymentIntent, error)
	GetPaymentByTxHash(ctx context.Context, txHash string) (*PaymentIntent, error)
	// SettlePayment writes the settlement columns (status, fail reason, tx hash,
	// timestamps) of a payment. It fails with ErrAlreadySettled unless the stored
	// status is still pending.
	SettlePayment(ctx context.Context, payment *PaymentIntent) error
	ListPayments(ctx context.Context, filter PaymentFilter, page Page) ([]*PaymentIntent, int64, error)
	// ListStalePendingPaymentIDs returns pending payments created before the cutoff.
	ListStalePendingPaymentIDs(ctx context.Context, before time.Time) ([]uint, error)

	// Referrals
	CreateReferralLink(ctx context.Context, link *ReferralLink) error
	GetReferralLinkByReferred(ctx context.Context, referredUserID uint) (*ReferralLink, error)
	ListReferralSummaries(ctx context.Context, referrerUserID uint) ([]*ReferralSummary, error)
	// CreateReferralEarning inserts a commission row. A second row for the same
	// payment intent fails with ErrDuplicate.
	CreateReferralEarning(ctx context.Context, earning *ReferralEarning) error
	CountReferralEarningsForPayment(ctx context.Context, paymentID uint) (int64, error)
	SumReferralEarnings(ctx context.Context, referrerUserID uint) (decimal.Decimal, error)

	// Payouts
	CreatePayout(ctx context.Context, payout *Payout) error
	GetPayoutForUpdate(ctx context.Context, id uint) (*Payout, error)
	SavePayout(ctx context.Context, payout *Payout) error
	ListPayouts(ctx context.Context, status PayoutStatus, page Page) ([]*Payout, int64, error)
	ListPendingPayoutIDs(ctx context.Context) ([]uint, error)
	// SumPayouts totals pending and paid payouts of a user.
	SumPayouts(ctx context.Context, userID uint) (decimal.Decimal, error)

	// Settings
	ListSettings(ctx context.Context) ([]*Setting, error)
	UpsertSetting(ctx context.Context, setting *Setting) error
	// InsertSettingIfMissing creates the setting unless the key exists.
	InsertSettingIfMissing(ctx context.Context, setting *Setting) error

	// Aggregates
	AdminStats(ctx context.Context) (*AdminStats, error)
	TableCounts(ctx context.Context) (map[string]int64, error)

	// Maintenance
	DeleteFailedPayments(ctx context.Context, before time.Time) (int64, error)
	DeleteOldInactiveRentals(ctx context.Context, before time.Time) (int64, error)
	DeleteOrphanPayouts(ctx context.Context) (int64, error)

	// Scheduler coordination
	AcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, name, instanceID string) error
	CreateAccrualRun(ctx context.Context, run *AccrualRun) error
	ListAccrualRuns(ctx context.Context, limit int) ([]*AccrualRun, error)

	Close() error
}
