package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CryptoType is the currency a payment intent is settled in.
type CryptoType string

const (
	CryptoBTC CryptoType = "BTC"
	CryptoETH CryptoType = "ETH"
)

// CryptoTypes lists every supported crypto type.
var CryptoTypes = []CryptoType{CryptoBTC, CryptoETH}

// ParseCryptoType converts user input into a CryptoType.
func ParseCryptoType(s string) (CryptoType, error) {
	switch CryptoType(strings.ToUpper(strings.TrimSpace(s))) {
	case CryptoBTC:
		return CryptoBTC, nil
	case CryptoETH:
		return CryptoETH, nil
	}
	return "", fmt.Errorf("%w: unsupported crypto type %q", ErrValidation, s)
}

// Decimals returns the number of decimals used to quote an amount in this currency.
func (c CryptoType) Decimals() int32 {
	switch c {
	case CryptoBTC:
		return 8
	case CryptoETH:
		return 8
	}
	return 8
}

// URIScheme returns the payment URI scheme for wallets (BIP21 / EIP681).
func (c CryptoType) URIScheme() string {
	switch c {
	case CryptoBTC:
		return "bitcoin"
	case CryptoETH:
		return "ethereum"
	}
	return ""
}

// PaymentStatus is the settlement state of a payment intent.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentFailed    PaymentStatus = "failed"
)

// ParsePaymentStatus converts a filter value into a PaymentStatus.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(s))) {
	case PaymentPending:
		return PaymentPending, nil
	case PaymentConfirmed:
		return PaymentConfirmed, nil
	case PaymentFailed:
		return PaymentFailed, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrValidation, s)
}

// CanTransition reports whether a payment may move from s to next.
// Only pending payments may settle; settled payments are terminal.
func (s PaymentStatus) CanTransition(next PaymentStatus) bool {
	if s != PaymentPending {
		return false
	}
	return next == PaymentConfirmed || next == PaymentFailed
}

// PaymentIntent records a user's obligation to pay for a rental and its settlement state.
type PaymentIntent struct {
	// ID is the unique identifier and the idempotency key of the payment.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// UserID is the payer.
	UserID uint `json:"user_id" gorm:"column:user_id;not null;index"`
	// RentalID is the rental this payment activates.
	RentalID *uint `json:"rental_id" gorm:"column:rental_id;index"`
	// AmountUSD is the price of the rental.
	AmountUSD decimal.Decimal `json:"amount_usd" gorm:"column:amount_usd;type:numeric(20,6);not null"`
	// CryptoType is the settlement currency.
	CryptoType CryptoType `json:"crypto_type" gorm:"column:crypto_type;size:10;not null;default:'BTC'"`
	// CryptoAmount is the quoted amount in CryptoType at intent creation. Informational only.
	CryptoAmount decimal.Decimal `json:"crypto_amount" gorm:"column:crypto_amount;type:numeric(30,8);not null;default:0"`
	// PayAddress is the deposit address quoted to the user.
	PayAddress string `json:"pay_address" gorm:"column:pay_address;size:128"`
	// Status is the settlement state.
	Status PaymentStatus `json:"status" gorm:"column:status;size:20;not null;default:'pending';index"`
	// FailReason is set when the payment failed.
	FailReason string `json:"fail_reason,omitempty" gorm:"column:fail_reason;size:500"`
	// TxHash is the on-chain transaction hash reported by the processor.
	TxHash *string `json:"tx_hash" gorm:"column:tx_hash;size:256;uniqueIndex"`
	// CreatedAt is the time the intent was created.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
	// ConfirmedAt is set on confirmation.
	ConfirmedAt *time.Time `json:"confirmed_at" gorm:"column:confirmed_at"`
	// FailedAt is set on failure.
	FailedAt *time.Time `json:"failed_at,omitempty" gorm:"column:failed_at"`
}

// TableName specifies the table name for GORM
func (PaymentIntent) TableName() string {
	return "payment_intents"
}
