package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// NetworkStats is the cached view of the Bitcoin network and price.
type NetworkStats struct {
	BTCPriceUSD       decimal.Decimal `json:"btc_price_usd"`
	NetworkHashrateTH decimal.Decimal `json:"network_hashrate_th"`
	Difficulty        decimal.Decimal `json:"difficulty"`
	UpdatedAt         time.Time       `json:"updated_at"`
	// Stale is true when the values are fallbacks or the last refresh failed.
	Stale bool `json:"stale"`
}

type PricingOracle interface {
	// CurrentPrice returns the last known network stats. It never blocks on the upstream.
	CurrentPrice() NetworkStats
}

// Checkout is the result of creating a payment intent.
type Checkout struct {
	Rental       *Rental             `json:"rental"`
	Payment      *PaymentIntent      `json:"payment"`
	Instructions PaymentInstructions `json:"instructions"`
}

// PaymentInstructions tell the user where and how much to pay.
type PaymentInstructions struct {
	PayAddress   string          `json:"pay_address"`
	CryptoType   CryptoType      `json:"crypto_type"`
	CryptoAmount decimal.Decimal `json:"crypto_amount"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	PaymentURI   string          `json:"payment_uri"`
	// QRCodePNG is the base64 encoded PNG of PaymentURI.
	QRCodePNG string    `json:"qr_code_png,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CheckoutRequest is a user's request to rent hashrate.
type CheckoutRequest struct {
	MinerID           uint            `json:"miner_id"`
	HashrateAllocated decimal.Decimal `json:"hashrate_allocated"`
	DurationDays      int             `json:"duration_days"`
	CryptoType        string          `json:"crypto_type"`
}

// ProfitEstimate is the projected earnings of renting hashrate on a miner.
type ProfitEstimate struct {
	MinerID           uint            `json:"miner_id"`
	HashrateTH        decimal.Decimal `json:"hashrate_th"`
	DurationDays      int             `json:"duration_days"`
	CostUSD           decimal.Decimal `json:"cost_usd"`
	DailyBTC          decimal.Decimal `json:"daily_btc"`
	MonthlyBTC        decimal.Decimal `json:"monthly_btc"`
	TotalBTC          decimal.Decimal `json:"total_btc"`
	DailyUSD          decimal.Decimal `json:"daily_usd"`
	MonthlyUSD        decimal.Decimal `json:"monthly_usd"`
	TotalUSD          decimal.Decimal `json:"total_usd"`
	ROIDays           *int            `json:"roi_days"`
	BTCPriceUSD       decimal.Decimal `json:"btc_price_usd"`
	NetworkHashrateTH decimal.Decimal `json:"network_hashrate_th"`
}

// AccrualResult summarizes what a single accrual pass did.
type AccrualResult struct {
	Run     *AccrualRun `json:"run"`
	Skipped bool        `json:"skipped"`
}

// Accruer runs accrual passes on demand.
type Accruer interface {
	RunOnce(ctx context.Context) (*AccrualResult, error)
}

// APIServer is the HTTP surface of the service.
type APIServer interface {
	Start()
	Shutdown() error
}
