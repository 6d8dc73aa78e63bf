package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/money"
)

var baselineDays = decimal.NewFromInt(30)

// RentalPrice returns the USD price of renting hashrate on the miner for the given days.
// The miner price covers its full hashrate for 30 days.
func RentalPrice(miner *models.MinerProfile, hashrate decimal.Decimal, days int) decimal.Decimal {
	return money.USD(miner.PriceUSD.Mul(hashrate).Mul(decimal.NewFromInt(int64(days))).
		Div(miner.HashrateTH.Mul(baselineDays)))
}

// MonthlyFee returns the 30-day price of the allocation.
func MonthlyFee(miner *models.MinerProfile, hashrate decimal.Decimal) decimal.Decimal {
	return RentalPrice(miner, hashrate, 30)
}

func validateAllocation(miner *models.MinerProfile, hashrate decimal.Decimal) error {
	if !hashrate.IsPositive() {
		return fmt.Errorf("%w: hashrate_allocated must be positive", models.ErrValidation)
	}
	if hashrate.GreaterThan(miner.HashrateTH) {
		return fmt.Errorf("%w: hashrate_allocated %s exceeds miner hashrate %s",
			models.ErrValidation, hashrate, miner.HashrateTH)
	}
	return nil
}

// CreateIntent reserves one unit of the miner and creates a pending payment
// paired with an inactive rental.
func (e *Engine) CreateIntent(ctx context.Context, actor models.Actor, req models.CheckoutRequest) (*models.Checkout, error) {
	cryptoType, err := models.ParseCryptoType(req.CryptoType)
	if err != nil {
		return nil, err
	}
	if err := models.ValidateDuration(req.DurationDays); err != nil {
		return nil, err
	}
	miner, err := e.repo.GetMiner(ctx, req.MinerID)
	if err != nil {
		return nil, fmt.Errorf("invalid miner: %w", err)
	}
	if err := validateAllocation(miner, req.HashrateAllocated); err != nil {
		return nil, err
	}

	amount := RentalPrice(miner, req.HashrateAllocated, req.DurationDays)
	payAddress := e.depositAddress(cryptoType)
	cryptoAmount := e.quote(cryptoType, amount)
	now := e.now()

	var (
		rental  *models.Rental
		payment *models.PaymentIntent
	)
	err = e.repo.Transaction(ctx, func(tx models.Repository) error {
		if err := tx.DecrementUnit(ctx, miner.ID); err != nil {
			return err
		}
		rental = &models.Rental{
			UserID:            actor.UserID,
			MinerID:           miner.ID,
			MinerName:         miner.Name,
			HashrateAllocated: req.HashrateAllocated,
			DurationDays:      req.DurationDays,
			MonthlyFeeUSD:     MonthlyFee(miner, req.HashrateAllocated),
			TotalProfitBTC:    decimal.Zero,
			CreatedAt:         now,
		}
		if err := tx.CreateRental(ctx, rental); err != nil {
			return err
		}
		payment = &models.PaymentIntent{
			UserID:       actor.UserID,
			RentalID:     &rental.ID,
			AmountUSD:    amount,
			CryptoType:   cryptoType,
			CryptoAmount: cryptoAmount,
			PayAddress:   payAddress,
			Status:       models.PaymentPending,
			CreatedAt:    now,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		if errors.Is(err, models.ErrCapacityExhausted) {
			metrics.CheckoutsTotal.WithLabelValues("capacity_exhausted").Inc()
		} else {
			metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	metrics.CheckoutsTotal.WithLabelValues("created").Inc()
	e.logger.Info("Payment intent created",
		"payment_id", payment.ID,
		"rental_id", rental.ID,
		"user_id", actor.UserID,
		"miner_id", miner.ID,
		"amount_usd", amount)

	return &models.Checkout{
		Rental:       rental,
		Payment:      payment,
		Instructions: e.instructions(payment),
	}, nil
}

func (e *Engine) depositAddress(cryptoType models.CryptoType) string {
	switch cryptoType {
	case models.CryptoBTC:
		return e.config.BTCDepositAddress
	case models.CryptoETH:
		return e.config.ETHDepositAddress
	}
	return ""
}

// quote converts a USD amount into the crypto amount shown to the user.
// Only BTC is quoted; the oracle carries no ETH price.
func (e *Engine) quote(cryptoType models.CryptoType, amountUSD decimal.Decimal) decimal.Decimal {
	switch cryptoType {
	case models.CryptoBTC:
		price := e.pricing.CurrentPrice().BTCPriceUSD
		if !price.IsPositive() {
			return decimal.Zero
		}
		return amountUSD.DivRound(price, cryptoType.Decimals())
	case models.CryptoETH:
		return decimal.Zero
	}
	return decimal.Zero
}

// PaymentURI builds the BIP21 / EIP681 style URI a wallet understands.
func PaymentURI(cryptoType models.CryptoType, address string, amount decimal.Decimal) string {
	uri := fmt.Sprintf("%s:%s", cryptoType.URIScheme(), address)
	if amount.IsPositive() && cryptoType == models.CryptoBTC {
		uri += "?amount=" + amount.StringFixed(cryptoType.Decimals())
	}
	return uri
}

func (e *Engine) instructions(payment *models.PaymentIntent) models.PaymentInstructions {
	uri := PaymentURI(payment.CryptoType, payment.PayAddress, payment.CryptoAmount)
	instructions := models.PaymentInstructions{
		PayAddress:   payment.PayAddress,
		CryptoType:   payment.CryptoType,
		CryptoAmount: payment.CryptoAmount,
		AmountUSD:    payment.AmountUSD,
		PaymentURI:   uri,
		ExpiresAt:    payment.CreatedAt.Add(e.config.PaymentTimeout),
	}
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		e.logger.Warn("Failed to render payment QR code", "payment_id", payment.ID, "error", err)
		return instructions
	}
	instructions.QRCodePNG = base64.StdEncoding.EncodeToString(png)
	return instructions
}
