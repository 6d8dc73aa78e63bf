package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/money"
	"github.com/core-coin/hashrent/pkg/validation"
)

// Webhook statuses reported by the payment processor.
const (
	WebhookConfirmed = "confirmed"
	WebhookFailed    = "failed"
)

const expiredReason = "payment timeout"

// Confirm settles a pending payment as paid. The paired rental is activated
// and the referral commission is recorded in the same transaction.
// txHash is optional.
func (e *Engine) Confirm(ctx context.Context, paymentID uint, txHash string) (*models.Rental, error) {
	var hash *string
	if txHash != "" {
		normalized, err := validation.ValidateAndNormalizeTxHash(txHash)
		if err != nil {
			return nil, validationError(err)
		}
		hash = &normalized
	}
	return e.confirm(ctx, paymentID, hash)
}

// SimulateConfirm lets the owner of a payment confirm it without paying.
// Only available when simulated confirmation is enabled.
func (e *Engine) SimulateConfirm(ctx context.Context, actor models.Actor, paymentID uint) (*models.Rental, error) {
	if !e.config.AllowSimulatedConfirm {
		return nil, fmt.Errorf("simulated confirmation is disabled: %w", models.ErrForbidden)
	}
	payment, err := e.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID != actor.UserID {
		return nil, fmt.Errorf("payment %d belongs to another user: %w", paymentID, models.ErrForbidden)
	}
	e.logger.Warn("Simulated payment confirmation", "payment_id", paymentID, "user_id", actor.UserID)
	return e.confirm(ctx, paymentID, nil)
}

// SubmitTxHash records the transaction hash a user paid with, so the
// processor webhook can resolve the payment.
func (e *Engine) SubmitTxHash(ctx context.Context, actor models.Actor, paymentID uint, txHash string) (*models.PaymentIntent, error) {
	normalized, err := validation.ValidateAndNormalizeTxHash(txHash)
	if err != nil {
		return nil, validationError(err)
	}
	var payment *models.PaymentIntent
	err = e.repo.Transaction(ctx, func(tx models.Repository) error {
		payment, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !actor.CanAccess(payment.UserID) {
			return fmt.Errorf("payment %d: %w", paymentID, models.ErrForbidden)
		}
		if payment.Status != models.PaymentPending {
			return fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, models.ErrAlreadySettled)
		}
		payment.TxHash = &normalized
		// status stays pending, only the hash changes
		return tx.SettlePayment(ctx, payment)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit tx hash: %w", err)
	}
	return payment, nil
}

// HandleWebhook applies a payment processor notification identified by tx hash.
func (e *Engine) HandleWebhook(ctx context.Context, txHash, status string) (*models.PaymentIntent, error) {
	normalized, err := validation.ValidateAndNormalizeTxHash(txHash)
	if err != nil {
		return nil, validationError(err)
	}
	payment, err := e.repo.GetPaymentByTxHash(ctx, normalized)
	if err != nil {
		return nil, err
	}
	switch status {
	case WebhookConfirmed:
		_, err = e.confirm(ctx, payment.ID, &normalized)
	case WebhookFailed:
		err = e.Fail(ctx, payment.ID, "rejected by payment processor")
	default:
		return nil, fmt.Errorf("%w: unknown webhook status %q", models.ErrValidation, status)
	}
	if err != nil {
		return nil, err
	}
	return e.repo.GetPayment(ctx, payment.ID)
}

// ConfirmByTxHash confirms the payment that carries the given tx hash.
func (e *Engine) ConfirmByTxHash(ctx context.Context, txHash string) (*models.Rental, error) {
	normalized, err := validation.ValidateAndNormalizeTxHash(txHash)
	if err != nil {
		return nil, validationError(err)
	}
	payment, err := e.repo.GetPaymentByTxHash(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return e.confirm(ctx, payment.ID, &normalized)
}

func (e *Engine) confirm(ctx context.Context, paymentID uint, txHash *string) (*models.Rental, error) {
	snapshot, err := e.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	now := e.now()

	var (
		payment *models.PaymentIntent
		rental  *models.Rental
		earning *models.ReferralEarning
	)
	err = e.repo.Transaction(ctx, func(tx models.Repository) error {
		payment, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !payment.Status.CanTransition(models.PaymentConfirmed) {
			return fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, models.ErrAlreadySettled)
		}
		if payment.RentalID == nil {
			return fmt.Errorf("%w: payment %d has no rental", models.ErrInvariantViolation, paymentID)
		}
		rental, err = tx.GetRentalForUpdate(ctx, *payment.RentalID)
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: rental %d of payment %d is missing", models.ErrInvariantViolation, *payment.RentalID, paymentID)
		}
		if err != nil {
			return err
		}
		if err := rental.Activate(now); err != nil {
			return err
		}

		payment.Status = models.PaymentConfirmed
		payment.ConfirmedAt = &now
		if txHash != nil {
			payment.TxHash = txHash
		}
		if err := tx.SettlePayment(ctx, payment); err != nil {
			return err
		}
		if err := tx.SaveRental(ctx, rental); err != nil {
			return err
		}
		earning, err = e.settleReferral(ctx, tx, payment, snapshot, now)
		return err
	})
	if err != nil {
		e.invariant(ctx, err, map[string]string{"payment_id": strconv.FormatUint(uint64(paymentID), 10)})
		return nil, fmt.Errorf("failed to confirm payment %d: %w", paymentID, err)
	}

	metrics.PaymentsSettledTotal.WithLabelValues(string(models.PaymentConfirmed)).Inc()
	e.logger.Info("Payment confirmed, rental activated",
		"payment_id", payment.ID,
		"rental_id", rental.ID,
		"user_id", payment.UserID,
		"amount_usd", payment.AmountUSD,
		"end_date", rental.EndDate)
	if earning != nil {
		metrics.ReferralCommissionsTotal.Inc()
		e.logger.Info("Referral commission recorded",
			"payment_id", payment.ID,
			"referral_link_id", earning.ReferralLinkID,
			"commission_usd", earning.CommissionUSD)
	}
	e.sendReceipt(ctx, payment.UserID, "Your hash power rental is active",
		fmt.Sprintf("Payment #%d of $%s has been confirmed. Rental #%d of %s TH/s is active until %s.",
			payment.ID, money.DisplayUSD(payment.AmountUSD), rental.ID, rental.HashrateAllocated, rental.EndDate.Format(time.DateOnly)))
	return rental, nil
}

// settleReferral records the commission for a confirmed payment of a referred user.
func (e *Engine) settleReferral(ctx context.Context, tx models.Repository, payment *models.PaymentIntent, snapshot models.SettingsSnapshot, now time.Time) (*models.ReferralEarning, error) {
	link, err := tx.GetReferralLinkByReferred(ctx, payment.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	earning := &models.ReferralEarning{
		ReferralLinkID:  link.ID,
		PaymentIntentID: payment.ID,
		CommissionUSD:   money.USD(money.Percent(payment.AmountUSD, snapshot.ReferralPercentage)),
		CreatedAt:       now,
	}
	if err := tx.CreateReferralEarning(ctx, earning); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, fmt.Errorf("commission for payment %d already recorded: %w", payment.ID, models.ErrAlreadySettled)
		}
		return nil, err
	}
	return earning, nil
}

// Fail settles a pending payment as failed and releases the reserved unit.
func (e *Engine) Fail(ctx context.Context, paymentID uint, reason string) error {
	now := e.now()
	var payment *models.PaymentIntent
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		payment, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if !payment.Status.CanTransition(models.PaymentFailed) {
			return fmt.Errorf("payment %d is %s: %w", paymentID, payment.Status, models.ErrAlreadySettled)
		}
		payment.Status = models.PaymentFailed
		payment.FailReason = reason
		payment.FailedAt = &now
		if err := tx.SettlePayment(ctx, payment); err != nil {
			return err
		}
		if payment.RentalID == nil {
			return nil
		}
		rental, err := tx.GetRentalForUpdate(ctx, *payment.RentalID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rental.StartDate != nil {
			return fmt.Errorf("%w: rental %d of pending payment %d is already activated",
				models.ErrInvariantViolation, rental.ID, paymentID)
		}
		if err := rental.Cancel(now); err != nil {
			return err
		}
		if err := tx.SaveRental(ctx, rental); err != nil {
			return err
		}
		err = tx.ReleaseUnit(ctx, rental.MinerID)
		if errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("Miner of failed payment no longer exists", "payment_id", paymentID, "miner_id", rental.MinerID)
			return nil
		}
		return err
	})
	if err != nil {
		e.invariant(ctx, err, map[string]string{"payment_id": strconv.FormatUint(uint64(paymentID), 10)})
		return fmt.Errorf("failed to fail payment %d: %w", paymentID, err)
	}
	metrics.PaymentsSettledTotal.WithLabelValues(string(models.PaymentFailed)).Inc()
	e.logger.Info("Payment failed, capacity released", "payment_id", paymentID, "reason", reason)
	return nil
}

// ExpireStale fails every pending payment older than the payment timeout.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-e.config.PaymentTimeout)
	ids, err := e.repo.ListStalePendingPaymentIDs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}
	expired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		err := e.Fail(ctx, id, expiredReason)
		switch {
		case err == nil:
			expired++
		case errors.Is(err, models.ErrAlreadySettled):
			// settled between listing and locking
		default:
			e.logger.Error("Failed to expire payment", "payment_id", id, "error", err)
		}
	}
	return expired, nil
}

// GetPayment returns a payment visible to the actor.
func (e *Engine) GetPayment(ctx context.Context, actor models.Actor, id uint) (*models.PaymentIntent, error) {
	payment, err := e.repo.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(payment.UserID) {
		return nil, fmt.Errorf("payment %d: %w", id, models.ErrForbidden)
	}
	return payment, nil
}

// ListUserPayments returns the actor's own payments, newest first.
func (e *Engine) ListUserPayments(ctx context.Context, actor models.Actor, page models.Page) ([]*models.PaymentIntent, int64, error) {
	return e.repo.ListPayments(ctx, models.PaymentFilter{UserID: actor.UserID}, page.Normalize())
}

func (e *Engine) sendReceipt(ctx context.Context, userID uint, subject, body string) {
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to load user for receipt", "user_id", userID, "error", err)
		return
	}
	e.notificator.Receipt(ctx, &models.Receipt{Email: user.Email, Subject: subject, Body: body})
}
