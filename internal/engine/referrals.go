package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/money"
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeAttempts = 10
)

func generateReferralCode() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func (e *Engine) uniqueReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		exists, err := e.repo.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts: %w", referralCodeAttempts, models.ErrDuplicate)
}

// RegisterUser records a user created by the auth service. When referralCode
// names an existing user, a referral link to that user is created.
func (e *Engine) RegisterUser(ctx context.Context, email, referralCode string) (*models.User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid email %q", models.ErrValidation, email)
	}
	code, err := e.uniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	user := &models.User{
		Email:        strings.ToLower(addr.Address),
		ReferralCode: code,
		CreatedAt:    now,
	}
	referralCode = strings.ToUpper(strings.TrimSpace(referralCode))

	err = e.repo.Transaction(ctx, func(tx models.Repository) error {
		var referrer *models.User
		if referralCode != "" {
			referrer, err = tx.GetUserByReferralCode(ctx, referralCode)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("%w: unknown referral code %q", models.ErrValidation, referralCode)
			}
			if err != nil {
				return err
			}
			user.ReferredBy = &referrer.ID
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if referrer == nil {
			return nil
		}
		return tx.CreateReferralLink(ctx, &models.ReferralLink{
			ReferrerUserID: referrer.ID,
			ReferredUserID: user.ID,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	e.logger.Info("User registered", "user_id", user.ID, "referred_by", user.ReferredBy)
	return user, nil
}

// ListReferrals returns the users referred by the actor.
func (e *Engine) ListReferrals(ctx context.Context, actor models.Actor) ([]*models.ReferralSummary, error) {
	return e.repo.ListReferralSummaries(ctx, actor.UserID)
}

// ReferralStats returns the actor's referral code and commission balance.
func (e *Engine) ReferralStats(ctx context.Context, actor models.Actor) (*models.ReferralStats, error) {
	user, err := e.repo.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	summaries, err := e.repo.ListReferralSummaries(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	total, paid, err := balance(ctx, e.repo, actor.UserID)
	if err != nil {
		return nil, err
	}
	snapshot, err := e.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return &models.ReferralStats{
		ReferralCode:       user.ReferralCode,
		TotalReferrals:     int64(len(summaries)),
		TotalCommissionUSD: total,
		PaidOutUSD:         paid,
		AvailableUSD:       total.Sub(paid),
		MinWithdrawalUSD:   snapshot.MinWithdrawal,
	}, nil
}

func balance(ctx context.Context, repo models.Repository, userID uint) (earned, paid decimal.Decimal, err error) {
	earned, err = repo.SumReferralEarnings(ctx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum referral earnings: %w", err)
	}
	paid, err = repo.SumPayouts(ctx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum payouts: %w", err)
	}
	return earned, paid, nil
}

// RequestPayout withdraws referral commission. A zero amount withdraws the
// whole available balance.
func (e *Engine) RequestPayout(ctx context.Context, actor models.Actor, amount decimal.Decimal) (*models.Payout, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", models.ErrValidation)
	}
	snapshot, err := e.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	now := e.now()

	var payout *models.Payout
	err = e.repo.Transaction(ctx, func(tx models.Repository) error {
		if _, err := tx.GetUserForUpdate(ctx, actor.UserID); err != nil {
			return err
		}
		earned, paid, err := balance(ctx, tx, actor.UserID)
		if err != nil {
			return err
		}
		available := earned.Sub(paid)
		requested := amount
		if requested.IsZero() {
			requested = available
		}
		requested = money.USD(requested)
		if requested.LessThan(snapshot.MinWithdrawal) || !requested.IsPositive() {
			return fmt.Errorf("%w: minimum withdrawal is $%s", models.ErrValidation, money.DisplayUSD(snapshot.MinWithdrawal))
		}
		if requested.GreaterThan(available) {
			return fmt.Errorf("%w: requested $%s exceeds available balance $%s",
				models.ErrValidation, money.DisplayUSD(requested), money.DisplayUSD(available))
		}
		payout = &models.Payout{
			UserID:     actor.UserID,
			AmountUSD:  requested,
			PayoutType: models.PayoutTypeReferralCommission,
			Status:     models.PayoutPending,
			CreatedAt:  now,
		}
		return tx.CreatePayout(ctx, payout)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request payout: %w", err)
	}
	e.logger.Info("Payout requested", "payout_id", payout.ID, "user_id", actor.UserID, "amount_usd", payout.AmountUSD)
	return payout, nil
}
