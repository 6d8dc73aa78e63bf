package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
)

// inactiveRentalRetention is how long inactive rentals are kept before cleanup may remove them.
const inactiveRentalRetention = 365

// AdminStats returns the dashboard aggregates.
func (e *Engine) AdminStats(ctx context.Context, actor models.Actor) (*models.AdminStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return e.repo.AdminStats(ctx)
}

// ListUsers returns users matching the filter.
func (e *Engine) ListUsers(ctx context.Context, actor models.Actor, filter models.UserFilter, page models.Page) ([]*models.User, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return e.repo.ListUsers(ctx, filter, page.Normalize())
}

// UserDetails returns a user with their rentals, payments, referrals and totals.
func (e *Engine) UserDetails(ctx context.Context, actor models.Actor, userID uint) (*models.UserDetails, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	all := models.Page{Page: 1, PerPage: 100}
	rentals, _, err := e.repo.ListRentals(ctx, models.RentalFilter{UserID: userID}, all)
	if err != nil {
		return nil, err
	}
	payments, _, err := e.repo.ListPayments(ctx, models.PaymentFilter{UserID: userID}, all)
	if err != nil {
		return nil, err
	}
	referrals, err := e.repo.ListReferralSummaries(ctx, userID)
	if err != nil {
		return nil, err
	}
	earned, err := e.repo.SumReferralEarnings(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := models.UserStats{
		TotalRentals:        len(rentals),
		TotalSpentUSD:       decimal.Zero,
		TotalProfitBTC:      decimal.Zero,
		TotalReferrals:      len(referrals),
		ReferralEarningsUSD: earned,
	}
	for _, r := range rentals {
		if r.IsActive {
			stats.ActiveRentals++
		}
		stats.TotalProfitBTC = stats.TotalProfitBTC.Add(r.TotalProfitBTC)
	}
	for _, p := range payments {
		if p.Status == models.PaymentConfirmed {
			stats.TotalSpentUSD = stats.TotalSpentUSD.Add(p.AmountUSD)
		}
	}
	return &models.UserDetails{
		User:     user,
		Rentals:  rentals,
		Payments: payments,
		Referral: referrals,
		Stats:    stats,
	}, nil
}

// ToggleAdmin flips the admin flag of another user.
func (e *Engine) ToggleAdmin(ctx context.Context, actor models.Actor, userID uint) (*models.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if actor.UserID == userID {
		return nil, fmt.Errorf("cannot change own admin status: %w", models.ErrForbidden)
	}
	var user *models.User
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		user, err = tx.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		user.IsAdmin = !user.IsAdmin
		return tx.SetUserAdmin(ctx, userID, user.IsAdmin)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to toggle admin: %w", err)
	}
	e.logger.Info("Admin status changed", "user_id", userID, "is_admin", user.IsAdmin, "by", actor.UserID)
	return user, nil
}

// ListRentals returns rentals across users.
func (e *Engine) ListRentals(ctx context.Context, actor models.Actor, filter models.RentalFilter, page models.Page) ([]*models.Rental, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return e.repo.ListRentals(ctx, filter, page.Normalize())
}

// DeactivateRental stops an active rental before its end date and gives its
// unit back to the miner. Earnings already credited are kept.
func (e *Engine) DeactivateRental(ctx context.Context, actor models.Actor, rentalID uint) (*models.Rental, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	now := e.now()
	var rental *models.Rental
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		rental, err = tx.GetRentalForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if rental.State() == models.RentalPending {
			return fmt.Errorf("%w: rental %d awaits payment, fail the payment instead", models.ErrValidation, rentalID)
		}
		if !rental.IsActive {
			return fmt.Errorf("rental %d is %s: %w", rentalID, rental.State(), models.ErrAlreadySettled)
		}
		if err := rental.Cancel(now); err != nil {
			return err
		}
		if err := tx.SaveRental(ctx, rental); err != nil {
			return err
		}
		err = tx.ReleaseUnit(ctx, rental.MinerID)
		if errors.Is(err, models.ErrNotFound) {
			e.logger.Warn("Miner of deactivated rental no longer exists", "rental_id", rentalID, "miner_id", rental.MinerID)
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate rental %d: %w", rentalID, err)
	}
	e.logger.Info("Rental deactivated", "rental_id", rentalID, "admin_id", actor.UserID)
	return rental, nil
}

// ListPayments returns payments across users.
func (e *Engine) ListPayments(ctx context.Context, actor models.Actor, filter models.PaymentFilter, page models.Page) ([]*models.PaymentIntent, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return e.repo.ListPayments(ctx, filter, page.Normalize())
}

// ListPayouts returns payouts, optionally filtered by status.
func (e *Engine) ListPayouts(ctx context.Context, actor models.Actor, status models.PayoutStatus, page models.Page) ([]*models.Payout, int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, 0, err
	}
	return e.repo.ListPayouts(ctx, status, page.Normalize())
}

// ProcessPayout marks a pending payout as paid.
func (e *Engine) ProcessPayout(ctx context.Context, actor models.Actor, payoutID uint) (*models.Payout, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return e.processPayout(ctx, payoutID)
}

func (e *Engine) processPayout(ctx context.Context, payoutID uint) (*models.Payout, error) {
	now := e.now()
	var payout *models.Payout
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		payout, err = tx.GetPayoutForUpdate(ctx, payoutID)
		if err != nil {
			return err
		}
		if payout.Status != models.PayoutPending {
			return fmt.Errorf("payout %d is %s: %w", payoutID, payout.Status, models.ErrAlreadySettled)
		}
		payout.Status = models.PayoutPaid
		payout.ProcessedAt = &now
		return tx.SavePayout(ctx, payout)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to process payout %d: %w", payoutID, err)
	}
	e.logger.Info("Payout processed", "payout_id", payoutID, "amount_usd", payout.AmountUSD)
	return payout, nil
}

// ProcessAllPayouts marks every pending payout as paid.
func (e *Engine) ProcessAllPayouts(ctx context.Context, actor models.Actor) (*models.PayoutBatch, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	ids, err := e.repo.ListPendingPayoutIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending payouts: %w", err)
	}
	batch := &models.PayoutBatch{TotalUSD: decimal.Zero}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		payout, err := e.processPayout(ctx, id)
		if errors.Is(err, models.ErrAlreadySettled) {
			continue
		}
		if err != nil {
			return batch, err
		}
		batch.Count++
		batch.TotalUSD = batch.TotalUSD.Add(payout.AmountUSD)
	}
	e.logger.Info("Processed pending payouts", "count", batch.Count, "total_usd", batch.TotalUSD)
	return batch, nil
}

// CreateMiner adds a profile to the catalog.
func (e *Engine) CreateMiner(ctx context.Context, actor models.Actor, miner *models.MinerProfile) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := miner.Validate(); err != nil {
		return err
	}
	miner.ID = 0
	miner.CreatedAt = e.now()
	if err := e.repo.CreateMiner(ctx, miner); err != nil {
		return fmt.Errorf("failed to create miner: %w", err)
	}
	e.logger.Info("Miner created", "miner_id", miner.ID, "name", miner.Name)
	return nil
}

// UpdateMiner applies a partial edit to a profile.
func (e *Engine) UpdateMiner(ctx context.Context, actor models.Actor, minerID uint, update models.MinerUpdate) (*models.MinerProfile, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	var miner *models.MinerProfile
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		miner, err = tx.GetMiner(ctx, minerID)
		if err != nil {
			return err
		}
		update.Apply(miner)
		if err := miner.Validate(); err != nil {
			return err
		}
		return tx.UpdateMiner(ctx, miner)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update miner %d: %w", minerID, err)
	}
	e.logger.Info("Miner updated", "miner_id", minerID)
	return miner, nil
}

// DeleteMiner removes a profile that no active or awaiting-payment rental references.
func (e *Engine) DeleteMiner(ctx context.Context, actor models.Actor, minerID uint) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	err := e.repo.Transaction(ctx, func(tx models.Repository) error {
		if _, err := tx.GetMiner(ctx, minerID); err != nil {
			return err
		}
		active, err := tx.CountActiveRentalsForMiner(ctx, minerID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: miner has %d active rentals", models.ErrValidation, active)
		}
		pending, err := tx.CountPendingRentalsForMiner(ctx, minerID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("%w: miner has %d rentals awaiting payment", models.ErrValidation, pending)
		}
		return tx.DeleteMiner(ctx, minerID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete miner %d: %w", minerID, err)
	}
	e.logger.Info("Miner deleted", "miner_id", minerID)
	return nil
}

// DatabaseStats returns row counts per table.
func (e *Engine) DatabaseStats(ctx context.Context, actor models.Actor) (map[string]int64, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return e.repo.TableCounts(ctx)
}

// Cleanup removes stale ledger rows of the given kind.
func (e *Engine) Cleanup(ctx context.Context, actor models.Actor, kind models.CleanupKind) (*models.CleanupResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return e.RunCleanup(ctx, kind)
}

// RunCleanup is Cleanup without an actor, used by the command line.
func (e *Engine) RunCleanup(ctx context.Context, kind models.CleanupKind) (*models.CleanupResult, error) {
	now := e.now()
	result := &models.CleanupResult{Deleted: map[models.CleanupKind]int64{}}

	var kinds []models.CleanupKind
	switch kind {
	case models.CleanupFailedPayments, models.CleanupOldInactiveRentals, models.CleanupOrphanPayouts:
		kinds = []models.CleanupKind{kind}
	case models.CleanupAll:
		kinds = []models.CleanupKind{models.CleanupFailedPayments, models.CleanupOldInactiveRentals, models.CleanupOrphanPayouts}
	default:
		return nil, fmt.Errorf("%w: unknown cleanup type %q", models.ErrValidation, kind)
	}

	for _, k := range kinds {
		var (
			deleted int64
			err     error
		)
		switch k {
		case models.CleanupFailedPayments:
			deleted, err = e.repo.DeleteFailedPayments(ctx, now)
		case models.CleanupOldInactiveRentals:
			deleted, err = e.repo.DeleteOldInactiveRentals(ctx, now.AddDate(0, 0, -inactiveRentalRetention))
		case models.CleanupOrphanPayouts:
			deleted, err = e.repo.DeleteOrphanPayouts(ctx)
		}
		if err != nil {
			return result, fmt.Errorf("failed to clean up %s: %w", k, err)
		}
		result.Deleted[k] = deleted
		e.logger.Info("Cleanup finished", "kind", k, "deleted", deleted)
	}
	return result, nil
}
