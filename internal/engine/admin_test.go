package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/hashrent/internal/accrual"
	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

func TestAdminOperationsRequireAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := models.Actor{UserID: 1}

	_, err := env.engine.AdminStats(ctx, user)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, _, err = env.engine.ListUsers(ctx, user, models.UserFilter{}, models.Page{})
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = env.engine.ProcessAllPayouts(ctx, user)
	assert.ErrorIs(t, err, models.ErrForbidden)
	_, err = env.engine.Cleanup(ctx, user, models.CleanupAll)
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.ErrorIs(t, env.engine.DeleteMiner(ctx, user, 1), models.ErrForbidden)
	_, err = env.engine.DeactivateRental(ctx, user, 1)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestToggleAdmin(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.user(t, "admin@example.com", "")
	user := env.user(t, "alice@example.com", "")
	actor := models.Actor{UserID: admin.ID, IsAdmin: true}

	_, err := env.engine.ToggleAdmin(ctx, actor, admin.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	toggled, err := env.engine.ToggleAdmin(ctx, actor, user.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsAdmin)
	toggled, err = env.engine.ToggleAdmin(ctx, actor, user.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsAdmin)

	_, err = env.engine.ToggleAdmin(ctx, actor, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUserDetails(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")
	miner := env.miner(t, 5000, 200, 5)
	confirmed := env.checkout(t, user, miner, 100, 30)
	_, err := env.engine.Confirm(ctx, confirmed.Payment.ID, "")
	require.NoError(t, err)
	env.checkout(t, user, miner, 10, 30)

	details, err := env.engine.UserDetails(ctx, admin, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, details.User.Email)
	assert.Equal(t, 2, details.Stats.TotalRentals)
	assert.Equal(t, 1, details.Stats.ActiveRentals)
	assert.True(t, details.Stats.TotalSpentUSD.Equal(decimal.NewFromInt(2500)))
	assert.Len(t, details.Payments, 2)
}

func TestProcessPayouts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	for _, amount := range []int64{60, 70} {
		require.NoError(t, env.repo.CreatePayout(ctx, &models.Payout{
			UserID:     1,
			AmountUSD:  decimal.NewFromInt(amount),
			PayoutType: models.PayoutTypeReferralCommission,
			Status:     models.PayoutPending,
		}))
	}

	payout, err := env.engine.ProcessPayout(ctx, admin, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutPaid, payout.Status)
	require.NotNil(t, payout.ProcessedAt)
	assert.Equal(t, testNow, *payout.ProcessedAt)

	_, err = env.engine.ProcessPayout(ctx, admin, 1)
	assert.ErrorIs(t, err, models.ErrAlreadySettled)

	batch, err := env.engine.ProcessAllPayouts(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count)
	assert.True(t, batch.TotalUSD.Equal(decimal.NewFromInt(70)))

	pending, total, err := env.engine.ListPayouts(ctx, admin, models.PayoutPending, models.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, pending)
}

func TestMinerCatalogAdministration(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")

	invalid := &models.MinerProfile{Name: "X", Model: "Y", HashrateTH: decimal.Zero, PriceUSD: decimal.NewFromInt(1)}
	assert.ErrorIs(t, env.engine.CreateMiner(ctx, admin, invalid), models.ErrValidation)

	miner := &models.MinerProfile{
		Name:           "Whatsminer M30S++",
		Model:          "M30S++",
		HashrateTH:     decimal.NewFromInt(112),
		PriceUSD:       decimal.NewFromInt(2100),
		AvailableUnits: 40,
	}
	require.NoError(t, env.engine.CreateMiner(ctx, admin, miner))
	assert.NotZero(t, miner.ID)

	price := decimal.NewFromInt(2200)
	negative := -1
	_, err := env.engine.UpdateMiner(ctx, admin, miner.ID, models.MinerUpdate{AvailableUnits: &negative})
	assert.ErrorIs(t, err, models.ErrValidation)
	updated, err := env.engine.UpdateMiner(ctx, admin, miner.ID, models.MinerUpdate{PriceUSD: &price})
	require.NoError(t, err)
	assert.True(t, updated.PriceUSD.Equal(price))
	assert.Equal(t, "M30S++", updated.Model)
	assert.Equal(t, 40, updated.AvailableUnits)

	checkout := env.checkout(t, user, miner, 112, 30)
	_, err = env.engine.Confirm(ctx, checkout.Payment.ID, "")
	require.NoError(t, err)
	assert.ErrorIs(t, env.engine.DeleteMiner(ctx, admin, miner.ID), models.ErrValidation)

	other := env.miner(t, 100, 10, 1)
	require.NoError(t, env.engine.DeleteMiner(ctx, admin, other.ID))
	assert.ErrorIs(t, env.engine.DeleteMiner(ctx, admin, other.ID), models.ErrNotFound)
}

func TestDeleteMinerRefusedWhileRentalAwaitsPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")
	miner := env.miner(t, 5000, 200, 2)
	checkout := env.checkout(t, user, miner, 100, 30)

	err := env.engine.DeleteMiner(ctx, admin, miner.ID)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "awaiting payment")
	_, err = env.repo.GetMiner(ctx, miner.ID)
	require.NoError(t, err)

	require.NoError(t, env.engine.Fail(ctx, checkout.Payment.ID, "abandoned"))
	require.NoError(t, env.engine.DeleteMiner(ctx, admin, miner.ID))
}

func TestConfirmedRentalOfDeletedMinerCompletes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")
	miner := env.miner(t, 5000, 200, 2)
	checkout := env.checkout(t, user, miner, 100, 30)
	env.setSetting(t, models.SettingBTCMiningRewardPerTHDay, "0.00000005")

	assert.ErrorIs(t, env.engine.DeleteMiner(ctx, admin, miner.ID), models.ErrValidation)
	// rows removed behind the engine's back
	require.NoError(t, env.repo.DeleteMiner(ctx, miner.ID))

	rental, err := env.engine.Confirm(ctx, checkout.Payment.ID, "")
	require.NoError(t, err)
	require.True(t, rental.IsActive)

	scheduler := accrual.NewScheduler(env.repo, env.settings, env.notifier, logger.NewNop(), &config.Config{
		AccrualPeriod:  24 * time.Hour,
		AccrualWorkers: 1,
		AccrualLockTTL: time.Minute,
		InstanceID:     "engine-test",
	})
	// the rental ended in 2024, long before the wall clock the pass runs on
	result, err := scheduler.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	assert.Zero(t, result.Run.RentalsFailed)
	assert.Equal(t, 1, result.Run.RentalsCompleted)

	done, err := env.repo.GetRental(ctx, rental.ID)
	require.NoError(t, err)
	assert.False(t, done.IsActive)
	assert.Equal(t, models.RentalCompleted, done.State())
	assert.True(t, done.TotalProfitBTC.IsPositive())
}

func TestDeactivateRental(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")
	miner := env.miner(t, 5000, 200, 2)
	checkout := env.checkout(t, user, miner, 100, 30)

	_, err := env.engine.DeactivateRental(ctx, admin, checkout.Rental.ID)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = env.engine.Confirm(ctx, checkout.Payment.ID, "")
	require.NoError(t, err)
	require.Equal(t, 1, env.units(t, miner.ID))

	env.clock = testNow.AddDate(0, 0, 3)
	rental, err := env.engine.DeactivateRental(ctx, admin, checkout.Rental.ID)
	require.NoError(t, err)
	assert.False(t, rental.IsActive)
	assert.Equal(t, models.RentalCancelled, rental.State())
	require.NotNil(t, rental.CancelledAt)
	assert.True(t, rental.CancelledAt.Equal(env.clock))
	assert.Nil(t, rental.CompletedAt)
	assert.Equal(t, 2, env.units(t, miner.ID))

	ids, err := env.repo.ListActiveRentalIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = env.engine.DeactivateRental(ctx, admin, checkout.Rental.ID)
	assert.ErrorIs(t, err, models.ErrAlreadySettled)
	assert.Equal(t, 2, env.units(t, miner.ID))

	_, err = env.engine.DeactivateRental(ctx, admin, 999)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, env.engine.DeleteMiner(ctx, admin, miner.ID))
}

func TestEstimateProfit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	miner := env.miner(t, 5000, 200, 5)

	estimate, err := env.engine.EstimateProfit(ctx, miner.ID, decimal.NewFromInt(100), 0)
	require.NoError(t, err)
	assert.Equal(t, 30, estimate.DurationDays)
	assert.Equal(t, "2500", estimate.CostUSD.String())
	assert.Equal(t, "0.0000882", estimate.DailyBTC.String())
	assert.Equal(t, "0.002646", estimate.MonthlyBTC.String())
	assert.Equal(t, "4.41", estimate.DailyUSD.String())
	require.NotNil(t, estimate.ROIDays)
	assert.Equal(t, 566, *estimate.ROIDays)

	full, err := env.engine.EstimateProfit(ctx, miner.ID, decimal.Zero, 90)
	require.NoError(t, err)
	assert.True(t, full.HashrateTH.Equal(decimal.NewFromInt(200)))

	_, err = env.engine.EstimateProfit(ctx, miner.ID, decimal.NewFromInt(500), 30)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	admin := models.Actor{UserID: 99, IsAdmin: true}
	user := env.user(t, "alice@example.com", "")
	miner := env.miner(t, 5000, 200, 5)
	failed := env.checkout(t, user, miner, 10, 30)
	require.NoError(t, env.engine.Fail(ctx, failed.Payment.ID, "cancelled"))
	kept := env.checkout(t, user, miner, 10, 30)
	env.clock = testNow.Add(time.Minute)

	_, err := env.engine.Cleanup(ctx, admin, models.CleanupKind("everything"))
	assert.ErrorIs(t, err, models.ErrValidation)

	result, err := env.engine.Cleanup(ctx, admin, models.CleanupAll)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Deleted[models.CleanupFailedPayments])
	assert.Contains(t, result.Deleted, models.CleanupOldInactiveRentals)
	assert.Contains(t, result.Deleted, models.CleanupOrphanPayouts)

	_, err = env.repo.GetPayment(ctx, failed.Payment.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = env.repo.GetPayment(ctx, kept.Payment.ID)
	assert.NoError(t, err)

	counts, err := env.engine.DatabaseStats(ctx, admin)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts["payment_intents"])
}
