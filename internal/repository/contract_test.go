package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/hashrent/internal/models"
)

var errRollback = errors.New("rollback")

func newTestMiner(units int) *models.MinerProfile {
	return &models.MinerProfile{
		Name:             "Antminer S19 Pro",
		Model:            "S19 Pro",
		HashrateTH:       decimal.NewFromInt(110),
		EfficiencyWPerTH: decimal.RequireFromString("29.5"),
		PowerWatts:       decimal.NewFromInt(3250),
		PriceUSD:         decimal.NewFromInt(1950),
		AvailableUnits:   units,
	}
}

func ptr[T any](v T) *T {
	return &v
}

// runRepositoryContract exercises behaviour every Repository implementation must share.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) models.Repository) {
	ctx := context.Background()

	t.Run("capacity decrement stops at zero", func(t *testing.T) {
		repo := newRepo(t)
		miner := newTestMiner(1)
		require.NoError(t, repo.CreateMiner(ctx, miner))

		require.NoError(t, repo.DecrementUnit(ctx, miner.ID))
		err := repo.DecrementUnit(ctx, miner.ID)
		assert.ErrorIs(t, err, models.ErrCapacityExhausted)

		require.NoError(t, repo.ReleaseUnit(ctx, miner.ID))
		got, err := repo.GetMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableUnits)

		assert.ErrorIs(t, repo.DecrementUnit(ctx, miner.ID+100), models.ErrNotFound)
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		repo := newRepo(t)
		miner := newTestMiner(3)
		require.NoError(t, repo.CreateMiner(ctx, miner))

		err := repo.Transaction(ctx, func(tx models.Repository) error {
			require.NoError(t, tx.DecrementUnit(ctx, miner.ID))
			require.NoError(t, tx.CreateRental(ctx, &models.Rental{
				UserID:            1,
				MinerID:           miner.ID,
				HashrateAllocated: decimal.NewFromInt(10),
				DurationDays:      30,
			}))
			return errRollback
		})
		assert.ErrorIs(t, err, errRollback)

		got, err := repo.GetMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.AvailableUnits)
		ids, err := repo.ListActiveRentalIDs(ctx)
		require.NoError(t, err)
		assert.Empty(t, ids)
		_, total, err := repo.ListRentals(ctx, models.RentalFilter{}, models.Page{})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("settle only from pending", func(t *testing.T) {
		repo := newRepo(t)
		payment := &models.PaymentIntent{UserID: 1, AmountUSD: decimal.NewFromInt(100), CryptoType: models.CryptoBTC, Status: models.PaymentPending}
		require.NoError(t, repo.CreatePayment(ctx, payment))

		now := time.Now().UTC()
		payment.Status = models.PaymentConfirmed
		payment.ConfirmedAt = &now
		payment.TxHash = ptr("aa")
		require.NoError(t, repo.SettlePayment(ctx, payment))

		payment.Status = models.PaymentFailed
		assert.ErrorIs(t, repo.SettlePayment(ctx, payment), models.ErrAlreadySettled)

		got, err := repo.GetPaymentByTxHash(ctx, "aa")
		require.NoError(t, err)
		assert.Equal(t, models.PaymentConfirmed, got.Status)

		missing := &models.PaymentIntent{ID: 9999, Status: models.PaymentConfirmed}
		assert.ErrorIs(t, repo.SettlePayment(ctx, missing), models.ErrNotFound)
	})

	t.Run("tx hash is unique", func(t *testing.T) {
		repo := newRepo(t)
		first := &models.PaymentIntent{UserID: 1, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentPending}
		second := &models.PaymentIntent{UserID: 1, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentPending}
		require.NoError(t, repo.CreatePayment(ctx, first))
		require.NoError(t, repo.CreatePayment(ctx, second))

		first.Status = models.PaymentConfirmed
		first.TxHash = ptr("bb")
		require.NoError(t, repo.SettlePayment(ctx, first))

		second.Status = models.PaymentConfirmed
		second.TxHash = ptr("bb")
		assert.ErrorIs(t, repo.SettlePayment(ctx, second), models.ErrDuplicate)
	})

	t.Run("one earning per payment", func(t *testing.T) {
		repo := newRepo(t)
		referrer := &models.User{Email: "referrer@example.com", ReferralCode: "AAAA1111"}
		referred := &models.User{Email: "referred@example.com", ReferralCode: "BBBB2222"}
		require.NoError(t, repo.CreateUser(ctx, referrer))
		require.NoError(t, repo.CreateUser(ctx, referred))
		link := &models.ReferralLink{ReferrerUserID: referrer.ID, ReferredUserID: referred.ID}
		require.NoError(t, repo.CreateReferralLink(ctx, link))

		duplicateLink := &models.ReferralLink{ReferrerUserID: referrer.ID, ReferredUserID: referred.ID}
		assert.ErrorIs(t, repo.CreateReferralLink(ctx, duplicateLink), models.ErrDuplicate)

		earning := &models.ReferralEarning{ReferralLinkID: link.ID, PaymentIntentID: 42, CommissionUSD: decimal.NewFromInt(75)}
		require.NoError(t, repo.CreateReferralEarning(ctx, earning))
		again := &models.ReferralEarning{ReferralLinkID: link.ID, PaymentIntentID: 42, CommissionUSD: decimal.NewFromInt(75)}
		assert.ErrorIs(t, repo.CreateReferralEarning(ctx, again), models.ErrDuplicate)

		count, err := repo.CountReferralEarningsForPayment(ctx, 42)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)

		total, err := repo.SumReferralEarnings(ctx, referrer.ID)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(75)), total.String())

		summaries, err := repo.ListReferralSummaries(ctx, referrer.ID)
		require.NoError(t, err)
		require.Len(t, summaries, 1)
		assert.Equal(t, "referred@example.com", summaries[0].ReferredEmail)
		assert.True(t, summaries[0].CommissionEarnedUSD.Equal(decimal.NewFromInt(75)))
	})

	t.Run("duplicate user", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.CreateUser(ctx, &models.User{Email: "a@example.com", ReferralCode: "CODE0001"}))
		err := repo.CreateUser(ctx, &models.User{Email: "a@example.com", ReferralCode: "CODE0002"})
		assert.ErrorIs(t, err, models.ErrDuplicate)

		exists, err := repo.ReferralCodeExists(ctx, "CODE0001")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("payout sums exclude rejected", func(t *testing.T) {
		repo := newRepo(t)
		for _, p := range []*models.Payout{
			{UserID: 7, AmountUSD: decimal.NewFromInt(50), PayoutType: models.PayoutTypeReferralCommission, Status: models.PayoutPending},
			{UserID: 7, AmountUSD: decimal.NewFromInt(20), PayoutType: models.PayoutTypeReferralCommission, Status: models.PayoutPaid},
			{UserID: 7, AmountUSD: decimal.NewFromInt(99), PayoutType: models.PayoutTypeReferralCommission, Status: models.PayoutRejected},
		} {
			require.NoError(t, repo.CreatePayout(ctx, p))
		}
		total, err := repo.SumPayouts(ctx, 7)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromInt(70)), total.String())

		ids, err := repo.ListPendingPayoutIDs(ctx)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("settings upsert", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.InsertSettingIfMissing(ctx, &models.Setting{Key: models.SettingReferralPercentage, Value: "5.0"}))
		require.NoError(t, repo.InsertSettingIfMissing(ctx, &models.Setting{Key: models.SettingReferralPercentage, Value: "9.0"}))
		settings, err := repo.ListSettings(ctx)
		require.NoError(t, err)
		require.Len(t, settings, 1)
		assert.Equal(t, "5.0", settings[0].Value)

		require.NoError(t, repo.UpsertSetting(ctx, &models.Setting{Key: models.SettingReferralPercentage, Value: "3.0", UpdatedAt: time.Now().UTC()}))
		settings, err = repo.ListSettings(ctx)
		require.NoError(t, err)
		require.Len(t, settings, 1)
		assert.Equal(t, "3.0", settings[0].Value)
	})

	t.Run("lock lease", func(t *testing.T) {
		repo := newRepo(t)
		now := time.Now()

		ok, err := repo.AcquireLock(ctx, models.AccrualLockName, "a", time.Minute, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.AcquireLock(ctx, models.AccrualLockName, "b", time.Minute, now)
		require.NoError(t, err)
		assert.False(t, ok)

		// expired lease can be taken over
		ok, err = repo.AcquireLock(ctx, models.AccrualLockName, "b", time.Minute, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, repo.ReleaseLock(ctx, models.AccrualLockName, "b"))
		ok, err = repo.AcquireLock(ctx, models.AccrualLockName, "a", time.Minute, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("cleanup guards", func(t *testing.T) {
		repo := newRepo(t)
		old := time.Now().UTC().AddDate(-2, 0, 0)

		// failed payment with a never activated rental
		failedRental := &models.Rental{UserID: 1, MinerID: 1, HashrateAllocated: decimal.NewFromInt(1), DurationDays: 30, CreatedAt: old}
		require.NoError(t, repo.CreateRental(ctx, failedRental))
		failed := &models.PaymentIntent{UserID: 1, RentalID: &failedRental.ID, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentFailed, CreatedAt: old}
		require.NoError(t, repo.CreatePayment(ctx, failed))

		// completed rental still referenced by its confirmed payment
		start := old
		completedRental := &models.Rental{UserID: 1, MinerID: 1, HashrateAllocated: decimal.NewFromInt(1), DurationDays: 30, StartDate: &start, CompletedAt: &start, CreatedAt: old}
		require.NoError(t, repo.CreateRental(ctx, completedRental))
		confirmed := &models.PaymentIntent{UserID: 1, RentalID: &completedRental.ID, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentConfirmed, CreatedAt: old}
		require.NoError(t, repo.CreatePayment(ctx, confirmed))

		deleted, err := repo.DeleteFailedPayments(ctx, time.Now().UTC())
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
		_, err = repo.GetRental(ctx, failedRental.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)

		deleted, err = repo.DeleteOldInactiveRentals(ctx, time.Now().UTC().AddDate(-1, 0, 0))
		require.NoError(t, err)
		assert.Zero(t, deleted)
		_, err = repo.GetRental(ctx, completedRental.ID)
		assert.NoError(t, err)

		require.NoError(t, repo.CreatePayout(ctx, &models.Payout{UserID: 12345, AmountUSD: decimal.NewFromInt(5), PayoutType: models.PayoutTypeReferralCommission, Status: models.PayoutPending}))
		deleted, err = repo.DeleteOrphanPayouts(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, deleted)
	})

	t.Run("rentals referencing a miner", func(t *testing.T) {
		repo := newRepo(t)
		miner := newTestMiner(3)
		require.NoError(t, repo.CreateMiner(ctx, miner))

		reserved := &models.Rental{UserID: 1, MinerID: miner.ID, HashrateAllocated: decimal.NewFromInt(1), DurationDays: 30, CreatedAt: time.Now().UTC()}
		require.NoError(t, repo.CreateRental(ctx, reserved))
		pending := &models.PaymentIntent{UserID: 1, RentalID: &reserved.ID, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentPending}
		require.NoError(t, repo.CreatePayment(ctx, pending))

		abandoned := &models.Rental{UserID: 1, MinerID: miner.ID, HashrateAllocated: decimal.NewFromInt(1), DurationDays: 30, CreatedAt: time.Now().UTC()}
		require.NoError(t, repo.CreateRental(ctx, abandoned))
		failed := &models.PaymentIntent{UserID: 1, RentalID: &abandoned.ID, AmountUSD: decimal.NewFromInt(1), CryptoType: models.CryptoBTC, Status: models.PaymentFailed}
		require.NoError(t, repo.CreatePayment(ctx, failed))

		count, err := repo.CountPendingRentalsForMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
		count, err = repo.CountActiveRentalsForMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.Zero(t, count)

		now := time.Now().UTC()
		pending.Status = models.PaymentConfirmed
		pending.ConfirmedAt = &now
		require.NoError(t, repo.SettlePayment(ctx, pending))
		require.NoError(t, reserved.Activate(now))
		require.NoError(t, repo.SaveRental(ctx, reserved))

		count, err = repo.CountPendingRentalsForMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.Zero(t, count)
		count, err = repo.CountActiveRentalsForMiner(ctx, miner.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)
	})

	t.Run("accrual runs newest first", func(t *testing.T) {
		repo := newRepo(t)
		base := time.Now().UTC()
		for i, id := range []string{"11111111-1111-1111-1111-111111111111", "22222222-2222-2222-2222-222222222222"} {
			run := &models.AccrualRun{RunID: id, StartedAt: base.Add(time.Duration(i) * time.Minute), FinishedAt: base, TotalBTC: decimal.Zero}
			require.NoError(t, repo.CreateAccrualRun(ctx, run))
		}
		runs, err := repo.ListAccrualRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "22222222-2222-2222-2222-222222222222", runs[0].RunID)
	})
}
