package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/money"
)

// Network constants used for profit projections.
var (
	BlocksPerDay   = decimal.NewFromInt(144)
	BTCBlockReward = decimal.RequireFromString("3.125")
)

const defaultEstimateDays = 30

// GetRental returns a rental visible to the actor.
func (e *Engine) GetRental(ctx context.Context, actor models.Actor, id uint) (*models.Rental, error) {
	rental, err := e.repo.GetRental(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(rental.UserID) {
		return nil, fmt.Errorf("rental %d: %w", id, models.ErrForbidden)
	}
	return rental, nil
}

// ListUserRentals returns the actor's own rentals, newest first.
func (e *Engine) ListUserRentals(ctx context.Context, actor models.Actor, page models.Page) ([]*models.Rental, int64, error) {
	return e.repo.ListRentals(ctx, models.RentalFilter{UserID: actor.UserID}, page.Normalize())
}

// ListMiners returns the catalog.
func (e *Engine) ListMiners(ctx context.Context) ([]*models.MinerProfile, error) {
	return e.repo.ListMiners(ctx)
}

// GetMiner returns one catalog entry.
func (e *Engine) GetMiner(ctx context.Context, id uint) (*models.MinerProfile, error) {
	return e.repo.GetMiner(ctx, id)
}

// NetworkStats returns the cached network view of the pricing oracle.
func (e *Engine) NetworkStats() models.NetworkStats {
	return e.pricing.CurrentPrice()
}

// EstimateProfit projects the earnings of renting hashrate on a miner from its
// share of the network hashrate, net of the maintenance fee. A zero hashrate
// means the full miner and zero days means 30.
func (e *Engine) EstimateProfit(ctx context.Context, minerID uint, hashrate decimal.Decimal, days int) (*models.ProfitEstimate, error) {
	miner, err := e.repo.GetMiner(ctx, minerID)
	if err != nil {
		return nil, err
	}
	if hashrate.IsZero() {
		hashrate = miner.HashrateTH
	}
	if days == 0 {
		days = defaultEstimateDays
	}
	if days < 0 {
		return nil, fmt.Errorf("%w: duration_days must be positive", models.ErrValidation)
	}
	if err := validateAllocation(miner, hashrate); err != nil {
		return nil, err
	}
	snapshot, err := e.settings.CurrentSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	network := e.pricing.CurrentPrice()

	estimate := &models.ProfitEstimate{
		MinerID:           miner.ID,
		HashrateTH:        hashrate,
		DurationDays:      days,
		CostUSD:           RentalPrice(miner, hashrate, days),
		DailyBTC:          decimal.Zero,
		BTCPriceUSD:       network.BTCPriceUSD,
		NetworkHashrateTH: network.NetworkHashrateTH,
	}
	if network.NetworkHashrateTH.IsPositive() {
		gross := hashrate.Div(network.NetworkHashrateTH).Mul(BlocksPerDay).Mul(BTCBlockReward)
		estimate.DailyBTC = money.BTC(money.NetOfFee(gross, snapshot.MaintenanceFeePercentage))
	}
	estimate.MonthlyBTC = estimate.DailyBTC.Mul(baselineDays)
	estimate.TotalBTC = estimate.DailyBTC.Mul(decimal.NewFromInt(int64(days)))
	estimate.DailyUSD = money.USD(estimate.DailyBTC.Mul(network.BTCPriceUSD))
	estimate.MonthlyUSD = money.USD(estimate.MonthlyBTC.Mul(network.BTCPriceUSD))
	estimate.TotalUSD = money.USD(estimate.TotalBTC.Mul(network.BTCPriceUSD))
	if estimate.DailyUSD.IsPositive() {
		roi := int(estimate.CostUSD.Div(estimate.DailyUSD).IntPart())
		estimate.ROIDays = &roi
	}
	return estimate, nil
}
