package accrual

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/money"
)

// Step is what one pass did to one rental.
type Step struct {
	Periods   int64
	Earned    decimal.Decimal
	Completed bool
}

// Changed reports whether the rental has to be saved.
func (s Step) Changed() bool {
	return s.Periods > 0 || s.Completed
}

// PerPeriodBTC is the BTC credited for one accrual period of the hashrate,
// net of the maintenance fee, rounded to satoshis.
func PerPeriodBTC(hashrate decimal.Decimal, snapshot models.SettingsSnapshot) decimal.Decimal {
	gross := hashrate.Mul(snapshot.BTCMiningRewardPerTHDay)
	return money.BTC(money.NetOfFee(gross, snapshot.MaintenanceFeePercentage))
}

// Apply credits every whole period elapsed since the last accrual, capped at
// the end date, and completes the rental once its end date has passed.
// Inactive rentals are left untouched.
func Apply(rental *models.Rental, snapshot models.SettingsSnapshot, period time.Duration, now time.Time) Step {
	var step Step
	if !rental.IsActive || rental.StartDate == nil || rental.EndDate == nil || period <= 0 {
		return step
	}
	last := *rental.StartDate
	if rental.LastAccrualAt != nil {
		last = *rental.LastAccrualAt
	}
	horizon := now
	if rental.EndDate.Before(horizon) {
		horizon = *rental.EndDate
	}

	if elapsed := horizon.Sub(last); elapsed >= period {
		step.Periods = int64(elapsed / period)
		step.Earned = PerPeriodBTC(rental.HashrateAllocated, snapshot).Mul(decimal.NewFromInt(step.Periods))
		rental.TotalProfitBTC = rental.TotalProfitBTC.Add(step.Earned)
		next := last.Add(time.Duration(step.Periods) * period)
		rental.LastAccrualAt = &next
	}

	if !rental.EndDate.After(now) {
		completedAt := now
		rental.IsActive = false
		rental.CompletedAt = &completedAt
		step.Completed = true
	}
	return step
}
