package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccrualRun is the record of one accrual scheduler pass.
type AccrualRun struct {
	ID               uint            `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID            string          `json:"run_id" gorm:"column:run_id;size:36;uniqueIndex;not null"`
	InstanceID       string          `json:"instance_id" gorm:"column:instance_id;size:255"`
	StartedAt        time.Time       `json:"started_at" gorm:"column:started_at;index"`
	FinishedAt       time.Time       `json:"finished_at" gorm:"column:finished_at"`
	RentalsScanned   int             `json:"rentals_scanned" gorm:"column:rentals_scanned"`
	RentalsAccrued   int             `json:"rentals_accrued" gorm:"column:rentals_accrued"`
	RentalsCompleted int             `json:"rentals_completed" gorm:"column:rentals_completed"`
	RentalsFailed    int             `json:"rentals_failed" gorm:"column:rentals_failed"`
	TotalBTC         decimal.Decimal `json:"total_btc" gorm:"column:total_btc;type:numeric(20,8);not null;default:0"`
	Interrupted      bool            `json:"interrupted" gorm:"column:interrupted"`
}

// TableName specifies the table name for GORM
func (AccrualRun) TableName() string {
	return "accrual_runs"
}
