package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Setting keys understood by the engine.
const (
	SettingReferralPercentage       = "referral_percentage"
	SettingProfitPercentage         = "profit_percentage"
	SettingMaintenanceFeePercentage = "maintenance_fee_percentage"
	SettingMinWithdrawal            = "min_withdrawal"
	SettingBTCMiningRewardPerTHDay  = "btc_mining_reward"
)

// Setting is one admin-tunable key/value pair.
type Setting struct {
	ID          uint      `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Key         string    `json:"key" gorm:"column:key;size:100;uniqueIndex;not null"`
	Value       string    `json:"value" gorm:"column:value;size:500;not null"`
	Description string    `json:"description" gorm:"column:description;size:500"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Setting) TableName() string {
	return "system_settings"
}

// SettingsSnapshot is a consistent view of the tunable parameters at one moment.
type SettingsSnapshot struct {
	ReferralPercentage       decimal.Decimal `json:"referral_percentage"`
	ProfitPercentage         decimal.Decimal `json:"profit_percentage"`
	MaintenanceFeePercentage decimal.Decimal `json:"maintenance_fee_percentage"`
	MinWithdrawal            decimal.Decimal `json:"min_withdrawal"`
	BTCMiningRewardPerTHDay  decimal.Decimal `json:"btc_mining_reward_per_th_day"`
}

// SettingsProvider supplies the current settings.
type SettingsProvider interface {
	CurrentSettings(ctx context.Context) (SettingsSnapshot, error)
}
