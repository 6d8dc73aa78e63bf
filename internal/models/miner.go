package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MinerProfile is a rentable hardware profile in the miner catalog.
type MinerProfile struct {
	// ID is the unique identifier for the miner profile.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// Name is the display name, e.g. "Antminer S21 Pro".
	Name string `json:"name" gorm:"column:name;size:100;not null"`
	// Model is the hardware model designation.
	Model string `json:"model" gorm:"column:model;size:100;not null"`
	// HashrateTH is the total hashrate of one unit in TH/s.
	HashrateTH decimal.Decimal `json:"hashrate_th" gorm:"column:hashrate_th;type:numeric(20,8);not null"`
	// EfficiencyWPerTH is the power efficiency in W per TH/s.
	EfficiencyWPerTH decimal.Decimal `json:"efficiency" gorm:"column:efficiency_w_per_th;type:numeric(20,8);not null"`
	// PowerWatts is the power draw of one unit.
	PowerWatts decimal.Decimal `json:"power_watts" gorm:"column:power_watts;type:numeric(20,2);not null"`
	// PriceUSD is the price of the full hashrate for a 30-day baseline.
	PriceUSD decimal.Decimal `json:"price_usd" gorm:"column:price_usd;type:numeric(20,6);not null"`
	// AvailableUnits is the remaining rentable capacity. Never negative.
	AvailableUnits int `json:"available_units" gorm:"column:available_units;not null;default:100;check:available_units >= 0"`
	// Description is free text shown in the catalog.
	Description string `json:"description" gorm:"column:description;type:text"`
	// ImageURL points to a product picture.
	ImageURL string `json:"image_url" gorm:"column:image_url;size:500"`
	// CreatedAt is the time the profile was added.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for GORM
func (MinerProfile) TableName() string {
	return "miner_profiles"
}

// MinerUpdate is a partial edit of a miner profile. Nil fields are left unchanged.
type MinerUpdate struct {
	Name             *string          `json:"name"`
	Model            *string          `json:"model"`
	HashrateTH       *decimal.Decimal `json:"hashrate_th"`
	EfficiencyWPerTH *decimal.Decimal `json:"efficiency"`
	PowerWatts       *decimal.Decimal `json:"power_watts"`
	PriceUSD         *decimal.Decimal `json:"price_usd"`
	AvailableUnits   *int             `json:"available_units"`
	Description      *string          `json:"description"`
	ImageURL         *string          `json:"image_url"`
}

// Apply copies the set fields onto m.
func (u MinerUpdate) Apply(m *MinerProfile) {
	if u.Name != nil {
		m.Name = *u.Name
	}
	if u.Model != nil {
		m.Model = *u.Model
	}
	if u.HashrateTH != nil {
		m.HashrateTH = *u.HashrateTH
	}
	if u.EfficiencyWPerTH != nil {
		m.EfficiencyWPerTH = *u.EfficiencyWPerTH
	}
	if u.PowerWatts != nil {
		m.PowerWatts = *u.PowerWatts
	}
	if u.PriceUSD != nil {
		m.PriceUSD = *u.PriceUSD
	}
	if u.AvailableUnits != nil {
		m.AvailableUnits = *u.AvailableUnits
	}
	if u.Description != nil {
		m.Description = *u.Description
	}
	if u.ImageURL != nil {
		m.ImageURL = *u.ImageURL
	}
}

// Validate checks the catalog constraints of a profile.
func (m *MinerProfile) Validate() error {
	switch {
	case strings.TrimSpace(m.Name) == "":
		return fmt.Errorf("%w: miner name is required", ErrValidation)
	case strings.TrimSpace(m.Model) == "":
		return fmt.Errorf("%w: miner model is required", ErrValidation)
	case !m.HashrateTH.IsPositive():
		return fmt.Errorf("%w: hashrate_th must be positive", ErrValidation)
	case !m.PriceUSD.IsPositive():
		return fmt.Errorf("%w: price_usd must be positive", ErrValidation)
	case m.EfficiencyWPerTH.IsNegative():
		return fmt.Errorf("%w: efficiency must not be negative", ErrValidation)
	case m.PowerWatts.IsNegative():
		return fmt.Errorf("%w: power_watts must not be negative", ErrValidation)
	case m.AvailableUnits < 0:
		return fmt.Errorf("%w: available_units must not be negative", ErrValidation)
	}
	return nil
}
