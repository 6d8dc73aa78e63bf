package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

type seedMiner struct {
	name       string
	model      string
	hashrate   int64
	efficiency string
	power      int64
	price      int64
	units      int
}

var defaultMiners = []seedMiner{
	{"Antminer S19 Pro", "S19 Pro", 110, "29.5", 3250, 1950, 50},
	{"Antminer S19 XP", "S19 XP", 140, "21.5", 3010, 2800, 30},
	{"Whatsminer M30S++", "M30S++", 112, "31", 3472, 2100, 40},
	{"AvalonMiner 1246", "A1246", 90, "38", 3420, 1600, 60},
	{"Antminer S19j Pro", "S19j Pro", 100, "30", 3000, 1750, 70},
	{"Fractional 10TH/s Plan", "S19 Pro (Fraction)", 10, "29.5", 295, 175, 500},
}

// seedMiners inserts the default catalog when no miner exists yet.
func seedMiners(ctx context.Context, repo models.Repository, log *logger.Logger) (int, error) {
	existing, err := repo.ListMiners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list miners: %v", err)
	}
	if len(existing) > 0 {
		log.Info("Miner catalog already populated", "miners", len(existing))
		return 0, nil
	}
	for _, m := range defaultMiners {
		miner := &models.MinerProfile{
			Name:             m.name,
			Model:            m.model,
			HashrateTH:       decimal.NewFromInt(m.hashrate),
			EfficiencyWPerTH: decimal.RequireFromString(m.efficiency),
			PowerWatts:       decimal.NewFromInt(m.power),
			PriceUSD:         decimal.NewFromInt(m.price),
			AvailableUnits:   m.units,
			Description:      fmt.Sprintf("%d TH/s of %s hashrate", m.hashrate, m.model),
		}
		if err := repo.CreateMiner(ctx, miner); err != nil {
			return 0, fmt.Errorf("failed to create miner %s: %v", m.name, err)
		}
	}
	log.Info("Seeded miner catalog", "miners", len(defaultMiners))
	return len(defaultMiners), nil
}
