// Package settings is the admin-tunable parameter store backing SettingsSnapshot.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

type definition struct {
	value       string
	description string
	percentage  bool
}

var definitions = map[string]definition{
	models.SettingReferralPercentage:       {"5.0", "Referral commission percentage (e.g., 5.0 means 5%)", true},
	models.SettingProfitPercentage:         {"10.0", "Daily profit percentage for mining rentals", true},
	models.SettingMinWithdrawal:            {"50.0", "Minimum withdrawal amount in USD", false},
	models.SettingMaintenanceFeePercentage: {"2.0", "Maintenance fee percentage deducted from profits", true},
	models.SettingBTCMiningRewardPerTHDay:  {"0.00001", "Base BTC reward per TH/s per day", false},
}

// Keys returns the known setting keys in stable order.
func Keys() []string {
	keys := make([]string, 0, len(definitions))
	for k := range definitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the snapshot used before any setting is stored.
func Defaults() models.SettingsSnapshot {
	snapshot, _ := build(nil)
	return snapshot
}

// Store reads settings from the repository on every call and remembers the
// last successful read for when the repository is unavailable.
type Store struct {
	repo   models.Repository
	logger *logger.Logger
	now    func() time.Time

	mu       sync.RWMutex
	lastGood *models.SettingsSnapshot
}

func NewStore(repo models.Repository, logger *logger.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// InitDefaults stores every known setting that is not stored yet.
func (s *Store) InitDefaults(ctx context.Context) error {
	for _, key := range Keys() {
		def := definitions[key]
		setting := &models.Setting{Key: key, Value: def.value, Description: def.description, UpdatedAt: s.now()}
		if err := s.repo.InsertSettingIfMissing(ctx, setting); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
	}
	return nil
}

// CurrentSettings implements models.SettingsProvider.
func (s *Store) CurrentSettings(ctx context.Context) (models.SettingsSnapshot, error) {
	stored, err := s.repo.ListSettings(ctx)
	if err != nil {
		s.mu.RLock()
		lastGood := s.lastGood
		s.mu.RUnlock()
		if lastGood != nil {
			s.logger.Warn("Failed to read settings, using last known values", "error", err)
			return *lastGood, nil
		}
		return models.SettingsSnapshot{}, fmt.Errorf("failed to read settings: %w: %v", models.ErrTransientUpstream, err)
	}

	snapshot, invalid := build(stored)
	for _, key := range invalid {
		s.logger.Warn("Stored setting is not a valid number, using default", "key", key)
	}

	s.mu.Lock()
	s.lastGood = &snapshot
	s.mu.Unlock()
	return snapshot, nil
}

// List returns every stored setting.
func (s *Store) List(ctx context.Context) ([]*models.Setting, error) {
	stored, err := s.repo.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	return stored, nil
}

// Update validates and stores a single setting.
func (s *Store) Update(ctx context.Context, key, value string) (*models.Setting, error) {
	updated, err := s.UpdateMany(ctx, map[string]string{key: value})
	if err != nil {
		return nil, err
	}
	return updated[0], nil
}

// UpdateMany validates all values first and stores them in one transaction.
func (s *Store) UpdateMany(ctx context.Context, values map[string]string) ([]*models.Setting, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no settings given", models.ErrValidation)
	}
	keys := make([]string, 0, len(values))
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		v, err := Validate(key, value)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
		normalized[key] = v
	}
	sort.Strings(keys)

	updated := make([]*models.Setting, 0, len(keys))
	err := s.repo.Transaction(ctx, func(tx models.Repository) error {
		for _, key := range keys {
			setting := &models.Setting{
				Key:         key,
				Value:       normalized[key],
				Description: definitions[key].description,
				UpdatedAt:   s.now(),
			}
			if err := tx.UpsertSetting(ctx, setting); err != nil {
				return err
			}
			updated = append(updated, setting)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update settings: %w", err)
	}
	s.logger.Info("Settings updated", "keys", keys)
	return updated, nil
}

// Validate checks a value for a known key: numeric, non-negative, percentages at most 100.
func Validate(key, value string) (string, error) {
	def, ok := definitions[key]
	if !ok {
		return "", fmt.Errorf("%w: unknown setting %q", models.ErrValidation, key)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w: setting %s must be a number", models.ErrValidation, key)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: setting %s must not be negative", models.ErrValidation, key)
	}
	if def.percentage && d.GreaterThan(decimal.NewFromInt(100)) {
		return "", fmt.Errorf("%w: setting %s must be at most 100", models.ErrValidation, key)
	}
	return d.String(), nil
}

// build folds stored settings over the defaults. It returns the keys whose
// stored value could not be used.
func build(stored []*models.Setting) (models.SettingsSnapshot, []string) {
	values := make(map[string]decimal.Decimal, len(definitions))
	for key, def := range definitions {
		values[key] = decimal.RequireFromString(def.value)
	}
	var invalid []string
	for _, setting := range stored {
		if _, known := definitions[setting.Key]; !known {
			continue
		}
		v, err := Validate(setting.Key, setting.Value)
		if err != nil {
			invalid = append(invalid, setting.Key)
			continue
		}
		values[setting.Key] = decimal.RequireFromString(v)
	}
	return models.SettingsSnapshot{
		ReferralPercentage:       values[models.SettingReferralPercentage],
		ProfitPercentage:         values[models.SettingProfitPercentage],
		MaintenanceFeePercentage: values[models.SettingMaintenanceFeePercentage],
		MinWithdrawal:            values[models.SettingMinWithdrawal],
		BTCMiningRewardPerTHDay:  values[models.SettingBTCMiningRewardPerTHDay],
	}, invalid
}
