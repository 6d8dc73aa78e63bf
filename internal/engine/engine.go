package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

// Engine is the rental and payment state machine.
// It serves all business logic of the API: checkout, payment settlement,
// referral commissions, payouts and the admin operations on the ledger.
type Engine struct {
	logger *logger.Logger
	config *config.Config

	repo        models.Repository
	settings    models.SettingsProvider
	pricing     models.PricingOracle
	notificator models.NotificationService

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new Engine instance
func NewEngine(
	repo models.Repository,
	settings models.SettingsProvider,
	pricing models.PricingOracle,
	notificator models.NotificationService,
	logger *logger.Logger,
	config *config.Config,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		repo:        repo,
		settings:    settings,
		pricing:     pricing,
		notificator: notificator,
		logger:      logger.With("component", "engine"),
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the background expiry of unpaid payment intents
func (e *Engine) Start() {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.config.PaymentExpiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.ctx.Done():
				return
			case <-ticker.C:
				e.logger.Debug("Expiring stale payment intents")
				expired, err := e.ExpireStale(e.ctx)
				if err != nil {
					e.logger.Error("Failed to expire stale payments", "error", err)
					continue
				}
				if expired > 0 {
					e.logger.Info("Expired stale payment intents", "count", expired)
				}
			}
		}
	}()
}

// Stop stops background work and waits for it to finish
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
}

// invariant records and reports a stored state the engine refuses to act on.
func (e *Engine) invariant(ctx context.Context, err error, fields map[string]string) {
	if !errors.Is(err, models.ErrInvariantViolation) {
		return
	}
	metrics.InvariantViolationsTotal.Inc()
	e.logger.Error("Invariant violation", "error", err, "fields", fields)
	e.notificator.Alert(ctx, &models.Alert{
		Subject: "Invariant violation",
		Message: err.Error(),
		Fields:  fields,
	})
}

func requireAdmin(actor models.Actor) error {
	if !actor.IsAdmin {
		return fmt.Errorf("admin access required: %w", models.ErrForbidden)
	}
	return nil
}

func validationError(err error) error {
	return fmt.Errorf("%w: %v", models.ErrValidation, err)
}
