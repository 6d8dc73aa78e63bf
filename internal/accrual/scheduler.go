package accrual

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

// Scheduler runs accrual passes over every active rental on a fixed period.
// Only one pass runs at a time, both within the process and across instances
// sharing the database.
type Scheduler struct {
	logger *logger.Logger
	config *config.Config

	repo        models.Repository
	settings    models.SettingsProvider
	notificator models.NotificationService

	instanceID string
	running    sync.Mutex
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler instance
func NewScheduler(
	repo models.Repository,
	settings models.SettingsProvider,
	notificator models.NotificationService,
	logger *logger.Logger,
	config *config.Config,
) *Scheduler {
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:        repo,
		settings:    settings,
		notificator: notificator,
		logger:      logger.With("component", "accrual", "instance_id", instanceID),
		config:      config,
		instanceID:  instanceID,
		now:         func() time.Time { return time.Now().UTC() },
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs a pass immediately and then once per accrual period
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
		ticker := time.NewTicker(s.config.AccrualPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				s.logger.Info("Accrual scheduler stopped")
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	s.logger.Info("Accrual scheduler started", "period", s.config.AccrualPeriod, "workers", s.config.AccrualWorkers)
}

// Stop cancels a running pass and waits for the scheduler to exit
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) tick() {
	if _, err := s.RunOnce(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("Accrual pass failed", "error", err)
	}
}

// ListRuns returns the most recent pass records.
func (s *Scheduler) ListRuns(ctx context.Context, limit int) ([]*models.AccrualRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListAccrualRuns(ctx, limit)
}

// RunOnce performs one accrual pass. It reports Skipped when another pass
// holds the in-process guard or the cross-instance lease.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.AccrualResult, error) {
	if !s.running.TryLock() {
		s.logger.Warn("Accrual pass already running, skipping")
		metrics.AccrualRunsTotal.WithLabelValues("skipped").Inc()
		return &models.AccrualResult{Skipped: true}, nil
	}
	defer s.running.Unlock()

	started := s.now()
	acquired, err := s.repo.AcquireLock(ctx, models.AccrualLockName, s.instanceID, s.config.AccrualLockTTL, started)
	if err != nil {
		metrics.AccrualRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to acquire accrual lock: %w", err)
	}
	if !acquired {
		s.logger.Info("Accrual lock held by another instance, skipping")
		metrics.AccrualRunsTotal.WithLabelValues("skipped").Inc()
		return &models.AccrualResult{Skipped: true}, nil
	}
	defer func() {
		if err := s.repo.ReleaseLock(context.WithoutCancel(ctx), models.AccrualLockName, s.instanceID); err != nil {
			s.logger.Error("Failed to release accrual lock", "error", err)
		}
	}()
	stopRenew := s.renewLease(ctx)
	defer stopRenew()

	snapshot, err := s.settings.CurrentSettings(ctx)
	if err != nil {
		metrics.AccrualRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	ids, err := s.repo.ListActiveRentalIDs(ctx)
	if err != nil {
		metrics.AccrualRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list active rentals: %w", err)
	}

	run := &models.AccrualRun{
		RunID:          uuid.NewString(),
		InstanceID:     s.instanceID,
		StartedAt:      started,
		RentalsScanned: len(ids),
		TotalBTC:       decimal.Zero,
	}
	log := s.logger.With("run_id", run.RunID)
	log.Info("Accrual pass started", "rentals", len(ids))

	failures := s.process(ctx, log, run, ids, snapshot, started)

	run.Interrupted = ctx.Err() != nil
	run.FinishedAt = s.now()
	if err := s.repo.CreateAccrualRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("Failed to record accrual run", "error", err)
	}

	outcome := "completed"
	if run.Interrupted {
		outcome = "interrupted"
	}
	metrics.AccrualRunsTotal.WithLabelValues(outcome).Inc()
	metrics.AccrualDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	metrics.AccruedBTCTotal.Add(run.TotalBTC.InexactFloat64())

	log.Info("Accrual pass finished",
		"accrued", run.RentalsAccrued,
		"completed", run.RentalsCompleted,
		"failed", run.RentalsFailed,
		"total_btc", run.TotalBTC,
		"interrupted", run.Interrupted)

	if len(failures) > 0 {
		s.notificator.Alert(ctx, &models.Alert{
			Subject: "Accrual failures",
			Message: fmt.Sprintf("%d rentals could not be accrued and will be retried next pass", len(failures)),
			Fields:  failures,
		})
	}
	return &models.AccrualResult{Run: run}, nil
}

// process fans rentals out to a bounded worker pool. Each rental is committed
// on its own, so an interrupted pass keeps the rentals already processed.
func (s *Scheduler) process(ctx context.Context, log *logger.Logger, run *models.AccrualRun, ids []uint, snapshot models.SettingsSnapshot, now time.Time) map[string]string {
	workers := s.config.AccrualWorkers
	if workers < 1 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]string{}
	)
	jobs := make(chan uint)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rental, step, err := s.accrueRental(ctx, id, snapshot, now)

				mu.Lock()
				switch {
				case err != nil:
					run.RentalsFailed++
					failures["rental_"+strconv.FormatUint(uint64(id), 10)] = err.Error()
				case step.Changed():
					if step.Periods > 0 {
						run.RentalsAccrued++
						run.TotalBTC = run.TotalBTC.Add(step.Earned)
					}
					if step.Completed {
						run.RentalsCompleted++
					}
				}
				mu.Unlock()

				if err != nil {
					if !errors.Is(err, context.Canceled) {
						metrics.AccrualRentalsTotal.WithLabelValues("failed").Inc()
					}
					log.Error("Failed to accrue rental", "rental_id", id, "error", err)
					continue
				}
				if step.Periods > 0 {
					metrics.AccrualRentalsTotal.WithLabelValues("accrued").Inc()
				}
				if step.Completed {
					metrics.AccrualRentalsTotal.WithLabelValues("completed").Inc()
					s.sendCompletion(ctx, rental)
				}
			}
		}()
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	return failures
}

func (s *Scheduler) accrueRental(ctx context.Context, id uint, snapshot models.SettingsSnapshot, now time.Time) (*models.Rental, Step, error) {
	var (
		rental *models.Rental
		step   Step
	)
	err := s.repo.Transaction(ctx, func(tx models.Repository) error {
		var err error
		rental, err = tx.GetRentalForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !rental.IsActive {
			// completed or deactivated since listing
			return nil
		}
		step = Apply(rental, snapshot, s.config.AccrualPeriod, now)
		if !step.Changed() {
			return nil
		}
		if _, err := tx.GetMiner(ctx, rental.MinerID); err != nil {
			// an expired rental completes even when its miner is gone
			if !errors.Is(err, models.ErrNotFound) || !step.Completed {
				return fmt.Errorf("miner %d of rental %d: %w", rental.MinerID, id, err)
			}
			s.logger.Warn("Completing rental of a deleted miner", "rental_id", id, "miner_id", rental.MinerID)
		}
		return tx.SaveRental(ctx, rental)
	})
	if err != nil {
		return nil, Step{}, err
	}
	return rental, step, nil
}

// renewLease extends the accrual lease while a pass is running.
func (s *Scheduler) renewLease(ctx context.Context) func() {
	interval := s.config.AccrualLockTTL / 2
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := s.repo.AcquireLock(ctx, models.AccrualLockName, s.instanceID, s.config.AccrualLockTTL, s.now())
				if err != nil || !ok {
					s.logger.Warn("Failed to renew accrual lease", "acquired", ok, "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) sendCompletion(ctx context.Context, rental *models.Rental) {
	user, err := s.repo.GetUser(ctx, rental.UserID)
	if err != nil {
		s.logger.Warn("Failed to load user for completion receipt", "rental_id", rental.ID, "error", err)
		return
	}
	s.notificator.Receipt(ctx, &models.Receipt{
		Email:   user.Email,
		Subject: "Your hash power rental has completed",
		Body: fmt.Sprintf("Rental #%d of %s TH/s has reached its end date. Total earnings: %s BTC.",
			rental.ID, rental.HashrateAllocated, rental.TotalProfitBTC.StringFixed(8)),
	})
}
