package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/metrics"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

// Values served until the first successful refresh.
var (
	FallbackBTCPriceUSD       = decimal.NewFromInt(50000)
	FallbackNetworkHashrateTH = decimal.NewFromInt(500_000_000)
	FallbackDifficulty        = decimal.NewFromInt(50_000_000_000_000)
)

// PriceResponse represents the response of the BTC price endpoint
type PriceResponse struct {
	BPI map[string]struct {
		Rate      string      `json:"rate"`
		RateFloat json.Number `json:"rate_float"`
	} `json:"bpi"`
}

// DifficultyResponse represents the response of the difficulty endpoint
type DifficultyResponse struct {
	CurrentDifficulty json.Number `json:"currentDifficulty"`
}

// PricingService polls the BTC price and network statistics and serves them from memory
type PricingService struct {
	logger        *logger.Logger
	client        *http.Client
	priceURL      string
	hashrateURL   string
	difficultyURL string
	refresh       time.Duration
	retryDelay    time.Duration

	// In-memory cache
	stats      models.NetworkStats
	cacheMutex sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPricingService creates a new PricingService instance
func NewPricingService(
	logger *logger.Logger,
	config *config.Config,
) *PricingService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PricingService{
		logger:        logger,
		priceURL:      config.PriceURL,
		hashrateURL:   config.HashrateURL,
		difficultyURL: config.DifficultyURL,
		refresh:       config.PricingRefresh,
		retryDelay:    1 * time.Second,
		stats: models.NetworkStats{
			BTCPriceUSD:       FallbackBTCPriceUSD,
			NetworkHashrateTH: FallbackNetworkHashrateTH,
			Difficulty:        FallbackDifficulty,
			Stale:             true,
		},
		client: &http.Client{
			Timeout: config.PricingHTTPTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// CurrentPrice returns the cached network stats (thread-safe)
func (p *PricingService) CurrentPrice() models.NetworkStats {
	p.cacheMutex.RLock()
	defer p.cacheMutex.RUnlock()
	return p.stats
}

// FetchAndUpdate refreshes every value. Values that cannot be fetched keep
// their previous value and the result is marked stale.
func (p *PricingService) FetchAndUpdate(ctx context.Context) error {
	type result struct {
		name  string
		value decimal.Decimal
		err   error
	}
	fetchers := []struct {
		name  string
		fetch func(context.Context) (decimal.Decimal, error)
	}{
		{"btc_price", p.fetchPrice},
		{"network_hashrate", p.fetchHashrate},
		{"difficulty", p.fetchDifficulty},
	}

	results := make([]result, len(fetchers))
	var wg sync.WaitGroup
	for i, f := range fetchers {
		wg.Add(1)
		go func(i int, name string, fetch func(context.Context) (decimal.Decimal, error)) {
			defer wg.Done()
			var value decimal.Decimal
			err := retry.Do(
				func() error {
					var err error
					value, err = fetch(ctx)
					return err
				},
				retry.Context(ctx),
				retry.Attempts(3),
				retry.Delay(p.retryDelay),
				retry.DelayType(retry.BackOffDelay),
				retry.LastErrorOnly(true),
				retry.OnRetry(func(n uint, err error) {
					p.logger.Debug("Retrying pricing fetch", "source", name, "attempt", n+1, "error", err)
				}),
			)
			results[i] = result{name: name, value: value, err: err}
		}(i, f.name, f.fetch)
	}
	wg.Wait()

	p.cacheMutex.Lock()
	defer p.cacheMutex.Unlock()

	stats := p.stats
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
			metrics.PricingFetchErrorsTotal.WithLabelValues(r.name).Inc()
			continue
		}
		switch r.name {
		case "btc_price":
			stats.BTCPriceUSD = r.value
		case "network_hashrate":
			stats.NetworkHashrateTH = r.value
		case "difficulty":
			stats.Difficulty = r.value
		}
	}
	stats.Stale = len(errs) > 0
	if len(errs) < len(results) {
		stats.UpdatedAt = time.Now().UTC()
	}
	p.stats = stats

	if len(errs) > 0 {
		return fmt.Errorf("%w: %v", models.ErrTransientUpstream, errors.Join(errs...))
	}
	return nil
}

func (p *PricingService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// fetchPrice fetches the BTC/USD price
func (p *PricingService) fetchPrice(ctx context.Context) (decimal.Decimal, error) {
	body, err := p.get(ctx, p.priceURL)
	if err != nil {
		return decimal.Zero, err
	}
	var resp PriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}
	usd, ok := resp.BPI["USD"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price response has no USD rate")
	}
	raw := usd.RateFloat.String()
	if raw == "" {
		raw = strings.ReplaceAll(usd.Rate, ",", "")
	}
	return parsePositive(raw, "btc price")
}

// fetchHashrate fetches the network hashrate, reported in GH/s, and converts it to TH/s
func (p *PricingService) fetchHashrate(ctx context.Context) (decimal.Decimal, error) {
	body, err := p.get(ctx, p.hashrateURL)
	if err != nil {
		return decimal.Zero, err
	}
	gh, err := parsePositive(strings.TrimSpace(string(body)), "network hashrate")
	if err != nil {
		return decimal.Zero, err
	}
	return gh.Div(decimal.NewFromInt(1000)), nil
}

// fetchDifficulty fetches the current mining difficulty
func (p *PricingService) fetchDifficulty(ctx context.Context) (decimal.Decimal, error) {
	body, err := p.get(ctx, p.difficultyURL)
	if err != nil {
		return decimal.Zero, err
	}
	var resp DifficultyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode difficulty response: %w", err)
	}
	return parsePositive(resp.CurrentDifficulty.String(), "difficulty")
}

func parsePositive(raw, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", what, raw, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("invalid %s %q: must be positive", what, raw)
	}
	return d, nil
}

// StartPeriodicUpdate starts a goroutine that refreshes the stats periodically
func (p *PricingService) StartPeriodicUpdate() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		// Initial fetch with retry logic
		backoff := 5 * time.Second
		maxBackoff := 5 * time.Minute

		for {
			if err := p.FetchAndUpdate(p.ctx); err != nil {
				p.logger.Warn("Failed to fetch network stats on startup, serving fallback values", "error", err, "retry_in", backoff)

				select {
				case <-time.After(backoff):
					backoff = backoff * 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
					if backoff < p.refresh {
						continue
					}
				case <-p.ctx.Done():
					p.logger.Info("Pricing service stopped during initial fetch")
					return
				}
				// the regular schedule takes over once backoff reaches it
				break
			}
			p.logger.Info("Successfully loaded network stats")
			break
		}

		ticker := time.NewTicker(p.refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := p.FetchAndUpdate(p.ctx); err != nil {
					p.logger.Warn("Failed to refresh network stats", "error", err)
				}
			case <-p.ctx.Done():
				p.logger.Info("Pricing service periodic update stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the PricingService
func (p *PricingService) Stop() {
	p.logger.Info("Stopping pricing service")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Pricing service stopped")
}
