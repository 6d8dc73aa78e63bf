package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

func newTestService(t *testing.T, handler http.Handler) *PricingService {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc := NewPricingService(logger.NewNop(), &config.Config{
		PriceURL:           srv.URL + "/price",
		HashrateURL:        srv.URL + "/hashrate",
		DifficultyURL:      srv.URL + "/difficulty",
		PricingRefresh:     time.Minute,
		PricingHTTPTimeout: 2 * time.Second,
	})
	svc.retryDelay = time.Millisecond
	return svc
}

func TestFallbackValuesBeforeFirstFetch(t *testing.T) {
	svc := newTestService(t, http.NotFoundHandler())

	stats := svc.CurrentPrice()
	assert.True(t, stats.Stale)
	assert.True(t, stats.BTCPriceUSD.Equal(decimal.NewFromInt(50000)))
	assert.True(t, stats.NetworkHashrateTH.Equal(decimal.NewFromInt(500_000_000)))
	assert.True(t, stats.Difficulty.Equal(decimal.NewFromInt(50_000_000_000_000)))
}

func TestFetchAndUpdate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bpi":{"USD":{"code":"USD","rate":"67,123.4567","rate_float":67123.4567}}}`))
	})
	mux.HandleFunc("/hashrate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("650000000000\n"))
	})
	mux.HandleFunc("/difficulty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"currentDifficulty":88104191118793.16,"difficultyChange":1.2}`))
	})
	svc := newTestService(t, mux)

	require.NoError(t, svc.FetchAndUpdate(context.Background()))

	stats := svc.CurrentPrice()
	assert.False(t, stats.Stale)
	assert.False(t, stats.UpdatedAt.IsZero())
	assert.Equal(t, "67123.4567", stats.BTCPriceUSD.String())
	assert.Equal(t, "650000000", stats.NetworkHashrateTH.String())
	assert.Equal(t, "88104191118793.16", stats.Difficulty.String())
}

func TestPriceRateStringWithoutFloat(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bpi":{"USD":{"rate":"61,000.50"}}}`))
	})
	svc := newTestService(t, mux)

	price, err := svc.fetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "61000.5", price.String())
}

func TestPartialFailureKeepsPreviousValues(t *testing.T) {
	var hashrateCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/price", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bpi":{"USD":{"rate_float":70000}}}`))
	})
	mux.HandleFunc("/hashrate", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hashrateCalls, 1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	mux.HandleFunc("/difficulty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"currentDifficulty":0}`))
	})
	svc := newTestService(t, mux)

	err := svc.FetchAndUpdate(context.Background())
	assert.ErrorIs(t, err, models.ErrTransientUpstream)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hashrateCalls))

	stats := svc.CurrentPrice()
	assert.True(t, stats.Stale)
	assert.True(t, stats.BTCPriceUSD.Equal(decimal.NewFromInt(70000)))
	assert.True(t, stats.NetworkHashrateTH.Equal(FallbackNetworkHashrateTH))
	assert.True(t, stats.Difficulty.Equal(FallbackDifficulty))
}

func TestStartAndStop(t *testing.T) {
	svc := newTestService(t, http.NotFoundHandler())
	svc.StartPeriodicUpdate()

	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pricing service did not stop")
	}
}
