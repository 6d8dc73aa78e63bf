package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/internal/repository"
	"github.com/core-coin/hashrent/internal/settings"
	"github.com/core-coin/hashrent/pkg/logger"
)

const (
	testBTCAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	testETHAddress = "0x52908400098527886E0F7030069857D2E4169EE7"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type staticOracle struct {
	stats models.NetworkStats
}

func (o staticOracle) CurrentPrice() models.NetworkStats {
	return o.stats
}

type recordingNotifier struct {
	mu       sync.Mutex
	alerts   []*models.Alert
	receipts []*models.Receipt
}

func (n *recordingNotifier) Alert(_ context.Context, alert *models.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) Receipt(_ context.Context, receipt *models.Receipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, receipt)
}

type testEnv struct {
	engine   *Engine
	repo     *repository.MemoryDB
	settings *settings.Store
	notifier *recordingNotifier
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := repository.NewMemoryDB()
	store := settings.NewStore(repo, logger.NewNop())
	notifier := &recordingNotifier{}
	oracle := staticOracle{stats: models.NetworkStats{
		BTCPriceUSD:       decimal.NewFromInt(50000),
		NetworkHashrateTH: decimal.NewFromInt(500_000_000),
		Difficulty:        decimal.NewFromInt(50_000_000_000_000),
		UpdatedAt:         testNow,
	}}
	cfg := &config.Config{
		PaymentTimeout:        2 * time.Hour,
		PaymentExpiryInterval: time.Minute,
		AllowSimulatedConfirm: true,
		BTCDepositAddress:     testBTCAddress,
		ETHDepositAddress:     testETHAddress,
	}
	env := &testEnv{
		repo:     repo,
		settings: store,
		notifier: notifier,
		clock:    testNow,
	}
	env.engine = NewEngine(repo, store, oracle, notifier, logger.NewNop(), cfg)
	env.engine.now = func() time.Time { return env.clock }
	t.Cleanup(env.engine.Stop)
	return env
}

func (env *testEnv) miner(t *testing.T, price, hashrate int64, units int) *models.MinerProfile {
	t.Helper()
	miner := &models.MinerProfile{
		Name:             "Antminer S21",
		Model:            "S21",
		HashrateTH:       decimal.NewFromInt(hashrate),
		EfficiencyWPerTH: decimal.NewFromInt(17),
		PowerWatts:       decimal.NewFromInt(3500),
		PriceUSD:         decimal.NewFromInt(price),
		AvailableUnits:   units,
	}
	require.NoError(t, env.repo.CreateMiner(context.Background(), miner))
	return miner
}

func (env *testEnv) user(t *testing.T, email, referralCode string) *models.User {
	t.Helper()
	user, err := env.engine.RegisterUser(context.Background(), email, referralCode)
	require.NoError(t, err)
	return user
}

func (env *testEnv) checkout(t *testing.T, user *models.User, miner *models.MinerProfile, hashrate int64, days int) *models.Checkout {
	t.Helper()
	checkout, err := env.engine.CreateIntent(context.Background(), models.Actor{UserID: user.ID}, models.CheckoutRequest{
		MinerID:           miner.ID,
		HashrateAllocated: decimal.NewFromInt(hashrate),
		DurationDays:      days,
		CryptoType:        "BTC",
	})
	require.NoError(t, err)
	return checkout
}

func (env *testEnv) setSetting(t *testing.T, key, value string) {
	t.Helper()
	_, err := env.settings.Update(context.Background(), key, value)
	require.NoError(t, err)
}

func (env *testEnv) units(t *testing.T, minerID uint) int {
	t.Helper()
	miner, err := env.repo.GetMiner(context.Background(), minerID)
	require.NoError(t, err)
	return miner.AvailableUnits
}
