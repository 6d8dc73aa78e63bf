package http_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/hashrent/internal/config"
	"github.com/core-coin/hashrent/internal/engine"
	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/internal/repository"
	"github.com/core-coin/hashrent/internal/settings"
	"github.com/core-coin/hashrent/pkg/logger"
)

const (
	testSecret       = "test-jwt-secret"
	testServiceToken = "test-service-token"
	testTxHash       = "9f2c4a1b7e3d5f6a8b0c1d2e3f4a5b6c7d8e9f0a1b2c3d4e5f6a7b8c9d0e1f2a"
)

type staticOracle struct{}

func (staticOracle) CurrentPrice() models.NetworkStats {
	return models.NetworkStats{
		BTCPriceUSD:       decimal.NewFromInt(50000),
		NetworkHashrateTH: decimal.NewFromInt(500_000_000),
		Difficulty:        decimal.NewFromInt(50_000_000_000_000),
		UpdatedAt:         time.Now().UTC(),
	}
}

type nopNotifier struct{}

func (nopNotifier) Alert(context.Context, *models.Alert)     {}
func (nopNotifier) Receipt(context.Context, *models.Receipt) {}

type fakeAccrual struct {
	calls int
}

func (f *fakeAccrual) RunOnce(ctx context.Context) (*models.AccrualResult, error) {
	f.calls++
	return &models.AccrualResult{Skipped: true}, nil
}

func (f *fakeAccrual) ListRuns(ctx context.Context, limit int) ([]*models.AccrualRun, error) {
	return []*models.AccrualRun{{RunID: "run-1", RentalsScanned: 3}}, nil
}

type apiEnv struct {
	server  *HTTPServer
	repo    *repository.MemoryDB
	accrual *fakeAccrual
}

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Total   int64           `json:"total"`
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testConfig() *config.Config {
	return &config.Config{
		Development:           true,
		CORSOrigins:           []string{"*"},
		RateLimitRPS:          1000,
		RateLimitBurst:        1000,
		JWTSecret:             testSecret,
		ServiceToken:          testServiceToken,
		PaymentTimeout:        2 * time.Hour,
		PaymentExpiryInterval: time.Minute,
		AllowSimulatedConfirm: true,
		BTCDepositAddress:     "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4",
		ETHDepositAddress:     "0x52908400098527886E0F7030069857D2E4169EE7",
	}
}

func newAPIEnv(t *testing.T, cfg *config.Config) *apiEnv {
	t.Helper()
	repo := repository.NewMemoryDB()
	log := logger.NewNop()
	store := settings.NewStore(repo, log)
	eng := engine.NewEngine(repo, store, staticOracle{}, nopNotifier{}, log, cfg)
	t.Cleanup(eng.Stop)

	env := &apiEnv{repo: repo, accrual: &fakeAccrual{}}
	env.server = NewHTTPServer(eng, store, env.accrual, cfg, log)
	return env
}

func token(t *testing.T, userID uint, admin bool) string {
	t.Helper()
	claims := Claims{
		UserID:  userID,
		IsAdmin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (env *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)

	var resp envelope
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func bearer(t *testing.T, userID uint, admin bool) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token(t, userID, admin)}
}

func service() map[string]string {
	return map[string]string{ServiceTokenHeader: testServiceToken}
}

func (env *apiEnv) register(t *testing.T, email string) *models.User {
	t.Helper()
	status, resp := env.do(t, http.MethodPost, "/internal/users", gin.H{"email": email}, service())
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var user models.User
	require.NoError(t, json.Unmarshal(resp.Data, &user))
	return &user
}

func (env *apiEnv) miner(t *testing.T, units int) *models.MinerProfile {
	t.Helper()
	miner := &models.MinerProfile{
		Name:           "Antminer S21",
		Model:          "S21",
		HashrateTH:     decimal.NewFromInt(200),
		PriceUSD:       decimal.NewFromInt(5000),
		AvailableUnits: units,
	}
	require.NoError(t, env.repo.CreateMiner(context.Background(), miner))
	return miner
}

func (env *apiEnv) checkout(t *testing.T, user *models.User, miner *models.MinerProfile) *models.Checkout {
	t.Helper()
	status, resp := env.do(t, http.MethodPost, "/api/payments/checkout", gin.H{
		"miner_id":           miner.ID,
		"hashrate_allocated": "100",
		"duration_days":      30,
		"crypto_type":        "BTC",
	}, bearer(t, user.ID, false))
	require.Equal(t, http.StatusCreated, status, resp.Error)
	var checkout models.Checkout
	require.NoError(t, json.Unmarshal(resp.Data, &checkout))
	return &checkout
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	status, _ := env.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAuthentication(t *testing.T) {
	env := newAPIEnv(t, testConfig())

	status, resp := env.do(t, http.MethodGet, "/api/payments/user", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", resp.Code)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	status, _ = env.do(t, http.MethodGet, "/api/payments/user", nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, status)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	status, _ = env.do(t, http.MethodGet, "/api/payments/user", nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, status)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	status, _ = env.do(t, http.MethodGet, "/api/payments/user", nil, map[string]string{"Authorization": "Bearer " + unsigned})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/api/payments/user", nil, bearer(t, 1, false))
	assert.Equal(t, http.StatusOK, status)
}

func TestCheckoutAndTrustedConfirmation(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	user := env.register(t, "alice@example.com")
	miner := env.miner(t, 2)

	checkout := env.checkout(t, user, miner)
	assert.True(t, checkout.Payment.AmountUSD.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, models.PaymentPending, checkout.Payment.Status)
	assert.True(t, checkout.Instructions.CryptoAmount.Equal(decimal.RequireFromString("0.05")))
	assert.NotEmpty(t, checkout.Instructions.QRCodePNG)

	path := "/api/payments/" + itoa(checkout.Payment.ID) + "/confirm"

	// users cannot call the trusted route, not even with a valid access token
	status, _ := env.do(t, http.MethodPut, path, nil, bearer(t, user.ID, false))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := env.do(t, http.MethodPut, path, gin.H{"tx_hash": testTxHash}, service())
	require.Equal(t, http.StatusOK, status, resp.Error)
	var rental models.Rental
	require.NoError(t, json.Unmarshal(resp.Data, &rental))
	assert.True(t, rental.IsActive)

	status, resp = env.do(t, http.MethodPut, path, nil, service())
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_settled", resp.Code)
	assert.False(t, resp.Success)

	status, resp = env.do(t, http.MethodGet, "/api/rentals/user", nil, bearer(t, user.ID, false))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, resp.Total)
}

func TestErrorMapping(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	miner := env.miner(t, 1)
	checkout := env.checkout(t, alice, miner)

	// capacity
	status, resp := env.do(t, http.MethodPost, "/api/payments/checkout", gin.H{
		"miner_id":           miner.ID,
		"hashrate_allocated": "10",
		"duration_days":      30,
		"crypto_type":        "BTC",
	}, bearer(t, bob.ID, false))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "capacity_exhausted", resp.Code)

	// validation
	status, resp = env.do(t, http.MethodPost, "/api/payments/checkout", gin.H{
		"miner_id":           miner.ID,
		"hashrate_allocated": "10",
		"duration_days":      31,
		"crypto_type":        "BTC",
	}, bearer(t, bob.ID, false))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Code)

	// not found
	status, resp = env.do(t, http.MethodGet, "/api/miners/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Code)

	// ownership
	status, resp = env.do(t, http.MethodGet, "/api/payments/"+itoa(checkout.Payment.ID), nil, bearer(t, bob.ID, false))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Code)

	status, _ = env.do(t, http.MethodGet, "/api/payments/abc", nil, bearer(t, bob.ID, false))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSimulateConfirmIsOwnerOnly(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")
	bob := env.register(t, "bob@example.com")
	checkout := env.checkout(t, alice, env.miner(t, 2))
	path := "/api/payments/" + itoa(checkout.Payment.ID) + "/simulate-confirm"

	status, _ := env.do(t, http.MethodPut, path, nil, bearer(t, bob.ID, true))
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := env.do(t, http.MethodPut, path, nil, bearer(t, alice.ID, false))
	assert.Equal(t, http.StatusOK, status, resp.Error)
}

func TestSimulateConfirmDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AllowSimulatedConfirm = false
	env := newAPIEnv(t, cfg)
	alice := env.register(t, "alice@example.com")
	checkout := env.checkout(t, alice, env.miner(t, 2))

	status, resp := env.do(t, http.MethodPut, "/api/payments/"+itoa(checkout.Payment.ID)+"/simulate-confirm", nil, bearer(t, alice.ID, false))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Code)
}

func TestFailRequiresServiceOrAdmin(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")
	miner := env.miner(t, 1)
	checkout := env.checkout(t, alice, miner)
	path := "/api/payments/" + itoa(checkout.Payment.ID) + "/fail"

	status, _ := env.do(t, http.MethodPut, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodPut, path, nil, bearer(t, alice.ID, false))
	assert.Equal(t, http.StatusForbidden, status)

	status, resp := env.do(t, http.MethodPut, path, gin.H{"reason": "underpaid"}, bearer(t, 99, true))
	require.Equal(t, http.StatusOK, status, resp.Error)

	got, err := env.repo.GetMiner(context.Background(), miner.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableUnits)
}

func TestWebhookAfterSubmittedTxHash(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")
	checkout := env.checkout(t, alice, env.miner(t, 2))

	status, resp := env.do(t, http.MethodPut, "/api/payments/"+itoa(checkout.Payment.ID)+"/tx-hash",
		gin.H{"tx_hash": "0x" + strings.ToUpper(testTxHash)}, bearer(t, alice.ID, false))
	require.Equal(t, http.StatusOK, status, resp.Error)

	status, _ = env.do(t, http.MethodPost, "/api/payments/webhook", gin.H{"tx_hash": testTxHash, "status": "confirmed"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp = env.do(t, http.MethodPost, "/api/payments/webhook", gin.H{"tx_hash": testTxHash, "status": "confirmed"}, service())
	require.Equal(t, http.StatusOK, status, resp.Error)
	var payment models.PaymentIntent
	require.NoError(t, json.Unmarshal(resp.Data, &payment))
	assert.Equal(t, models.PaymentConfirmed, payment.Status)
}

func TestAdminRoutes(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")

	status, resp := env.do(t, http.MethodGet, "/api/admin/stats", nil, bearer(t, alice.ID, false))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Code)

	admin := bearer(t, alice.ID, true)
	status, _ = env.do(t, http.MethodGet, "/api/admin/stats", nil, admin)
	assert.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodPut, "/api/admin/settings/referral_percentage", gin.H{"value": "4"}, admin)
	require.Equal(t, http.StatusOK, status, resp.Error)

	status, resp = env.do(t, http.MethodPut, "/api/admin/settings/referral_percentage", gin.H{"value": "140"}, admin)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Code)

	status, resp = env.do(t, http.MethodPost, "/api/admin/miners", gin.H{
		"name":            "Whatsminer M60",
		"model":           "M60",
		"hashrate_th":     "172",
		"price_usd":       "3100",
		"available_units": 5,
	}, admin)
	require.Equal(t, http.StatusCreated, status, resp.Error)

	status, resp = env.do(t, http.MethodGet, "/api/miners", nil, nil)
	require.Equal(t, http.StatusOK, status)
	var miners []*models.MinerProfile
	require.NoError(t, json.Unmarshal(resp.Data, &miners))
	assert.Len(t, miners, 1)

	status, resp = env.do(t, http.MethodGet, "/api/admin/users?per_page=1", nil, admin)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, resp.Total)

	status, resp = env.do(t, http.MethodPost, "/api/admin/database/cleanup", gin.H{"type": "everything"}, admin)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Code)

	status, _ = env.do(t, http.MethodPost, "/api/admin/database/cleanup", gin.H{"type": "all"}, admin)
	assert.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodPost, "/api/admin/accrual/run", nil, admin)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, env.accrual.calls)
	var result models.AccrualResult
	require.NoError(t, json.Unmarshal(resp.Data, &result))
	assert.True(t, result.Skipped)

	status, _ = env.do(t, http.MethodGet, "/api/admin/accrual/runs", nil, admin)
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminRentalLifecycle(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	alice := env.register(t, "alice@example.com")
	admin := bearer(t, alice.ID, true)
	miner := env.miner(t, 2)
	checkout := env.checkout(t, alice, miner)
	deactivate := "/api/admin/rentals/" + itoa(checkout.Rental.ID) + "/deactivate"

	status, resp := env.do(t, http.MethodDelete, "/api/admin/miners/"+itoa(miner.ID), nil, admin)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Code)

	status, resp = env.do(t, http.MethodPut, deactivate, nil, admin)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", resp.Code)

	status, resp = env.do(t, http.MethodPut, "/api/payments/"+itoa(checkout.Payment.ID)+"/confirm", nil, service())
	require.Equal(t, http.StatusOK, status, resp.Error)

	status, _ = env.do(t, http.MethodPut, deactivate, nil, bearer(t, alice.ID, false))
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = env.do(t, http.MethodPut, deactivate, nil, admin)
	require.Equal(t, http.StatusOK, status, resp.Error)
	var rental models.Rental
	require.NoError(t, json.Unmarshal(resp.Data, &rental))
	assert.False(t, rental.IsActive)
	assert.NotNil(t, rental.CancelledAt)
	assert.Equal(t, models.RentalCancelled, rental.State())

	status, resp = env.do(t, http.MethodPut, deactivate, nil, admin)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_settled", resp.Code)

	status, resp = env.do(t, http.MethodDelete, "/api/admin/miners/"+itoa(miner.ID), nil, admin)
	assert.Equal(t, http.StatusOK, status, resp.Error)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	env := newAPIEnv(t, cfg)

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, http.MethodGet, "/api/health", nil, nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.do(t, http.MethodGet, "/api/health", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", resp.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newAPIEnv(t, testConfig())
	env.do(t, http.MethodGet, "/api/health", nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hashrent_http_requests_total")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
