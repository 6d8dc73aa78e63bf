package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/hashrent/internal/models"
)

// MemoryDB is an in-process implementation of models.Repository.
//
// Transactions are serialized and run against a private copy of the tables
// that replaces the live tables on commit, so a failed transaction leaves no
// trace. Reads outside a transaction see the last committed state.
type MemoryDB struct {
	txMu *sync.Mutex
	mu   *sync.RWMutex
	t    *tables
	inTx bool
}

type tables struct {
	miners   map[uint]models.MinerProfile
	users    map[uint]models.User
	rentals  map[uint]models.Rental
	payments map[uint]models.PaymentIntent
	links    map[uint]models.ReferralLink
	earnings map[uint]models.ReferralEarning
	payouts  map[uint]models.Payout
	settings map[string]models.Setting
	locks    map[string]models.AppLock
	runs     map[uint]models.AccrualRun
	seq      map[string]uint
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		txMu: &sync.Mutex{},
		mu:   &sync.RWMutex{},
		t: &tables{
			miners:   map[uint]models.MinerProfile{},
			users:    map[uint]models.User{},
			rentals:  map[uint]models.Rental{},
			payments: map[uint]models.PaymentIntent{},
			links:    map[uint]models.ReferralLink{},
			earnings: map[uint]models.ReferralEarning{},
			payouts:  map[uint]models.Payout{},
			settings: map[string]models.Setting{},
			locks:    map[string]models.AppLock{},
			runs:     map[uint]models.AccrualRun{},
			seq:      map[string]uint{},
		},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *tables) clone() *tables {
	return &tables{
		miners:   cloneMap(t.miners),
		users:    cloneMap(t.users),
		rentals:  cloneMap(t.rentals),
		payments: cloneMap(t.payments),
		links:    cloneMap(t.links),
		earnings: cloneMap(t.earnings),
		payouts:  cloneMap(t.payouts),
		settings: cloneMap(t.settings),
		locks:    cloneMap(t.locks),
		runs:     cloneMap(t.runs),
		seq:      cloneMap(t.seq),
	}
}

func (t *tables) next(name string) uint {
	t.seq[name]++
	return t.seq[name]
}

func (db *MemoryDB) read() func() {
	if db.inTx {
		return func() {}
	}
	db.mu.RLock()
	return db.mu.RUnlock
}

func (db *MemoryDB) write() func() {
	if db.inTx {
		return func() {}
	}
	db.txMu.Lock()
	db.mu.Lock()
	return func() {
		db.mu.Unlock()
		db.txMu.Unlock()
	}
}

func (db *MemoryDB) Close() error {
	return nil
}

func (db *MemoryDB) Transaction(ctx context.Context, fn func(tx models.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if db.inTx {
		// nested transaction behaves like a savepoint
		snapshot := db.t.clone()
		if err := fn(db); err != nil {
			*db.t = *snapshot
			return err
		}
		return nil
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.RLock()
	working := db.t.clone()
	db.mu.RUnlock()

	tx := &MemoryDB{txMu: db.txMu, mu: db.mu, t: working, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}

	db.mu.Lock()
	db.t = working
	db.mu.Unlock()
	return nil
}

func newestFirst[T any](items []T, createdAt func(T) time.Time, id func(T) uint) {
	sort.Slice(items, func(i, j int) bool {
		ci, cj := createdAt(items[i]), createdAt(items[j])
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return id(items[i]) > id(items[j])
	})
}

func paginate[T any](items []T, page models.Page) []T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}

// Miner catalog

func (db *MemoryDB) GetMiner(_ context.Context, id uint) (*models.MinerProfile, error) {
	defer db.read()()
	miner, ok := db.t.miners[id]
	if !ok {
		return nil, fmt.Errorf("failed to get miner %d: %w", id, models.ErrNotFound)
	}
	return &miner, nil
}

func (db *MemoryDB) ListMiners(_ context.Context) ([]*models.MinerProfile, error) {
	defer db.read()()
	miners := make([]*models.MinerProfile, 0, len(db.t.miners))
	for _, m := range db.t.miners {
		m := m
		miners = append(miners, &m)
	}
	sort.Slice(miners, func(i, j int) bool { return miners[i].ID < miners[j].ID })
	return miners, nil
}

func (db *MemoryDB) CreateMiner(_ context.Context, miner *models.MinerProfile) error {
	defer db.write()()
	if miner.AvailableUnits < 0 {
		return fmt.Errorf("failed to create miner: %w: available_units must not be negative", models.ErrValidation)
	}
	miner.ID = db.t.next("miners")
	stamp(&miner.CreatedAt)
	db.t.miners[miner.ID] = *miner
	return nil
}

func (db *MemoryDB) UpdateMiner(_ context.Context, miner *models.MinerProfile) error {
	defer db.write()()
	current, ok := db.t.miners[miner.ID]
	if !ok {
		return fmt.Errorf("failed to update miner %d: %w", miner.ID, models.ErrNotFound)
	}
	if miner.AvailableUnits < 0 {
		return fmt.Errorf("failed to update miner: %w: available_units must not be negative", models.ErrValidation)
	}
	updated := *miner
	updated.CreatedAt = current.CreatedAt
	db.t.miners[miner.ID] = updated
	return nil
}

func (db *MemoryDB) DeleteMiner(_ context.Context, id uint) error {
	defer db.write()()
	if _, ok := db.t.miners[id]; !ok {
		return fmt.Errorf("failed to delete miner %d: %w", id, models.ErrNotFound)
	}
	delete(db.t.miners, id)
	return nil
}

func (db *MemoryDB) DecrementUnit(_ context.Context, minerID uint) error {
	defer db.write()()
	miner, ok := db.t.miners[minerID]
	if !ok {
		return fmt.Errorf("failed to get miner %d: %w", minerID, models.ErrNotFound)
	}
	if miner.AvailableUnits <= 0 {
		return fmt.Errorf("miner %d: %w", minerID, models.ErrCapacityExhausted)
	}
	miner.AvailableUnits--
	db.t.miners[minerID] = miner
	return nil
}

func (db *MemoryDB) ReleaseUnit(_ context.Context, minerID uint) error {
	defer db.write()()
	miner, ok := db.t.miners[minerID]
	if !ok {
		return fmt.Errorf("failed to release unit of miner %d: %w", minerID, models.ErrNotFound)
	}
	miner.AvailableUnits++
	db.t.miners[minerID] = miner
	return nil
}

// Users

func (db *MemoryDB) CreateUser(_ context.Context, user *models.User) error {
	defer db.write()()
	for _, u := range db.t.users {
		if strings.EqualFold(u.Email, user.Email) || u.ReferralCode == user.ReferralCode {
			return fmt.Errorf("failed to create user: %w: email or referral code taken", models.ErrDuplicate)
		}
	}
	user.ID = db.t.next("users")
	stamp(&user.CreatedAt)
	db.t.users[user.ID] = *user
	return nil
}

func (db *MemoryDB) GetUser(_ context.Context, id uint) (*models.User, error) {
	defer db.read()()
	user, ok := db.t.users[id]
	if !ok {
		return nil, fmt.Errorf("failed to get user %d: %w", id, models.ErrNotFound)
	}
	return &user, nil
}

func (db *MemoryDB) GetUserForUpdate(ctx context.Context, id uint) (*models.User, error) {
	return db.GetUser(ctx, id)
}

func (db *MemoryDB) GetUserByReferralCode(_ context.Context, code string) (*models.User, error) {
	defer db.read()()
	for _, u := range db.t.users {
		if u.ReferralCode == code {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("failed to get user by referral code: %w", models.ErrNotFound)
}

func (db *MemoryDB) ReferralCodeExists(_ context.Context, code string) (bool, error) {
	defer db.read()()
	for _, u := range db.t.users {
		if u.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (db *MemoryDB) ListUsers(_ context.Context, filter models.UserFilter, page models.Page) ([]*models.User, int64, error) {
	defer db.read()()
	search := strings.ToLower(filter.Search)
	var users []*models.User
	for _, u := range db.t.users {
		if search != "" && !strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		u := u
		users = append(users, &u)
	}
	newestFirst(users, func(u *models.User) time.Time { return u.CreatedAt }, func(u *models.User) uint { return u.ID })
	return paginate(users, page), int64(len(users)), nil
}

func (db *MemoryDB) SetUserAdmin(_ context.Context, id uint, isAdmin bool) error {
	defer db.write()()
	user, ok := db.t.users[id]
	if !ok {
		return fmt.Errorf("failed to update user %d: %w", id, models.ErrNotFound)
	}
	user.IsAdmin = isAdmin
	db.t.users[id] = user
	return nil
}

// Rentals

func (db *MemoryDB) CreateRental(_ context.Context, rental *models.Rental) error {
	defer db.write()()
	rental.ID = db.t.next("rentals")
	stamp(&rental.CreatedAt)
	stored := *rental
	stored.MinerName = ""
	db.t.rentals[rental.ID] = stored
	return nil
}

func (db *MemoryDB) withMinerName(r models.Rental) *models.Rental {
	r.MinerName = db.t.miners[r.MinerID].Name
	return &r
}

func (db *MemoryDB) GetRental(_ context.Context, id uint) (*models.Rental, error) {
	defer db.read()()
	rental, ok := db.t.rentals[id]
	if !ok {
		return nil, fmt.Errorf("failed to get rental %d: %w", id, models.ErrNotFound)
	}
	return db.withMinerName(rental), nil
}

func (db *MemoryDB) GetRentalForUpdate(ctx context.Context, id uint) (*models.Rental, error) {
	rental, err := db.GetRental(ctx, id)
	if err != nil {
		return nil, err
	}
	rental.MinerName = ""
	return rental, nil
}

func (db *MemoryDB) SaveRental(_ context.Context, rental *models.Rental) error {
	defer db.write()()
	if _, ok := db.t.rentals[rental.ID]; !ok {
		return fmt.Errorf("failed to save rental %d: %w", rental.ID, models.ErrNotFound)
	}
	stored := *rental
	stored.MinerName = ""
	db.t.rentals[rental.ID] = stored
	return nil
}

func (db *MemoryDB) ListRentals(_ context.Context, filter models.RentalFilter, page models.Page) ([]*models.Rental, int64, error) {
	defer db.read()()
	var rentals []*models.Rental
	for _, r := range db.t.rentals {
		if filter.Active != nil && r.IsActive != *filter.Active {
			continue
		}
		if filter.UserID != 0 && r.UserID != filter.UserID {
			continue
		}
		rentals = append(rentals, db.withMinerName(r))
	}
	newestFirst(rentals, func(r *models.Rental) time.Time { return r.CreatedAt }, func(r *models.Rental) uint { return r.ID })
	return paginate(rentals, page), int64(len(rentals)), nil
}

func (db *MemoryDB) ListActiveRentalIDs(_ context.Context) ([]uint, error) {
	defer db.read()()
	var ids []uint
	for id, r := range db.t.rentals {
		if r.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (db *MemoryDB) CountActiveRentalsForMiner(_ context.Context, minerID uint) (int64, error) {
	defer db.read()()
	var count int64
	for _, r := range db.t.rentals {
		if r.MinerID == minerID && r.IsActive {
			count++
		}
	}
	return count, nil
}

func (db *MemoryDB) CountPendingRentalsForMiner(_ context.Context, minerID uint) (int64, error) {
	defer db.read()()
	var count int64
	for _, p := range db.t.payments {
		if p.Status != models.PaymentPending || p.RentalID == nil {
			continue
		}
		r, ok := db.t.rentals[*p.RentalID]
		if ok && r.MinerID == minerID && r.StartDate == nil {
			count++
		}
	}
	return count, nil
}

// Payments

func (db *MemoryDB) txHashTaken(txHash *string, exceptID uint) bool {
	if txHash == nil {
		return false
	}
	for id, p := range db.t.payments {
		if id != exceptID && p.TxHash != nil && *p.TxHash == *txHash {
			return true
		}
	}
	return false
}

func (db *MemoryDB) CreatePayment(_ context.Context, payment *models.PaymentIntent) error {
	defer db.write()()
	if db.txHashTaken(payment.TxHash, 0) {
		return fmt.Errorf("failed to create payment: %w: tx hash already used", models.ErrDuplicate)
	}
	payment.ID = db.t.next("payments")
	stamp(&payment.CreatedAt)
	db.t.payments[payment.ID] = *payment
	return nil
}

func (db *MemoryDB) GetPayment(_ context.Context, id uint) (*models.PaymentIntent, error) {
	defer db.read()()
	payment, ok := db.t.payments[id]
	if !ok {
		return nil, fmt.Errorf("failed to get payment %d: %w", id, models.ErrNotFound)
	}
	return &payment, nil
}

func (db *MemoryDB) GetPaymentForUpdate(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	return db.GetPayment(ctx, id)
}

func (db *MemoryDB) GetPaymentByTxHash(_ context.Context, txHash string) (*models.PaymentIntent, error) {
	defer db.read()()
	for _, p := range db.t.payments {
		if p.TxHash != nil && *p.TxHash == txHash {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("failed to get payment by tx hash: %w", models.ErrNotFound)
}

func (db *MemoryDB) SettlePayment(_ context.Context, payment *models.PaymentIntent) error {
	defer db.write()()
	current, ok := db.t.payments[payment.ID]
	if !ok {
		return fmt.Errorf("failed to get payment %d: %w", payment.ID, models.ErrNotFound)
	}
	if current.Status != models.PaymentPending {
		return fmt.Errorf("payment %d: %w", payment.ID, models.ErrAlreadySettled)
	}
	if db.txHashTaken(payment.TxHash, payment.ID) {
		return fmt.Errorf("failed to settle payment: %w: tx hash already used", models.ErrDuplicate)
	}
	current.Status = payment.Status
	current.FailReason = payment.FailReason
	current.TxHash = payment.TxHash
	current.ConfirmedAt = payment.ConfirmedAt
	current.FailedAt = payment.FailedAt
	db.t.payments[payment.ID] = current
	return nil
}

func (db *MemoryDB) ListPayments(_ context.Context, filter models.PaymentFilter, page models.Page) ([]*models.PaymentIntent, int64, error) {
	defer db.read()()
	var payments []*models.PaymentIntent
	for _, p := range db.t.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.UserID != 0 && p.UserID != filter.UserID {
			continue
		}
		p := p
		payments = append(payments, &p)
	}
	newestFirst(payments, func(p *models.PaymentIntent) time.Time { return p.CreatedAt }, func(p *models.PaymentIntent) uint { return p.ID })
	return paginate(payments, page), int64(len(payments)), nil
}

func (db *MemoryDB) ListStalePendingPaymentIDs(_ context.Context, before time.Time) ([]uint, error) {
	defer db.read()()
	var ids []uint
	for id, p := range db.t.payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Referrals

func (db *MemoryDB) CreateReferralLink(_ context.Context, link *models.ReferralLink) error {
	defer db.write()()
	for _, l := range db.t.links {
		if l.ReferredUserID == link.ReferredUserID {
			return fmt.Errorf("failed to create referral link: %w: user %d already referred", models.ErrDuplicate, link.ReferredUserID)
		}
	}
	link.ID = db.t.next("links")
	stamp(&link.CreatedAt)
	db.t.links[link.ID] = *link
	return nil
}

func (db *MemoryDB) GetReferralLinkByReferred(_ context.Context, referredUserID uint) (*models.ReferralLink, error) {
	defer db.read()()
	for _, l := range db.t.links {
		if l.ReferredUserID == referredUserID {
			l := l
			return &l, nil
		}
	}
	return nil, fmt.Errorf("failed to get referral link: %w", models.ErrNotFound)
}

func (db *MemoryDB) ListReferralSummaries(_ context.Context, referrerUserID uint) ([]*models.ReferralSummary, error) {
	defer db.read()()
	var summaries []*models.ReferralSummary
	for _, l := range db.t.links {
		if l.ReferrerUserID != referrerUserID {
			continue
		}
		earned := decimal.Zero
		for _, e := range db.t.earnings {
			if e.ReferralLinkID == l.ID {
				earned = earned.Add(e.CommissionUSD)
			}
		}
		summaries = append(summaries, &models.ReferralSummary{
			ID:                  l.ID,
			ReferrerID:          l.ReferrerUserID,
			ReferredID:          l.ReferredUserID,
			ReferredEmail:       db.t.users[l.ReferredUserID].Email,
			CommissionEarnedUSD: earned,
			CreatedAt:           l.CreatedAt,
		})
	}
	newestFirst(summaries, func(s *models.ReferralSummary) time.Time { return s.CreatedAt }, func(s *models.ReferralSummary) uint { return s.ID })
	return summaries, nil
}

func (db *MemoryDB) CreateReferralEarning(_ context.Context, earning *models.ReferralEarning) error {
	defer db.write()()
	if _, ok := db.t.links[earning.ReferralLinkID]; !ok {
		return fmt.Errorf("failed to create referral earning: %w: unknown referral link %d", models.ErrValidation, earning.ReferralLinkID)
	}
	for _, e := range db.t.earnings {
		if e.PaymentIntentID == earning.PaymentIntentID {
			return fmt.Errorf("failed to create referral earning: %w: payment %d already credited", models.ErrDuplicate, earning.PaymentIntentID)
		}
	}
	earning.ID = db.t.next("earnings")
	stamp(&earning.CreatedAt)
	db.t.earnings[earning.ID] = *earning
	return nil
}

func (db *MemoryDB) CountReferralEarningsForPayment(_ context.Context, paymentID uint) (int64, error) {
	defer db.read()()
	var count int64
	for _, e := range db.t.earnings {
		if e.PaymentIntentID == paymentID {
			count++
		}
	}
	return count, nil
}

func (db *MemoryDB) SumReferralEarnings(_ context.Context, referrerUserID uint) (decimal.Decimal, error) {
	defer db.read()()
	total := decimal.Zero
	for _, e := range db.t.earnings {
		if db.t.links[e.ReferralLinkID].ReferrerUserID == referrerUserID {
			total = total.Add(e.CommissionUSD)
		}
	}
	return total, nil
}

// Payouts

func (db *MemoryDB) CreatePayout(_ context.Context, payout *models.Payout) error {
	defer db.write()()
	payout.ID = db.t.next("payouts")
	stamp(&payout.CreatedAt)
	stored := *payout
	stored.UserEmail = ""
	db.t.payouts[payout.ID] = stored
	return nil
}

func (db *MemoryDB) GetPayoutForUpdate(_ context.Context, id uint) (*models.Payout, error) {
	defer db.read()()
	payout, ok := db.t.payouts[id]
	if !ok {
		return nil, fmt.Errorf("failed to get payout %d: %w", id, models.ErrNotFound)
	}
	return &payout, nil
}

func (db *MemoryDB) SavePayout(_ context.Context, payout *models.Payout) error {
	defer db.write()()
	if _, ok := db.t.payouts[payout.ID]; !ok {
		return fmt.Errorf("failed to save payout %d: %w", payout.ID, models.ErrNotFound)
	}
	stored := *payout
	stored.UserEmail = ""
	db.t.payouts[payout.ID] = stored
	return nil
}

func (db *MemoryDB) ListPayouts(_ context.Context, status models.PayoutStatus, page models.Page) ([]*models.Payout, int64, error) {
	defer db.read()()
	var payouts []*models.Payout
	for _, p := range db.t.payouts {
		if status != "" && p.Status != status {
			continue
		}
		p := p
		p.UserEmail = db.t.users[p.UserID].Email
		payouts = append(payouts, &p)
	}
	newestFirst(payouts, func(p *models.Payout) time.Time { return p.CreatedAt }, func(p *models.Payout) uint { return p.ID })
	return paginate(payouts, page), int64(len(payouts)), nil
}

func (db *MemoryDB) ListPendingPayoutIDs(_ context.Context) ([]uint, error) {
	defer db.read()()
	var ids []uint
	for id, p := range db.t.payouts {
		if p.Status == models.PayoutPending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (db *MemoryDB) SumPayouts(_ context.Context, userID uint) (decimal.Decimal, error) {
	defer db.read()()
	total := decimal.Zero
	for _, p := range db.t.payouts {
		if p.UserID == userID && (p.Status == models.PayoutPending || p.Status == models.PayoutPaid) {
			total = total.Add(p.AmountUSD)
		}
	}
	return total, nil
}

// Settings

func (db *MemoryDB) ListSettings(_ context.Context) ([]*models.Setting, error) {
	defer db.read()()
	settings := make([]*models.Setting, 0, len(db.t.settings))
	for _, s := range db.t.settings {
		s := s
		settings = append(settings, &s)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

func (db *MemoryDB) UpsertSetting(_ context.Context, setting *models.Setting) error {
	defer db.write()()
	if current, ok := db.t.settings[setting.Key]; ok {
		setting.ID = current.ID
	} else {
		setting.ID = db.t.next("settings")
	}
	stamp(&setting.UpdatedAt)
	db.t.settings[setting.Key] = *setting
	return nil
}

func (db *MemoryDB) InsertSettingIfMissing(_ context.Context, setting *models.Setting) error {
	defer db.write()()
	if _, ok := db.t.settings[setting.Key]; ok {
		return nil
	}
	setting.ID = db.t.next("settings")
	stamp(&setting.UpdatedAt)
	db.t.settings[setting.Key] = *setting
	return nil
}

// Aggregates

func (db *MemoryDB) AdminStats(_ context.Context) (*models.AdminStats, error) {
	defer db.read()()
	stats := &models.AdminStats{
		TotalUsers:            int64(len(db.t.users)),
		TotalMiners:           int64(len(db.t.miners)),
		TotalRentals:          int64(len(db.t.rentals)),
		TotalReferralEarnings: int64(len(db.t.earnings)),
		TotalRevenueUSD:       decimal.Zero,
		TotalActiveHashrateTH: decimal.Zero,
		TotalProfitBTC:        decimal.Zero,
		ReferralCommissionUSD: decimal.Zero,
		PendingPayoutsUSD:     decimal.Zero,
	}
	for _, r := range db.t.rentals {
		if r.IsActive {
			stats.ActiveRentals++
			stats.TotalActiveHashrateTH = stats.TotalActiveHashrateTH.Add(r.HashrateAllocated)
		}
		if r.CompletedAt != nil {
			stats.CompletedRentals++
		}
		stats.TotalProfitBTC = stats.TotalProfitBTC.Add(r.TotalProfitBTC)
	}
	for _, p := range db.t.payments {
		switch p.Status {
		case models.PaymentPending:
			stats.PendingPayments++
		case models.PaymentConfirmed:
			stats.ConfirmedPayments++
			stats.TotalRevenueUSD = stats.TotalRevenueUSD.Add(p.AmountUSD)
		case models.PaymentFailed:
			stats.FailedPayments++
		}
	}
	for _, e := range db.t.earnings {
		stats.ReferralCommissionUSD = stats.ReferralCommissionUSD.Add(e.CommissionUSD)
	}
	for _, p := range db.t.payouts {
		if p.Status == models.PayoutPending {
			stats.PendingPayoutsUSD = stats.PendingPayoutsUSD.Add(p.AmountUSD)
		}
	}

	users := make([]*models.User, 0, len(db.t.users))
	for _, u := range db.t.users {
		u := u
		users = append(users, &u)
	}
	newestFirst(users, func(u *models.User) time.Time { return u.CreatedAt }, func(u *models.User) uint { return u.ID })
	stats.RecentUsers = paginate(users, models.Page{Page: 1, PerPage: 5})

	rentals := make([]*models.Rental, 0, len(db.t.rentals))
	for _, r := range db.t.rentals {
		rentals = append(rentals, db.withMinerName(r))
	}
	newestFirst(rentals, func(r *models.Rental) time.Time { return r.CreatedAt }, func(r *models.Rental) uint { return r.ID })
	stats.RecentRentals = paginate(rentals, models.Page{Page: 1, PerPage: 5})
	return stats, nil
}

func (db *MemoryDB) TableCounts(_ context.Context) (map[string]int64, error) {
	defer db.read()()
	return map[string]int64{
		models.User{}.TableName():            int64(len(db.t.users)),
		models.MinerProfile{}.TableName():    int64(len(db.t.miners)),
		models.Rental{}.TableName():          int64(len(db.t.rentals)),
		models.PaymentIntent{}.TableName():   int64(len(db.t.payments)),
		models.ReferralLink{}.TableName():    int64(len(db.t.links)),
		models.ReferralEarning{}.TableName(): int64(len(db.t.earnings)),
		models.Payout{}.TableName():          int64(len(db.t.payouts)),
		models.Setting{}.TableName():         int64(len(db.t.settings)),
		models.AccrualRun{}.TableName():      int64(len(db.t.runs)),
	}, nil
}

// Maintenance

func (db *MemoryDB) rentalReferenced(rentalID uint, ignoreFailed bool) bool {
	for _, p := range db.t.payments {
		if p.RentalID == nil || *p.RentalID != rentalID {
			continue
		}
		if ignoreFailed && p.Status == models.PaymentFailed {
			continue
		}
		return true
	}
	return false
}

func (db *MemoryDB) DeleteFailedPayments(_ context.Context, before time.Time) (int64, error) {
	defer db.write()()
	var deleted int64
	var rentalIDs []uint
	for id, p := range db.t.payments {
		if p.Status == models.PaymentFailed && p.CreatedAt.Before(before) {
			if p.RentalID != nil {
				rentalIDs = append(rentalIDs, *p.RentalID)
			}
			delete(db.t.payments, id)
			deleted++
		}
	}
	for _, id := range rentalIDs {
		r, ok := db.t.rentals[id]
		if ok && r.StartDate == nil && !r.IsActive && !db.rentalReferenced(id, false) {
			delete(db.t.rentals, id)
		}
	}
	return deleted, nil
}

func (db *MemoryDB) DeleteOldInactiveRentals(_ context.Context, before time.Time) (int64, error) {
	defer db.write()()
	var deleted int64
	for id, r := range db.t.rentals {
		if r.IsActive || !r.CreatedAt.Before(before) || db.rentalReferenced(id, true) {
			continue
		}
		for pid, p := range db.t.payments {
			if p.RentalID != nil && *p.RentalID == id {
				delete(db.t.payments, pid)
			}
		}
		delete(db.t.rentals, id)
		deleted++
	}
	return deleted, nil
}

func (db *MemoryDB) DeleteOrphanPayouts(_ context.Context) (int64, error) {
	defer db.write()()
	var deleted int64
	for id, p := range db.t.payouts {
		if _, ok := db.t.users[p.UserID]; !ok {
			delete(db.t.payouts, id)
			deleted++
		}
	}
	return deleted, nil
}

// Scheduler coordination

func (db *MemoryDB) AcquireLock(_ context.Context, name, instanceID string, ttl time.Duration, now time.Time) (bool, error) {
	defer db.write()()
	if current, ok := db.t.locks[name]; ok && !current.Expired(now) && current.InstanceID != instanceID {
		return false, nil
	}
	db.t.locks[name] = models.AppLock{
		LockName:   name,
		InstanceID: instanceID,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	return true, nil
}

func (db *MemoryDB) ReleaseLock(_ context.Context, name, instanceID string) error {
	defer db.write()()
	if current, ok := db.t.locks[name]; ok && current.InstanceID == instanceID {
		delete(db.t.locks, name)
	}
	return nil
}

func (db *MemoryDB) CreateAccrualRun(_ context.Context, run *models.AccrualRun) error {
	defer db.write()()
	for _, r := range db.t.runs {
		if r.RunID == run.RunID {
			return fmt.Errorf("failed to record accrual run: %w: run %s exists", models.ErrDuplicate, run.RunID)
		}
	}
	run.ID = db.t.next("runs")
	db.t.runs[run.ID] = *run
	return nil
}

func (db *MemoryDB) ListAccrualRuns(_ context.Context, limit int) ([]*models.AccrualRun, error) {
	defer db.read()()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs := make([]*models.AccrualRun, 0, len(db.t.runs))
	for _, r := range db.t.runs {
		r := r
		runs = append(runs, &r)
	}
	newestFirst(runs, func(r *models.AccrualRun) time.Time { return r.StartedAt }, func(r *models.AccrualRun) uint { return r.ID })
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
