package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/core-coin/hashrent/internal/models"
	"github.com/core-coin/hashrent/pkg/logger"
)

type PostgresDB struct {
	logger *logger.Logger

	Conn *gorm.DB
}

func NewPostgresDB(dsn string, logger *logger.Logger) (*PostgresDB, error) {
	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Use standard logger
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond, // Log queries slower than this
			LogLevel:                  gormLogger.Warn,        // Only log warnings or errors
			IgnoreRecordNotFoundError: true,                   // Suppress "record not found" errors
			Colorful:                  true,                   // Enable colorful logs
		},
	)

	var db *gorm.DB
	err := retry.Do(
		func() error {
			var err error
			db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger, TranslateError: true})
			return err
		},
		retry.Attempts(10),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxDelay(10*time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Database connection attempt failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL!")
	return &PostgresDB{Conn: db, logger: logger}, nil
}

func (db *PostgresDB) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

func (db *PostgresDB) Transaction(ctx context.Context, fn func(tx models.Repository) error) error {
	return db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresDB{Conn: tx, logger: db.logger})
	})
}

func (db *PostgresDB) conn(ctx context.Context) *gorm.DB {
	return db.Conn.WithContext(ctx)
}

// dbError maps gorm errors onto the ledger error taxonomy.
func dbError(msg string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", msg, models.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w: %v", msg, models.ErrDuplicate, err)
	case errors.Is(err, gorm.ErrForeignKeyViolated), errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%s: %w: %v", msg, models.ErrValidation, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func sumColumn(q *gorm.DB) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := q.Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

// Miner catalog

func (db *PostgresDB) GetMiner(ctx context.Context, id uint) (*models.MinerProfile, error) {
	var miner models.MinerProfile
	if err := db.conn(ctx).First(&miner, id).Error; err != nil {
		return nil, dbError("failed to get miner", err)
	}
	return &miner, nil
}

func (db *PostgresDB) ListMiners(ctx context.Context) ([]*models.MinerProfile, error) {
	var miners []*models.MinerProfile
	if err := db.conn(ctx).Order("id").Find(&miners).Error; err != nil {
		return nil, dbError("failed to list miners", err)
	}
	return miners, nil
}

func (db *PostgresDB) CreateMiner(ctx context.Context, miner *models.MinerProfile) error {
	if err := db.conn(ctx).Create(miner).Error; err != nil {
		return dbError("failed to create miner", err)
	}
	return nil
}

func (db *PostgresDB) UpdateMiner(ctx context.Context, miner *models.MinerProfile) error {
	res := db.conn(ctx).Model(&models.MinerProfile{}).
		Where("id = ?", miner.ID).
		Select("name", "model", "hashrate_th", "efficiency_w_per_th", "power_watts", "price_usd",
			"available_units", "description", "image_url").
		Updates(miner)
	if res.Error != nil {
		return dbError("failed to update miner", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update miner %d: %w", miner.ID, models.ErrNotFound)
	}
	return nil
}

func (db *PostgresDB) DeleteMiner(ctx context.Context, id uint) error {
	res := db.conn(ctx).Delete(&models.MinerProfile{}, id)
	if res.Error != nil {
		return dbError("failed to delete miner", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to delete miner %d: %w", id, models.ErrNotFound)
	}
	return nil
}

func (db *PostgresDB) DecrementUnit(ctx context.Context, minerID uint) error {
	res := db.conn(ctx).Model(&models.MinerProfile{}).
		Where("id = ? AND available_units > 0", minerID).
		UpdateColumn("available_units", gorm.Expr("available_units - 1"))
	if res.Error != nil {
		return dbError("failed to reserve miner unit", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := db.GetMiner(ctx, minerID); err != nil {
		return err
	}
	return fmt.Errorf("miner %d: %w", minerID, models.ErrCapacityExhausted)
}

func (db *PostgresDB) ReleaseUnit(ctx context.Context, minerID uint) error {
	res := db.conn(ctx).Model(&models.MinerProfile{}).
		Where("id = ?", minerID).
		UpdateColumn("available_units", gorm.Expr("available_units + 1"))
	if res.Error != nil {
		return dbError("failed to release miner unit", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to release unit of miner %d: %w", minerID, models.ErrNotFound)
	}
	return nil
}

// Users

func (db *PostgresDB) CreateUser(ctx context.Context, user *models.User) error {
	if err := db.conn(ctx).Create(user).Error; err != nil {
		return dbError("failed to create user", err)
	}
	return nil
}

func (db *PostgresDB) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := db.conn(ctx).First(&user, id).Error; err != nil {
		return nil, dbError("failed to get user", err)
	}
	return &user, nil
}

func (db *PostgresDB) GetUserForUpdate(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := db.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, id).Error; err != nil {
		return nil, dbError("failed to lock user", err)
	}
	return &user, nil
}

func (db *PostgresDB) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	var user models.User
	if err := db.conn(ctx).Where("referral_code = ?", code).First(&user).Error; err != nil {
		return nil, dbError("failed to get user by referral code", err)
	}
	return &user, nil
}

func (db *PostgresDB) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := db.conn(ctx).Model(&models.User{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
		return false, dbError("failed to check referral code", err)
	}
	return count > 0, nil
}

func (db *PostgresDB) ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) ([]*models.User, int64, error) {
	page = page.Normalize()
	q := db.conn(ctx).Model(&models.User{})
	if filter.Search != "" {
		q = q.Where("email ILIKE ?", "%"+filter.Search+"%")
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbError("failed to count users", err)
	}
	var users []*models.User
	if err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&users).Error; err != nil {
		return nil, 0, dbError("failed to list users", err)
	}
	return users, total, nil
}

func (db *PostgresDB) SetUserAdmin(ctx context.Context, id uint, isAdmin bool) error {
	res := db.conn(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("is_admin", isAdmin)
	if res.Error != nil {
		return dbError("failed to update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failed to update user %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// Rentals

func (db *PostgresDB) CreateRental(ctx context.Context, rental *models.Rental) error {
	if err := db.conn(ctx).Create(rental).Error; err != nil {
		return dbError("failed to create rental", err)
	}
	return nil
}

func (db *PostgresDB) GetRental(ctx context.Context, id uint) (*models.Rental, error) {
	var rental models.Rental
	if err := db.conn(ctx).First(&rental, id).Error; err != nil {
		return nil, dbError("failed to get rental", err)
	}
	if err := db.fillMinerNames(ctx, []*models.Rental{&rental}); err != nil {
		return nil, err
	}
	return &rental, nil
}

func (db *PostgresDB) GetRentalForUpdate(ctx context.Context, id uint) (*models.Rental, error) {
	var rental models.Rental
	if err := db.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&rental, id).Error; err != nil {
		return nil, dbError("failed to lock rental", err)
	}
	return &rental, nil
}

func (db *PostgresDB) SaveRental(ctx context.Context, rental *models.Rental) error {
	if err := db.conn(ctx).Save(rental).Error; err != nil {
		return dbError("failed to save rental", err)
	}
	return nil
}

func (db *PostgresDB) ListRentals(ctx context.Context, filter models.RentalFilter, page models.Page) ([]*models.Rental, int64, error) {
	page = page.Normalize()
	q := db.conn(ctx).Model(&models.Rental{})
	if filter.Active != nil {
		q = q.Where("is_active = ?", *filter.Active)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbError("failed to count rentals", err)
	}
	var rentals []*models.Rental
	if err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&rentals).Error; err != nil {
		return nil, 0, dbError("failed to list rentals", err)
	}
	if err := db.fillMinerNames(ctx, rentals); err != nil {
		return nil, 0, err
	}
	return rentals, total, nil
}

func (db *PostgresDB) fillMinerNames(ctx context.Context, rentals []*models.Rental) error {
	if len(rentals) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(rentals))
	for _, r := range rentals {
		ids = append(ids, r.MinerID)
	}
	var miners []*models.MinerProfile
	if err := db.conn(ctx).Select("id", "name").Where("id IN ?", ids).Find(&miners).Error; err != nil {
		return dbError("failed to load miner names", err)
	}
	names := make(map[uint]string, len(miners))
	for _, m := range miners {
		names[m.ID] = m.Name
	}
	for _, r := range rentals {
		r.MinerName = names[r.MinerID]
	}
	return nil
}

func (db *PostgresDB) ListActiveRentalIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := db.conn(ctx).Model(&models.Rental{}).Where("is_active = ?", true).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, dbError("failed to list active rentals", err)
	}
	return ids, nil
}

func (db *PostgresDB) CountActiveRentalsForMiner(ctx context.Context, minerID uint) (int64, error) {
	var count int64
	if err := db.conn(ctx).Model(&models.Rental{}).Where("miner_id = ? AND is_active = ?", minerID, true).Count(&count).Error; err != nil {
		return 0, dbError("failed to count active rentals", err)
	}
	return count, nil
}

func (db *PostgresDB) CountPendingRentalsForMiner(ctx context.Context, minerID uint) (int64, error) {
	var count int64
	err := db.conn(ctx).Model(&models.Rental{}).
		Joins("JOIN payment_intents ON payment_intents.rental_id = rentals.id").
		Where("rentals.miner_id = ? AND rentals.start_date IS NULL AND payment_intents.status = ?", minerID, models.PaymentPending).
		Count(&count).Error
	if err != nil {
		return 0, dbError("failed to count pending rentals", err)
	}
	return count, nil
}

// Payments

func (db *PostgresDB) CreatePayment(ctx context.Context, payment *models.PaymentIntent) error {
	if err := db.conn(ctx).Create(payment).Error; err != nil {
		return dbError("failed to create payment", err)
	}
	return nil
}

func (db *PostgresDB) GetPayment(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var payment models.PaymentIntent
	if err := db.conn(ctx).First(&payment, id).Error; err != nil {
		return nil, dbError("failed to get payment", err)
	}
	return &payment, nil
}

func (db *PostgresDB) GetPaymentForUpdate(ctx context.Context, id uint) (*models.PaymentIntent, error) {
	var payment models.PaymentIntent
	if err := db.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, id).Error; err != nil {
		return nil, dbError("failed to lock payment", err)
	}
	return &payment, nil
}

func (db *PostgresDB) GetPaymentByTxHash(ctx context.Context, txHash string) (*models.PaymentIntent, error) {
	var payment models.PaymentIntent
	if err := db.conn(ctx).Where("tx_hash = ?", txHash).First(&payment).Error; err != nil {
		return nil, dbError("failed to get payment by tx hash", err)
	}
	return &payment, nil
}

func (db *PostgresDB) SettlePayment(ctx context.Context, payment *models.PaymentIntent) error {
	res := db.conn(ctx).Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", payment.ID, models.PaymentPending).
		Updates(map[string]interface{}{
			"status":       payment.Status,
			"fail_reason":  payment.FailReason,
			"tx_hash":      payment.TxHash,
			"confirmed_at": payment.ConfirmedAt,
			"failed_at":    payment.FailedAt,
		})
	if res.Error != nil {
		return dbError("failed to settle payment", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := db.GetPayment(ctx, payment.ID); err != nil {
			return err
		}
		return fmt.Errorf("payment %d: %w", payment.ID, models.ErrAlreadySettled)
	}
	return nil
}

func (db *PostgresDB) ListPayments(ctx context.Context, filter models.PaymentFilter, page models.Page) ([]*models.PaymentIntent, int64, error) {
	page = page.Normalize()
	q := db.conn(ctx).Model(&models.PaymentIntent{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbError("failed to count payments", err)
	}
	var payments []*models.PaymentIntent
	if err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&payments).Error; err != nil {
		return nil, 0, dbError("failed to list payments", err)
	}
	return payments, total, nil
}

func (db *PostgresDB) ListStalePendingPaymentIDs(ctx context.Context, before time.Time) ([]uint, error) {
	var ids []uint
	if err := db.conn(ctx).Model(&models.PaymentIntent{}).
		Where("status = ? AND created_at < ?", models.PaymentPending, before).
		Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, dbError("failed to list stale payments", err)
	}
	return ids, nil
}

// Referrals

func (db *PostgresDB) CreateReferralLink(ctx context.Context, link *models.ReferralLink) error {
	if err := db.conn(ctx).Create(link).Error; err != nil {
		return dbError("failed to create referral link", err)
	}
	return nil
}

func (db *PostgresDB) GetReferralLinkByReferred(ctx context.Context, referredUserID uint) (*models.ReferralLink, error) {
	var link models.ReferralLink
	if err := db.conn(ctx).Where("referred_user_id = ?", referredUserID).First(&link).Error; err != nil {
		return nil, dbError("failed to get referral link", err)
	}
	return &link, nil
}

func (db *PostgresDB) ListReferralSummaries(ctx context.Context, referrerUserID uint) ([]*models.ReferralSummary, error) {
	var summaries []*models.ReferralSummary
	err := db.conn(ctx).Raw(`
		SELECT l.id, l.referrer_user_id AS referrer_id, l.referred_user_id AS referred_id,
		       COALESCE(u.email, '') AS referred_email,
		       COALESCE(SUM(e.commission_usd), 0) AS commission_earned_usd,
		       l.created_at
		FROM referral_links l
		LEFT JOIN users u ON u.id = l.referred_user_id
		LEFT JOIN referral_earnings e ON e.referral_link_id = l.id
		WHERE l.referrer_user_id = ?
		GROUP BY l.id, u.email
		ORDER BY l.created_at DESC, l.id DESC`, referrerUserID).
		Scan(&summaries).Error
	if err != nil {
		return nil, dbError("failed to list referrals", err)
	}
	return summaries, nil
}

func (db *PostgresDB) CreateReferralEarning(ctx context.Context, earning *models.ReferralEarning) error {
	if err := db.conn(ctx).Create(earning).Error; err != nil {
		return dbError("failed to create referral earning", err)
	}
	return nil
}

func (db *PostgresDB) CountReferralEarningsForPayment(ctx context.Context, paymentID uint) (int64, error) {
	var count int64
	if err := db.conn(ctx).Model(&models.ReferralEarning{}).Where("payment_intent_id = ?", paymentID).Count(&count).Error; err != nil {
		return 0, dbError("failed to count referral earnings", err)
	}
	return count, nil
}

func (db *PostgresDB) SumReferralEarnings(ctx context.Context, referrerUserID uint) (decimal.Decimal, error) {
	total, err := sumColumn(db.conn(ctx).Raw(`
		SELECT SUM(e.commission_usd)
		FROM referral_earnings e
		JOIN referral_links l ON l.id = e.referral_link_id
		WHERE l.referrer_user_id = ?`, referrerUserID))
	if err != nil {
		return decimal.Zero, dbError("failed to sum referral earnings", err)
	}
	return total, nil
}

// Payouts

func (db *PostgresDB) CreatePayout(ctx context.Context, payout *models.Payout) error {
	if err := db.conn(ctx).Create(payout).Error; err != nil {
		return dbError("failed to create payout", err)
	}
	return nil
}

func (db *PostgresDB) GetPayoutForUpdate(ctx context.Context, id uint) (*models.Payout, error) {
	var payout models.Payout
	if err := db.conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&payout, id).Error; err != nil {
		return nil, dbError("failed to lock payout", err)
	}
	return &payout, nil
}

func (db *PostgresDB) SavePayout(ctx context.Context, payout *models.Payout) error {
	if err := db.conn(ctx).Save(payout).Error; err != nil {
		return dbError("failed to save payout", err)
	}
	return nil
}

func (db *PostgresDB) ListPayouts(ctx context.Context, status models.PayoutStatus, page models.Page) ([]*models.Payout, int64, error) {
	page = page.Normalize()
	q := db.conn(ctx).Model(&models.Payout{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, dbError("failed to count payouts", err)
	}
	var payouts []*models.Payout
	if err := q.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.PerPage).Find(&payouts).Error; err != nil {
		return nil, 0, dbError("failed to list payouts", err)
	}

	if len(payouts) > 0 {
		userIDs := make([]uint, 0, len(payouts))
		for _, p := range payouts {
			userIDs = append(userIDs, p.UserID)
		}
		var users []*models.User
		if err := db.conn(ctx).Select("id", "email").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, 0, dbError("failed to load payout users", err)
		}
		emails := make(map[uint]string, len(users))
		for _, u := range users {
			emails[u.ID] = u.Email
		}
		for _, p := range payouts {
			p.UserEmail = emails[p.UserID]
		}
	}
	return payouts, total, nil
}

func (db *PostgresDB) ListPendingPayoutIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	if err := db.conn(ctx).Model(&models.Payout{}).Where("status = ?", models.PayoutPending).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, dbError("failed to list pending payouts", err)
	}
	return ids, nil
}

func (db *PostgresDB) SumPayouts(ctx context.Context, userID uint) (decimal.Decimal, error) {
	total, err := sumColumn(db.conn(ctx).Model(&models.Payout{}).
		Select("SUM(amount_usd)").
		Where("user_id = ? AND status IN ?", userID, []models.PayoutStatus{models.PayoutPending, models.PayoutPaid}))
	if err != nil {
		return decimal.Zero, dbError("failed to sum payouts", err)
	}
	return total, nil
}

// Settings

func (db *PostgresDB) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := db.conn(ctx).Order("key").Find(&settings).Error; err != nil {
		return nil, dbError("failed to list settings", err)
	}
	return settings, nil
}

func (db *PostgresDB) UpsertSetting(ctx context.Context, setting *models.Setting) error {
	err := db.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(setting).Error
	if err != nil {
		return dbError("failed to save setting", err)
	}
	return nil
}

func (db *PostgresDB) InsertSettingIfMissing(ctx context.Context, setting *models.Setting) error {
	err := db.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(setting).Error
	if err != nil {
		return dbError("failed to initialize setting", err)
	}
	return nil
}

// Aggregates

func (db *PostgresDB) AdminStats(ctx context.Context) (*models.AdminStats, error) {
	stats := &models.AdminStats{}
	counts := []struct {
		dst   *int64
		model interface{}
		where string
		args  []interface{}
	}{
		{&stats.TotalUsers, &models.User{}, "", nil},
		{&stats.TotalMiners, &models.MinerProfile{}, "", nil},
		{&stats.TotalRentals, &models.Rental{}, "", nil},
		{&stats.ActiveRentals, &models.Rental{}, "is_active = ?", []interface{}{true}},
		{&stats.CompletedRentals, &models.Rental{}, "completed_at IS NOT NULL", nil},
		{&stats.PendingPayments, &models.PaymentIntent{}, "status = ?", []interface{}{models.PaymentPending}},
		{&stats.ConfirmedPayments, &models.PaymentIntent{}, "status = ?", []interface{}{models.PaymentConfirmed}},
		{&stats.FailedPayments, &models.PaymentIntent{}, "status = ?", []interface{}{models.PaymentFailed}},
		{&stats.TotalReferralEarnings, &models.ReferralEarning{}, "", nil},
	}
	for _, c := range counts {
		q := db.conn(ctx).Model(c.model)
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return nil, dbError("failed to count stats", err)
		}
	}

	sums := []struct {
		dst   *decimal.Decimal
		query *gorm.DB
	}{
		{&stats.TotalRevenueUSD, db.conn(ctx).Model(&models.PaymentIntent{}).Select("SUM(amount_usd)").Where("status = ?", models.PaymentConfirmed)},
		{&stats.TotalActiveHashrateTH, db.conn(ctx).Model(&models.Rental{}).Select("SUM(hashrate_allocated)").Where("is_active = ?", true)},
		{&stats.TotalProfitBTC, db.conn(ctx).Model(&models.Rental{}).Select("SUM(total_profit_btc)")},
		{&stats.ReferralCommissionUSD, db.conn(ctx).Model(&models.ReferralEarning{}).Select("SUM(commission_usd)")},
		{&stats.PendingPayoutsUSD, db.conn(ctx).Model(&models.Payout{}).Select("SUM(amount_usd)").Where("status = ?", models.PayoutPending)},
	}
	for _, s := range sums {
		total, err := sumColumn(s.query)
		if err != nil {
			return nil, dbError("failed to sum stats", err)
		}
		*s.dst = total
	}

	if err := db.conn(ctx).Order("created_at DESC, id DESC").Limit(5).Find(&stats.RecentUsers).Error; err != nil {
		return nil, dbError("failed to load recent users", err)
	}
	if err := db.conn(ctx).Order("created_at DESC, id DESC").Limit(5).Find(&stats.RecentRentals).Error; err != nil {
		return nil, dbError("failed to load recent rentals", err)
	}
	if err := db.fillMinerNames(ctx, stats.RecentRentals); err != nil {
		return nil, err
	}
	return stats, nil
}

func (db *PostgresDB) TableCounts(ctx context.Context) (map[string]int64, error) {
	tables := []interface{ TableName() string }{
		models.User{}, models.MinerProfile{}, models.Rental{}, models.PaymentIntent{},
		models.ReferralLink{}, models.ReferralEarning{}, models.Payout{}, models.Setting{},
		models.AccrualRun{},
	}
	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		var count int64
		if err := db.conn(ctx).Table(t.TableName()).Count(&count).Error; err != nil {
			return nil, dbError("failed to count "+t.TableName(), err)
		}
		counts[t.TableName()] = count
	}
	return counts, nil
}

// Maintenance

func (db *PostgresDB) DeleteFailedPayments(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := db.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var rentalIDs []uint
		if err := tx.Model(&models.PaymentIntent{}).
			Where("status = ? AND created_at < ? AND rental_id IS NOT NULL", models.PaymentFailed, before).
			Pluck("rental_id", &rentalIDs).Error; err != nil {
			return err
		}
		res := tx.Where("status = ? AND created_at < ?", models.PaymentFailed, before).Delete(&models.PaymentIntent{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		if len(rentalIDs) == 0 {
			return nil
		}
		// only rentals that were never activated and are no longer referenced
		return tx.Where("id IN ? AND start_date IS NULL AND is_active = ?", rentalIDs, false).
			Where("NOT EXISTS (SELECT 1 FROM payment_intents p WHERE p.rental_id = rentals.id)").
			Delete(&models.Rental{}).Error
	})
	if err != nil {
		return 0, dbError("failed to delete failed payments", err)
	}
	return deleted, nil
}

func (db *PostgresDB) DeleteOldInactiveRentals(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := db.conn(ctx).Transaction(func(tx *gorm.DB) error {
		unreferenced := "NOT EXISTS (SELECT 1 FROM payment_intents p WHERE p.rental_id = rentals.id AND p.status <> ?)"
		var ids []uint
		if err := tx.Model(&models.Rental{}).
			Where("is_active = ? AND created_at < ?", false, before).
			Where(unreferenced, models.PaymentFailed).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("rental_id IN ? AND status = ?", ids, models.PaymentFailed).Delete(&models.PaymentIntent{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Rental{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, dbError("failed to delete old rentals", err)
	}
	return deleted, nil
}

func (db *PostgresDB) DeleteOrphanPayouts(ctx context.Context) (int64, error) {
	res := db.conn(ctx).Where("NOT EXISTS (SELECT 1 FROM users u WHERE u.id = payouts.user_id)").Delete(&models.Payout{})
	if res.Error != nil {
		return 0, dbError("failed to delete orphan payouts", res.Error)
	}
	return res.RowsAffected, nil
}

// Scheduler coordination

func (db *PostgresDB) AcquireLock(ctx context.Context, name, instanceID string, ttl time.Duration, now time.Time) (bool, error) {
	lock := models.AppLock{
		LockName:   name,
		InstanceID: instanceID,
		AcquiredAt: now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	res := db.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lock_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"instance_id", "acquired_at", "expires_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "app_locks.expires_at <= ? OR app_locks.instance_id = ?", Vars: []interface{}{now.Unix(), instanceID}},
		}},
	}).Create(&lock)
	if res.Error != nil {
		return false, dbError("failed to acquire lock", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (db *PostgresDB) ReleaseLock(ctx context.Context, name, instanceID string) error {
	err := db.conn(ctx).Where("lock_name = ? AND instance_id = ?", name, instanceID).Delete(&models.AppLock{}).Error
	if err != nil {
		return dbError("failed to release lock", err)
	}
	return nil
}

func (db *PostgresDB) CreateAccrualRun(ctx context.Context, run *models.AccrualRun) error {
	if err := db.conn(ctx).Create(run).Error; err != nil {
		return dbError("failed to record accrual run", err)
	}
	return nil
}

func (db *PostgresDB) ListAccrualRuns(ctx context.Context, limit int) ([]*models.AccrualRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []*models.AccrualRun
	if err := db.conn(ctx).Order("started_at DESC, id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, dbError("failed to list accrual runs", err)
	}
	return runs, nil
}
