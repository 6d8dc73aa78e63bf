package models

import "time"

// AppLock represents a distributed lock in the database.
// The accrual scheduler holds it for the duration of a pass so that only
// one instance accrues at a time.
type AppLock struct {
	LockName   string `gorm:"primaryKey;size:255"`
	InstanceID string `gorm:"size:255;not null"`
	AcquiredAt int64  `gorm:"not null;index"`
	ExpiresAt  int64  `gorm:"not null;index"`
}

// TableName specifies the table name for GORM
func (AppLock) TableName() string {
	return "app_locks"
}

// Expired reports whether the lease is over at the given time.
func (l *AppLock) Expired(now time.Time) bool {
	return l.ExpiresAt <= now.Unix()
}

// AccrualLockName is the AppLock guarding accrual passes.
const AccrualLockName = "accrual-pass"
