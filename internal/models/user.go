package models

import "time"

// User is an account registered by the auth service.
type User struct {
	// ID is the unique identifier for the user.
	ID uint `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	// Email is the login email.
	Email string `json:"email" gorm:"column:email;size:120;uniqueIndex;not null"`
	// ReferralCode is the code other users register with.
	ReferralCode string `json:"referral_code" gorm:"column:referral_code;size:20;uniqueIndex;not null"`
	// ReferredBy is the referrer's user id.
	ReferredBy *uint `json:"referred_by,omitempty" gorm:"column:referred_by"`
	// IsAdmin grants access to admin operations.
	IsAdmin bool `json:"is_admin" gorm:"column:is_admin;not null;default:false"`
	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;index"`
}

// TableName specifies the table name for GORM
func (User) TableName() string {
	return "users"
}

// Actor is the authenticated caller of an engine operation.
// Identity is established by the auth layer; the engine only authorizes.
type Actor struct {
	UserID  uint
	IsAdmin bool
}

// CanAccess reports whether the actor owns the resource or is an admin.
func (a Actor) CanAccess(ownerID uint) bool {
	return a.IsAdmin || a.UserID == ownerID
}
