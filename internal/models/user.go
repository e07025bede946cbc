package models

import (
	"time"

	"github.com/blagoySimandov/arqrender/internal/entitlement"
	"github.com/uptrace/bun"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	Name          string             `json:"name"`
	PasswordHash  string             `json:"-"`
	AuthProvider  string             `json:"auth_provider"`
	Role          Role               `json:"role"`
	Ledger        entitlement.Ledger `json:"ledger"`
	LedgerVersion int64              `json:"-"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type UserDB struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string `bun:"id,pk"`
	Email        string `bun:"email,notnull,unique"`
	Name         string `bun:"name,notnull,default:''"`
	PasswordHash string `bun:"password_hash,notnull,default:''"`
	AuthProvider string `bun:"auth_provider,notnull"`
	Role         Role   `bun:"role,notnull,default:'user'"`

	Plan               entitlement.Plan               `bun:"plan,notnull,default:'free'"`
	SubscriptionStatus entitlement.SubscriptionStatus `bun:"subscription_status,notnull,default:'inactive'"`
	MonthlyQuota       int                            `bun:"monthly_quota,notnull,default:0"`
	MonthlyUsed        int                            `bun:"monthly_used,notnull,default:0"`
	ExtraRenders       int                            `bun:"extra_renders,notnull,default:0"`
	BillingPeriodStart *time.Time                     `bun:"billing_period_start"`
	BillingPeriodEnd   *time.Time                     `bun:"billing_period_end"`
	StripeCustomerID   *string                        `bun:"stripe_customer_id,unique"`
	SubscriptionID     *string                        `bun:"subscription_id"`
	LedgerVersion      int64                          `bun:"ledger_version,notnull,default:0"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (u *UserDB) ToUser() *User {
	return &User{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		PasswordHash:  u.PasswordHash,
		AuthProvider:  u.AuthProvider,
		Role:          u.Role,
		Ledger:        u.ToLedger(),
		LedgerVersion: u.LedgerVersion,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

func (u *UserDB) ToLedger() entitlement.Ledger {
	return entitlement.Ledger{
		Plan:               u.Plan,
		SubscriptionStatus: u.SubscriptionStatus,
		MonthlyQuota:       u.MonthlyQuota,
		MonthlyUsed:        u.MonthlyUsed,
		ExtraRenders:       u.ExtraRenders,
		BillingPeriodStart: derefTime(u.BillingPeriodStart),
		BillingPeriodEnd:   derefTime(u.BillingPeriodEnd),
		StripeCustomerID:   derefString(u.StripeCustomerID),
		SubscriptionID:     derefString(u.SubscriptionID),
	}
}

func UserFromDomain(u *User) *UserDB {
	db := &UserDB{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		PasswordHash:  u.PasswordHash,
		AuthProvider:  u.AuthProvider,
		Role:          u.Role,
		LedgerVersion: u.LedgerVersion,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	db.SetLedger(u.Ledger)
	return db
}

// SetLedger copies l into the ledger columns. Times are stored in UTC and
// empty references as NULL.
func (u *UserDB) SetLedger(l entitlement.Ledger) {
	u.Plan = l.Plan
	u.SubscriptionStatus = l.SubscriptionStatus
	u.MonthlyQuota = l.MonthlyQuota
	u.MonthlyUsed = l.MonthlyUsed
	u.ExtraRenders = l.ExtraRenders
	u.BillingPeriodStart = utcPtr(l.BillingPeriodStart)
	u.BillingPeriodEnd = utcPtr(l.BillingPeriodEnd)
	u.StripeCustomerID = strPtr(l.StripeCustomerID)
	u.SubscriptionID = strPtr(l.SubscriptionID)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func utcPtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
