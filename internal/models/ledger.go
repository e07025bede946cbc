package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TransactionType string

const (
	TransactionUsage    TransactionType = "usage"
	TransactionPurchase TransactionType = "purchase"
	TransactionBonus    TransactionType = "bonus"
	TransactionRefund   TransactionType = "refund"
	TransactionReset    TransactionType = "reset"
)

// LedgerTransaction is one audit entry describing a ledger change.
type LedgerTransaction struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	Type             TransactionType `json:"type"`
	Bucket           string          `json:"bucket,omitempty"`
	Amount           int             `json:"amount"`
	ExtraBefore      int             `json:"extra_before"`
	ExtraAfter       int             `json:"extra_after"`
	MonthlyUsedAfter int             `json:"monthly_used_after"`
	Reference        string          `json:"reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type LedgerTransactionDB struct {
	bun.BaseModel `bun:"table:ledger_transactions,alias:lt"`

	ID               uuid.UUID       `bun:"id,pk,type:uuid"`
	UserID           string          `bun:"user_id,notnull"`
	Type             TransactionType `bun:"type,notnull"`
	Bucket           string          `bun:"bucket,notnull,default:''"`
	Amount           int             `bun:"amount,notnull"`
	ExtraBefore      int             `bun:"extra_before,notnull"`
	ExtraAfter       int             `bun:"extra_after,notnull"`
	MonthlyUsedAfter int             `bun:"monthly_used_after,notnull"`
	Reference        string          `bun:"reference,notnull,default:''"`
	CreatedAt        time.Time       `bun:"created_at,notnull,default:current_timestamp"`
}

func (t *LedgerTransactionDB) ToLedgerTransaction() *LedgerTransaction {
	return &LedgerTransaction{
		ID:               t.ID,
		UserID:           t.UserID,
		Type:             t.Type,
		Bucket:           t.Bucket,
		Amount:           t.Amount,
		ExtraBefore:      t.ExtraBefore,
		ExtraAfter:       t.ExtraAfter,
		MonthlyUsedAfter: t.MonthlyUsedAfter,
		Reference:        t.Reference,
		CreatedAt:        t.CreatedAt,
	}
}

func LedgerTransactionFromDomain(t *LedgerTransaction) *LedgerTransactionDB {
	id := t.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &LedgerTransactionDB{
		ID:               id,
		UserID:           t.UserID,
		Type:             t.Type,
		Bucket:           t.Bucket,
		Amount:           t.Amount,
		ExtraBefore:      t.ExtraBefore,
		ExtraAfter:       t.ExtraAfter,
		MonthlyUsedAfter: t.MonthlyUsedAfter,
		Reference:        t.Reference,
		CreatedAt:        created.UTC(),
	}
}

// ProcessedEventDB records a billing event id that has already been applied.
type ProcessedEventDB struct {
	bun.BaseModel `bun:"table:billing_events,alias:be"`

	EventID     string    `bun:"event_id,pk"`
	Kind        string    `bun:"kind,notnull"`
	UserID      string    `bun:"user_id,notnull"`
	ProcessedAt time.Time `bun:"processed_at,notnull,default:current_timestamp"`
}

type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedBy   string    `json:"updated_by,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SystemSettingDB struct {
	bun.BaseModel `bun:"table:system_settings,alias:ss"`

	Key         string    `bun:"setting_key,pk"`
	Value       string    `bun:"setting_value,notnull"`
	Description string    `bun:"description,notnull,default:''"`
	UpdatedBy   string    `bun:"updated_by,notnull,default:''"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (s *SystemSettingDB) ToSystemSetting() *SystemSetting {
	return &SystemSetting{
		Key:         s.Key,
		Value:       s.Value,
		Description: s.Description,
		UpdatedBy:   s.UpdatedBy,
		UpdatedAt:   s.UpdatedAt,
	}
}
