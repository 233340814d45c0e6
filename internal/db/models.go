package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warning thresholds of the lifecycle sweep.
const (
	FiveDays = 5 * 24 * time.Hour
	FourDays = 4 * 24 * time.Hour
	OneDay   = 24 * time.Hour
)

// Subscription is one provisioned key owned by a Telegram user until ExpiresAt.
// Flags only ever go from false to true; an expired subscription is deleted, not kept.
type Subscription struct {
	ID              uint      `gorm:"primaryKey"`
	UserID          int64     `gorm:"index;not null"`
	KeyID           string    `gorm:"uniqueIndex;not null"`
	AccessURL       string    `gorm:"not null;default:''"`
	ExpiresAt       time.Time `gorm:"not null"`
	Notified5Days   bool      `gorm:"column:notified_5_days;not null;default:false"`
	Notified1Day    bool      `gorm:"column:notified_1_day;not null;default:false"`
	NotifiedExpired bool      `gorm:"column:notified_expired;not null;default:false"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Remaining is the time left until expiry, negative once expired.
func (s Subscription) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

type Status string

const (
	StatusActive      Status = "active"
	StatusWarned5Days Status = "warned_5_days"
	StatusWarned1Day  Status = "warned_1_day"
	StatusExpiring    Status = "expiring"
	StatusExpired     Status = "expired"
)

// Status derives the lifecycle state from the expiry and the three flags.
func (s Subscription) Status(now time.Time) Status {
	switch {
	case s.NotifiedExpired:
		return StatusExpired
	case s.Remaining(now) <= 0:
		return StatusExpiring
	case s.Notified1Day:
		return StatusWarned1Day
	case s.Notified5Days:
		return StatusWarned5Days
	default:
		return StatusActive
	}
}

// TrialUsage marks that a user has spent their one-hour trial. Rows are never removed.
type TrialUsage struct {
	UserID int64     `gorm:"primaryKey;autoIncrement:false"`
	UsedAt time.Time `gorm:"not null"`
}

func (TrialUsage) TableName() string { return "test_usage" }

type PurchaseKind string

const (
	PurchaseNew   PurchaseKind = "new"
	PurchaseRenew PurchaseKind = "renew"
)

// PurchaseRecord is a settled gateway payment. OperationID is the idempotency key.
type PurchaseRecord struct {
	ID          uint            `gorm:"primaryKey"`
	UserID      int64           `gorm:"index;not null"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	PeriodDays  int             `gorm:"not null"`
	Kind        PurchaseKind    `gorm:"size:16;not null"`
	Label       string          `gorm:"not null"`
	OperationID string          `gorm:"uniqueIndex;not null"`
	RecordedAt  time.Time       `gorm:"not null"`
}

func (PurchaseRecord) TableName() string { return "purchase_history" }
