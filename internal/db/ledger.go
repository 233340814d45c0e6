package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrStaleSubscription    = errors.New("subscription changed since it was read")
	ErrTrialAlreadyUsed     = errors.New("trial already used")
	ErrDuplicateOperation   = errors.New("operation already recorded")
)

// Flag names one of the one-shot notification markers.
type Flag string

const (
	FlagFiveDays Flag = "notified_5_days"
	FlagOneDay   Flag = "notified_1_day"
)

// Ledger is the store every component reads and writes subscriptions through.
// Writes that touch one subscription lock its row for the read-modify-write.
type Ledger struct {
	db                *gorm.DB
	resetFlagsOnRenew bool
}

type LedgerOption func(*Ledger)

// WithFlagResetOnRenew clears warning flags whose threshold the renewed expiry is back above.
func WithFlagResetOnRenew(on bool) LedgerOption {
	return func(l *Ledger) { l.resetFlagsOnRenew = on }
}

func NewLedger(db *gorm.DB, opts ...LedgerOption) *Ledger {
	l := &Ledger{db: db}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := l.db.WithContext(ctx).Order("id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	for i := range subs {
		subs[i].ExpiresAt = subs[i].ExpiresAt.UTC()
	}
	return subs, nil
}

func (l *Ledger) SubscriptionsByUser(ctx context.Context, userID int64) ([]Subscription, error) {
	var subs []Subscription
	if err := l.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions of %d: %w", userID, err)
	}
	for i := range subs {
		subs[i].ExpiresAt = subs[i].ExpiresAt.UTC()
	}
	return subs, nil
}

func (l *Ledger) GetSubscription(ctx context.Context, id uint) (Subscription, error) {
	return getSubscription(l.db.WithContext(ctx), id, false)
}

// KeyIDs returns the key of every subscription in the ledger.
func (l *Ledger) KeyIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := l.db.WithContext(ctx).Model(&Subscription{}).Pluck("key_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list key ids: %w", err)
	}
	return ids, nil
}

// DeleteByKeyID drops the rows that reference a key the provider no longer has.
func (l *Ledger) DeleteByKeyID(ctx context.Context, keyID string) (int64, error) {
	res := l.db.WithContext(ctx).Where("key_id = ?", keyID).Delete(&Subscription{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete subscription by key %s: %w", keyID, res.Error)
	}
	return res.RowsAffected, nil
}

// MarkNotified sets a warning flag, but only if the row still has the expiry the caller acted on.
func (l *Ledger) MarkNotified(ctx context.Context, id uint, flag Flag, seenExpiry time.Time) error {
	if flag != FlagFiveDays && flag != FlagOneDay {
		return fmt.Errorf("unknown flag %q", flag)
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := getSubscription(tx, id, true)
		if err != nil {
			return err
		}
		if !sub.ExpiresAt.Equal(seenExpiry) {
			return ErrStaleSubscription
		}
		return tx.Model(&Subscription{}).Where("id = ?", id).Update(string(flag), true).Error
	})
}

// Teardown removes an expired subscription. The row stays locked while remove runs, so a
// concurrent Extend either lands first (and Teardown backs off with ErrStaleSubscription)
// or waits and then finds the row gone. If remove fails nothing is written.
func (l *Ledger) Teardown(ctx context.Context, id uint, now time.Time, remove func(ctx context.Context, sub Subscription) error) (Subscription, error) {
	var sub Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = getSubscription(tx, id, true)
		if err != nil {
			return err
		}
		if sub.NotifiedExpired || sub.Remaining(now) > 0 {
			return ErrStaleSubscription
		}
		if err := remove(ctx, sub); err != nil {
			return err
		}
		if err := tx.Model(&Subscription{}).Where("id = ?", id).Update("notified_expired", true).Error; err != nil {
			return err
		}
		sub.NotifiedExpired = true
		return tx.Delete(&Subscription{}, id).Error
	})
	return sub, err
}

// Extend adds days to a subscription and records the payment that bought them, atomically.
// The new expiry counts from the current one, or from now if that is already in the past.
func (l *Ledger) Extend(ctx context.Context, userID int64, subID uint, days int, now time.Time, purchase *PurchaseRecord) (Subscription, error) {
	var sub Subscription
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNewOperation(tx, purchase); err != nil {
			return err
		}
		var err error
		sub, err = getSubscription(tx, subID, true)
		if err != nil {
			return err
		}
		if sub.UserID != userID {
			return ErrSubscriptionNotFound
		}

		base := sub.ExpiresAt
		if base.Before(now) {
			base = now
		}
		sub.ExpiresAt = dbTime(base.Add(time.Duration(days) * 24 * time.Hour))
		updates := map[string]interface{}{"expires_at": sub.ExpiresAt}
		if l.resetFlagsOnRenew {
			left := sub.Remaining(now)
			if left > FiveDays && sub.Notified5Days {
				sub.Notified5Days = false
				updates["notified_5_days"] = false
			}
			if left > OneDay && sub.Notified1Day {
				sub.Notified1Day = false
				updates["notified_1_day"] = false
			}
		}
		if err := tx.Model(&Subscription{}).Where("id = ?", subID).Updates(updates).Error; err != nil {
			return err
		}
		return createPurchase(tx, purchase)
	})
	return sub, err
}

// GrantPaid stores a freshly provisioned subscription together with its payment.
func (l *Ledger) GrantPaid(ctx context.Context, sub *Subscription, purchase *PurchaseRecord) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNewOperation(tx, purchase); err != nil {
			return err
		}
		sub.ExpiresAt = dbTime(sub.ExpiresAt)
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		return createPurchase(tx, purchase)
	})
}

// GrantTrial stores a trial subscription and burns the user's trial in one transaction.
func (l *Ledger) GrantTrial(ctx context.Context, sub *Subscription, usedAt time.Time) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		used, err := hasUsedTrial(tx, sub.UserID)
		if err != nil {
			return err
		}
		if used {
			return ErrTrialAlreadyUsed
		}
		sub.ExpiresAt = dbTime(sub.ExpiresAt)
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("create subscription: %w", err)
		}
		err = tx.Create(&TrialUsage{UserID: sub.UserID, UsedAt: dbTime(usedAt)}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrTrialAlreadyUsed
		}
		return err
	})
}

func (l *Ledger) HasUsedTrial(ctx context.Context, userID int64) (bool, error) {
	return hasUsedTrial(l.db.WithContext(ctx), userID)
}

// HasOperation reports whether a gateway operation has already been settled.
func (l *Ledger) HasOperation(ctx context.Context, operationID string) (bool, error) {
	return hasOperation(l.db.WithContext(ctx), operationID)
}

// Stats is the admin summary of the ledger.
type Stats struct {
	ByStatus     map[Status]int
	TrialUsers   int64
	Revenue30d   decimal.Decimal
	RevenueTotal decimal.Decimal
	Purchases    int64
}

func (l *Ledger) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{ByStatus: make(map[Status]int)}
	subs, err := l.ListSubscriptions(ctx)
	if err != nil {
		return st, err
	}
	for _, s := range subs {
		st.ByStatus[s.Status(now)]++
	}
	db := l.db.WithContext(ctx)
	if err := db.Model(&TrialUsage{}).Count(&st.TrialUsers).Error; err != nil {
		return st, fmt.Errorf("count trials: %w", err)
	}

	var purchases []PurchaseRecord
	if err := db.Select("amount", "recorded_at").Find(&purchases).Error; err != nil {
		return st, fmt.Errorf("list purchases: %w", err)
	}
	since := now.Add(-30 * 24 * time.Hour)
	for _, p := range purchases {
		st.RevenueTotal = st.RevenueTotal.Add(p.Amount)
		if !p.RecordedAt.Before(since) {
			st.Revenue30d = st.Revenue30d.Add(p.Amount)
		}
	}
	st.Purchases = int64(len(purchases))
	return st, nil
}

func getSubscription(tx *gorm.DB, id uint, lock bool) (Subscription, error) {
	var sub Subscription
	q := tx
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("id = ?", id).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, ErrSubscriptionNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("load subscription %d: %w", id, err)
	}
	sub.ExpiresAt = sub.ExpiresAt.UTC()
	return sub, nil
}

func hasUsedTrial(tx *gorm.DB, userID int64) (bool, error) {
	var n int64
	if err := tx.Model(&TrialUsage{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check trial usage: %w", err)
	}
	return n > 0, nil
}

func hasOperation(tx *gorm.DB, operationID string) (bool, error) {
	var n int64
	if err := tx.Model(&PurchaseRecord{}).Where("operation_id = ?", operationID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check operation: %w", err)
	}
	return n > 0, nil
}

func ensureNewOperation(tx *gorm.DB, purchase *PurchaseRecord) error {
	if purchase == nil {
		return errors.New("purchase record is required")
	}
	dup, err := hasOperation(tx, purchase.OperationID)
	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateOperation
	}
	return nil
}

func createPurchase(tx *gorm.DB, purchase *PurchaseRecord) error {
	purchase.RecordedAt = dbTime(purchase.RecordedAt)
	err := tx.Create(purchase).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateOperation
	}
	if err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return nil
}

// dbTime drops what Postgres timestamps cannot hold so values read back compare Equal.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
