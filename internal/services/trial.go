package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
)

// TrialPeriod is how long a trial key lives.
const TrialPeriod = time.Hour

// TrialService hands out the one free trial each user gets.
type TrialService struct {
	ledger *db.Ledger
	keys   *KeyIssuer
	log    *zap.Logger
	now    func() time.Time
}

func NewTrialService(ledger *db.Ledger, keys *KeyIssuer, log *zap.Logger) *TrialService {
	return &TrialService{ledger: ledger, keys: keys, log: logger.Component(log, "trial"), now: time.Now}
}

// Grant issues a trial key. A user with a test_usage row gets db.ErrTrialAlreadyUsed and no key.
func (t *TrialService) Grant(ctx context.Context, userID int64) (*db.Subscription, error) {
	used, err := t.ledger.HasUsedTrial(ctx, userID)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, db.ErrTrialAlreadyUsed
	}
	key, err := t.keys.Issue(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := t.now().UTC()
	sub := &db.Subscription{
		UserID:    userID,
		KeyID:     key.ID,
		AccessURL: key.AccessURL,
		ExpiresAt: now.Add(TrialPeriod),
	}
	if err := t.ledger.GrantTrial(ctx, sub, now); err != nil {
		// a concurrent request may have taken the trial between the check and the insert
		if rerr := t.keys.Revoke(ctx, key.ID); rerr != nil {
			t.log.Error("failed to revoke unsaved trial key", zap.String("key_id", key.ID), zap.Error(rerr))
		}
		if errors.Is(err, db.ErrTrialAlreadyUsed) {
			return nil, err
		}
		return nil, fmt.Errorf("store trial: %w", err)
	}
	t.log.Info("trial granted", zap.Int64("user_id", userID), zap.String("key_id", key.ID), zap.Time("expires_at", sub.ExpiresAt))
	return sub, nil
}
