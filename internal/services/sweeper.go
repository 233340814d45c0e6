package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
)

// Alerter raises an operator alert. *logger.AdminNotifier implements it.
type Alerter interface {
	Notify(msg string)
}

type sweepAction int

const (
	sweepNone sweepAction = iota
	sweepWarnFiveDays
	sweepWarnOneDay
	sweepExpire
)

func (a sweepAction) String() string {
	switch a {
	case sweepWarnFiveDays:
		return "warn_5_days"
	case sweepWarnOneDay:
		return "warn_1_day"
	case sweepExpire:
		return "expire"
	default:
		return "none"
	}
}

// nextAction picks at most one step for a subscription. A row whose remaining time skipped
// over a warning window between sweeps gets no late warning.
func nextAction(sub db.Subscription, now time.Time) sweepAction {
	left := sub.Remaining(now)
	switch {
	case left > db.FourDays && left <= db.FiveDays && !sub.Notified5Days:
		return sweepWarnFiveDays
	case left > 0 && left <= db.OneDay && !sub.Notified1Day:
		return sweepWarnOneDay
	case left <= 0 && !sub.NotifiedExpired:
		return sweepExpire
	default:
		return sweepNone
	}
}

// SweepReport summarises one sweep cycle.
type SweepReport struct {
	Checked  int
	FiveDays int
	OneDay   int
	Expired  int
	Skipped  int
	Failed   int
}

// Sweeper walks every subscription, sends threshold warnings and tears down expired keys.
type Sweeper struct {
	ledger  *db.Ledger
	keys    *KeyIssuer
	notify  notifier
	alert   Alerter
	metrics *Metrics
	log     *zap.Logger
	support string
	now     func() time.Time

	mu             sync.Mutex
	teardownWarned map[uint]bool
}

type SweeperConfig struct {
	CallTimeout    time.Duration
	SupportContact string
}

func NewSweeper(ledger *db.Ledger, keys *KeyIssuer, out Messenger, alert Alerter, metrics *Metrics, cfg SweeperConfig, log *zap.Logger) *Sweeper {
	log = logger.Component(log, "sweeper")
	return &Sweeper{
		ledger:         ledger,
		keys:           keys,
		notify:         notifier{out: out, timeout: cfg.CallTimeout, log: log},
		alert:          alert,
		metrics:        metrics,
		log:            log,
		support:        cfg.SupportContact,
		now:            time.Now,
		teardownWarned: make(map[uint]bool),
	}
}

// Run performs one sweep cycle. Failures are isolated per subscription; only a failure to
// read the ledger aborts the cycle.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	start := time.Now()
	subs, err := s.ledger.ListSubscriptions(ctx)
	if err != nil {
		return rep, err
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Checked++
		action := nextAction(sub, s.now().UTC())
		if action == sweepNone {
			continue
		}
		res := s.apply(ctx, sub, action)
		s.metrics.SweepAction(action.String(), res)
		switch res {
		case "ok":
			switch action {
			case sweepWarnFiveDays:
				rep.FiveDays++
			case sweepWarnOneDay:
				rep.OneDay++
			case sweepExpire:
				rep.Expired++
			}
		case "skipped":
			rep.Skipped++
		default:
			rep.Failed++
		}
	}
	s.log.Info("sweep finished",
		zap.Int("checked", rep.Checked),
		zap.Int("warned_5_days", rep.FiveDays),
		zap.Int("warned_1_day", rep.OneDay),
		zap.Int("expired", rep.Expired),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return rep, nil
}

func (s *Sweeper) apply(ctx context.Context, sub db.Subscription, action sweepAction) string {
	log := s.log.With(zap.Uint("sub_id", sub.ID), zap.Int64("user_id", sub.UserID), zap.String("key_id", sub.KeyID))
	switch action {
	case sweepWarnFiveDays:
		return s.warn(ctx, log, sub, db.FlagFiveDays, msgFiveDaysLeft)
	case sweepWarnOneDay:
		return s.warn(ctx, log, sub, db.FlagOneDay, msgOneDayLeft)
	case sweepExpire:
		return s.expire(ctx, log, sub)
	}
	return "skipped"
}

// warn sends first and sets the flag only after a successful send, so a failed send is retried.
func (s *Sweeper) warn(ctx context.Context, log *zap.Logger, sub db.Subscription, flag db.Flag, text string) string {
	if err := s.notify.send(ctx, sub.UserID, text, renewButton); err != nil {
		log.Error("expiry warning not sent", zap.String("flag", string(flag)), zap.Error(err))
		return "failed"
	}
	err := s.ledger.MarkNotified(ctx, sub.ID, flag, sub.ExpiresAt)
	switch {
	case errors.Is(err, db.ErrStaleSubscription), errors.Is(err, db.ErrSubscriptionNotFound):
		log.Info("subscription changed during warning, flag left unset", zap.Error(err))
		return "skipped"
	case err != nil:
		log.Error("failed to store warning flag", zap.String("flag", string(flag)), zap.Error(err))
		return "failed"
	}
	log.Info("expiry warning sent", zap.String("flag", string(flag)))
	return "ok"
}

// expire removes the key on the provider, then the ledger row, then tells the user.
func (s *Sweeper) expire(ctx context.Context, log *zap.Logger, sub db.Subscription) string {
	_, err := s.ledger.Teardown(ctx, sub.ID, s.now().UTC(), func(ctx context.Context, locked db.Subscription) error {
		return s.keys.Revoke(ctx, locked.KeyID)
	})
	switch {
	case errors.Is(err, db.ErrStaleSubscription), errors.Is(err, db.ErrSubscriptionNotFound):
		log.Info("subscription renewed or removed before teardown", zap.Error(err))
		return "skipped"
	case err != nil:
		log.Error("teardown failed, will retry next sweep", zap.Error(err))
		s.reportTeardownFailure(ctx, sub, err)
		return "failed"
	}
	s.forgetTeardownFailure(sub.ID)
	log.Info("subscription expired, key removed")
	s.notify.bestEffort(ctx, sub.UserID, msgExpired, buyButton)
	return "ok"
}

// reportTeardownFailure tells the user and the admin once per subscription, not every cycle.
func (s *Sweeper) reportTeardownFailure(ctx context.Context, sub db.Subscription, err error) {
	s.mu.Lock()
	already := s.teardownWarned[sub.ID]
	s.teardownWarned[sub.ID] = true
	s.mu.Unlock()
	if already {
		return
	}
	if s.alert != nil {
		s.alert.Notify("Не удалось удалить ключ " + sub.KeyID + ": " + err.Error())
	}
	s.notify.bestEffort(ctx, sub.UserID, teardownFailedText(sub.KeyID, s.support))
}

func (s *Sweeper) forgetTeardownFailure(id uint) {
	s.mu.Lock()
	delete(s.teardownWarned, id)
	s.mu.Unlock()
}
