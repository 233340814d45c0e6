package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"outline-vpn-bot/internal/db"
)

type sweepEnv struct {
	gdb      *gorm.DB
	ledger   *db.Ledger
	provider *fakeProvider
	out      *fakeMessenger
	alert    *fakeAlerter
	sweeper  *Sweeper
	now      time.Time
}

func newSweepEnv(t *testing.T, keys ...string) *sweepEnv {
	t.Helper()
	gdb := newTestDB(t)
	env := &sweepEnv{
		gdb:      gdb,
		ledger:   db.NewLedger(gdb),
		provider: newFakeProvider(keys...),
		out:      &fakeMessenger{failFor: make(map[int64]bool)},
		alert:    &fakeAlerter{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.sweeper = NewSweeper(env.ledger, newIssuer(env.provider), env.out, env.alert, nil,
		SweeperConfig{CallTimeout: time.Second, SupportContact: "@support"}, zap.NewNop())
	env.sweeper.now = func() time.Time { return env.now }
	return env
}

func (e *sweepEnv) run(t *testing.T) SweepReport {
	t.Helper()
	rep, err := e.sweeper.Run(context.Background())
	require.NoError(t, err)
	return rep
}

func TestNextAction(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sub := func(left time.Duration, f5, f1, fx bool) db.Subscription {
		return db.Subscription{ExpiresAt: now.Add(left), Notified5Days: f5, Notified1Day: f1, NotifiedExpired: fx}
	}
	tests := []struct {
		name string
		sub  db.Subscription
		want sweepAction
	}{
		{"far away", sub(10*24*time.Hour, false, false, false), sweepNone},
		{"exactly five days", sub(db.FiveDays, false, false, false), sweepWarnFiveDays},
		{"four and a half days", sub(108*time.Hour, false, false, false), sweepWarnFiveDays},
		{"five day flag set", sub(108*time.Hour, true, false, false), sweepNone},
		{"exactly four days", sub(db.FourDays, false, false, false), sweepNone},
		{"missed five day window", sub(3*24*time.Hour, false, false, false), sweepNone},
		{"exactly one day", sub(db.OneDay, true, false, false), sweepWarnOneDay},
		{"one day without five day flag", sub(12*time.Hour, false, false, false), sweepWarnOneDay},
		{"one day flag set", sub(12*time.Hour, true, true, false), sweepNone},
		{"expires now", sub(0, true, true, false), sweepExpire},
		{"expired long ago", sub(-48*time.Hour, false, false, false), sweepExpire},
		{"expired and handled", sub(-time.Hour, true, true, true), sweepNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextAction(tt.sub, now))
		})
	}
}

func TestFiveDayNoticeFiresOnce(t *testing.T) {
	env := newSweepEnv(t, "k1")
	sub := seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: env.now.Add(108 * time.Hour)})

	rep := env.run(t)
	assert.Equal(t, 1, rep.FiveDays)
	msgs := env.out.to(42)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgFiveDaysLeft, msgs[0].Text)
	require.Len(t, msgs[0].Buttons, 1)
	assert.Equal(t, ActionRenew, msgs[0].Buttons[0].Data)

	got, err := env.ledger.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified5Days)

	env.now = env.now.Add(time.Hour)
	rep = env.run(t)
	assert.Zero(t, rep.FiveDays)
	assert.Len(t, env.out.to(42), 1)
}

func TestFlagsFireOnceOverLifetime(t *testing.T) {
	env := newSweepEnv(t, "k1")
	start := env.now
	sub := seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: start.Add(6 * 24 * time.Hour)})

	// hourly sweeps from six days out until an hour past expiry
	for env.now = start; !env.now.After(sub.ExpiresAt.Add(time.Hour)); env.now = env.now.Add(time.Hour) {
		env.run(t)
	}

	var texts []string
	for _, m := range env.out.to(42) {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{msgFiveDaysLeft, msgOneDayLeft, msgExpired}, texts)
	assert.False(t, env.provider.has("k1"))
	assert.Zero(t, countRows(t, env.gdb, &db.Subscription{}))
}

func TestExpiryTearsDownKeyThenRow(t *testing.T) {
	env := newSweepEnv(t, "k1", "k2")
	seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: env.now.Add(-time.Minute), Notified5Days: true, Notified1Day: true})
	seedSub(t, env.gdb, db.Subscription{UserID: 43, KeyID: "k2", ExpiresAt: env.now.Add(30 * 24 * time.Hour)})

	rep := env.run(t)
	assert.Equal(t, 1, rep.Expired)
	assert.False(t, env.provider.has("k1"))
	assert.True(t, env.provider.has("k2"))
	ids, err := env.ledger.KeyIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, ids)

	msgs := env.out.to(42)
	require.Len(t, msgs, 1)
	assert.Equal(t, msgExpired, msgs[0].Text)
	assert.Equal(t, ActionBuyNewKey, msgs[0].Buttons[0].Data)
}

func TestExpiryWhenKeyAlreadyGone(t *testing.T) {
	env := newSweepEnv(t)
	seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "vanished", ExpiresAt: env.now.Add(-time.Hour)})

	rep := env.run(t)
	assert.Equal(t, 1, rep.Expired)
	assert.Zero(t, countRows(t, env.gdb, &db.Subscription{}))
}

func TestFailedWarningIsRetried(t *testing.T) {
	env := newSweepEnv(t, "k1")
	sub := seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: env.now.Add(12 * time.Hour)})
	env.out.failFor[42] = true

	rep := env.run(t)
	assert.Equal(t, 1, rep.Failed)
	got, err := env.ledger.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Notified1Day)

	delete(env.out.failFor, 42)
	rep = env.run(t)
	assert.Equal(t, 1, rep.OneDay)
	got, err = env.ledger.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.Notified1Day)
}

func TestOneUserFailureDoesNotBlockOthers(t *testing.T) {
	env := newSweepEnv(t, "k1", "k2", "k3")
	seedSub(t, env.gdb, db.Subscription{UserID: 1, KeyID: "k1", ExpiresAt: env.now.Add(108 * time.Hour)})
	seedSub(t, env.gdb, db.Subscription{UserID: 2, KeyID: "k2", ExpiresAt: env.now.Add(108 * time.Hour)})
	seedSub(t, env.gdb, db.Subscription{UserID: 3, KeyID: "k3", ExpiresAt: env.now.Add(-time.Hour)})
	env.out.failFor[1] = true
	env.provider.deleteErr["k3"] = errDown

	rep := env.run(t)
	assert.Equal(t, 3, rep.Checked)
	assert.Equal(t, 1, rep.FiveDays)
	assert.Equal(t, 2, rep.Failed)
	assert.Len(t, env.out.to(2), 1)
}

func TestTeardownFailureKeepsRowAndWarnsOnce(t *testing.T) {
	env := newSweepEnv(t, "k1")
	sub := seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: env.now.Add(-time.Hour)})
	env.provider.deleteErr["k1"] = errDown

	env.run(t)
	env.now = env.now.Add(time.Hour)
	env.run(t)

	got, err := env.ledger.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.False(t, got.NotifiedExpired)
	assert.True(t, env.provider.has("k1"))

	msgs := env.out.to(42)
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(msgs[0].Text, "k1"))
	assert.True(t, strings.Contains(msgs[0].Text, "@support"))
	assert.Equal(t, 1, env.alert.count())

	delete(env.provider.deleteErr, "k1")
	env.now = env.now.Add(time.Hour)
	rep := env.run(t)
	assert.Equal(t, 1, rep.Expired)
	assert.False(t, env.provider.has("k1"))
	assert.Zero(t, countRows(t, env.gdb, &db.Subscription{}))
}

func TestRenewedSubscriptionIsNotTornDown(t *testing.T) {
	env := newSweepEnv(t, "k1")
	sub := seedSub(t, env.gdb, db.Subscription{UserID: 42, KeyID: "k1", ExpiresAt: env.now.Add(-time.Minute)})

	// a renewal lands between the sweep's read and its teardown
	_, err := env.ledger.Extend(context.Background(), 42, sub.ID, 30, env.now, purchaseFor(42, "op-r"))
	require.NoError(t, err)
	res := env.sweeper.expire(context.Background(), zap.NewNop(), sub)

	assert.Equal(t, "skipped", res)
	assert.True(t, env.provider.has("k1"))
	got, err := env.ledger.GetSubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.After(env.now))
}
