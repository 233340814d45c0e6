package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/messenger"
	"outline-vpn-bot/internal/outline"
)

var errDown = errors.New("connection refused")

// fakeProvider is an in-memory key inventory that counts mutating calls.
type fakeProvider struct {
	mu      sync.Mutex
	keys    map[string]outline.Key
	next    int
	creates int
	deletes []string

	createErr error
	renameErr error
	deleteErr map[string]error
	listErr   error
	infoErr   error
}

func newFakeProvider(ids ...string) *fakeProvider {
	p := &fakeProvider{keys: make(map[string]outline.Key), deleteErr: make(map[string]error)}
	for _, id := range ids {
		p.keys[id] = outline.Key{ID: id, Name: "Key " + id, AccessURL: "ss://" + id}
	}
	return p
}

func (p *fakeProvider) CreateKey(ctx context.Context) (outline.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return outline.Key{}, p.createErr
	}
	p.next++
	p.creates++
	id := fmt.Sprintf("new-%d", p.next)
	k := outline.Key{ID: id, AccessURL: "ss://" + id}
	p.keys[id] = k
	return k, nil
}

func (p *fakeProvider) RenameKey(ctx context.Context, id, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.renameErr != nil {
		return p.renameErr
	}
	k, ok := p.keys[id]
	if !ok {
		return outline.ErrKeyNotFound
	}
	k.Name = name
	p.keys[id] = k
	return nil
}

func (p *fakeProvider) GetKey(ctx context.Context, id string) (outline.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k, ok := p.keys[id]
	if !ok {
		return outline.Key{}, outline.ErrKeyNotFound
	}
	return k, nil
}

func (p *fakeProvider) DeleteKey(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := p.keys[id]; !ok {
		return outline.ErrKeyNotFound
	}
	delete(p.keys, id)
	p.deletes = append(p.deletes, id)
	return nil
}

func (p *fakeProvider) ListKeys(ctx context.Context) ([]outline.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	out := make([]outline.Key, 0, len(p.keys))
	for _, k := range p.keys {
		out = append(out, k)
	}
	return out, nil
}

func (p *fakeProvider) ServerInfo(ctx context.Context) (outline.ServerInfo, error) {
	if p.infoErr != nil {
		return outline.ServerInfo{}, p.infoErr
	}
	return outline.ServerInfo{Name: "test", Version: "1.12.0"}, nil
}

func (p *fakeProvider) has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.keys[id]
	return ok
}

func (p *fakeProvider) mutations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates + len(p.deletes)
}

type sentMessage struct {
	UserID  int64
	Text    string
	Buttons []messenger.Button
}

// fakeMessenger records messages; err makes every send fail, failFor only some users.
type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	err     error
	failFor map[int64]bool
}

func (m *fakeMessenger) Send(ctx context.Context, userID int64, text string, buttons ...messenger.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.failFor[userID] {
		return errDown
	}
	m.sent = append(m.sent, sentMessage{UserID: userID, Text: text, Buttons: buttons})
	return nil
}

func (m *fakeMessenger) to(userID int64) []sentMessage {
	var out []sentMessage
	for _, msg := range m.messages() {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	return out
}

func (m *fakeMessenger) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Notify(msg string) {
	a.mu.Lock()
	a.alerts = append(a.alerts, msg)
	a.mu.Unlock()
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func seedSub(t *testing.T, gdb *gorm.DB, sub db.Subscription) db.Subscription {
	t.Helper()
	sub.ExpiresAt = sub.ExpiresAt.UTC().Truncate(time.Microsecond)
	require.NoError(t, gdb.Create(&sub).Error)
	return sub
}

func countRows(t *testing.T, gdb *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(model).Count(&n).Error)
	return n
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newIssuer(p KeyProvider) *KeyIssuer {
	return NewKeyIssuer(p, time.Second, zap.NewNop())
}

func purchaseFor(userID int64, op string) *db.PurchaseRecord {
	return &db.PurchaseRecord{
		UserID:      userID,
		Amount:      decimal.NewFromInt(200),
		PeriodDays:  30,
		Kind:        db.PurchaseRenew,
		Label:       "renew",
		OperationID: op,
		RecordedAt:  time.Now(),
	}
}
