package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	err   error
}

// run writes the -f target like pg_dump would.
func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.err != nil {
		return []byte("connection refused"), f.err
	}
	for i, a := range args {
		if a == "-f" && i+1 < len(args) {
			if err := os.WriteFile(args[i+1], []byte("dump"), 0o644); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

type alertSink struct{ texts []string }

func (s *alertSink) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

var backupNow = time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

func newTestBackups(t *testing.T, runner *fakeRunner, sink *alertSink) *Backups {
	t.Helper()
	var alert *logger.AdminNotifier
	if sink != nil {
		alert = logger.NewAdminNotifier(sink, 1, zap.NewNop())
	}
	b := NewBackups(filepath.Join(t.TempDir(), "backups"), "postgres://ledger", alert, zap.NewNop())
	b.run = runner.run
	b.now = func() time.Time { return backupNow }
	return b
}

func TestBackupsCreate(t *testing.T) {
	runner := &fakeRunner{}
	b := newTestBackups(t, runner, nil)

	file, err := b.Create(context.Background(), "backup")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.dir, "backup_20240301_030000.dump"), file)
	assert.FileExists(t, file)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "pg_dump", runner.calls[0].name)
	assert.Equal(t, []string{"postgres://ledger", "-Fc", "-f", file}, runner.calls[0].args)
}

func TestBackupsCreateFailure(t *testing.T) {
	b := newTestBackups(t, &fakeRunner{err: errors.New("exit status 1")}, nil)
	_, err := b.Create(context.Background(), "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBackupsCleanOld(t *testing.T) {
	b := newTestBackups(t, &fakeRunner{}, nil)
	require.NoError(t, os.MkdirAll(b.dir, 0o755))

	old := filepath.Join(b.dir, "autobackup_20240101_030000.dump")
	oldManual := filepath.Join(b.dir, "backup_20240115_120000.dump")
	fresh := filepath.Join(b.dir, "autobackup_20240229_030000.dump")
	unrelated := filepath.Join(b.dir, "notes.txt")
	for _, f := range []string{old, oldManual, fresh, unrelated} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	}
	stale := backupNow.Add(-DefaultRetention - time.Hour)
	for _, f := range []string{old, oldManual, unrelated} {
		require.NoError(t, os.Chtimes(f, stale, stale))
	}
	recent := backupNow.Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(fresh, recent, recent))

	removed, err := b.CleanOld()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.NoFileExists(t, old)
	assert.NoFileExists(t, oldManual)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated)
}

func TestBackupsAutoAlertsOnFailure(t *testing.T) {
	sink := &alertSink{}
	b := newTestBackups(t, &fakeRunner{err: errors.New("exit status 1")}, sink)

	require.Error(t, b.Auto(context.Background()))
	require.Len(t, sink.texts, 1)
	assert.Contains(t, sink.texts[0], "[ALERT] Ошибка автоматического резервного копирования")
}

func TestBackupsAuto(t *testing.T) {
	sink := &alertSink{}
	b := newTestBackups(t, &fakeRunner{}, sink)

	require.NoError(t, b.Auto(context.Background()))
	assert.FileExists(t, filepath.Join(b.dir, "autobackup_20240301_030000.dump"))
	assert.Empty(t, sink.texts)
}

func TestBackupsRestoreUsesBaseName(t *testing.T) {
	runner := &fakeRunner{}
	b := newTestBackups(t, runner, nil)
	require.NoError(t, os.MkdirAll(b.dir, 0o755))
	file := filepath.Join(b.dir, "backup_20240301_030000.dump")
	require.NoError(t, os.WriteFile(file, []byte("dump"), 0o644))

	require.NoError(t, b.Restore(context.Background(), "../../"+filepath.Base(file)))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"-d", "postgres://ledger", file}, runner.calls[0].args)

	assert.Error(t, b.Restore(context.Background(), "missing.dump"))
	assert.Len(t, runner.calls, 1)
}
