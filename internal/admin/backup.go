package admin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/logger"
)

// DefaultRetention is how long dumps are kept before CleanOld removes them.
const DefaultRetention = 31 * 24 * time.Hour

const dumpTimeout = 2 * time.Minute

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Backups writes pg_dump archives of the ledger into dir.
type Backups struct {
	dir       string
	dsn       string
	retention time.Duration
	run       Runner
	alert     *logger.AdminNotifier
	log       *zap.Logger
	now       func() time.Time
}

func NewBackups(dir, dsn string, alert *logger.AdminNotifier, log *zap.Logger) *Backups {
	return &Backups{
		dir:       dir,
		dsn:       dsn,
		retention: DefaultRetention,
		run:       execRunner,
		alert:     alert,
		log:       logger.Component(log, "backup"),
		now:       time.Now,
	}
}

// Create dumps the database to dir/{prefix}_{timestamp}.dump and returns the path.
func (b *Backups) Create(ctx context.Context, prefix string) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	filename := filepath.Join(b.dir, prefix+"_"+b.now().Format("20060102_150405")+".dump")
	ctx, cancel := context.WithTimeout(ctx, dumpTimeout)
	defer cancel()
	if out, err := b.run(ctx, "pg_dump", b.dsn, "-Fc", "-f", filename); err != nil {
		_ = os.Remove(filename)
		return "", fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return filename, nil
}

// Restore loads a dump from dir into the database. Only the base name of file is used.
func (b *Backups) Restore(ctx context.Context, file string) error {
	filename := filepath.Join(b.dir, filepath.Base(file))
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("backup %s: %w", filepath.Base(file), err)
	}
	ctx, cancel := context.WithTimeout(ctx, dumpTimeout)
	defer cancel()
	if out, err := b.run(ctx, "pg_restore", "-d", b.dsn, filename); err != nil {
		return fmt.Errorf("pg_restore: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CleanOld removes manual and automatic dumps older than the retention period.
func (b *Backups) CleanOld() (int, error) {
	files, err := filepath.Glob(filepath.Join(b.dir, "*backup_*.dump"))
	if err != nil {
		return 0, err
	}
	cutoff := b.now().Add(-b.retention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f); err != nil {
			b.log.Warn("old backup not removed", zap.String("file", f), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Auto is the daily job: dump, then prune. Failures alert the admin.
func (b *Backups) Auto(ctx context.Context) error {
	filename, err := b.Create(ctx, "autobackup")
	if err != nil {
		b.alert.Notify("Ошибка автоматического резервного копирования: " + err.Error())
		return err
	}
	removed, err := b.CleanOld()
	if err != nil {
		b.log.Warn("backup cleanup failed", zap.Error(err))
	}
	b.log.Info("backup created", zap.String("file", filename), zap.Int("removed_old", removed))
	return nil
}
