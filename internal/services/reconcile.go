package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"outline-vpn-bot/internal/db"
	"outline-vpn-bot/internal/logger"
)

// DefaultGraceWindow protects keys whose ledger row may not be committed yet.
const DefaultGraceWindow = 2 * time.Minute

// ReconcileReport counts what one cycle repaired.
type ReconcileReport struct {
	Remote             int
	Local              int
	OrphanRemote       int
	RemoteDeleted      int
	RemoteFailed       int
	RemoteSkippedYoung int
	OrphanLocal        int
	LocalDeleted       int
	LocalFailed        int
}

// Repairs is the number of mutations the cycle made.
func (r ReconcileReport) Repairs() int {
	return r.RemoteDeleted + r.LocalDeleted
}

// Reconciler diffs the ledger's keys against the provider's inventory and removes drift.
// It never messages users.
type Reconciler struct {
	ledger  *db.Ledger
	keys    *KeyIssuer
	metrics *Metrics
	grace   time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex

	// unnamed remembers when an orphan without a name was first listed. A key has no
	// name between CreateKey and RenameKey, so its age is counted from first sight.
	unnamed map[string]time.Time
}

func NewReconciler(ledger *db.Ledger, keys *KeyIssuer, metrics *Metrics, grace time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		ledger:  ledger,
		keys:    keys,
		metrics: metrics,
		grace:   grace,
		log:     logger.Component(log, "reconciler"),
		now:     time.Now,
		unnamed: make(map[string]time.Time),
	}
}

// Run performs one cycle. The ledger is read before the remote inventory: a key issued
// after the ledger read shows up only as a young remote orphan, which the grace window
// spares. A failure to read either side aborts the cycle; a failure to repair one key
// does not.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rep ReconcileReport
	localIDs, err := r.ledger.KeyIDs(ctx)
	if err != nil {
		return rep, err
	}
	remote, err := r.keys.List(ctx)
	if err != nil {
		return rep, err
	}
	rep.Remote, rep.Local = len(remote), len(localIDs)

	local := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		local[id] = struct{}{}
	}
	remoteSet := make(map[string]struct{}, len(remote))
	now := r.now().UTC()
	seen := make(map[string]time.Time)

	for _, k := range remote {
		remoteSet[k.ID] = struct{}{}
		if _, owned := local[k.ID]; owned {
			continue
		}
		rep.OrphanRemote++
		created, known := keyCreatedAt(k.Name)
		if k.Name == "" {
			if created, known = r.unnamed[k.ID]; !known {
				created, known = now, true
			}
			seen[k.ID] = created
		}
		if known && now.Sub(created) < r.grace {
			rep.RemoteSkippedYoung++
			continue
		}
		if err := r.keys.Revoke(ctx, k.ID); err != nil {
			rep.RemoteFailed++
			r.metrics.Repair("remote", "failed")
			r.log.Error("failed to delete orphan key", zap.String("key_id", k.ID), zap.String("name", k.Name), zap.Error(err))
			continue
		}
		rep.RemoteDeleted++
		r.metrics.Repair("remote", "ok")
		r.log.Info("orphan key deleted from provider", zap.String("key_id", k.ID), zap.String("name", k.Name))
	}

	r.unnamed = seen

	for _, id := range localIDs {
		if _, alive := remoteSet[id]; alive {
			continue
		}
		rep.OrphanLocal++
		n, err := r.ledger.DeleteByKeyID(ctx, id)
		if err != nil {
			rep.LocalFailed++
			r.metrics.Repair("local", "failed")
			r.log.Error("failed to delete orphan subscription", zap.String("key_id", id), zap.Error(err))
			continue
		}
		rep.LocalDeleted++
		r.metrics.Repair("local", "ok")
		r.log.Info("subscription without provider key deleted", zap.String("key_id", id), zap.Int64("rows", n))
	}

	r.log.Info("reconcile finished",
		zap.Int("remote", rep.Remote),
		zap.Int("local", rep.Local),
		zap.Int("remote_deleted", rep.RemoteDeleted),
		zap.Int("remote_failed", rep.RemoteFailed),
		zap.Int("remote_skipped_young", rep.RemoteSkippedYoung),
		zap.Int("local_deleted", rep.LocalDeleted),
		zap.Int("local_failed", rep.LocalFailed),
	)
	return rep, nil
}
