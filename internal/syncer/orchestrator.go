// Package syncer owns the per-record sync state machine. It drains pending
// rows from the local store, pushes them to the remote store with an
// idempotent upsert, and writes the outcome back. Record creation never
// blocks on it: the orchestrator runs behind the repository as a background
// loop and is only nudged, never awaited.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/roomlens/roomlens/internal/remote"
	"github.com/roomlens/roomlens/internal/store"
	"go.uber.org/zap"
)

const (
	defaultInterval        = 30 * time.Second
	defaultBackoffBase     = 2 * time.Second
	defaultBackoffCap      = 5 * time.Minute
	defaultMaxRetries      = 8
	defaultLivenessTimeout = 10 * time.Minute
)

var (
	errMissingRemote  = errors.New("syncer: remote client is required")
	errMissingSources = errors.New("syncer: at least one source is required")

	noOpLogger = zap.NewNop()
)

// Source is one local table the orchestrator drains. The store provides one
// source per synced collection (scans, notes).
type Source interface {
	// Pending returns rows eligible for a sync attempt, in creation order.
	Pending(ctx context.Context) ([]store.SyncCandidate, error)
	// Claim atomically flips an eligible row to syncing and renders its
	// document. ok=false means another pass owns the row or its state moved.
	Claim(ctx context.Context, id string) (store.SyncItem, bool, error)
	// MarkSynced records a successful push and the assigned remote identifier.
	MarkSynced(ctx context.Context, id, remoteID string) error
	// MarkFailed parks the row in failed state and returns the retry count.
	MarkFailed(ctx context.Context, id string) (int, error)
	// ReclaimStale re-marks syncing rows older than the cutoff as failed.
	ReclaimStale(ctx context.Context, cutoffSeconds int64) (int64, error)
}

// Config carries the dependencies and tuning for constructing an Orchestrator.
type Config struct {
	Sources         []Source
	Remote          remote.Client
	Clock           func() time.Time
	Logger          *zap.Logger
	Interval        time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MaxRetries      int
	LivenessTimeout time.Duration
	// Notify is called after a row's sync state changed, with the collection
	// name and local identifier. Optional; used to feed the observe streams.
	Notify func(collection, id string)
}

// Orchestrator runs the background sync loop.
type Orchestrator struct {
	sources         []Source
	remote          remote.Client
	clock           func() time.Time
	logger          *zap.Logger
	interval        time.Duration
	backoffBase     time.Duration
	backoffCap      time.Duration
	maxRetries      int
	livenessTimeout time.Duration
	notify          func(collection, id string)
	trigger         chan struct{}
}

// New validates the configuration and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if len(cfg.Sources) == 0 {
		return nil, errMissingSources
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = defaultBackoffCap
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	livenessTimeout := cfg.LivenessTimeout
	if livenessTimeout <= 0 {
		livenessTimeout = defaultLivenessTimeout
	}
	notify := cfg.Notify
	if notify == nil {
		notify = func(string, string) {}
	}

	return &Orchestrator{
		sources:         cfg.Sources,
		remote:          cfg.Remote,
		clock:           clock,
		logger:          logger,
		interval:        interval,
		backoffBase:     backoffBase,
		backoffCap:      backoffCap,
		maxRetries:      maxRetries,
		livenessTimeout: livenessTimeout,
		notify:          notify,
		trigger:         make(chan struct{}, 1),
	}, nil
}

// Trigger requests a sync pass and returns immediately. Requests arriving
// while a pass is already queued coalesce into one.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run executes the sync loop until the context is cancelled. A crash-recovery
// reclaim runs first so rows left in syncing by a previous process become
// eligible again.
func (o *Orchestrator) Run(ctx context.Context) {
	o.reclaimStale(ctx)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-o.trigger:
		}
		if err := o.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("sync pass failed", zap.Error(err))
		}
	}
}

// RunPass drains every source once. Failures are contained at both levels:
// a failed row is parked and the pass moves on to the next row, and a failed
// pending query skips that source and the pass moves on to the next source.
func (o *Orchestrator) RunPass(ctx context.Context) error {
	for _, source := range o.sources {
		candidates, err := source.Pending(ctx)
		if err != nil {
			o.logger.Error("sync pending query failed", zap.Error(err))
			continue
		}
		for _, candidate := range candidates {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !o.eligible(candidate) {
				continue
			}
			o.pushOne(ctx, source, candidate.ID)
		}
	}
	return nil
}

// eligible applies the retry bound and the exponential backoff schedule.
// Rows that exhausted the bound stay failed and are never retried
// automatically; rows still inside the bound wait out base*2^(n-1), capped.
func (o *Orchestrator) eligible(candidate store.SyncCandidate) bool {
	if candidate.RetryCount == 0 {
		return true
	}
	if candidate.RetryCount >= o.maxRetries {
		return false
	}
	delay := o.backoffDelay(candidate.RetryCount)
	nextAttempt := time.Unix(candidate.LastAttemptAtSeconds, 0).Add(delay)
	return !o.clock().Before(nextAttempt)
}

func (o *Orchestrator) backoffDelay(retryCount int) time.Duration {
	delay := o.backoffBase
	for attempt := 1; attempt < retryCount; attempt++ {
		delay *= 2
		if delay >= o.backoffCap {
			return o.backoffCap
		}
	}
	if delay > o.backoffCap {
		return o.backoffCap
	}
	return delay
}

// pushOne claims the row, pushes it, and writes the outcome back. The claim
// is the per-record mutual exclusion: overlapping passes race on the state
// flip and exactly one wins. Write-backs run on an uncancellable context so a
// completed remote write is always recorded locally.
func (o *Orchestrator) pushOne(ctx context.Context, source Source, id string) {
	item, claimed, err := source.Claim(ctx, id)
	if err != nil {
		o.logger.Error("sync claim failed", zap.String("record_id", id), zap.Error(err))
		return
	}
	if !claimed {
		return
	}

	remoteID, pushErr := o.push(ctx, item)
	writeBackCtx := context.WithoutCancel(ctx)

	if pushErr != nil {
		retryCount, err := source.MarkFailed(writeBackCtx, item.ID)
		if err != nil {
			o.logger.Error("sync write-back failed",
				zap.String("collection", item.Collection),
				zap.String("record_id", item.ID),
				zap.Error(err))
			return
		}
		if retryCount >= o.maxRetries {
			o.logger.Error("sync giving up after max retries",
				zap.String("collection", item.Collection),
				zap.String("record_id", item.ID),
				zap.Int("retry_count", retryCount),
				zap.Error(pushErr))
		} else {
			o.logger.Warn("sync push failed",
				zap.String("collection", item.Collection),
				zap.String("record_id", item.ID),
				zap.Int("retry_count", retryCount),
				zap.Error(pushErr))
		}
		o.notify(item.Collection, item.ID)
		return
	}

	if err := source.MarkSynced(writeBackCtx, item.ID, remoteID); err != nil {
		// The row stays in syncing until the liveness reclaim retries it.
		// An upsert replays cleanly by remote id; a replayed create has lost
		// its remote id, so the document's local_id field is the server-side
		// dedup key for that case.
		o.logger.Error("sync write-back failed",
			zap.String("collection", item.Collection),
			zap.String("record_id", item.ID),
			zap.Error(err))
		return
	}

	o.logger.Info("record synced",
		zap.String("collection", item.Collection),
		zap.String("record_id", item.ID),
		zap.String("remote_id", remoteID))
	o.notify(item.Collection, item.ID)
}

// push performs the idempotent upsert: create-and-obtain-id for rows never
// pushed, update-by-id for everything else. At most one remote document can
// exist per local row regardless of retries.
func (o *Orchestrator) push(ctx context.Context, item store.SyncItem) (string, error) {
	if item.RemoteID == "" {
		return o.remote.CreateDocument(ctx, item.Collection, item.Document)
	}
	if err := o.remote.UpsertDocument(ctx, item.Collection, item.RemoteID, item.Document); err != nil {
		return "", err
	}
	return item.RemoteID, nil
}

func (o *Orchestrator) reclaimStale(ctx context.Context) {
	cutoff := o.clock().UTC().Add(-o.livenessTimeout).Unix()
	for _, source := range o.sources {
		reclaimed, err := source.ReclaimStale(ctx, cutoff)
		if err != nil {
			o.logger.Error("stale sync reclaim failed", zap.Error(err))
			continue
		}
		if reclaimed > 0 {
			o.logger.Warn("reclaimed stale syncing records", zap.Int64("count", reclaimed))
		}
	}
}
