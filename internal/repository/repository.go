// Package repository is the facade every collaborator calls. It composes the
// analysis aggregator, the local store, and the sync orchestrator: a scan is
// aggregated, committed locally, and only then handed to the background
// synchronizer. Local commit never waits on the network.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roomlens/roomlens/internal/analysis"
	"github.com/roomlens/roomlens/internal/remote"
	"github.com/roomlens/roomlens/internal/scan"
	"github.com/roomlens/roomlens/internal/store"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingAggregator = errors.New("aggregator is required")
	errMissingDispatcher = errors.New("dispatcher is required")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a dotted operation code identifying the failing step.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRepositoryNew = "repository.new"
	opCreateScan    = "repository.create_scan"
	opAddNote       = "repository.add_note"
	opDeleteScan    = "repository.delete_scan"
	opGetSyncStatus = "repository.get_sync_status"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// SyncTrigger nudges the background synchronizer. Trigger returns immediately.
type SyncTrigger interface {
	Trigger()
}

// Config carries the dependencies for constructing a Repository.
type Config struct {
	Store      *store.Store
	Aggregator *analysis.Aggregator
	Dispatcher *ChangeDispatcher
	Sync       SyncTrigger
	// Remote is used only for best-effort deletes of already-pushed records.
	// Optional: without it, deletes are local-only.
	Remote        remote.Client
	Clock         func() time.Time
	Logger        *zap.Logger
	DeleteTimeout time.Duration
}

const defaultDeleteTimeout = 15 * time.Second

// Repository is the single entry point for scan capture, notes, reads, and
// sync control.
type Repository struct {
	store         *store.Store
	aggregator    *analysis.Aggregator
	dispatcher    *ChangeDispatcher
	sync          SyncTrigger
	remote        remote.Client
	clock         func() time.Time
	logger        *zap.Logger
	deleteTimeout time.Duration
}

// New validates the configuration and returns a Repository.
func New(cfg Config) (*Repository, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opRepositoryNew, "missing_store", errMissingStore)
	}
	if cfg.Aggregator == nil {
		return nil, newServiceError(opRepositoryNew, "missing_aggregator", errMissingAggregator)
	}
	if cfg.Dispatcher == nil {
		return nil, newServiceError(opRepositoryNew, "missing_dispatcher", errMissingDispatcher)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	deleteTimeout := cfg.DeleteTimeout
	if deleteTimeout <= 0 {
		deleteTimeout = defaultDeleteTimeout
	}

	return &Repository{
		store:         cfg.Store,
		aggregator:    cfg.Aggregator,
		dispatcher:    cfg.Dispatcher,
		sync:          cfg.Sync,
		remote:        cfg.Remote,
		clock:         clock,
		logger:        logger,
		deleteTimeout: deleteTimeout,
	}, nil
}

// CreateScanInput carries the capture output for one scan session.
type CreateScanInput struct {
	Images        []scan.CapturedImage
	Dimensions    scan.RoomDimensions
	RoomName      scan.RoomName
	PointCloudRef string
}

// CreateScan fans the captured images out for analysis, commits the combined
// record locally, and nudges the synchronizer. The record is returned as soon
// as the local commit is durable; the push happens in the background. On
// aggregation failure nothing is persisted.
func (r *Repository) CreateScan(ctx context.Context, input CreateScanInput) (scan.ScanRecord, error) {
	combined, err := r.aggregator.Aggregate(ctx, input.Images)
	if err != nil {
		return scan.ScanRecord{}, newServiceError(opCreateScan, "aggregation_failed", err)
	}

	record, err := r.store.CreateScan(ctx, store.NewScan{
		RoomName:      input.RoomName,
		Dimensions:    input.Dimensions,
		PointCloudRef: input.PointCloudRef,
		Findings:      combined.Findings,
		Materials:     combined.Materials,
	})
	if err != nil {
		return scan.ScanRecord{}, newServiceError(opCreateScan, "local_commit_failed", err)
	}

	r.logger.Info("scan created",
		zap.String("scan_id", record.ID),
		zap.String("room_name", record.RoomName),
		zap.Int("finding_count", len(combined.Findings)),
		zap.Int("failed_images", len(combined.Failures)))

	r.publish(store.CollectionScans, record.ID)
	r.triggerSync()
	return record, nil
}

// AddNote commits a note under an existing scan and nudges the synchronizer.
// The note carries its own sync state; the parent scan row is untouched.
func (r *Repository) AddNote(ctx context.Context, scanID scan.ScanID, body string) (scan.NoteRecord, error) {
	record, err := r.store.CreateNote(ctx, scanID.String(), body)
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			return scan.NoteRecord{}, err
		}
		return scan.NoteRecord{}, newServiceError(opAddNote, "local_commit_failed", err)
	}

	r.publish(store.CollectionNotes, record.ID)
	r.triggerSync()
	return record, nil
}

// DeleteScan removes the scan and its notes locally, then issues best-effort
// remote deletes for anything already pushed. The local delete is
// authoritative; a failed remote delete is logged and not retried.
func (r *Repository) DeleteScan(ctx context.Context, scanID scan.ScanID) error {
	deletedScan, deletedNotes, err := r.store.DeleteScan(ctx, scanID.String())
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			return err
		}
		return newServiceError(opDeleteScan, "local_delete_failed", err)
	}

	r.publish(store.CollectionScans, deletedScan.ID)
	for _, note := range deletedNotes {
		r.publish(store.CollectionNotes, note.ID)
	}

	if r.remote != nil {
		go r.deleteRemote(deletedScan, deletedNotes)
	}
	return nil
}

func (r *Repository) deleteRemote(deletedScan scan.ScanRecord, deletedNotes []scan.NoteRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.deleteTimeout)
	defer cancel()

	for _, note := range deletedNotes {
		if note.RemoteID == "" {
			continue
		}
		if err := r.remote.DeleteDocument(ctx, store.CollectionNotes, note.RemoteID); err != nil {
			r.logger.Warn("remote note delete failed",
				zap.String("note_id", note.ID),
				zap.String("remote_id", note.RemoteID),
				zap.Error(err))
		}
	}
	if deletedScan.RemoteID != "" {
		if err := r.remote.DeleteDocument(ctx, store.CollectionScans, deletedScan.RemoteID); err != nil {
			r.logger.Warn("remote scan delete failed",
				zap.String("scan_id", deletedScan.ID),
				zap.String("remote_id", deletedScan.RemoteID),
				zap.Error(err))
		}
	}
}

// ListScans returns all scans in creation order.
func (r *Repository) ListScans(ctx context.Context) ([]scan.ScanRecord, error) {
	return r.store.ListScans(ctx)
}

// ListNotes returns the notes of one scan in creation order.
func (r *Repository) ListNotes(ctx context.Context, scanID scan.ScanID) ([]scan.NoteRecord, error) {
	return r.store.ListNotes(ctx, scanID.String())
}

// SyncStatus is the read model behind the per-record sync badge.
type SyncStatus struct {
	State      scan.SyncState
	RetryCount int
	RemoteID   string
}

// GetSyncStatus reports the current sync state of a scan.
func (r *Repository) GetSyncStatus(ctx context.Context, scanID scan.ScanID) (SyncStatus, error) {
	record, err := r.store.GetScan(ctx, scanID.String())
	if err != nil {
		if errors.Is(err, store.ErrScanNotFound) {
			return SyncStatus{}, err
		}
		return SyncStatus{}, newServiceError(opGetSyncStatus, "query_failed", err)
	}
	return SyncStatus{
		State:      record.SyncState,
		RetryCount: record.RetryCount,
		RemoteID:   record.RemoteID,
	}, nil
}

// TriggerSync requests a background sync pass and returns immediately.
func (r *Repository) TriggerSync() {
	r.triggerSync()
}

func (r *Repository) triggerSync() {
	if r.sync != nil {
		r.sync.Trigger()
	}
}

func (r *Repository) publish(collection, recordID string) {
	r.dispatcher.Publish(ChangeEvent{
		Collection: collection,
		RecordID:   recordID,
		Timestamp:  r.clock().UTC(),
	})
}
