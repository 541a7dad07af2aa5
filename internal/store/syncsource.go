package store

import (
	"context"
	"errors"

	"github.com/roomlens/roomlens/internal/scan"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// CollectionScans is the remote collection backing scan documents.
	CollectionScans = "scans"
	// CollectionNotes is the remote collection backing note documents.
	CollectionNotes = "notes"

	opSyncPending = "store.sync_pending"
	opSyncClaim   = "store.sync_claim"
	opSyncSynced  = "store.sync_mark_synced"
	opSyncFailed  = "store.sync_mark_failed"
	opSyncReclaim = "store.sync_reclaim_stale"
)

// SyncCandidate is one row eligible for a sync attempt, as seen by the
// orchestrator when it drains the store.
type SyncCandidate struct {
	ID                   string
	RetryCount           int
	LastAttemptAtSeconds int64
}

// SyncItem is a claimed row rendered as a remote document. The document is
// built from the row content captured under the claiming transaction, so the
// push sends exactly the content version that was claimed.
type SyncItem struct {
	ID         string
	RemoteID   string
	Collection string
	Document   map[string]any
}

// ScanSyncSource exposes the scans table to the sync orchestrator.
type ScanSyncSource struct {
	store *Store
}

// ScanSource returns the sync source over the scans table.
func (s *Store) ScanSource() *ScanSyncSource {
	return &ScanSyncSource{store: s}
}

// Pending returns scans in unsynced or failed state, in creation order. The
// single SELECT gives a consistent snapshot: no row is returned twice or
// skipped because of a concurrent write.
func (s *ScanSyncSource) Pending(ctx context.Context) ([]SyncCandidate, error) {
	var records []scan.ScanRecord
	if err := s.store.db.WithContext(ctx).
		Where("sync_state IN ?", []scan.SyncState{scan.SyncStateUnsynced, scan.SyncStateFailed}).
		Order("created_at_s ASC, id ASC").
		Find(&records).Error; err != nil {
		s.store.logError(opSyncPending, "scan_query_failed", err)
		return nil, newStoreError(opSyncPending, "scan_query_failed", err)
	}
	candidates := make([]SyncCandidate, 0, len(records))
	for _, record := range records {
		candidates = append(candidates, SyncCandidate{
			ID:                   record.ID,
			RetryCount:           record.RetryCount,
			LastAttemptAtSeconds: record.SyncStartedAtSeconds,
		})
	}
	return candidates, nil
}

// Claim atomically flips an eligible scan to syncing and renders its document.
// It reports ok=false when another pass already claimed the row or its state
// moved on, which is the per-record mutual exclusion for concurrent passes.
func (s *ScanSyncSource) Claim(ctx context.Context, scanID string) (SyncItem, bool, error) {
	var item SyncItem
	claimed := false
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.ScanRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", scanID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncClaim, "scan_select_failed", err)
		}
		if record.SyncState != scan.SyncStateUnsynced && record.SyncState != scan.SyncStateFailed {
			return nil
		}

		record.SyncState = scan.SyncStateSyncing
		record.SyncStartedAtSeconds = s.store.clock().UTC().Unix()
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncClaim, "scan_save_failed", err)
		}

		document, err := renderScanDocument(record)
		if err != nil {
			return newStoreError(opSyncClaim, "scan_render_failed", err)
		}
		item = SyncItem{
			ID:         record.ID,
			RemoteID:   record.RemoteID,
			Collection: CollectionScans,
			Document:   document,
		}
		claimed = true
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncClaim, "scan_transaction_failed", txErr)
		return SyncItem{}, false, txErr
	}
	return item, claimed, nil
}

// MarkSynced records the push outcome. The remote identifier is written once
// and never overwritten. The state becomes synced only if the row is still in
// syncing: a content mutation that landed mid-push has already reset the row
// to unsynced and the new version must be pushed again.
func (s *ScanSyncSource) MarkSynced(ctx context.Context, scanID, remoteID string) error {
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.ScanRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", scanID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncSynced, "scan_select_failed", err)
		}
		if record.RemoteID == "" {
			record.RemoteID = remoteID
		}
		if record.SyncState == scan.SyncStateSyncing {
			record.SyncState = scan.SyncStateSynced
			record.RetryCount = 0
		}
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncSynced, "scan_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncSynced, "scan_transaction_failed", txErr)
	}
	return txErr
}

// MarkFailed increments the retry count and parks the row in failed state.
// The new retry count is returned so the orchestrator can apply its bound.
func (s *ScanSyncSource) MarkFailed(ctx context.Context, scanID string) (int, error) {
	retryCount := 0
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.ScanRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", scanID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncFailed, "scan_select_failed", err)
		}
		if record.SyncState == scan.SyncStateSyncing {
			record.SyncState = scan.SyncStateFailed
			record.RetryCount++
		}
		retryCount = record.RetryCount
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncFailed, "scan_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncFailed, "scan_transaction_failed", txErr)
		return 0, txErr
	}
	return retryCount, nil
}

// ReclaimStale turns syncing rows older than the cutoff back into failed so a
// crash mid-push is retried instead of wedging the row forever.
func (s *ScanSyncSource) ReclaimStale(ctx context.Context, cutoffSeconds int64) (int64, error) {
	result := s.store.db.WithContext(ctx).
		Model(&scan.ScanRecord{}).
		Where("sync_state = ? AND sync_started_at_s < ?", scan.SyncStateSyncing, cutoffSeconds).
		Update("sync_state", scan.SyncStateFailed)
	if result.Error != nil {
		s.store.logError(opSyncReclaim, "scan_update_failed", result.Error)
		return 0, newStoreError(opSyncReclaim, "scan_update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

func renderScanDocument(record scan.ScanRecord) (map[string]any, error) {
	findings, err := record.Findings()
	if err != nil {
		return nil, err
	}
	materials, err := record.Materials()
	if err != nil {
		return nil, err
	}
	findingDocs := make([]map[string]any, 0, len(findings))
	for _, finding := range findings {
		findingDocs = append(findingDocs, map[string]any{
			"kind":             finding.Kind,
			"location":         finding.Location,
			"severity":         finding.Severity,
			"source_image_ref": finding.SourceImageRef,
		})
	}
	materialDocs := make([]map[string]any, 0, len(materials))
	for _, estimate := range materials {
		materialDocs = append(materialDocs, map[string]any{
			"surface":    estimate.Surface,
			"material":   estimate.Material,
			"confidence": estimate.Confidence,
		})
	}
	return map[string]any{
		"local_id":        record.ID,
		"room_name":       record.RoomName,
		"created_at":      record.CreatedAtSeconds,
		"width_m":         record.WidthMeters,
		"length_m":        record.LengthMeters,
		"height_m":        record.HeightMeters,
		"point_cloud_ref": record.PointCloudRef,
		"findings":        findingDocs,
		"materials":       materialDocs,
	}, nil
}

// NoteSyncSource exposes the notes table to the sync orchestrator. Notes sync
// independently of their parent scan.
type NoteSyncSource struct {
	store *Store
}

// NoteSource returns the sync source over the notes table.
func (s *Store) NoteSource() *NoteSyncSource {
	return &NoteSyncSource{store: s}
}

// Pending returns notes in unsynced or failed state, in creation order.
func (s *NoteSyncSource) Pending(ctx context.Context) ([]SyncCandidate, error) {
	var records []scan.NoteRecord
	if err := s.store.db.WithContext(ctx).
		Where("sync_state IN ?", []scan.SyncState{scan.SyncStateUnsynced, scan.SyncStateFailed}).
		Order("created_at_s ASC, id ASC").
		Find(&records).Error; err != nil {
		s.store.logError(opSyncPending, "note_query_failed", err)
		return nil, newStoreError(opSyncPending, "note_query_failed", err)
	}
	candidates := make([]SyncCandidate, 0, len(records))
	for _, record := range records {
		candidates = append(candidates, SyncCandidate{
			ID:                   record.ID,
			RetryCount:           record.RetryCount,
			LastAttemptAtSeconds: record.SyncStartedAtSeconds,
		})
	}
	return candidates, nil
}

// Claim atomically flips an eligible note to syncing and renders its document.
func (s *NoteSyncSource) Claim(ctx context.Context, noteID string) (SyncItem, bool, error) {
	var item SyncItem
	claimed := false
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.NoteRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", noteID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncClaim, "note_select_failed", err)
		}
		if record.SyncState != scan.SyncStateUnsynced && record.SyncState != scan.SyncStateFailed {
			return nil
		}

		record.SyncState = scan.SyncStateSyncing
		record.SyncStartedAtSeconds = s.store.clock().UTC().Unix()
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncClaim, "note_save_failed", err)
		}

		item = SyncItem{
			ID:         record.ID,
			RemoteID:   record.RemoteID,
			Collection: CollectionNotes,
			Document: map[string]any{
				"local_id":   record.ID,
				"scan_id":    record.ScanID,
				"body":       record.Body,
				"created_at": record.CreatedAtSeconds,
			},
		}
		claimed = true
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncClaim, "note_transaction_failed", txErr)
		return SyncItem{}, false, txErr
	}
	return item, claimed, nil
}

// MarkSynced records a successful note push; mirrors ScanSyncSource.MarkSynced.
func (s *NoteSyncSource) MarkSynced(ctx context.Context, noteID, remoteID string) error {
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.NoteRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", noteID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncSynced, "note_select_failed", err)
		}
		if record.RemoteID == "" {
			record.RemoteID = remoteID
		}
		if record.SyncState == scan.SyncStateSyncing {
			record.SyncState = scan.SyncStateSynced
			record.RetryCount = 0
		}
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncSynced, "note_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncSynced, "note_transaction_failed", txErr)
	}
	return txErr
}

// MarkFailed increments the retry count and parks the note in failed state.
func (s *NoteSyncSource) MarkFailed(ctx context.Context, noteID string) (int, error) {
	retryCount := 0
	txErr := s.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.NoteRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", noteID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return newStoreError(opSyncFailed, "note_select_failed", err)
		}
		if record.SyncState == scan.SyncStateSyncing {
			record.SyncState = scan.SyncStateFailed
			record.RetryCount++
		}
		retryCount = record.RetryCount
		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opSyncFailed, "note_save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.store.logError(opSyncFailed, "note_transaction_failed", txErr)
		return 0, txErr
	}
	return retryCount, nil
}

// ReclaimStale turns stale syncing notes back into failed; mirrors the scan path.
func (s *NoteSyncSource) ReclaimStale(ctx context.Context, cutoffSeconds int64) (int64, error) {
	result := s.store.db.WithContext(ctx).
		Model(&scan.NoteRecord{}).
		Where("sync_state = ? AND sync_started_at_s < ?", scan.SyncStateSyncing, cutoffSeconds).
		Update("sync_state", scan.SyncStateFailed)
	if result.Error != nil {
		s.store.logError(opSyncReclaim, "note_update_failed", result.Error)
		return 0, newStoreError(opSyncReclaim, "note_update_failed", result.Error)
	}
	return result.RowsAffected, nil
}
