package store

import (
	"context"
	"errors"

	"github.com/roomlens/roomlens/internal/scan"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCreateScan     = "store.create_scan"
	opGetScan        = "store.get_scan"
	opListScans      = "store.list_scans"
	opUpdateAnalysis = "store.update_scan_analysis"
	opDeleteScan     = "store.delete_scan"
)

// NewScan carries the fully-aggregated content for a scan row. The store
// writes it exactly once; there is no partially-populated commit path.
type NewScan struct {
	RoomName      scan.RoomName
	Dimensions    scan.RoomDimensions
	PointCloudRef string
	Findings      []scan.Finding
	Materials     []scan.MaterialEstimate
}

// CreateScan assigns an identifier and commits the scan row with
// sync_state = unsynced and no remote identifier.
func (s *Store) CreateScan(ctx context.Context, input NewScan) (scan.ScanRecord, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateScan, "id_generation_failed", err)
		return scan.ScanRecord{}, newStoreError(opCreateScan, "id_generation_failed", err)
	}

	findingsJSON, err := scan.EncodeFindings(input.Findings)
	if err != nil {
		return scan.ScanRecord{}, newStoreError(opCreateScan, "encode_findings_failed", err)
	}
	materialsJSON, err := scan.EncodeMaterials(input.Materials)
	if err != nil {
		return scan.ScanRecord{}, newStoreError(opCreateScan, "encode_materials_failed", err)
	}

	record := scan.ScanRecord{
		ID:               id,
		RoomName:         input.RoomName.String(),
		CreatedAtSeconds: s.clock().UTC().Unix(),
		WidthMeters:      input.Dimensions.WidthMeters,
		LengthMeters:     input.Dimensions.LengthMeters,
		HeightMeters:     input.Dimensions.HeightMeters,
		PointCloudRef:    input.PointCloudRef,
		FindingsJSON:     findingsJSON,
		MaterialsJSON:    materialsJSON,
		SyncState:        scan.SyncStateUnsynced,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateScan, "insert_failed", err, zap.String("scan_id", id))
		return scan.ScanRecord{}, newStoreError(opCreateScan, "insert_failed", err)
	}

	return record, nil
}

// GetScan returns the scan row for the identifier.
func (s *Store) GetScan(ctx context.Context, scanID string) (scan.ScanRecord, error) {
	var record scan.ScanRecord
	err := s.db.WithContext(ctx).Where("id = ?", scanID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scan.ScanRecord{}, ErrScanNotFound
	}
	if err != nil {
		s.logError(opGetScan, "query_failed", err, zap.String("scan_id", scanID))
		return scan.ScanRecord{}, newStoreError(opGetScan, "query_failed", err)
	}
	return record, nil
}

// ListScans returns all scan rows in creation order.
func (s *Store) ListScans(ctx context.Context) ([]scan.ScanRecord, error) {
	var records []scan.ScanRecord
	if err := s.db.WithContext(ctx).
		Order("created_at_s ASC, id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListScans, "query_failed", err)
		return nil, newStoreError(opListScans, "query_failed", err)
	}
	return records, nil
}

// UpdateScanAnalysis replaces the findings and material estimates of a scan.
// A content mutation resets any non-unsynced row back to unsynced with a fresh
// retry budget, so the new content version is pushed again even when the old
// one was parked at the retry bound; the remote identifier is kept.
func (s *Store) UpdateScanAnalysis(ctx context.Context, scanID string, findings []scan.Finding, materials []scan.MaterialEstimate) (scan.ScanRecord, error) {
	findingsJSON, err := scan.EncodeFindings(findings)
	if err != nil {
		return scan.ScanRecord{}, newStoreError(opUpdateAnalysis, "encode_findings_failed", err)
	}
	materialsJSON, err := scan.EncodeMaterials(materials)
	if err != nil {
		return scan.ScanRecord{}, newStoreError(opUpdateAnalysis, "encode_materials_failed", err)
	}

	var updated scan.ScanRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record scan.ScanRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", scanID).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		if err != nil {
			return newStoreError(opUpdateAnalysis, "select_failed", err)
		}

		record.FindingsJSON = findingsJSON
		record.MaterialsJSON = materialsJSON
		if record.SyncState != scan.SyncStateUnsynced {
			record.SyncState = scan.SyncStateUnsynced
			record.RetryCount = 0
		}

		if err := tx.Save(&record).Error; err != nil {
			return newStoreError(opUpdateAnalysis, "save_failed", err)
		}
		updated = record
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrScanNotFound) {
			s.logError(opUpdateAnalysis, "transaction_failed", txErr, zap.String("scan_id", scanID))
		}
		return scan.ScanRecord{}, txErr
	}
	return updated, nil
}

// DeleteScan removes the scan row and cascades to its notes in one
// transaction. The deleted rows are returned so the caller can issue
// best-effort remote deletes for anything already pushed.
func (s *Store) DeleteScan(ctx context.Context, scanID string) (scan.ScanRecord, []scan.NoteRecord, error) {
	var deletedScan scan.ScanRecord
	var deletedNotes []scan.NoteRecord

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", scanID).
			Take(&deletedScan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		if err != nil {
			return newStoreError(opDeleteScan, "select_failed", err)
		}

		if err := tx.Where("scan_id = ?", scanID).Find(&deletedNotes).Error; err != nil {
			return newStoreError(opDeleteScan, "select_notes_failed", err)
		}
		if err := tx.Where("scan_id = ?", scanID).Delete(&scan.NoteRecord{}).Error; err != nil {
			return newStoreError(opDeleteScan, "delete_notes_failed", err)
		}
		if err := tx.Where("id = ?", scanID).Delete(&scan.ScanRecord{}).Error; err != nil {
			return newStoreError(opDeleteScan, "delete_scan_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrScanNotFound) {
			s.logError(opDeleteScan, "transaction_failed", txErr, zap.String("scan_id", scanID))
		}
		return scan.ScanRecord{}, nil, txErr
	}
	return deletedScan, deletedNotes, nil
}
