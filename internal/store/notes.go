package store

import (
	"context"
	"errors"
	"strings"

	"github.com/roomlens/roomlens/internal/scan"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateNote = "store.create_note"
	opGetNote    = "store.get_note"
	opListNotes  = "store.list_notes"
)

var errEmptyNoteBody = errors.New("note body is required")

// CreateNote commits a note row attached to an existing scan. The parent
// lookup and the insert run in one transaction so the scan_id reference can
// never dangle.
func (s *Store) CreateNote(ctx context.Context, scanID, body string) (scan.NoteRecord, error) {
	if strings.TrimSpace(body) == "" {
		return scan.NoteRecord{}, newStoreError(opCreateNote, "empty_body", errEmptyNoteBody)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateNote, "id_generation_failed", err)
		return scan.NoteRecord{}, newStoreError(opCreateNote, "id_generation_failed", err)
	}

	record := scan.NoteRecord{
		ID:               id,
		ScanID:           scanID,
		Body:             body,
		CreatedAtSeconds: s.clock().UTC().Unix(),
		SyncState:        scan.SyncStateUnsynced,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent scan.ScanRecord
		err := tx.Where("id = ?", scanID).Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		if err != nil {
			return newStoreError(opCreateNote, "parent_select_failed", err)
		}
		if err := tx.Create(&record).Error; err != nil {
			return newStoreError(opCreateNote, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrScanNotFound) {
			s.logError(opCreateNote, "transaction_failed", txErr, zap.String("scan_id", scanID))
		}
		return scan.NoteRecord{}, txErr
	}
	return record, nil
}

// GetNote returns the note row for the identifier.
func (s *Store) GetNote(ctx context.Context, noteID string) (scan.NoteRecord, error) {
	var record scan.NoteRecord
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scan.NoteRecord{}, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.String("note_id", noteID))
		return scan.NoteRecord{}, newStoreError(opGetNote, "query_failed", err)
	}
	return record, nil
}

// ListNotes returns all notes of a scan in creation order.
func (s *Store) ListNotes(ctx context.Context, scanID string) ([]scan.NoteRecord, error) {
	var records []scan.NoteRecord
	if err := s.db.WithContext(ctx).
		Where("scan_id = ?", scanID).
		Order("created_at_s ASC, id ASC").
		Find(&records).Error; err != nil {
		s.logError(opListNotes, "query_failed", err, zap.String("scan_id", scanID))
		return nil, newStoreError(opListNotes, "query_failed", err)
	}
	return records, nil
}
