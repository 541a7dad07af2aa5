package scan

import (
	"encoding/json"
	"fmt"
)

// SyncState enumerates the per-record synchronization states.
type SyncState string

const (
	// SyncStateUnsynced marks a record committed locally but not yet pushed.
	SyncStateUnsynced SyncState = "unsynced"
	// SyncStateSyncing marks a record claimed by an in-flight push.
	SyncStateSyncing SyncState = "syncing"
	// SyncStateSynced marks a record whose current content version reached the remote store.
	SyncStateSynced SyncState = "synced"
	// SyncStateFailed marks a record whose last push attempt failed.
	SyncStateFailed SyncState = "failed"
)

// ScanRecord models the persisted room scan with its sync bookkeeping.
// RemoteID is empty until the first successful push; once set it never changes.
type ScanRecord struct {
	ID                   string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomName             string    `gorm:"column:room_name;size:190;not null"`
	CreatedAtSeconds     int64     `gorm:"column:created_at_s;not null;index:idx_scans_created,priority:1"`
	WidthMeters          float64   `gorm:"column:width_m;not null"`
	LengthMeters         float64   `gorm:"column:length_m;not null"`
	HeightMeters         float64   `gorm:"column:height_m;not null"`
	PointCloudRef        string    `gorm:"column:point_cloud_ref;size:190;not null;default:''"`
	FindingsJSON         string    `gorm:"column:findings_json;type:text;not null;default:'[]'"`
	MaterialsJSON        string    `gorm:"column:materials_json;type:text;not null;default:'[]'"`
	SyncState            SyncState `gorm:"column:sync_state;size:32;not null;default:'unsynced';index:idx_scans_sync_state"`
	RetryCount           int       `gorm:"column:retry_count;not null;default:0"`
	SyncStartedAtSeconds int64     `gorm:"column:sync_started_at_s;not null;default:0"`
	RemoteID             string    `gorm:"column:remote_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (ScanRecord) TableName() string {
	return "scans"
}

// Dimensions reconstructs the RoomDimensions value from the stored factors.
func (r ScanRecord) Dimensions() RoomDimensions {
	return RoomDimensions{
		WidthMeters:  r.WidthMeters,
		LengthMeters: r.LengthMeters,
		HeightMeters: r.HeightMeters,
	}
}

// Findings decodes the stored findings list.
func (r ScanRecord) Findings() ([]Finding, error) {
	return DecodeFindings(r.FindingsJSON)
}

// Materials decodes the stored material estimates.
func (r ScanRecord) Materials() ([]MaterialEstimate, error) {
	return DecodeMaterials(r.MaterialsJSON)
}

// NoteRecord models a user note attached to a scan. Notes sync independently
// of their parent scan and carry their own sync bookkeeping.
type NoteRecord struct {
	ID                   string    `gorm:"column:id;primaryKey;size:190;not null"`
	ScanID               string    `gorm:"column:scan_id;size:190;not null;index:idx_notes_scan"`
	Body                 string    `gorm:"column:body;type:text;not null"`
	CreatedAtSeconds     int64     `gorm:"column:created_at_s;not null"`
	SyncState            SyncState `gorm:"column:sync_state;size:32;not null;default:'unsynced';index:idx_notes_sync_state"`
	RetryCount           int       `gorm:"column:retry_count;not null;default:0"`
	SyncStartedAtSeconds int64     `gorm:"column:sync_started_at_s;not null;default:0"`
	RemoteID             string    `gorm:"column:remote_id;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (NoteRecord) TableName() string {
	return "notes"
}

// EncodeFindings serializes findings for the findings_json column.
func EncodeFindings(findings []Finding) (string, error) {
	if findings == nil {
		findings = []Finding{}
	}
	encoded, err := json.Marshal(findings)
	if err != nil {
		return "", fmt.Errorf("scan: encode findings: %w", err)
	}
	return string(encoded), nil
}

// DecodeFindings parses the findings_json column.
func DecodeFindings(payload string) ([]Finding, error) {
	if payload == "" {
		return []Finding{}, nil
	}
	var findings []Finding
	if err := json.Unmarshal([]byte(payload), &findings); err != nil {
		return nil, fmt.Errorf("scan: decode findings: %w", err)
	}
	return findings, nil
}

// EncodeMaterials serializes material estimates for the materials_json column.
func EncodeMaterials(materials []MaterialEstimate) (string, error) {
	if materials == nil {
		materials = []MaterialEstimate{}
	}
	encoded, err := json.Marshal(materials)
	if err != nil {
		return "", fmt.Errorf("scan: encode materials: %w", err)
	}
	return string(encoded), nil
}

// DecodeMaterials parses the materials_json column.
func DecodeMaterials(payload string) ([]MaterialEstimate, error) {
	if payload == "" {
		return []MaterialEstimate{}, nil
	}
	var materials []MaterialEstimate
	if err := json.Unmarshal([]byte(payload), &materials); err != nil {
		return nil, fmt.Errorf("scan: decode materials: %w", err)
	}
	return materials, nil
}
