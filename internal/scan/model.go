package scan

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidScanID indicates that a scan identifier is empty or exceeds storage bounds.
	ErrInvalidScanID = errors.New("scan: invalid scan id")
	// ErrInvalidRoomName indicates that a room name is empty or exceeds storage bounds.
	ErrInvalidRoomName = errors.New("scan: invalid room name")
	// ErrInvalidDimension indicates a negative room dimension.
	ErrInvalidDimension = errors.New("scan: invalid dimension")
	// ErrInvalidSeverity indicates a severity value outside [0,1].
	ErrInvalidSeverity = errors.New("scan: severity out of range")
	// ErrInvalidConfidence indicates a confidence value outside [0,1].
	ErrInvalidConfidence = errors.New("scan: confidence out of range")
)

// ScanID represents a validated scan identifier.
type ScanID string

// NewScanID validates raw input and returns a ScanID.
func NewScanID(rawInput string) (ScanID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidScanID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidScanID, maxIdentifierLength)
	}
	return ScanID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ScanID) String() string {
	return string(id)
}

// RoomName represents a validated human-readable room label.
type RoomName string

// NewRoomName validates raw input and returns a RoomName.
func NewRoomName(rawInput string) (RoomName, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRoomName)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRoomName, maxIdentifierLength)
	}
	return RoomName(trimmed), nil
}

// String returns the underlying room label.
func (n RoomName) String() string {
	return string(n)
}

// RoomDimensions carries the measured extent of a scanned room in meters.
// Area and volume are derived, never stored.
type RoomDimensions struct {
	WidthMeters  float64 `json:"width_m"`
	LengthMeters float64 `json:"length_m"`
	HeightMeters float64 `json:"height_m"`
}

// NewRoomDimensions validates the measurements and returns a RoomDimensions value.
func NewRoomDimensions(width, length, height float64) (RoomDimensions, error) {
	for _, value := range []float64{width, length, height} {
		if value < 0 {
			return RoomDimensions{}, fmt.Errorf("%w: %f", ErrInvalidDimension, value)
		}
	}
	return RoomDimensions{WidthMeters: width, LengthMeters: length, HeightMeters: height}, nil
}

// FloorArea returns the derived floor area in square meters.
func (d RoomDimensions) FloorArea() float64 {
	return d.WidthMeters * d.LengthMeters
}

// Volume returns the derived room volume in cubic meters.
func (d RoomDimensions) Volume() float64 {
	return d.WidthMeters * d.LengthMeters * d.HeightMeters
}

// Severity represents a validated damage severity in [0,1].
type Severity float64

// NewSeverity validates the value and returns a Severity.
func NewSeverity(value float64) (Severity, error) {
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidSeverity, value)
	}
	return Severity(value), nil
}

// Float64 exposes the raw severity value.
func (s Severity) Float64() float64 {
	return float64(s)
}

// Confidence represents a validated classifier confidence in [0,1].
type Confidence float64

// NewConfidence validates the value and returns a Confidence.
func NewConfidence(value float64) (Confidence, error) {
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("%w: %f", ErrInvalidConfidence, value)
	}
	return Confidence(value), nil
}

// Float64 exposes the raw confidence value.
func (c Confidence) Float64() float64 {
	return float64(c)
}

// Finding describes one piece of detected damage on a scanned surface.
type Finding struct {
	Kind           string  `json:"kind"`
	Location       string  `json:"location"`
	Severity       float64 `json:"severity"`
	SourceImageRef string  `json:"source_image_ref"`
}

// Validate checks the finding's severity bounds.
func (f Finding) Validate() error {
	if _, err := NewSeverity(f.Severity); err != nil {
		return err
	}
	return nil
}

// MaterialEstimate describes the estimated material of one surface.
type MaterialEstimate struct {
	Surface    string  `json:"surface"`
	Material   string  `json:"material"`
	Confidence float64 `json:"confidence"`
}

// Validate checks the estimate's confidence bounds.
func (m MaterialEstimate) Validate() error {
	if _, err := NewConfidence(m.Confidence); err != nil {
		return err
	}
	return nil
}

// CapturedImage is an opaque handle to one captured frame of a scan session.
// The sensor layer produces it; the core only forwards it to classifiers.
type CapturedImage struct {
	Ref string `json:"ref"`
}
