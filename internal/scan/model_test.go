package scan

import (
	"errors"
	"testing"
)

func TestNewRoomNameRejectsEmptyInput(t *testing.T) {
	if _, err := NewRoomName("   "); !errors.Is(err, ErrInvalidRoomName) {
		t.Fatalf("expected ErrInvalidRoomName, got %v", err)
	}
}

func TestNewRoomDimensionsRejectsNegativeValues(t *testing.T) {
	if _, err := NewRoomDimensions(5, -1, 2.5); !errors.Is(err, ErrInvalidDimension) {
		t.Fatalf("expected ErrInvalidDimension, got %v", err)
	}
}

func TestRoomDimensionsDerivesAreaAndVolume(t *testing.T) {
	dims, err := NewRoomDimensions(5, 4, 2.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dims.FloorArea() != 20 {
		t.Fatalf("expected floor area 20, got %f", dims.FloorArea())
	}
	if dims.Volume() != 50 {
		t.Fatalf("expected volume 50, got %f", dims.Volume())
	}
}

func TestSeverityAndConfidenceBounds(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		wantError bool
	}{
		{name: "zero", value: 0, wantError: false},
		{name: "one", value: 1, wantError: false},
		{name: "negative", value: -0.1, wantError: true},
		{name: "above one", value: 1.1, wantError: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			_, severityErr := NewSeverity(testCase.value)
			if (severityErr != nil) != testCase.wantError {
				t.Fatalf("severity %f: unexpected outcome %v", testCase.value, severityErr)
			}
			_, confidenceErr := NewConfidence(testCase.value)
			if (confidenceErr != nil) != testCase.wantError {
				t.Fatalf("confidence %f: unexpected outcome %v", testCase.value, confidenceErr)
			}
		})
	}
}

func TestDecodeFindingsTreatsEmptyColumnAsNoFindings(t *testing.T) {
	findings, err := DecodeFindings("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestEncodeFindingsRoundTripsOrder(t *testing.T) {
	input := []Finding{
		{Kind: "crack", Location: "wall", Severity: 0.8, SourceImageRef: "img-1"},
		{Kind: "stain", Location: "ceiling", Severity: 0.2, SourceImageRef: "img-2"},
	}
	encoded, err := EncodeFindings(input)
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	decoded, err := DecodeFindings(encoded)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(decoded) != 2 || decoded[0].Kind != "crack" || decoded[1].Kind != "stain" {
		t.Fatalf("unexpected round trip result: %#v", decoded)
	}
}
