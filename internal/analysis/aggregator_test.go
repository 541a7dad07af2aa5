package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roomlens/roomlens/internal/scan"
)

type scriptedResult struct {
	analysis ImageAnalysis
	err      error
	delay    time.Duration
}

type scriptedClassifier struct {
	results map[string]scriptedResult
}

func (c *scriptedClassifier) Analyze(ctx context.Context, image scan.CapturedImage) (ImageAnalysis, error) {
	result, ok := c.results[image.Ref]
	if !ok {
		return ImageAnalysis{}, errors.New("unscripted image")
	}
	if result.delay > 0 {
		select {
		case <-time.After(result.delay):
		case <-ctx.Done():
			return ImageAnalysis{}, ctx.Err()
		}
	}
	return result.analysis, result.err
}

func findingFor(ref string) scan.Finding {
	return scan.Finding{Kind: "crack", Location: "wall", Severity: 0.5, SourceImageRef: ref}
}

func newTestAggregator(t *testing.T, classifier ImageClassifier) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(AggregatorConfig{Classifier: classifier})
	if err != nil {
		t.Fatalf("failed to construct aggregator: %v", err)
	}
	return aggregator
}

func TestAggregateOrdersResultsByInputOrder(t *testing.T) {
	// B completes first, then A, then C. The combined list must still read
	// A, B, C.
	classifier := &scriptedClassifier{results: map[string]scriptedResult{
		"img-a": {analysis: ImageAnalysis{Findings: []scan.Finding{findingFor("img-a")}}, delay: 40 * time.Millisecond},
		"img-b": {analysis: ImageAnalysis{Findings: []scan.Finding{findingFor("img-b")}}, delay: 5 * time.Millisecond},
		"img-c": {analysis: ImageAnalysis{Findings: []scan.Finding{findingFor("img-c")}}, delay: 80 * time.Millisecond},
	}}
	aggregator := newTestAggregator(t, classifier)

	combined, err := aggregator.Aggregate(context.Background(), []scan.CapturedImage{
		{Ref: "img-a"}, {Ref: "img-b"}, {Ref: "img-c"},
	})
	if err != nil {
		t.Fatalf("unexpected aggregate error: %v", err)
	}
	if len(combined.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(combined.Findings))
	}
	for index, expected := range []string{"img-a", "img-b", "img-c"} {
		if combined.Findings[index].SourceImageRef != expected {
			t.Fatalf("expected %q at position %d, got %q", expected, index, combined.Findings[index].SourceImageRef)
		}
	}
}

func TestAggregateToleratesSingleImageFailure(t *testing.T) {
	classifier := &scriptedClassifier{results: map[string]scriptedResult{
		"img-1": {analysis: ImageAnalysis{Findings: []scan.Finding{findingFor("img-1")}}},
		"img-2": {err: errors.New("blurry frame")},
	}}
	aggregator := newTestAggregator(t, classifier)

	combined, err := aggregator.Aggregate(context.Background(), []scan.CapturedImage{
		{Ref: "img-1"}, {Ref: "img-2"},
	})
	if err != nil {
		t.Fatalf("a single failed image must not fail aggregation: %v", err)
	}
	if len(combined.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(combined.Findings))
	}
	if len(combined.Failures) != 1 || combined.Failures[0].ImageRef != "img-2" {
		t.Fatalf("expected the failure to be recorded, got %#v", combined.Failures)
	}
}

func TestAggregateFailsWhenAllImagesFail(t *testing.T) {
	classifier := &scriptedClassifier{results: map[string]scriptedResult{
		"img-1": {err: errors.New("overexposed")},
		"img-2": {err: errors.New("blurry frame")},
	}}
	aggregator := newTestAggregator(t, classifier)

	_, err := aggregator.Aggregate(context.Background(), []scan.CapturedImage{
		{Ref: "img-1"}, {Ref: "img-2"},
	})
	if !errors.Is(err, ErrAllAnalysesFailed) {
		t.Fatalf("expected ErrAllAnalysesFailed, got %v", err)
	}
}

func TestAggregateFailsOnEmptyImageSet(t *testing.T) {
	aggregator := newTestAggregator(t, &scriptedClassifier{})

	_, err := aggregator.Aggregate(context.Background(), nil)
	if !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func TestAggregateCancelledSessionYieldsError(t *testing.T) {
	classifier := &scriptedClassifier{results: map[string]scriptedResult{
		"img-1": {analysis: ImageAnalysis{Findings: []scan.Finding{findingFor("img-1")}}, delay: time.Second},
	}}
	aggregator := newTestAggregator(t, classifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := aggregator.Aggregate(ctx, []scan.CapturedImage{{Ref: "img-1"}})
	if !errors.Is(err, ErrAggregationCancelled) {
		t.Fatalf("expected ErrAggregationCancelled, got %v", err)
	}
}

func TestAggregateRejectsOutOfRangeSeverity(t *testing.T) {
	classifier := &scriptedClassifier{results: map[string]scriptedResult{
		"img-1": {analysis: ImageAnalysis{Findings: []scan.Finding{
			{Kind: "crack", Location: "wall", Severity: 1.5, SourceImageRef: "img-1"},
		}}},
		"img-2": {analysis: ImageAnalysis{Materials: []scan.MaterialEstimate{
			{Surface: "floor", Material: "tile", Confidence: 0.7},
		}}},
	}}
	aggregator := newTestAggregator(t, classifier)

	combined, err := aggregator.Aggregate(context.Background(), []scan.CapturedImage{
		{Ref: "img-1"}, {Ref: "img-2"},
	})
	if err != nil {
		t.Fatalf("unexpected aggregate error: %v", err)
	}
	if len(combined.Findings) != 0 {
		t.Fatalf("out-of-range findings must be excluded, got %#v", combined.Findings)
	}
	if len(combined.Failures) != 1 {
		t.Fatalf("expected the invalid result to count as a failure, got %#v", combined.Failures)
	}
	if len(combined.Materials) != 1 {
		t.Fatalf("expected the valid image to contribute, got %#v", combined.Materials)
	}
}
