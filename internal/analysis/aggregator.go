package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roomlens/roomlens/internal/scan"
	"go.uber.org/zap"
)

var (
	// ErrNoImages indicates that aggregation was requested with an empty image set.
	ErrNoImages = errors.New("analysis: no images to analyze")
	// ErrAllAnalysesFailed indicates that every per-image task failed.
	ErrAllAnalysesFailed = errors.New("analysis: all image analyses failed")
	// ErrAggregationCancelled indicates the scan session was cancelled mid-aggregation.
	ErrAggregationCancelled = errors.New("analysis: aggregation cancelled")

	errMissingClassifier = errors.New("classifier is required")

	noOpLogger = zap.NewNop()
)

// ImageAnalysis is the result shape every classifier must produce for one image.
type ImageAnalysis struct {
	Findings  []scan.Finding
	Materials []scan.MaterialEstimate
}

// ImageClassifier analyzes a single captured image. Implementations run
// concurrently with each other and must honor context cancellation.
type ImageClassifier interface {
	Analyze(ctx context.Context, image scan.CapturedImage) (ImageAnalysis, error)
}

// ImageFailure records one non-fatal per-image analysis failure.
type ImageFailure struct {
	ImageRef string
	Err      error
}

// CombinedAnalysis is the fan-in result over all images of one scan session.
// Findings and Materials are ordered by input image position, never by
// completion order, so repeated runs produce identical output.
type CombinedAnalysis struct {
	Findings  []scan.Finding
	Materials []scan.MaterialEstimate
	Failures  []ImageFailure
}

// AggregatorConfig carries the dependencies for constructing an Aggregator.
type AggregatorConfig struct {
	Classifier ImageClassifier
	Logger     *zap.Logger
}

// Aggregator fans a set of captured images out to independent analysis tasks
// and combines their results once all tasks finish.
type Aggregator struct {
	classifier ImageClassifier
	logger     *zap.Logger
}

// NewAggregator validates the configuration and returns an Aggregator.
func NewAggregator(cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Classifier == nil {
		return nil, errMissingClassifier
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Aggregator{classifier: cfg.Classifier, logger: logger}, nil
}

type taskResult struct {
	analysis ImageAnalysis
	err      error
}

// Aggregate launches one analysis task per image and waits for all of them.
// A single task failure does not fail the aggregation; its contribution is
// simply absent and the failure is recorded as a diagnostic. Aggregation as a
// whole fails only when the image set is empty, every task fails, or the
// context is cancelled before fan-in completes.
func (a *Aggregator) Aggregate(ctx context.Context, images []scan.CapturedImage) (CombinedAnalysis, error) {
	if len(images) == 0 {
		return CombinedAnalysis{}, ErrNoImages
	}

	results := make([]taskResult, len(images))
	var wg sync.WaitGroup
	for index, image := range images {
		wg.Add(1)
		go func(slot int, img scan.CapturedImage) {
			defer wg.Done()
			analysis, err := a.analyzeOne(ctx, img)
			results[slot] = taskResult{analysis: analysis, err: err}
		}(index, image)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return CombinedAnalysis{}, fmt.Errorf("%w: %v", ErrAggregationCancelled, err)
	}

	combined := CombinedAnalysis{
		Findings:  make([]scan.Finding, 0),
		Materials: make([]scan.MaterialEstimate, 0),
	}
	failedCount := 0
	for index, result := range results {
		if result.err != nil {
			failedCount++
			combined.Failures = append(combined.Failures, ImageFailure{
				ImageRef: images[index].Ref,
				Err:      result.err,
			})
			a.logger.Warn("image analysis failed",
				zap.String("image_ref", images[index].Ref),
				zap.Error(result.err))
			continue
		}
		combined.Findings = append(combined.Findings, result.analysis.Findings...)
		combined.Materials = append(combined.Materials, result.analysis.Materials...)
	}

	if failedCount == len(images) {
		return CombinedAnalysis{}, ErrAllAnalysesFailed
	}

	return combined, nil
}

// analyzeOne runs the classifier for one image and validates the result shape.
// Out-of-range severity or confidence values count as a task failure.
func (a *Aggregator) analyzeOne(ctx context.Context, image scan.CapturedImage) (ImageAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return ImageAnalysis{}, err
	}

	analysis, err := a.classifier.Analyze(ctx, image)
	if err != nil {
		return ImageAnalysis{}, err
	}

	for _, finding := range analysis.Findings {
		if err := finding.Validate(); err != nil {
			return ImageAnalysis{}, fmt.Errorf("finding %q: %w", finding.Kind, err)
		}
	}
	for _, estimate := range analysis.Materials {
		if err := estimate.Validate(); err != nil {
			return ImageAnalysis{}, fmt.Errorf("material %q: %w", estimate.Material, err)
		}
	}

	return analysis, nil
}
