package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/roomlens/roomlens/internal/scan"
)

const defaultAnalyzeTimeout = 60 * time.Second

var errMissingClassifierURL = errors.New("analysis: classifier base url is required")

// HTTPClassifierConfig carries the dependencies for constructing an HTTPClassifier.
type HTTPClassifierConfig struct {
	BaseURL    string
	HTTPClient *http.Client
}

// HTTPClassifier calls an external per-image classifier service:
//
//	POST {base}/analyze  {"ref": "..."}  ->  {"findings": [...], "materials": [...]}
//
// The service's internal model choice is its own business; only the result
// shape and the [0,1] bounds on severity and confidence matter here, and the
// aggregator re-checks the bounds.
type HTTPClassifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClassifier validates the configuration and returns an HTTPClassifier.
func NewHTTPClassifier(cfg HTTPClassifierConfig) (*HTTPClassifier, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingClassifierURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultAnalyzeTimeout}
	}
	return &HTTPClassifier{baseURL: baseURL, httpClient: httpClient}, nil
}

type analyzeRequestPayload struct {
	Ref string `json:"ref"`
}

type analyzeResponsePayload struct {
	Findings  []scan.Finding          `json:"findings"`
	Materials []scan.MaterialEstimate `json:"materials"`
}

// Analyze submits one captured image for classification.
func (c *HTTPClassifier) Analyze(ctx context.Context, image scan.CapturedImage) (ImageAnalysis, error) {
	encoded, err := json.Marshal(analyzeRequestPayload{Ref: image.Ref})
	if err != nil {
		return ImageAnalysis{}, fmt.Errorf("analysis: encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(encoded))
	if err != nil {
		return ImageAnalysis{}, fmt.Errorf("analysis: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return ImageAnalysis{}, fmt.Errorf("analysis: classifier request: %w", err)
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return ImageAnalysis{}, fmt.Errorf("analysis: read response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return ImageAnalysis{}, fmt.Errorf("analysis: classifier status %d", response.StatusCode)
	}

	var payload analyzeResponsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ImageAnalysis{}, fmt.Errorf("analysis: decode response: %w", err)
	}

	return ImageAnalysis{Findings: payload.Findings, Materials: payload.Materials}, nil
}
