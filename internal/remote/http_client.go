package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 15 * time.Second

var errMissingBaseURL = errors.New("remote: base url is required")

// HTTPClientConfig carries the dependencies for constructing an HTTPClient.
type HTTPClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPClient talks to a document-store HTTP API:
//
//	POST   {base}/collections/{collection}/documents        -> {"id": "..."}
//	PUT    {base}/collections/{collection}/documents/{id}
//	DELETE {base}/collections/{collection}/documents/{id}
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient validates the configuration and returns an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

type createResponsePayload struct {
	ID string `json:"id"`
}

// CreateDocument stores a new document and returns its remote identifier.
func (c *HTTPClient) CreateDocument(ctx context.Context, collection string, document map[string]any) (string, error) {
	endpoint := fmt.Sprintf("%s/collections/%s/documents", c.baseURL, url.PathEscape(collection))
	body, err := c.do(ctx, http.MethodPost, endpoint, document)
	if err != nil {
		return "", err
	}

	var response createResponsePayload
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("%w: malformed create response: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(response.ID) == "" {
		return "", fmt.Errorf("%w: create response missing id", ErrUnavailable)
	}
	return response.ID, nil
}

// UpsertDocument overwrites the document with the given remote identifier.
func (c *HTTPClient) UpsertDocument(ctx context.Context, collection, remoteID string, document map[string]any) error {
	endpoint := fmt.Sprintf("%s/collections/%s/documents/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(remoteID))
	_, err := c.do(ctx, http.MethodPut, endpoint, document)
	return err
}

// DeleteDocument removes the document with the given remote identifier.
func (c *HTTPClient) DeleteDocument(ctx context.Context, collection, remoteID string) error {
	endpoint := fmt.Sprintf("%s/collections/%s/documents/%s", c.baseURL, url.PathEscape(collection), url.PathEscape(remoteID))
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, document map[string]any) ([]byte, error) {
	var requestBody io.Reader
	if document != nil {
		encoded, err := json.Marshal(document)
		if err != nil {
			return nil, fmt.Errorf("%w: encode document: %v", ErrRejected, err)
		}
		requestBody = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if document != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Debug("remote request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return body, nil
	case response.StatusCode >= 400 && response.StatusCode < 500:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, response.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, response.StatusCode)
	}
}
