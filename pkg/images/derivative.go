package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DerivativeRequest asks the external resizer for one rendition of a stored
// original. The resizer reads SourceKey from the blob store, scales the
// longest edge down to MaxDimension (never up), and writes TargetKey.
type DerivativeRequest struct {
	SourceKey    string `json:"source_key"`
	TargetKey    string `json:"target_key"`
	ContentType  string `json:"content_type"`
	MaxDimension int    `json:"max_dimension"`
}

// DerivativeRequester hands resize work to the external image service.
// Implementations must not decode or scale pixels themselves.
type DerivativeRequester interface {
	Request(ctx context.Context, req DerivativeRequest) error
}

// HTTPRequester submits derivative requests to the resizer's HTTP endpoint
type HTTPRequester struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRequester creates a requester for the given resizer endpoint
func NewHTTPRequester(endpoint string) *HTTPRequester {
	return &HTTPRequester{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Request posts one resize job and waits for acknowledgement
func (r *HTTPRequester) Request(ctx context.Context, req DerivativeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal derivative request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build derivative request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to request derivative: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("derivative service returned status %d", resp.StatusCode)
	}
	return nil
}

// NoopRequester skips derivative generation. Used when no resizer is
// configured; clients fall back to the original rendition.
type NoopRequester struct{}

func (NoopRequester) Request(ctx context.Context, req DerivativeRequest) error {
	return nil
}
