package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	domaincache "github.com/sitepulse/domain-cache"
	"github.com/sitepulse/domain-cache/telemetry"
)

// ExtractionClient calls the extraction service, which crawls a domain
// and extracts business profile fields from its content.
type ExtractionClient struct {
	baseURL    string
	httpClient *http.Client
}

// ExtractionOption configures an ExtractionClient.
type ExtractionOption func(*ExtractionClient)

// WithExtractionHTTPClient sets the HTTP client used for requests.
func WithExtractionHTTPClient(httpClient *http.Client) ExtractionOption {
	return func(c *ExtractionClient) {
		c.httpClient = httpClient
	}
}

// NewExtractionClient creates an extraction service client.
func NewExtractionClient(baseURL string, opts ...ExtractionOption) *ExtractionClient {
	c := &ExtractionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "extraction"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type extractionRequest struct {
	Domain string `json:"domain"`
}

type extractionResponse struct {
	Success bool                       `json:"success"`
	Data    *domaincache.DomainContext `json:"data,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

// Extract runs a crawl-and-extract for the domain and returns the
// extracted context.
func (c *ExtractionClient) Extract(ctx context.Context, domain string) (*domaincache.DomainContext, error) {
	body, err := json.Marshal(extractionRequest{Domain: domaincache.NormalizeDomain(domain)})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling extraction service: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction service returned %d", httpResp.StatusCode)
	}

	var resp extractionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if !resp.Success {
		if resp.Error != "" {
			return nil, fmt.Errorf("extraction failed: %s", resp.Error)
		}
		return nil, fmt.Errorf("extraction failed for %s", domain)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("extraction returned no data for %s", domain)
	}
	return resp.Data, nil
}
