// Package profile provides clients for the remote profile service and
// the extraction service. Both are advisory collaborators of the cache
// layer: no retries here, and timeouts belong to the injected HTTP
// client.
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

const (
	actionFetchContext  = "domain-context"
	actionUpdateContext = "update-domain-context"
)

// Client calls the remote profile service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a profile service client for the given endpoint.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: telemetry.NewInstrumentedTransport(nil, "profile"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Action string                     `json:"action"`
	Domain string                     `json:"domain"`
	Params *domaincache.DomainContext `json:"params,omitempty"`
}

type fetchResponse struct {
	Data *domaincache.DomainContext `json:"data"`
}

type updateResponse struct {
	Success bool                       `json:"success"`
	Data    *domaincache.DomainContext `json:"data,omitempty"`
}

// FetchContext retrieves the remote profile for a domain. A null data
// payload is a valid response meaning the service knows nothing about
// the domain; it returns (nil, nil).
func (c *Client) FetchContext(ctx context.Context, domain string) (*domaincache.DomainContext, error) {
	var resp fetchResponse
	err := c.post(ctx, request{
		Action: actionFetchContext,
		Domain: domaincache.NormalizeDomain(domain),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdateContext propagates a context update to the remote profile
// service.
func (c *Client) UpdateContext(ctx context.Context, domain string, params *domaincache.DomainContext) error {
	var resp updateResponse
	err := c.post(ctx, request{
		Action: actionUpdateContext,
		Domain: domaincache.NormalizeDomain(domain),
		Params: params,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("profile service rejected update for %s", domain)
	}
	return nil
}

func (c *Client) post(ctx context.Context, req request, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling profile service: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("profile service returned %d", httpResp.StatusCode)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
