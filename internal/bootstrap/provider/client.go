// Package provider is the HTTP client for the external identity and
// organization service used by tenant bootstrap.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carebase/internal/bootstrap"
	dErrors "carebase/pkg/domain-errors"
)

const defaultTimeout = 10 * time.Second

var _ bootstrap.Provider = (*Client)(nil)

// Client calls the provider's JSON API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which has a 10s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken sends token as a bearer credential on every call.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createdResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateOrganization(ctx context.Context, req bootstrap.CreateOrganizationRequest) (string, error) {
	return c.create(ctx, "/organizations", req)
}

func (c *Client) CreateUser(ctx context.Context, req bootstrap.CreateUserRequest) (string, error) {
	return c.create(ctx, "/organizations/"+req.ExternalOrgID+"/users", req)
}

func (c *Client) create(ctx context.Context, path string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeExternalDependency, "provider request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", dErrors.Newf(dErrors.CodeExternalDependency, "provider POST %s returned %s: %s",
			path, resp.Status, strings.TrimSpace(string(detail)))
	}

	var out createdResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if out.ID == "" {
		return "", dErrors.New(dErrors.CodeExternalDependency, "provider response has no id")
	}
	return out.ID, nil
}
