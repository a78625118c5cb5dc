// Package remote provides the HTTP client for the StudyDeck task API plus the
// realtime change subscription.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/kychiang/studydeck/internal/errors"
)

// Client talks to the remote task API. All failures come back classified into
// the application error taxonomy (connectivity vs HTTP status vs timeout) so
// callers never have to inspect error strings.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: false,
			},
		},
	}
}

// SetAuthToken sets the bearer token attached to subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.authToken = token
}

// SetHTTPClient replaces the underlying HTTP client, used by tests.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Do performs one API request and returns the response body. Non-2xx statuses
// map to ErrHTTPStatus; transport failures map to connectivity or timeout
// errors via Classify.
func (c *Client) Do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.HTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s %s returned %d", method, endpoint, resp.StatusCode))
	}
	return data, nil
}

// FetchAll retrieves every record of an entity for dest, a pointer to a slice.
func (c *Client) FetchAll(ctx context.Context, entity string, dest interface{}) error {
	data, err := c.Do(ctx, http.MethodGet, entity, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, "decode "+entity+" response", err)
	}
	return nil
}

// Create posts a new record for an entity.
func (c *Client) Create(ctx context.Context, entity string, record interface{}) error {
	body, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+entity+" record", err)
	}
	_, err = c.Do(ctx, http.MethodPost, entity, body)
	return err
}

// Update applies a partial update to a record by id.
func (c *Client) Update(ctx context.Context, entity, id string, partial interface{}) error {
	body, err := json.Marshal(partial)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode "+entity+" update", err)
	}
	_, err = c.Do(ctx, http.MethodPut, entity+"/"+id, body)
	return err
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, entity, id string) error {
	_, err := c.Do(ctx, http.MethodDelete, entity+"/"+id, nil)
	return err
}
