package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/riskgate/internal/auth"
	"github.com/mbd888/riskgate/internal/challenge"
	"github.com/mbd888/riskgate/internal/risk"
)

// Config holds the configuration for connecting to the riskgate API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // sent as X-Admin-Secret for reviewer routes
}

// Client is a pure HTTP client for the riskgate reviewer API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the riskgate API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set(auth.HeaderAdminSecret, c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListAssessments returns a user's most recent risk assessments, newest first.
func (c *Client) ListAssessments(ctx context.Context, userID string, limit int) ([]*risk.Assessment, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Assessments []*risk.Assessment `json:"assessments"`
	}
	path := "/v1/users/" + url.PathEscape(userID) + "/assessments"
	if err := c.doRequest(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assessments, nil
}

// GetChallenge returns a challenge session.
func (c *Client) GetChallenge(ctx context.Context, id string) (*challenge.Session, error) {
	var resp struct {
		Challenge *challenge.Session `json:"challenge"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/challenges/"+url.PathEscape(id), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Challenge, nil
}

// CancelChallenge cancels a pending challenge. The waiting authorization
// ends as not authorized.
func (c *Client) CancelChallenge(ctx context.Context, id string) (*challenge.Session, error) {
	var resp struct {
		Challenge *challenge.Session `json:"challenge"`
	}
	path := "/v1/challenges/" + url.PathEscape(id) + "/cancel"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Challenge, nil
}
