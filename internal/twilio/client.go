// Package twilio is a minimal form-encoded REST client for the Twilio
// Messaging and Conversations APIs, plus webhook signature checks.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from Twilio.
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio %d (code %d): %s", e.Status, e.Code, e.Message)
}

type Client struct {
	accountSID  string
	authToken   string
	httpClient  *http.Client
	RateLimiter *rate.Limiter
}

func NewClient(accountSID, authToken string) *Client {
	return &Client{
		accountSID:  accountSID,
		authToken:   authToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		RateLimiter: rate.NewLimiter(rate.Every(time.Second/10), 10),
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

func (c *Client) AccountSID() string { return c.accountSID }

// PostForm sends form to endpoint and decodes a JSON response into out (when non-nil).
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	if err := c.RateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
