// Package loyalty is a client for the internal loyalty points API.
//
// The client reports the raw HTTP outcome; deciding whether a response counts
// as a successful award is left to the caller.
package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AddPointsPath is the route points are credited through.
const AddPointsPath = "/api/v1/points/add"

// maxBody caps how much of a response body is kept for interpretation and logs.
const maxBody = 64 << 10

// AddPointsRequest is the JSON body sent to the points API.
type AddPointsRequest struct {
	Email  string `json:"email"`
	Points int64  `json:"points"`
	Reason string `json:"reason,omitempty"`
}

// Response is the raw outcome of a points call.
type Response struct {
	StatusCode int
	Body       []byte
	Route      string
}

// Client talks to the loyalty points service.
type Client struct {
	BaseURL string
	APIKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client. timeout bounds each call; ratePerSecond throttles
// outbound calls (<= 0 disables throttling).
func NewClient(baseURL, apiKey string, timeout time.Duration, ratePerSecond float64) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
	if ratePerSecond > 0 {
		burst := int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	}
	return c
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.BaseURL != "" }

// AddPoints credits points to the account identified by email. A non-nil error
// means no HTTP response was obtained (disabled client, throttling cancelled,
// transport failure).
func (c *Client) AddPoints(ctx context.Context, email string, points int64, reason string) (*Response, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("loyalty: points api not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("loyalty: rate limit wait: %w", err)
		}
	}
	body, err := json.Marshal(AddPointsRequest{Email: email, Points: points, Reason: reason})
	if err != nil {
		return nil, err
	}
	route := c.BaseURL + AddPointsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, route, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loyalty: POST %s: %w", route, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		log.Printf("[loyalty] read body route=%s status=%d: %v", route, resp.StatusCode, err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: respBody, Route: route}, nil
}
