// Package client talks to the gatherly API from the scanner CLI.
package client

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

	"gatherly-backend/models"
)

type Client struct {
	BaseURL string
	// StaffID identifies the operator performing scans.
	StaffID string

	HTTP *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("base url is empty")
	}
	url := strings.TrimRight(c.BaseURL, "/") + path

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(c.StaffID) != "" {
		req.Header.Set("X-Staff-Id", strings.TrimSpace(c.StaffID))
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*envelope, int, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return &env, resp.StatusCode, nil
}

// GetEvent loads event context before the scanner is enabled.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events/"+eventID, nil)
	if err != nil {
		return nil, err
	}
	env, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !env.Success || env.Data == nil {
		if env.Message != "" {
			return nil, fmt.Errorf("event lookup failed: %s", env.Message)
		}
		return nil, fmt.Errorf("event lookup failed with status %d", status)
	}

	var ev models.Event
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return &ev, nil
}

// VerifyCode submits one raw code. A response envelope is converted to a
// ScanOutcome whatever the status code; only transport failures error.
func (c *Client) VerifyCode(ctx context.Context, eventID, qrData string) (*models.ScanOutcome, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/events/"+eventID+"/verify-qr",
		models.VerifyQRRequest{QRData: qrData})
	if err != nil {
		return nil, err
	}
	env, _, err := c.do(req)
	if err != nil {
		return nil, err
	}

	out := &models.ScanOutcome{Success: env.Success, Message: env.Message}
	if env.Success && env.Data != nil {
		var details models.ScanDetails
		if err := json.Unmarshal(env.Data, &details); err == nil {
			out.Data = &details
		}
	}
	if out.Message == "" {
		out.Message = "verification failed"
	}
	return out, nil
}
