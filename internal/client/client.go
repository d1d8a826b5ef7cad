// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package client is the HTTP-side counterpart of package server: it
// drives the three-phase sync protocol against a remote Harmony server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (default: a
// client with no per-request timeout, relying on context cancellation,
// matching the streaming nature of /sync/file).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxParallelTransfers bounds how many /sync/file uploads run
// concurrently in a bounded pool. Default is 8.
func WithMaxParallelTransfers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// Client talks to one Harmony server over HTTP.
type Client struct {
	baseURL     string
	http        *http.Client
	token       string
	maxParallel int
}

const defaultMaxParallelTransfers = 8

// New builds a Client pointed at serverURL. No request is made until a
// method is called.
func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     serverURL,
		http:        &http.Client{Timeout: 0},
		maxParallel: defaultMaxParallelTransfers,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetAccessToken installs the bearer token used for every request after
// RequestAccessToken. Safe to call directly if a token was persisted
// from a previous run.
func (c *Client) SetAccessToken(token string) { c.token = token }

// RequestAccessToken performs the first-contact handshake and stores
// the returned token on the client.
func (c *Client) RequestAccessToken(ctx context.Context, secret, deviceName string) (string, error) {
	var token string
	err := c.do(ctx, http.MethodPost, "/request-access-token", false, map[string]string{
		"secret_password": secret,
		"device_name":     deviceName,
	}, &token)
	if err != nil {
		return "", fmt.Errorf("request access token: %w", err)
	}
	c.token = token
	return token, nil
}

// Healthcheck pings the server.
func (c *Client) Healthcheck(ctx context.Context) error {
	var reply string
	if err := c.do(ctx, http.MethodGet, "/healthcheck", false, nil, &reply); err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	return nil
}

// Snapshot fetches the server's current view of slotName.
func (c *Client) Snapshot(ctx context.Context, slotName string, opts SnapshotOptions) (SnapshotWire, error) {
	var reply struct {
		Snapshot SnapshotWire `json:"snapshot"`
	}
	body := map[string]any{"slot_name": slotName, "snapshot_options": opts}
	if err := c.do(ctx, http.MethodPost, "/snapshot", true, body, &reply); err != nil {
		return SnapshotWire{}, fmt.Errorf("snapshot %q: %w", slotName, err)
	}
	return reply.Snapshot, nil
}

// IsOpen reports whether slotName has an open session.
func (c *Client) IsOpen(ctx context.Context, slotName string) (bool, error) {
	var open bool
	body := map[string]string{"slot_name": slotName}
	if err := c.do(ctx, http.MethodGet, "/sync/is-open", true, body, &open); err != nil {
		return false, fmt.Errorf("is-open %q: %w", slotName, err)
	}
	return open, nil
}

// Begin opens a session on slotName with d as the already-computed diff.
func (c *Client) Begin(ctx context.Context, slotName string, d DiffWire) (SyncInfo, error) {
	var info SyncInfo
	body := map[string]any{"slot_name": slotName, "diff": d}
	if err := c.do(ctx, http.MethodPost, "/sync/begin", true, body, &info); err != nil {
		return SyncInfo{}, fmt.Errorf("begin %q: %w", slotName, err)
	}
	return info, nil
}

// Resume regenerates the access token of slotName's open session.
func (c *Client) Resume(ctx context.Context, slotName string) (SyncInfo, error) {
	var info SyncInfo
	body := map[string]string{"slot_name": slotName}
	if err := c.do(ctx, http.MethodPost, "/sync/resume", true, body, &info); err != nil {
		return SyncInfo{}, fmt.Errorf("resume %q: %w", slotName, err)
	}
	return info, nil
}

// Transfer streams body (exactly size bytes) to the server as relPath
// within the session identified by syncToken.
func (c *Client) Transfer(ctx context.Context, slotName, syncToken, relPath string, body io.Reader, size int64) error {
	u := c.baseURL + "/sync/file?" + url.Values{
		"slot_name": {slotName},
		"sync_id":   {syncToken},
		"path":      {relPath},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("transfer %q: %w", relPath, err)
	}
	req.ContentLength = size
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transfer %q: %w", relPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("transfer %q: %w", relPath, decodeError(resp))
	}
	return nil
}

// Finalize commits slotName's session identified by syncToken.
func (c *Client) Finalize(ctx context.Context, slotName, syncToken string) error {
	var reply any
	body := map[string]string{"slot_name": slotName, "sync_token": syncToken}
	if err := c.do(ctx, http.MethodPost, "/sync/finalize", true, body, &reply); err != nil {
		return fmt.Errorf("finalize %q: %w", slotName, err)
	}
	return nil
}

// Abort discards slotName's session identified by syncToken without
// touching its content tree.
func (c *Client) Abort(ctx context.Context, slotName, syncToken string) error {
	var reply any
	body := map[string]string{"slot_name": slotName, "sync_token": syncToken}
	if err := c.do(ctx, http.MethodDelete, "/sync/abort", true, body, &reply); err != nil {
		return fmt.Errorf("abort %q: %w", slotName, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, authed bool, reqBody, reply any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if reply == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}

// ErrorEnvelope mirrors the server's HTTP error body.
type ErrorEnvelope struct {
	HTTPCode int    `json:"http_code"`
	HTTPName string `json:"http_name"`
	Message  string `json:"message"`
}

func (e ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.HTTPName, e.Message)
}

func decodeError(resp *http.Response) error {
	var env ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return env
}
