package it

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Record mirrors the JSON record returned by a node.
type Record struct {
	Name     string  `json:"name"`
	Stock    int64   `json:"stock"`
	Price    float64 `json:"price"`
	Location string  `json:"location"`
	Version  uint64  `json:"version"`
	Origin   string  `json:"origin"`
}

// Result is the response to a read or write.
type Result struct {
	Node        string            `json:"node"`
	Session     string            `json:"session"`
	Key         string            `json:"key"`
	Found       bool              `json:"found"`
	Record      *Record           `json:"record"`
	Consistency string            `json:"consistency"`
	Sweeps      int               `json:"sweeps"`
	Lagging     map[string]uint64 `json:"lagging"`
}

// SyncResult is the response to a manual sweep.
type SyncResult struct {
	Merged int      `json:"merged"`
	Failed []string `json:"failed"`
}

// Client speaks the node HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL. A nil httpClient means
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Read reads key as session.
func (c *Client) Read(ctx context.Context, session, key string) (*Result, error) {
	u := fmt.Sprintf("%s/products/%s?session=%s", c.baseURL, url.PathEscape(key), url.QueryEscape(session))
	var out Result
	return &out, c.do(ctx, http.MethodGet, u, nil, &out)
}

// Write writes rec under key as session.
func (c *Client) Write(ctx context.Context, session, key string, rec Record) (*Result, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/products/%s?session=%s", c.baseURL, url.PathEscape(key), url.QueryEscape(session))
	var out Result
	return &out, c.do(ctx, http.MethodPut, u, body, &out)
}

// Sync triggers one anti-entropy sweep on the node.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	var out SyncResult
	return &out, c.do(ctx, http.MethodPost, c.baseURL+"/sync", nil, &out)
}

// Snapshot returns the node's /api export.
func (c *Client) Snapshot(ctx context.Context) (map[string]Record, error) {
	out := make(map[string]Record)
	return out, c.do(ctx, http.MethodGet, c.baseURL+"/api", nil, &out)
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %s", method, u, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
