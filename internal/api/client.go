package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"foldguard/internal/guard"
)

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the daemon listening on addr, given as
// host:port or a full URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the transport, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) Healthz(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) Status(ctx context.Context) (*guard.Status, error) {
	var st guard.Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) SetProtection(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/protection/toggle", map[string]bool{"enabled": enabled}, nil)
}

func (c *Client) Protect(ctx context.Context, path string, recursive bool) (*guard.ProtectedPath, error) {
	var entry guard.ProtectedPath
	if err := c.do(ctx, http.MethodPost, "/protected-paths", ProtectRequest{Path: path, Recursive: recursive}, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Unprotect(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, protectedPathURL(path), nil, nil)
}

func (c *Client) SetPathEnabled(ctx context.Context, path string, enabled bool) (*guard.ProtectedPath, error) {
	var entry guard.ProtectedPath
	if err := c.do(ctx, http.MethodPatch, protectedPathURL(path), map[string]bool{"enabled": enabled}, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) ProtectedPaths(ctx context.Context) ([]guard.ProtectedPath, error) {
	var list []guard.ProtectedPath
	err := c.do(ctx, http.MethodGet, "/protected-paths", nil, &list)
	return list, err
}

func (c *Client) Activity(ctx context.Context, filter guard.ActivityFilter) ([]guard.ActivityRecord, error) {
	q := url.Values{}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		q.Set("until", filter.Until.Format(time.RFC3339Nano))
	}
	if filter.PathPrefix != "" {
		q.Set("path", filter.PathPrefix)
	}
	if filter.Kind != "" {
		q.Set("kind", string(filter.Kind))
	}
	if filter.Resolution != "" {
		q.Set("resolution", string(filter.Resolution))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var recs []guard.ActivityRecord
	err := c.do(ctx, http.MethodGet, withQuery("/activity", q), nil, &recs)
	return recs, err
}

func (c *Client) Snapshots(ctx context.Context, path string, limit int) ([]guard.Snapshot, error) {
	q := url.Values{}
	if path != "" {
		q.Set("path", path)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var snaps []guard.Snapshot
	err := c.do(ctx, http.MethodGet, withQuery("/snapshots", q), nil, &snaps)
	return snaps, err
}

func (c *Client) Restore(ctx context.Context, req guard.RestoreRequest) ([]string, error) {
	var resp RestoreResponse
	if err := c.do(ctx, http.MethodPost, "/restore", req, &resp); err != nil {
		return nil, err
	}
	return resp.RestoredPaths, nil
}

func (c *Client) StartScan(ctx context.Context, path string) (string, error) {
	var resp ScanStarted
	if err := c.do(ctx, http.MethodPost, "/scan", scanRequest{Path: path}, &resp); err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (c *Client) ScanJob(ctx context.Context, id string) (*guard.ScanJob, error) {
	var job guard.ScanJob
	if err := c.do(ctx, http.MethodGet, "/scan/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CancelScan(ctx context.Context, id string) (*guard.ScanJob, error) {
	var job guard.ScanJob
	if err := c.do(ctx, http.MethodDelete, "/scan/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Submit sends an operation through the Preventable hook.
func (c *Client) Submit(ctx context.Context, req OperationRequest) (*guard.Decision, error) {
	var d guard.Decision
	if err := c.do(ctx, http.MethodPost, "/operations", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Confirm(ctx context.Context, operationID, actor string) (*guard.ActivityRecord, error) {
	var rec guard.ActivityRecord
	path := "/operations/" + url.PathEscape(operationID) + "/confirm"
	if err := c.do(ctx, http.MethodPost, path, confirmRequest{Actor: actor}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func protectedPathURL(path string) string {
	return "/protected-paths" + (&url.URL{Path: "/" + strings.TrimPrefix(path, "/")}).EscapedPath()
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var eb ErrorBody
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
			return &Error{Status: resp.StatusCode, Code: "Internal", Message: strings.TrimSpace(string(data))}
		}
		return &Error{Status: resp.StatusCode, Code: eb.Error, Message: eb.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
