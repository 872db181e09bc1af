// Package client is a typed HTTP client for the monitor API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hamed0406/urlmonitor/internal/domain"
	"github.com/hamed0406/urlmonitor/internal/monitor"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for baseURL. The timeout is generous because a
// manual check runs a full cycle before answering.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func (c *Client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type AddTargetRequest struct {
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
	Active    *bool  `json:"active,omitempty"`
}

func (c *Client) AddTarget(req AddTargetRequest) (domain.Target, error) {
	var t domain.Target
	err := c.do(http.MethodPost, "/api/targets", req, &t)
	return t, err
}

func (c *Client) ListTargets(activeOnly bool) ([]domain.Target, error) {
	path := "/api/targets"
	if activeOnly {
		path += "?active=true"
	}
	var ts []domain.Target
	err := c.do(http.MethodGet, path, nil, &ts)
	return ts, err
}

func (c *Client) DeactivateTarget(id string) error {
	return c.do(http.MethodPost, "/api/targets/"+url.PathEscape(id)+"/deactivate", nil, nil)
}

func (c *Client) RemoveTarget(id string) error {
	return c.do(http.MethodDelete, "/api/targets/"+url.PathEscape(id), nil, nil)
}

func (c *Client) TriggerCheck() (domain.CycleSummary, error) {
	var s domain.CycleSummary
	err := c.do(http.MethodPost, "/api/checks", nil, &s)
	return s, err
}

func (c *Client) Status() ([]domain.StatusRow, error) {
	var rows []domain.StatusRow
	err := c.do(http.MethodGet, "/api/status", nil, &rows)
	return rows, err
}

func (c *Client) History(id string, since time.Time, limit int) ([]domain.CheckResult, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/targets/" + url.PathEscape(id) + "/history"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var rs []domain.CheckResult
	err := c.do(http.MethodGet, path, nil, &rs)
	return rs, err
}

func (c *Client) UptimeStats(id string, since time.Time) (domain.UptimeStats, error) {
	path := "/api/targets/" + url.PathEscape(id) + "/stats"
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339))
	}
	var st domain.UptimeStats
	err := c.do(http.MethodGet, path, nil, &st)
	return st, err
}

func (c *Client) Stats() (domain.StoreStats, error) {
	var st domain.StoreStats
	err := c.do(http.MethodGet, "/api/stats", nil, &st)
	return st, err
}

func (c *Client) Schedule() (monitor.ScheduleInfo, error) {
	var info monitor.ScheduleInfo
	err := c.do(http.MethodGet, "/api/schedule", nil, &info)
	return info, err
}

func (c *Client) SetSchedule(times []string, timezone string) (monitor.ScheduleInfo, error) {
	var info monitor.ScheduleInfo
	body := map[string]any{"times": times, "timezone": timezone}
	err := c.do(http.MethodPut, "/api/schedule", body, &info)
	return info, err
}

func (c *Client) Prune() (int64, error) {
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.do(http.MethodPost, "/api/prune", nil, &out)
	return out.Deleted, err
}
