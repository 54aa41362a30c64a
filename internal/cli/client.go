package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prayerd/internal/engine"
	"prayerd/internal/prayer"
	"prayerd/internal/store"
)

// Addr is the daemon base URL; set from the root --addr flag.
var Addr = "http://127.0.0.1:8742"

// apiClient is a thin client for the prayerd HTTP API.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:   strings.TrimRight(Addr, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("prayerd unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *apiClient) status() (engine.Status, error) {
	var st engine.Status
	err := c.do(http.MethodGet, "/api/status", nil, &st)
	return st, err
}

func (c *apiClient) settings() (store.Settings, error) {
	var s store.Settings
	err := c.do(http.MethodGet, "/api/settings", nil, &s)
	return s, err
}

func (c *apiClient) updateSettings(s store.Settings) error {
	return c.do(http.MethodPut, "/api/settings", s, nil)
}

type ackResult struct {
	Acknowledged bool         `json:"acknowledged"`
	Event        prayer.Event `json:"event"`
	Already      bool         `json:"already"`
	Unlocked     bool         `json:"unlocked"`
}

func (c *apiClient) acknowledge(ev prayer.Event) (ackResult, error) {
	var out ackResult
	err := c.do(http.MethodPost, "/api/ack", map[string]prayer.Event{"event": ev}, &out)
	return out, err
}

func (c *apiClient) refresh() (engine.Status, error) {
	var st engine.Status
	err := c.do(http.MethodPost, "/api/refresh", nil, &st)
	return st, err
}
