package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// errNotRunning is returned by resolveRouterPort when no daemon's port
// file is present, so every command can surface the same actionable
// message instead of a bare connection-refused error.
var errNotRunning = fmt.Errorf("riftdl is not running; start it with 'riftdl serve'")

// routerClient is a thin HTTP client against one running instance's
// Command Router, used by every subcommand that isn't "serve" itself.
type routerClient struct {
	baseURL string
	http    *http.Client
}

// resolveRouterPort honors an explicit --port flag, falling back to the
// port file a running "riftdl serve" maintains.
func resolveRouterPort(cmd *cobra.Command) (int, error) {
	if p, _ := cmd.Flags().GetInt("port"); p > 0 {
		return p, nil
	}
	if port := readPort(); port > 0 {
		return port, nil
	}
	return 0, errNotRunning
}

func newRouterClient(cmd *cobra.Command) (*routerClient, error) {
	port, err := resolveRouterPort(cmd)
	if err != nil {
		return nil, err
	}
	return &routerClient{
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		http:    &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *routerClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to riftdl daemon: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *routerClient) get(path string, out any) error    { return c.do(http.MethodGet, path, nil, out) }
func (c *routerClient) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
func (c *routerClient) put(path string, body, out any) error {
	return c.do(http.MethodPut, path, body, out)
}
func (c *routerClient) delete(path string) error { return c.do(http.MethodDelete, path, nil, nil) }
