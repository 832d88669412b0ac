package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/vesys/ve/internal/daemon"
)

// errDaemonNotRunning is returned when no live daemon owns the repository.
var errDaemonNotRunning = errors.New("orchestrator daemon is not running (start it with 'orch start')")

// apiError is the daemon's JSON error body.
type apiError struct {
	Message string `json:"error"`
	Code    string `json:"code"`
}

func (e *apiError) Error() string { return e.Message }

// client talks to the daemon found via the repository pid file.
type client struct {
	base string
	http *http.Client
}

func daemonClient() (*client, error) {
	pf, alive := daemon.Running(repoRoot)
	if !alive {
		return nil, errDaemonNotRunning
	}
	return &client{
		base: pf.Addr(),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// do performs one JSON request. A nil out discards the response body; a
// non-nil out receives the decoded JSON. Error bodies become apiError.
func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return &apiErr
		}
		return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func (c *client) get(path string, out any) error { return c.do(http.MethodGet, path, nil, out) }
func (c *client) post(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}
func (c *client) patch(path string, body, out any) error {
	return c.do(http.MethodPatch, path, body, out)
}
func (c *client) delete(path string) error { return c.do(http.MethodDelete, path, nil, nil) }

// printJSON emits v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
