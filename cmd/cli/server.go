package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	serverBinary       = "remotedl-server"
	serverStartTimeout = 15 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// serverReady asks /ready whether the controller has finished startup.
// The second result is false when nothing answered at all.
func serverReady() (ready, reachable bool) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(serverURL + "/ready")
	if err != nil {
		return false, false
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, true
	}
	return resp.StatusCode == http.StatusOK && body.Status == "ready", true
}

// findServerBinary looks next to the CLI first, then on PATH.
// REMOTEDL_SERVER overrides both.
func findServerBinary() (string, error) {
	if path := os.Getenv("REMOTEDL_SERVER"); path != "" {
		return path, nil
	}
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), serverBinary)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(serverBinary); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%s binary not found (set REMOTEDL_SERVER)", serverBinary)
}

// ensureServerRunning launches the server if nothing is listening and waits
// until its controller reports ready. The server detaches itself, so the
// launch command returns as soon as the background process exists.
func ensureServerRunning() error {
	ready, reachable := serverReady()
	if ready {
		return nil
	}

	if !reachable {
		path, err := findServerBinary()
		if err != nil {
			return err
		}
		fmt.Println("Server not running, starting...")
		if out, err := exec.Command(path).CombinedOutput(); err != nil {
			return fmt.Errorf("failed to start server: %w: %s", err, out)
		}
	}

	deadline := time.Now().Add(serverStartTimeout)
	for time.Now().Before(deadline) {
		if ready, _ := serverReady(); ready {
			return nil
		}
		time.Sleep(serverPollInterval)
	}
	return fmt.Errorf("server did not become ready within %v", serverStartTimeout)
}
