//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// bridgeServer manages a running lmbridge process.
type bridgeServer struct {
	cmd     *exec.Cmd
	address string
	logFile string
}

// startBridge launches the lmbridge binary with the cache disabled and waits
// for /health. Pools connect lazily, so no database needs to be reachable.
func startBridge(t *testing.T, extraEnv ...string) *bridgeServer {
	t.Helper()

	if lmbridgeBin == "" {
		t.Skip("lmbridge binary not available (set LMBRIDGE_BIN or add to PATH)")
	}

	dir := t.TempDir()
	port := freePort(t)
	logFile := filepath.Join(dir, "lmbridge.log")

	cmd := exec.Command(lmbridgeBin)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("LMBRIDGE_PORT=%d", port),
		"LMBRIDGE_CONFIG_PATH="+filepath.Join(dir, "nonexistent.yaml"),
		"LMBRIDGE_CACHE_ENABLED=false",
		"LMBRIDGE_VERSION=e2e",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	lf, err := os.Create(logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	cmd.Stdout = lf
	cmd.Stderr = lf

	if err := cmd.Start(); err != nil {
		lf.Close()
		t.Fatalf("start lmbridge: %v", err)
	}

	s := &bridgeServer{
		cmd:     cmd,
		address: fmt.Sprintf("127.0.0.1:%d", port),
		logFile: logFile,
	}
	t.Cleanup(func() {
		s.stop()
		lf.Close()
		if t.Failed() {
			if data, err := os.ReadFile(logFile); err == nil {
				t.Logf("lmbridge log:\n%s", data)
			}
		}
	})

	if err := s.waitHealthy(10 * time.Second); err != nil {
		t.Fatalf("lmbridge not healthy: %v", err)
	}
	return s
}

func (s *bridgeServer) stop() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
		_ = s.cmd.Wait()
	}
}

func (s *bridgeServer) baseURL() string {
	return "http://" + s.address
}

func (s *bridgeServer) waitHealthy(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := s.baseURL() + "/health"

	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("not healthy after %s", timeout)
}

// getJSON issues a GET and decodes the body into out. It returns the status code.
func (s *bridgeServer) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(s.baseURL() + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	decode(t, resp.Body, out)
	return resp.StatusCode
}

// postJSON posts body and decodes the response into out.
func (s *bridgeServer) postJSON(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(s.baseURL()+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	decode(t, resp.Body, out)
	return resp.StatusCode
}

func decode(t *testing.T, r io.Reader, out any) {
	t.Helper()
	if out == nil {
		_, _ = io.Copy(io.Discard, r)
		return
	}
	if err := json.NewDecoder(r).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
