package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/lmbridge/internal/worker"
)

// lockedBuffer collects JSON log lines written by concurrent goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) decode() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(b.buf.Bytes()))
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// launcherRecords returns lines logged by startWorker for the named worker.
// Lines from the worker itself carry a component attribute and are skipped.
func (b *lockedBuffer) launcherRecords(name string) []map[string]any {
	var out []map[string]any
	for _, rec := range b.decode() {
		if _, ok := rec["component"]; ok {
			continue
		}
		if rec["worker"] == name {
			out = append(out, rec)
		}
	}
	return out
}

func (b *lockedBuffer) hasMessage(msg string) bool {
	for _, rec := range b.decode() {
		if rec["msg"] == msg {
			return true
		}
	}
	return false
}

func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	buf := &lockedBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return buf
}

// countingSweeper records how often the sweep worker reached the store.
type countingSweeper struct{ calls atomic.Int32 }

func (c *countingSweeper) SweepExpired(context.Context, time.Time) (int64, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestStartWorker_RunsCacheSweepUntilCancelled(t *testing.T) {
	logs := captureLogs(t)

	// Given: the cache sweep worker launched the way the server launches it
	store := &countingSweeper{}
	sweeper := worker.NewCacheSweepWorker(store, 5*time.Millisecond, time.Hour)
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	startWorker(ctx, &wg, "cache-sweep", sweeper.Run)

	// When: a few ticks pass and the server shuts down
	deadline := time.Now().Add(time.Second)
	for store.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	// Then: the sweep ran and both lifecycle transitions were logged
	if store.calls.Load() < 2 {
		t.Errorf("sweeps = %d, want at least 2", store.calls.Load())
	}
	var msgs []string
	for _, rec := range logs.launcherRecords("cache-sweep") {
		msgs = append(msgs, rec["msg"].(string))
	}
	if len(msgs) != 2 || msgs[0] != "worker started" || msgs[1] != "worker stopped" {
		t.Errorf("lifecycle logs = %v, want [worker started worker stopped]", msgs)
	}
}

func TestStartWorker_WaitGroupReleasedAfterReturn(t *testing.T) {
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	finished := atomic.Bool{}
	startWorker(ctx, &wg, "short", func(ctx context.Context) {
		<-ctx.Done()
		finished.Store(true)
	})
	cancel()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("wait group not released after cancellation")
	}
	if !finished.Load() {
		t.Error("wait returned before the worker function finished")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
