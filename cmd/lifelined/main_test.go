package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/lifeline"
)

// writeFileConfig writes a config using the file backend and the in-process hub only.
func writeFileConfig(t *testing.T) (configPath, statePath string) {
	t.Helper()

	dir := t.TempDir()
	statePath = filepath.Join(dir, "state.json")
	configPath = filepath.Join(dir, "lifeline.yaml")

	doc := "store:\n  backend: file\n  path: " + statePath + "\nrelay:\n  transports: [hub]\n"
	require.NoError(t, os.WriteFile(configPath, []byte(doc), 0o600))

	return configPath, statePath
}

func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer

	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t.Context(), "version")

	require.NoError(t, err)
	require.Contains(t, out, "lifelined dev")
}

func TestStatusCmd(t *testing.T) {
	configPath, _ := writeFileConfig(t)

	t.Run("empty store", func(t *testing.T) {
		out, err := execute(t.Context(), "status", "--config", configPath)

		require.NoError(t, err)
		require.Contains(t, out, "backend:    file")
		require.Contains(t, out, "aggregate:  never")
		require.Contains(t, out, "attempts:   0/5")
	})

	t.Run("invalid config", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("scheduler:\n  degradedFactor: 1\n"), 0o600))

		_, err := execute(t.Context(), "status", "--config", bad)
		require.ErrorContains(t, err, "DegradedFactor")
	})
}

func TestRunCmd(t *testing.T) {
	configPath, _ := writeFileConfig(t)
	lockPath := filepath.Join(t.TempDir(), "lifelined.lock")

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	_, err := execute(ctx, "run", "--config", configPath, "--lock-file", lockPath, "--no-power")
	require.NoError(t, err)

	// The run left its heartbeats in the file store.
	out, err := execute(t.Context(), "status", "--config", configPath)
	require.NoError(t, err)
	require.NotContains(t, out, "never")
	require.Contains(t, out, "stale false")
}

func TestRunCmd_SingleInstance(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "lifelined.lock")

	held := flock.New(lockPath)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	_, err = execute(t.Context(), "run", "--lock-file", lockPath, "--no-power")
	require.ErrorContains(t, err, "already running")
}

func TestWatchCmd_RequiresNATS(t *testing.T) {
	t.Setenv(lifeline.EnvNATSURL, "")

	_, err := execute(t.Context(), "watch", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "NATS URL")
}

func TestWriteStatus(t *testing.T) {
	cfg := lifeline.DefaultConfig()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	writeStatus(&buf, &cfg, now.Add(-time.Minute), lifeline.RecoveryState{AttemptCount: 2, WindowStart: now.Add(-10 * time.Second)}, now)

	out := buf.String()
	require.Contains(t, out, "memory is per process")
	require.Contains(t, out, "age 1m0s, stale true, threshold 30s")
	require.Contains(t, out, "attempts:   2/5")
	require.Contains(t, out, "cooldown 1m0s")
}

func TestMetricsServer(t *testing.T) {
	cfg := lifeline.TestConfig()
	cfg.Store.Prefix = t.Name()
	cfg.Relay.Channel = t.Name()

	reg := prometheus.NewRegistry()
	wd, err := lifeline.New(&cfg, lifeline.WithBridge(nil))
	require.NoError(t, err)

	srv := httptest.NewServer(newMetricsServer("", reg, wd).Handler)
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()

		var body bytes.Buffer
		_, err = body.ReadFrom(resp.Body)
		require.NoError(t, err)

		return resp.StatusCode, body.String()
	}

	code, body := get("/health")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "Stopped\n", body)

	require.NoError(t, wd.Start(t.Context()))
	defer func() { _ = wd.Stop(context.Background()) }()

	code, body = get("/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Active\n", body)

	code, _ = get("/metrics")
	require.Equal(t, http.StatusOK, code)
}
