package testutil

import (
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

const brokerStartTimeout = 10 * time.Second

var (
	// binaryCache caches the compiled NATS server binary path
	binaryCache     string
	binaryCacheLock sync.Mutex
)

// findModuleRoot walks up from the working directory to the directory holding go.mod.
func findModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}

// getOrBuildNATSBinary returns the path of the compiled test/cmd/nats-server binary.
//
// The binary is cached in the temp directory under a name derived from the
// SHA256 of its source, so it is rebuilt whenever the source changes.
func getOrBuildNATSBinary() (string, error) {
	binaryCacheLock.Lock()
	defer binaryCacheLock.Unlock()

	if binaryCache != "" {
		if _, err := os.Stat(binaryCache); err == nil {
			return binaryCache, nil
		}
	}

	moduleRoot, err := findModuleRoot()
	if err != nil {
		return "", fmt.Errorf("failed to find module root: %w", err)
	}

	sourceFile := filepath.Join(moduleRoot, "test/cmd/nats-server/main.go")
	data, err := os.ReadFile(sourceFile)
	if err != nil {
		return "", fmt.Errorf("failed to read source: %w", err)
	}
	sum := sha256.Sum256(data)
	cachePath := filepath.Join(os.TempDir(), fmt.Sprintf("lifeline-nats-server-%x", sum[:8]))

	if _, err := os.Stat(cachePath); err == nil {
		binaryCache = cachePath
		return cachePath, nil
	}

	//nolint:noctx // test utility compilation
	cmd := exec.Command("go", "build", "-o", cachePath, sourceFile)
	cmd.Dir = moduleRoot
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("compilation failed: %w\nOutput: %s", err, output)
	}

	binaryCache = cachePath

	return cachePath, nil
}

// Broker is a NATS server with JetStream running in a separate process.
//
// Unlike the embedded server, it can be killed without a graceful shutdown and
// restarted on the same port with the same JetStream directory, so clients
// reconnect to it and KV buckets survive.
type Broker struct {
	t        *testing.T
	binary   string
	storeDir string

	mu   sync.Mutex
	cmd  *exec.Cmd
	url  string
	port int
}

// StartBroker starts a broker process and registers its shutdown with t.Cleanup.
//
// Example:
//
//	broker := testutil.StartBroker(t)
//	nc := broker.Connect(t)
//	// ...
//	broker.Kill()
//	broker.Restart()
func StartBroker(t *testing.T) *Broker {
	t.Helper()

	binary, err := getOrBuildNATSBinary()
	require.NoError(t, err, "failed to get NATS server binary")

	b := &Broker{t: t, binary: binary, storeDir: t.TempDir()}
	require.NoError(t, b.launch(0))

	t.Cleanup(b.Stop)

	return b
}

// URL returns the client URL. It does not change across restarts.
func (b *Broker) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.url
}

// Connect returns a client that reconnects forever, closed on test cleanup.
func (b *Broker) Connect(t *testing.T) *nats.Conn {
	t.Helper()

	nc, err := nats.Connect(b.URL(),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(50*time.Millisecond),
		nats.Timeout(time.Second),
	)
	require.NoError(t, err, "failed to connect to broker at %s", b.URL())
	t.Cleanup(nc.Close)

	return nc
}

// Kill terminates the broker with SIGKILL and waits for the process to exit.
func (b *Broker) Kill() {
	b.signal(syscall.SIGKILL)
}

// Stop shuts the broker down gracefully. It is safe to call more than once.
func (b *Broker) Stop() {
	b.signal(syscall.SIGTERM)
}

// Restart starts the broker again on the previous port and JetStream directory.
func (b *Broker) Restart() {
	b.t.Helper()

	b.mu.Lock()
	port := b.port
	b.mu.Unlock()

	require.NoError(b.t, b.launch(port), "restart broker on port %d", port)
}

func (b *Broker) signal(sig os.Signal) {
	b.mu.Lock()
	cmd := b.cmd
	b.cmd = nil
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(sig)
	_ = cmd.Wait()
}

func (b *Broker) launch(port int) error {
	//nolint:noctx // the process outlives any single context; Kill and Stop end it
	cmd := exec.Command(b.binary, "-port", strconv.Itoa(port), "-store", b.storeDir)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	type result struct {
		url string
		ok  bool
	}
	resultCh := make(chan result, 1)
	go func() {
		var r result
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Text()
			if v, found := strings.CutPrefix(line, "NATS_URL="); found {
				r.url = v
			}
			if line == "NATS_READY=true" {
				r.ok = true
				break
			}
		}
		resultCh <- r
		// keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stdout)
	}()

	timeout := time.NewTimer(brokerStartTimeout)
	defer timeout.Stop()

	var r result
	select {
	case r = <-resultCh:
	case <-timeout.C:
	}

	if !r.ok || r.url == "" {
		stderrData, _ := io.ReadAll(io.LimitReader(stderr, 4096))
		_ = cmd.Process.Kill()
		_ = cmd.Wait()

		return fmt.Errorf("broker did not become ready: %s", stderrData)
	}
	go func() { _, _ = io.Copy(io.Discard, stderr) }()

	u, err := url.Parse(r.url)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()

		return fmt.Errorf("parse broker url %q: %w", r.url, err)
	}
	listenPort, err := strconv.Atoi(u.Port())
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()

		return fmt.Errorf("parse broker port %q: %w", u.Port(), err)
	}

	b.mu.Lock()
	b.cmd = cmd
	b.url = r.url
	b.port = listenPort
	b.mu.Unlock()

	return nil
}
