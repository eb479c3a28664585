package power

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/arloliu/lifeline/internal/logging"
	"github.com/arloliu/lifeline/internal/signals"
	"github.com/arloliu/lifeline/types"
)

const (
	// DefaultSysfsRoot is the Linux power supply class directory.
	DefaultSysfsRoot = "/sys/class/power_supply"

	defaultPollInterval = 30 * time.Second
)

// ErrNoPowerSupply is returned when the sysfs root lists no power supply.
var ErrNoPowerSupply = errors.New("no power supply found")

// SysfsSource publishes the host power state read from sysfs.
//
// A host is charging when any external supply (Mains, USB) reports online=1,
// on battery when it has a battery and no online external supply, and
// unknown otherwise. Only changes are published.
type SysfsSource struct {
	*signals.Broadcaster[types.PowerState]

	root     string
	interval time.Duration
	clock    clockwork.Clock
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// SysfsOption configures a SysfsSource.
type SysfsOption func(*SysfsSource)

// WithRoot overrides the sysfs directory (default /sys/class/power_supply).
func WithRoot(root string) SysfsOption {
	return func(s *SysfsSource) { s.root = root }
}

// WithPollInterval sets the poll interval (default 30s).
func WithPollInterval(d time.Duration) SysfsOption {
	return func(s *SysfsSource) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock driving the poll ticker.
func WithClock(clock clockwork.Clock) SysfsOption {
	return func(s *SysfsSource) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSourceLogger sets the logger.
func WithSourceLogger(logger types.Logger) SysfsOption {
	return func(s *SysfsSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSysfsSource creates a stopped source.
func NewSysfsSource(opts ...SysfsOption) *SysfsSource {
	s := &SysfsSource{
		Broadcaster: signals.NewBroadcaster[types.PowerState](),
		root:        DefaultSysfsRoot,
		interval:    defaultPollInterval,
		clock:       clockwork.NewRealClock(),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Read returns the current power state.
func (s *SysfsSource) Read() (types.PowerState, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return types.PowerUnknown, fmt.Errorf("read %s: %w", s.root, err)
	}
	if len(entries) == 0 {
		return types.PowerUnknown, ErrNoPowerSupply
	}

	hasBattery := false
	for _, e := range entries {
		dir := filepath.Join(s.root, e.Name())

		switch readAttr(dir, "type") {
		case "Mains", "USB", "USB_C", "USB_PD":
			if readAttr(dir, "online") == "1" {
				return types.PowerCharging, nil
			}
		case "Battery":
			hasBattery = true
			if status := readAttr(dir, "status"); status == "Charging" || status == "Full" {
				return types.PowerCharging, nil
			}
		}
	}

	if hasBattery {
		return types.PowerBattery, nil
	}

	return types.PowerUnknown, nil
}

// Start reads and publishes the current state, then polls until Stop.
func (s *SysfsSource) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return types.ErrAlreadyStarted
	}

	state, err := s.Read()
	if err != nil {
		return err
	}

	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.Publish(state)

	go s.poll(state, s.stopCh, s.doneCh)

	return nil
}

// Stop halts polling and waits for the poll goroutine.
func (s *SysfsSource) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
}

func (s *SysfsSource) poll(last types.PowerState, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.Chan():
			state, err := s.Read()
			if err != nil {
				s.logger.Debug("power state read failed", "root", s.root, "error", err)
				continue
			}
			if state != last {
				last = state
				s.Publish(state)
			}
		}
	}
}

func readAttr(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
