// Package bridge detects the host recovery bridge.
//
// A bridge is a pair of host commands that a supervisor (systemd, a process
// manager, a device agent) exposes for restarting the process. Detection runs
// once; when no command resolves the watchdog runs without a bridge, which is
// a normal condition.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/arloliu/lifeline/types"
)

// Config names the host commands. Each command is argv: the first element is
// resolved through PATH.
type Config struct {
	RestartCommand     []string `yaml:"restartCommand"`
	AutoRestartCommand []string `yaml:"autoRestartCommand"`
}

// CommandBridge runs host commands.
type CommandBridge struct {
	restart     []string
	autoRestart []string
}

var _ types.RecoveryBridge = (*CommandBridge)(nil)

// Detect returns a bridge when the restart command resolves, otherwise nil.
//
// The auto-restart command is optional; an unresolvable one is dropped.
func Detect(cfg Config) types.RecoveryBridge {
	restart, ok := resolve(cfg.RestartCommand)
	if !ok {
		return nil
	}

	autoRestart, _ := resolve(cfg.AutoRestartCommand)

	return &CommandBridge{restart: restart, autoRestart: autoRestart}
}

// RestartProcess runs the restart command.
func (b *CommandBridge) RestartProcess(ctx context.Context) error {
	return run(ctx, b.restart)
}

// EnableAutoRestart runs the auto-restart command, if one was configured.
func (b *CommandBridge) EnableAutoRestart(ctx context.Context) error {
	if len(b.autoRestart) == 0 {
		return nil
	}

	return run(ctx, b.autoRestart)
}

func resolve(argv []string) ([]string, bool) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, false
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, false
	}

	resolved := append([]string{path}, argv[1:]...)

	return resolved, true
}

func run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("bridge: empty command")
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("bridge: %s: %w: %s", argv[0], err, out)
	}

	return nil
}
