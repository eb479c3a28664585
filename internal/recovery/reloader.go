package recovery

import (
	"context"
	"fmt"
	"os"
	"syscall"
)

// Reloader replaces the current execution context with a fresh one.
type Reloader interface {
	Reload(ctx context.Context) error
}

// FuncReloader adapts a function to the Reloader interface.
type FuncReloader func(ctx context.Context) error

// Reload calls f.
func (f FuncReloader) Reload(ctx context.Context) error { return f(ctx) }

// ExecReloader re-executes the running binary in place.
//
// On success Reload does not return. Args and Env default to the current
// process arguments and environment.
type ExecReloader struct {
	Args []string
	Env  []string
}

// Reload implements Reloader.
func (r ExecReloader) Reload(_ context.Context) error {
	path, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := r.Args
	if len(args) == 0 {
		args = os.Args
	}
	env := r.Env
	if env == nil {
		env = os.Environ()
	}

	if err := syscall.Exec(path, args, env); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}

	return nil
}
