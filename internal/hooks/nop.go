// Package hooks provides default implementations of types.Hooks.
package hooks

import (
	"context"

	"github.com/arloliu/lifeline/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.State, types.State) error = (*NopHooks)(nil).OnStateChanged
	_ func(context.Context, types.Escalation) error         = (*NopHooks)(nil).OnEscalation
	_ func(context.Context, error) error                    = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnStateChanged: h.OnStateChanged,
		OnEscalation:   h.OnEscalation,
		OnError:        h.OnError,
	}
}

// Fill returns a copy of hooks with every nil callback replaced by a no-op.
func Fill(hooks *types.Hooks) *types.Hooks {
	filled := NewNop()
	if hooks == nil {
		return &filled
	}

	if hooks.OnStateChanged != nil {
		filled.OnStateChanged = hooks.OnStateChanged
	}
	if hooks.OnEscalation != nil {
		filled.OnEscalation = hooks.OnEscalation
	}
	if hooks.OnError != nil {
		filled.OnError = hooks.OnError
	}

	return &filled
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnEscalation is a no-op implementation.
func (h *NopHooks) OnEscalation(_ context.Context, _ types.Escalation) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}
