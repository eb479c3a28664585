// Package logging provides types.Logger implementations for the lifeline library.
//
// Three backends are available:
//   - SlogLogger wraps a *slog.Logger (library default when a logger is configured)
//   - NopLogger discards everything (default when no logger is configured)
//   - NewZap builds a zap.SugaredLogger, optionally rotating files through lumberjack,
//     used by the lifelined daemon
package logging
