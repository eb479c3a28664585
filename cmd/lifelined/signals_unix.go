//go:build unix

package main

import (
	"os"
	"syscall"
)

func visibilitySignals() []os.Signal {
	return []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}
}

// isVisibleSignal maps SIGUSR2 to visible and SIGUSR1 to hidden.
func isVisibleSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR2
}
