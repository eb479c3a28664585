//go:build !unix

package main

import "os"

func visibilitySignals() []os.Signal { return nil }

func isVisibleSignal(os.Signal) bool { return true }
