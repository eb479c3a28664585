package testutil

import (
	"fmt"
	"runtime"
	"testing"
	"time"
)

// ResourceSample captures resource usage at a point in time.
type ResourceSample struct {
	Timestamp      time.Time
	MemoryMB       float64
	GoroutineCount int
}

// TakeSample reads the current heap allocation and goroutine count.
func TakeSample() ResourceSample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceSample{
		Timestamp:      time.Now(),
		MemoryMB:       float64(m.Alloc) / 1024 / 1024,
		GoroutineCount: runtime.NumGoroutine(),
	}
}

// ResourceReport compares two samples.
type ResourceReport struct {
	Start ResourceSample
	End   ResourceSample
}

// GoroutineLeak is the number of goroutines that were not cleaned up.
func (r ResourceReport) GoroutineLeak() int {
	return r.End.GoroutineCount - r.Start.GoroutineCount
}

// MemoryGrowthMB is the heap growth between the samples.
func (r ResourceReport) MemoryGrowthMB() float64 {
	return r.End.MemoryMB - r.Start.MemoryMB
}

// Summary returns a human-readable comparison.
func (r ResourceReport) Summary() string {
	return fmt.Sprintf("Memory: %.2f → %.2f MB (%+.2f), Goroutines: %d → %d (%+d), Duration: %v",
		r.Start.MemoryMB, r.End.MemoryMB, r.MemoryGrowthMB(),
		r.Start.GoroutineCount, r.End.GoroutineCount, r.GoroutineLeak(),
		r.End.Timestamp.Sub(r.Start.Timestamp),
	)
}

// RequireNoGoroutineLeak waits up to timeout for the goroutine count to settle
// within slack of baseline, failing the test otherwise.
//
// Goroutines of stopped components exit asynchronously, so the count is polled
// with a GC between samples.
//
// Parameters:
//   - t: Testing context
//   - baseline: Sample taken before the components under test were created
//   - slack: Goroutines tolerated above the baseline (timers, runtime workers)
//   - timeout: Maximum time to wait for the count to settle
//
// Returns:
//   - ResourceReport: The baseline and the last sample
//
// Example:
//
//	baseline := testutil.TakeSample()
//	for range 20 {
//	    require.NoError(t, wd.Start(ctx))
//	    require.NoError(t, wd.Stop(ctx))
//	}
//	testutil.RequireNoGoroutineLeak(t, baseline, 5, 2*time.Second)
func RequireNoGoroutineLeak(t *testing.T, baseline ResourceSample, slack int, timeout time.Duration) ResourceReport {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		runtime.GC()
		report := ResourceReport{Start: baseline, End: TakeSample()}
		if report.GoroutineLeak() <= slack {
			t.Log(report.Summary())
			return report
		}

		if time.Now().After(deadline) {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Fatalf("goroutine leak: %s\n%s", report.Summary(), buf[:n])

			return report
		}

		time.Sleep(50 * time.Millisecond)
	}
}
