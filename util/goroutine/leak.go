package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// pollInterval is how often leak checks re-count goroutines
const pollInterval = 20 * time.Millisecond

// Snapshot is a goroutine count taken before background work is started.
type Snapshot struct {
	Count int
	Time  time.Time
}

// TakeSnapshot captures the current goroutine count.
func TakeSnapshot() Snapshot {
	return Snapshot{Count: runtime.NumGoroutine(), Time: time.Now()}
}

// Settled waits up to timeout for the goroutine count to drop back to the snapshot
// and reports whether it did.
func (s Snapshot) Settled(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if runtime.NumGoroutine() <= s.Count {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// AssertNoLeak fails t when goroutines started after the snapshot are still running
// once timeout has passed. Workers, listeners and the queue clients they use must all
// be stopped before calling it.
func (s Snapshot) AssertNoLeak(t testing.TB, timeout time.Duration) {
	t.Helper()
	if s.Settled(timeout) {
		return
	}

	current := runtime.NumGoroutine()
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Errorf("goroutine leak: snapshot had %d goroutines, now have %d (leaked %d) over %v\n%s",
		s.Count, current, current-s.Count, time.Since(s.Time), buf[:n])
}
