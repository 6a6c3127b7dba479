package observability

import (
	"sync"
	"testing"
)

// TestNewMetricsConcurrency verifies that NewMetrics can be called concurrently
// without causing race conditions
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 50

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			metrics, err := NewMetrics()
			if err != nil {
				t.Errorf("NewMetrics failed: %v", err)
				return
			}
			if metrics.registry == nil {
				t.Error("metrics.registry is nil")
			}
			if metrics.Playback == nil {
				t.Error("metrics.Playback is nil")
			}
			if metrics.Output == nil {
				t.Error("metrics.Output is nil")
			}
			if metrics.Metadata == nil {
				t.Error("metrics.Metadata is nil")
			}
		})
	}
	wg.Wait()
}
