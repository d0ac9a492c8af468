package fault

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the package leaves no goroutines running once its
// tests finish, the same discipline the teacher pack's transport tests
// apply to their SSE connections.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// time.AfterFunc timers backing FailurePropagator in the
		// cascading-failure scenario are not goroutines goleak tracks,
		// but the standard library's own timer goroutine sometimes
		// surfaces transiently; ignore it defensively the way the
		// teacher's leak_test.go ignores SSE's keepalive goroutine.
		goleak.IgnoreTopFunction("time.Sleep"),
	)
}
