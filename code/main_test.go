package code

import (
	"testing"

	"go.uber.org/goleak"
)

// The opencensus view worker is started at init by a search dependency.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}
