package engineerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelsAreDistinctAndWrappable(t *testing.T) {
	sentinels := []error{
		ErrObserveShapeChanged,
		ErrOffspringSumMismatch,
		ErrNoLiveParticles,
		ErrRetainedSlotEmpty,
		ErrLaunchFailed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinels %d and %d must be distinct", i, j)
		}
	}

	wrapped := fmt.Errorf("round 3: %w", ErrOffspringSumMismatch)
	assert.True(t, errors.Is(wrapped, ErrOffspringSumMismatch))
}
