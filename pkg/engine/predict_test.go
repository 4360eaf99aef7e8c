package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictBufferInactiveDuringDiscovery(t *testing.T) {
	b := NewPredictBuffer()
	b.SetActive(false)
	b.Predict("x", "%d", 1)
	b.PredictValue("y", 2.5)
	assert.Empty(t, b.lines)
}

func TestPredictBufferAccumulatesLines(t *testing.T) {
	b := NewPredictBuffer()
	b.Predict("is_tricky", "%d", 1)
	b.PredictValue("theta", 0.5)
	require.Len(t, b.lines, 2)
	assert.Equal(t, "is_tricky,1", b.lines[0])
	assert.Equal(t, "theta,0.5", b.lines[1])
}

func TestPredictBufferCloneIsIndependent(t *testing.T) {
	b := NewPredictBuffer()
	b.Predict("x", "%d", 1)
	c := b.Clone()
	c.Predict("y", "%d", 2)
	assert.Len(t, b.lines, 1)
	assert.Len(t, c.lines, 2)
}

func TestPredictBufferFlushFormatsWeightAndID(t *testing.T) {
	b := NewPredictBuffer()
	b.Predict("r", "%d", 3)
	var out strings.Builder
	b.Flush(&out, -1.5, 42)
	assert.Equal(t, "r,3,-1.5,42\n", out.String())
}

func TestPredictBufferFlushNoopWhenEmpty(t *testing.T) {
	b := NewPredictBuffer()
	var out strings.Builder
	b.Flush(&out, 0, 1)
	assert.Empty(t, out.String())
}

func TestFlushLineNormalizesTrailingNewline(t *testing.T) {
	var out strings.Builder
	FlushLine(&out, "time_elapsed,0.000100,,1")
	assert.Equal(t, "time_elapsed,0.000100,,1\n", out.String())
}
