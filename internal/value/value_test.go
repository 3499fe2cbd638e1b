package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPlayer0Invariant(t *testing.T) {
	v := FromPlayer0(0.73)
	assert.InDelta(t, 0.73, v.Get(0), 1e-6)
	assert.InDelta(t, 0.27, v.Get(1), 1e-6)
	assert.InDelta(t, 1.0, v.Get(0)+v.Get(1), 1e-6)
}

func TestFromPlayer(t *testing.T) {
	v := FromPlayer(1, 0.9)
	assert.InDelta(t, 0.9, v.Get(1), 1e-6)
	assert.InDelta(t, 0.1, v.Get(0), 1e-6)
}

func TestFromLogits(t *testing.T) {
	v := FromLogits(3, 1)
	assert.InDelta(t, 0.75, v.Get(0), 1e-6)
	assert.InDelta(t, 0.25, v.Get(1), 1e-6)
}
