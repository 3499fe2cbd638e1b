package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := Batch{
		Canonical:  []float32{1, 2, 3, 4, 5, 6, 7, 8},
		Policy:     []float32{0.25, 0.25, 0.25, 0.25},
		Value:      []float32{0.6, 0.4},
		N:          1,
		C:          2,
		H:          2,
		W:          2,
		NumActions: 4,
	}
	require.NoError(t, Write(dir, 0, b))

	data, shape, err := ReadTensorFile(dir + "/c_0000_1.bin")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 2, 2}, shape)
	assert.Equal(t, b.Canonical, data)
}

func TestWriteRejectsNaN(t *testing.T) {
	dir := t.TempDir()
	b := Batch{Canonical: []float32{float32NaN()}, Policy: []float32{1}, Value: []float32{0.5, 0.5}, N: 1, C: 1, H: 1, W: 1, NumActions: 1}
	assert.Error(t, Write(dir, 0, b))
}

func TestNextIndexResumesFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	b := Batch{Canonical: []float32{1}, Policy: []float32{1}, Value: []float32{0.5, 0.5}, N: 1, C: 1, H: 1, W: 1, NumActions: 1}
	require.NoError(t, Write(dir, 3, b))
	require.NoError(t, Write(dir, 7, b))

	next, err := NextIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, 8, next)
}

func TestNextIndexOnMissingDir(t *testing.T) {
	next, err := NextIndex("/does/not/exist/at/all")
	require.NoError(t, err)
	assert.Equal(t, 0, next)
}

func float32NaN() float32 {
	var x float32
	return x / x
}
