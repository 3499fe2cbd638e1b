// Package dataset writes and reads the self-play training files: one canonical-tensor
// file, one policy-target file and one value-target file per completed batch of
// recorded game positions. It is grounded on the self-play driver's dataset output
// format, simplified from the original's direct libtorch tensor serialization to a
// small length-prefixed float32 binary encoding -- this repository has no dependency
// on libtorch's file format, so the encoding just needs to round-trip within this
// engine, never to interoperate with an external trainer.
package dataset

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Batch is one flushed unit of training data: n examples, each a canonical tensor of
// c*h*w floats, a policy target of numActions floats, and a value target of 2 floats
// (player-0 and player-1 win probability).
type Batch struct {
	Canonical []float32 // length n*c*h*w
	Policy    []float32 // length n*numActions
	Value     []float32 // length n*2

	N          int
	C, H, W    int
	NumActions int
}

var filenamePattern = regexp.MustCompile(`^c_(\d+)_(\d+)\.bin$`)

// NextIndex scans dir for existing c_####_N.bin files and returns one past the
// largest index found, so a restarted self-play run continues numbering rather than
// overwriting. It returns 0 if dir doesn't exist yet or holds no dataset files.
func NextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.WithMessagef(err, "dataset: listing %q", dir)
	}
	best := -1
	for _, e := range entries {
		m := filenamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err == nil && idx > best {
			best = idx
		}
	}
	return best + 1, nil
}

// Write persists b to dir under index, as c_{index:04d}_{n}.bin,
// p_{index:04d}_{n}.bin and v_{index:04d}_{n}.bin. It returns an error (and writes
// nothing) if b contains a NaN anywhere, matching the self-play driver's rule that a
// game producing a non-finite target is dropped wholesale rather than poisoning the
// dataset.
func Write(dir string, index int, b Batch) error {
	if containsNaN(b.Canonical) || containsNaN(b.Policy) || containsNaN(b.Value) {
		return errors.New("dataset: batch contains NaN, dropping")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithMessagef(err, "dataset: creating %q", dir)
	}

	base := fmt.Sprintf("%04d_%d", index, b.N)
	if err := writeTensorFile(filepath.Join(dir, "c_"+base+".bin"), b.Canonical, []int{b.N, b.C, b.H, b.W}); err != nil {
		return err
	}
	if err := writeTensorFile(filepath.Join(dir, "p_"+base+".bin"), b.Policy, []int{b.N, b.NumActions}); err != nil {
		return err
	}
	if err := writeTensorFile(filepath.Join(dir, "v_"+base+".bin"), b.Value, []int{b.N, 2}); err != nil {
		return err
	}
	return nil
}

func containsNaN(data []float32) bool {
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}

// writeTensorFile writes a tiny header (rank, then each dimension, as little-endian
// uint32) followed by the raw float32 data, also little-endian.
func writeTensorFile(path string, data []float32, shape []int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithMessagef(err, "dataset: creating %q", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(shape))); err != nil {
		return err
	}
	for _, dim := range shape {
		if err := binary.Write(w, binary.LittleEndian, uint32(dim)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return err
	}
	return w.Flush()
}

// ReadTensorFile reads back a file written by writeTensorFile, for tests and tooling.
func ReadTensorFile(path string) (data []float32, shape []int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "dataset: opening %q", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var rank uint32
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return nil, nil, err
	}
	shape = make([]int, rank)
	total := 1
	for i := range shape {
		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, nil, err
		}
		shape[i] = int(dim)
		total *= int(dim)
	}
	data = make([]float32, total)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, nil, err
	}
	return data, shape, nil
}
