package evaluator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
)

func newTestEvaluator() *Evaluator {
	c, h, w := connect4.Size, connect4.Size+1, connect4.Size*2
	return New(dummy.New(), c, h, w, connect4.NumActions)
}

func TestEvaluateSingleCaller(t *testing.T) {
	e := newTestEvaluator()
	go e.Run()
	defer e.Close()

	input := make([]float32, connect4.Size*(connect4.Size+1)*connect4.Size*2)
	policy, val, err := e.Evaluate(input)
	require.NoError(t, err)
	require.Len(t, policy, connect4.NumActions)

	var sum float32
	for _, p := range policy {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-3, "dummy backend's policy must be a valid distribution after exponentiation")
	assert.InDelta(t, 0.5, val[0], 1e-3)
	assert.InDelta(t, 0.5, val[1], 1e-3)
}

func TestEvaluateConcurrentCallersAllComplete(t *testing.T) {
	e := newTestEvaluator()
	go e.Run()
	defer e.Close()

	const callers = 40
	input := make([]float32, connect4.Size*(connect4.Size+1)*connect4.Size*2)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := e.Evaluate(input)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}

	batches, items, avg := e.Stats()
	assert.Greater(t, batches, uint64(0))
	assert.Equal(t, uint64(callers), items)
	assert.Greater(t, avg, 0.0)
}

func TestEvaluateNBatchesTogether(t *testing.T) {
	e := newTestEvaluator()
	go e.Run()
	defer e.Close()

	inputs := make([][]float32, 5)
	for i := range inputs {
		inputs[i] = make([]float32, connect4.Size*(connect4.Size+1)*connect4.Size*2)
	}
	policies, values, err := e.EvaluateN(inputs)
	require.NoError(t, err)
	assert.Len(t, policies, 5)
	assert.Len(t, values, 5)
}

func TestEvaluateAfterCloseErrors(t *testing.T) {
	e := newTestEvaluator()
	go e.Run()
	e.Close()

	// Close has already marked the evaluator closed, so Evaluate must error rather
	// than hang, whether or not the batcher goroutine has exited yet.
	input := make([]float32, connect4.Size*(connect4.Size+1)*connect4.Size*2)
	_, _, err := e.Evaluate(input)
	assert.Error(t, err)
}
