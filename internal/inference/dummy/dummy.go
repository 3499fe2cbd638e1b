// Package dummy provides a fixed, model-free inference.Backend: uniform policy over
// legal-looking actions and a constant 0.5/0.5 value. It exists so the search engine
// and its batching evaluator can be exercised and benchmarked without a trained
// network, and as the baseline opponent in the forced-opening Connect-4 convergence
// scenario.
package dummy

import (
	"github.com/chewxy/math32"

	"github.com/avery-lin/puctzero/internal/inference"
)

// Backend is a stateless inference.Backend returning a uniform policy and an even
// value for every input.
type Backend struct{}

// New returns a ready-to-use dummy Backend.
func New() *Backend { return &Backend{} }

// Forward implements inference.Backend. Outputs are in log-space, matching a real
// network's log-softmax head: the caller exponentiates.
func (b *Backend) Forward(inputs []float32, n, c, h, w, numActions int) (policy, value []float32, err error) {
	logUniformPolicy := -math32.Log(float32(numActions))
	logHalf := -math32.Log(2)

	policy = make([]float32, n*numActions)
	for i := range policy {
		policy[i] = logUniformPolicy
	}
	value = make([]float32, n*2)
	for i := 0; i < n; i++ {
		value[i*2] = logHalf
		value[i*2+1] = logHalf
	}
	return policy, value, nil
}

// String implements inference.Backend.
func (b *Backend) String() string { return "dummy" }
