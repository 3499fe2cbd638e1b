// Package inference defines the InferenceBackend capability: a batched forward pass
// from canonical game tensors to policy and value logits. Concrete backends (a real
// neural network, or a uniform dummy for tests) live in subpackages.
package inference

// Backend is the external collaborator that performs the neural-network forward
// pass. Given a batch of N canonical tensors, each shaped [C, H, W] and flattened, it
// returns policy logits [N, A] and value logits [N, 2], both in log-probability
// space -- the caller (the batching evaluator) applies exp.
//
// Failure to load or run the model is fatal: Backend implementations should panic or
// return an error that the caller treats as unrecoverable, never retry silently.
type Backend interface {
	// Forward runs the batched model. inputs has length n*c*h*w (n batch items, each
	// a flattened canonical tensor). policy has length n*numActions, value has length
	// n*2.
	Forward(inputs []float32, n, c, h, w, numActions int) (policy, value []float32, err error)

	// String names the backend, for logging.
	String() string
}
