// Package evaluator implements the batching evaluator: many search goroutines submit
// single canonical tensors and block for a result, while a single batcher goroutine
// drains whatever has accumulated, runs one InferenceBackend.Forward call, and wakes
// each caller with its slice of the output. It is grounded on the original prototype's
// queued evaluator, translated from a ring of spin-waited atomics to a ring of
// mutex-guarded condition variables.
package evaluator

import (
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/inference"
)

// ringSize is the number of in-flight submission slots, matching the original
// evaluator's fixed-size job ring.
const ringSize = 64

type slot struct {
	cond sync.Cond // guarded by Evaluator.mu
	done bool

	input     []float32 // this slot's flattened canonical tensor, length c*h*w
	outPolicy []float32 // filled in once done, length numActions
	outValue  [2]float32
	err       error
}

// Evaluator batches concurrent evaluation requests against a single InferenceBackend.
type Evaluator struct {
	backend    inference.Backend
	c, h, w    int
	numActions int

	mu      sync.Mutex
	ring    [ringSize]*slot
	working int // number of occupied ring slots: queued items plus those of the batch currently running

	batchesRun   uint64
	itemsBatched uint64

	closeOnce sync.Once
	closed    bool
	idle      sync.Cond // signaled when working leaves 0 and on Close, to wake the batcher loop
}

// New creates an Evaluator around backend, for a game whose canonical tensors are
// shaped (c, h, w) and whose action space has numActions entries.
func New(backend inference.Backend, c, h, w, numActions int) *Evaluator {
	e := &Evaluator{
		backend:    backend,
		c:          c,
		h:          h,
		w:          w,
		numActions: numActions,
	}
	e.idle.L = &e.mu
	for i := range e.ring {
		s := &slot{}
		s.cond.L = &e.mu
		e.ring[i] = s
	}
	return e
}

// Evaluate submits a single canonical tensor and blocks until a batch containing it
// has run. input must have length c*h*w. The returned policy has length numActions and
// value has length 2, both already exponentiated out of the backend's log-space
// output.
func (e *Evaluator) Evaluate(input []float32) (policy []float32, value [2]float32, err error) {
	policies, values, err := e.EvaluateN([][]float32{input})
	if err != nil {
		return nil, [2]float32{}, err
	}
	return policies[0], values[0], nil
}

// EvaluateN submits a slice of canonical tensors as a single atomic multi-item
// submission -- used by speculative multi-tree stepping to ensure every lane's leaf
// for a given step lands in the same batch. It blocks until all of them have been
// evaluated.
func (e *Evaluator) EvaluateN(inputs [][]float32) (policies [][]float32, values [][2]float32, err error) {
	if len(inputs) == 0 {
		return nil, nil, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, errors.New("evaluator: Evaluate called after Close")
	}
	if e.working+len(inputs) > ringSize {
		e.mu.Unlock()
		return nil, nil, errors.Errorf("evaluator: submission of %d items would overflow the %d-slot ring (already %d queued)", len(inputs), ringSize, e.working)
	}

	mySlots := make([]*slot, len(inputs))
	wasIdle := e.working == 0
	for i, in := range inputs {
		s := e.ring[(e.working+i)%ringSize]
		s.input = in
		s.done = false
		s.outPolicy = nil
		s.err = nil
		mySlots[i] = s
	}
	e.working += len(inputs)
	if wasIdle {
		e.idle.Broadcast()
	}
	e.mu.Unlock()

	policies = make([][]float32, len(inputs))
	values = make([][2]float32, len(inputs))
	e.mu.Lock()
	for i, s := range mySlots {
		for !s.done {
			s.cond.Wait()
		}
		policies[i] = s.outPolicy
		values[i] = s.outValue
		if s.err != nil && err == nil {
			err = s.err
		}
	}
	e.mu.Unlock()
	return policies, values, err
}

// Run executes the batcher loop until ctx-equivalent shutdown via Close. It must run
// on its own goroutine; there is exactly one batcher goroutine per Evaluator.
func (e *Evaluator) Run() {
	for {
		e.mu.Lock()
		for e.working == 0 && !e.closed {
			e.idle.Wait()
		}
		if e.closed && e.working == 0 {
			e.mu.Unlock()
			return
		}
		n := e.working
		batch := make([]*slot, n)
		copy(batch, e.ring[:n])
		e.mu.Unlock()

		e.runBatch(batch)

		e.mu.Lock()
		// Slots [n:working) may have been queued while runBatch ran; shift them down
		// to the front of the ring for the next iteration.
		remaining := e.working - n
		for i := 0; i < remaining; i++ {
			e.ring[i] = e.ring[(n+i)%ringSize]
		}
		// Refill the vacated tail with fresh slot objects. Submissions already
		// waiting hold pointers into the shifted front of the ring, not the tail,
		// so this cannot invalidate an in-flight Wait.
		for i := remaining; i < ringSize; i++ {
			s := &slot{}
			s.cond.L = &e.mu
			e.ring[i] = s
		}
		e.working = remaining
		e.mu.Unlock()
	}
}

func (e *Evaluator) runBatch(batch []*slot) {
	n := len(batch)
	inputs := make([]float32, 0, n*e.c*e.h*e.w)
	for _, s := range batch {
		inputs = append(inputs, s.input...)
	}

	start := time.Now()
	policy, val, err := e.backend.Forward(inputs, n, e.c, e.h, e.w, e.numActions)
	klog.V(2).Infof("evaluator: batch of %d ran in %s", n, time.Since(start))

	e.mu.Lock()
	e.batchesRun++
	e.itemsBatched += uint64(n)
	for i, s := range batch {
		if err != nil {
			s.err = err
		} else {
			s.outPolicy = exponentiate(policy[i*e.numActions : (i+1)*e.numActions])
			s.outValue = [2]float32{expf(val[i*2]), expf(val[i*2+1])}
		}
		s.done = true
		s.cond.Signal()
	}
	e.mu.Unlock()
}

// Close stops the batcher goroutine once any in-flight batch completes. It must only
// be called after every caller of Evaluate/EvaluateN has returned.
func (e *Evaluator) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.idle.Broadcast()
		e.mu.Unlock()
	})
}

func exponentiate(logProbs []float32) []float32 {
	out := make([]float32, len(logProbs))
	for i, lp := range logProbs {
		out[i] = math32.Exp(lp)
	}
	return out
}

func expf(logProb float32) float32 { return math32.Exp(logProb) }

// Stats reports the average batch size seen so far, for monitoring GPU utilization.
func (e *Evaluator) Stats() (batchesRun, itemsBatched uint64, avgBatchSize float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.batchesRun == 0 {
		return 0, 0, 0
	}
	return e.batchesRun, e.itemsBatched, float64(e.itemsBatched) / float64(e.batchesRun)
}
