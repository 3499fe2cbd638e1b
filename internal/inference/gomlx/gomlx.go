// Package gomlx implements inference.Backend on top of a GoMLX feed-forward network:
// the flattened canonical board tensor feeds a shared trunk, which fans out into a
// policy head (logits over the action space) and a value head (logits over the two
// players' win probability). It is grounded on the GoMLX model-construction pattern --
// context hyperparameters, a context.Exec per forward path, checkpoints.Handler for
// persistence.
package gomlx

import (
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/ml/layers/fnn"
	"github.com/gomlx/gomlx/ml/layers/regularizers"
	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/ml/train/optimizers/cosineschedule"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"sync"
)

// sharedBackend is the process-wide GoMLX compute backend (XLA/PJRT), lazily created
// once and reused by every Backend instance, matching the one-client-per-process
// convention the rest of the ecosystem follows.
var sharedBackend = sync.OnceValue(func() backends.Backend { return backends.New() })

// Backend is an inference.Backend backed by a trained (or freshly initialized) GoMLX
// network.
type Backend struct {
	c, h, w, numActions int

	ctx        *context.Context
	checkpoint *checkpoints.Handler
	forwardExec *context.Exec
	trainExec   *context.Exec

	mu sync.RWMutex // guards concurrent Forward calls against a concurrent Train
}

// New builds a Backend for boards shaped (c, h, w) with the given action-space size.
// If checkpointDir is non-empty, weights are loaded from it if present, and Save will
// persist back to it; an empty dir means an ephemeral, randomly initialized network.
func New(checkpointDir string, c, h, w, numActions int) (*Backend, error) {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		"batch_size": 256,

		optimizers.ParamOptimizer:       "adam",
		optimizers.ParamLearningRate:    0.001,
		optimizers.ParamAdamEpsilon:     1e-7,
		cosineschedule.ParamPeriodSteps: 0,
		activations.ParamActivation:     "relu",
		layers.ParamDropoutRate:         0.0,
		regularizers.ParamL2:            1e-5,

		fnn.ParamNumHiddenLayers: 3,
		fnn.ParamNumHiddenNodes:  256,
		fnn.ParamResidual:        true,
		fnn.ParamNormalization:   "layer",
	})
	ctx = ctx.Checked(false)

	b := &Backend{c: c, h: h, w: w, numActions: numActions, ctx: ctx}

	if checkpointDir != "" {
		var err error
		b.checkpoint, err = checkpoints.Build(ctx).Dir(checkpointDir).Immediate().Keep(10).Done()
		if err != nil {
			return nil, errors.WithMessagef(err, "gomlx: failed to build checkpoint at %q", checkpointDir)
		}
	}

	b.forwardExec = context.NewExec(sharedBackend(), ctx, b.forwardGraph)
	b.trainExec = context.NewExec(sharedBackend(), ctx, b.trainStepGraph)

	// Force variable creation (and checkpoint restore) deterministically, before any
	// concurrent Forward call races to do it lazily.
	warmup := make([]float32, c*h*w)
	if _, _, err := b.Forward(warmup, 1, c, h, w, numActions); err != nil {
		return nil, errors.WithMessage(err, "gomlx: failed to run warmup forward pass")
	}
	return b, nil
}

// trunk runs the shared feature-extraction tower over a [batch, c*h*w] input.
func (b *Backend) trunk(ctx *context.Context, flat *Node) *Node {
	return fnn.New(ctx.In("trunk"), flat, context.GetParamOr(ctx, fnn.ParamNumHiddenNodes, 256)).Done()
}

// forwardGraph computes log-softmax policy and value logits from a single flattened
// input tensor of shape [batch, c*h*w].
func (b *Backend) forwardGraph(ctx *context.Context, inputs []*Node) []*Node {
	flat := inputs[0]
	embed := b.trunk(ctx, flat)

	policyLogits := fnn.New(ctx.In("policy_head"), embed, b.numActions).NumHiddenLayers(0, 0).Done()
	policyLogProbs := LogSoftmax(policyLogits, -1)

	valueLogits := fnn.New(ctx.In("value_head"), embed, 2).NumHiddenLayers(0, 0).Done()
	valueLogProbs := LogSoftmax(valueLogits, -1)

	return []*Node{policyLogProbs, valueLogProbs}
}

// trainStepGraph runs one supervised-learning step against policy and value targets,
// minimizing cross-entropy against the MCTS visit-count distribution and the game
// outcome, matching AlphaZero's combined loss.
func (b *Backend) trainStepGraph(ctx *context.Context, inputs []*Node) *Node {
	flat, policyTargets, valueTargets := inputs[0], inputs[1], inputs[2]
	g := flat.Graph()
	ctx.SetTraining(g, true)

	embed := b.trunk(ctx, flat)
	policyLogits := fnn.New(ctx.In("policy_head"), embed, b.numActions).NumHiddenLayers(0, 0).Done()
	valueLogits := fnn.New(ctx.In("value_head"), embed, 2).NumHiddenLayers(0, 0).Done()

	policyLoss := ReduceAllMean(losses.CategoricalCrossEntropyLogits([]*Node{policyTargets}, []*Node{policyLogits}))
	valueLoss := ReduceAllMean(losses.CategoricalCrossEntropyLogits([]*Node{valueTargets}, []*Node{valueLogits}))
	loss := Add(policyLoss, valueLoss)

	optimizer := optimizers.FromContext(ctx)
	optimizer.UpdateGraph(ctx, g, loss)
	train.ExecPerStepUpdateGraphFn(ctx, g)
	return loss
}

// Forward implements inference.Backend.
func (b *Backend) Forward(inputsFlat []float32, n, c, h, w, numActions int) (policy, value []float32, err error) {
	if c != b.c || h != b.h || w != b.w || numActions != b.numActions {
		return nil, nil, errors.Errorf("gomlx: backend built for (%d,%d,%d,%d), got (%d,%d,%d,%d)",
			b.c, b.h, b.w, b.numActions, c, h, w, numActions)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	input := tensors.FromShape(shapes.Make(dtypes.Float32, n, c*h*w))
	tensors.MutableFlatData(input, func(flat []float32) { copy(flat, inputsFlat) })

	outputs := b.forwardExec.Call(input)
	policyT, valueT := outputs[0], outputs[1]
	return policyT.Value().([]float32), valueT.Value().([]float32), nil
}

// Train runs one optimizer step on a batch of (flattened) canonical boards against
// their policy-target distributions and value targets, and returns the combined loss.
func (b *Backend) Train(inputsFlat []float32, policyTargets []float32, valueTargets []float32, n int) (loss float32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	input := tensors.FromShape(shapes.Make(dtypes.Float32, n, b.c*b.h*b.w))
	tensors.MutableFlatData(input, func(flat []float32) { copy(flat, inputsFlat) })
	policy := tensors.FromShape(shapes.Make(dtypes.Float32, n, b.numActions))
	tensors.MutableFlatData(policy, func(flat []float32) { copy(flat, policyTargets) })
	value := tensors.FromShape(shapes.Make(dtypes.Float32, n, 2))
	tensors.MutableFlatData(value, func(flat []float32) { copy(flat, valueTargets) })

	lossT := b.trainExec.Call(input, policy, value)[0]
	return tensors.ToScalar[float32](lossT), nil
}

// Save persists the current weights to the backend's checkpoint directory. It is a
// no-op if the backend was built without one.
func (b *Backend) Save() error {
	if b.checkpoint == nil {
		klog.Warningf("gomlx: Save called on a backend with no checkpoint directory")
		return nil
	}
	return b.checkpoint.Save()
}

// String implements inference.Backend.
func (b *Backend) String() string {
	if b.checkpoint == nil {
		return "gomlx[ephemeral]"
	}
	return "gomlx@" + b.checkpoint.Dir()
}
