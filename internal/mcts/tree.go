package mcts

import (
	"math"
	"math/rand"

	"github.com/chewxy/math32"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/value"
)

// Tree is one PUCT search tree rooted at a single game position. It is not safe for
// concurrent use; a SearchContext owns one Tree per lockstep lane.
type Tree struct {
	root *Node

	cpuct           float32
	fpuReduction    float32
	rootPolicyTemp  float32
	rootNoiseEps    float32
	numActions      int
	rng             *rand.Rand

	// rootPrunedValids, set by InitRoot's tactical pre-solve, restricts the root's
	// first expansion to non-immediately-losing moves. Nil if no pruning applied.
	rootPrunedValids []bool
	// solvedMove is set instead of rootPrunedValids when InitRoot finds an immediate
	// winning move: the tree need not be searched at all.
	solvedMove *game.Action

	path []*Node // reusable descent-path scratch buffer
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithCPuct overrides DefaultCPuct.
func WithCPuct(c float32) Option { return func(t *Tree) { t.cpuct = c } }

// WithFPUReduction overrides DefaultFPUReduction.
func WithFPUReduction(f float32) Option { return func(t *Tree) { t.fpuReduction = f } }

// WithRootPolicyTemp overrides DefaultRootPolicyTemp.
func WithRootPolicyTemp(tmp float32) Option { return func(t *Tree) { t.rootPolicyTemp = tmp } }

// WithRootNoiseEpsilon overrides DefaultRootNoiseEpsilon.
func WithRootNoiseEpsilon(eps float32) Option { return func(t *Tree) { t.rootNoiseEps = eps } }

// New creates a Tree for a game with the given action-space size, seeded from rng (the
// caller owns reproducibility).
func New(numActions int, rng *rand.Rand, opts ...Option) *Tree {
	t := &Tree{
		cpuct:          DefaultCPuct,
		fpuReduction:   DefaultFPUReduction,
		rootPolicyTemp: DefaultRootPolicyTemp,
		rootNoiseEps:   DefaultRootNoiseEpsilon,
		numActions:     numActions,
		rng:            rng,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InitRoot resets the tree to search from g's position, running a cheap two-ply
// tactical pre-solve first: if g's mover has an immediate winning move, the tree is
// marked solved and no statistical search is needed; otherwise moves that hand the
// opponent an immediate winning reply are pruned from the root's expansion, unless
// every legal move does.
func (t *Tree) InitRoot(g game.Rules) {
	t.solvedMove = nil
	t.rootPrunedValids = nil
	rootPlayer := g.CurrentPlayer()
	t.root = &Node{player: rootPlayer}

	valids := g.Valids()
	losing := make([]bool, len(valids))
	anySafe := false
	for a, ok := range valids {
		if !ok {
			continue
		}
		afterMove := g.Copy()
		afterMove.Move(game.Action(a))
		if afterMove.Ended() {
			if afterMove.Winner() == rootPlayer {
				solved := game.Action(a)
				t.solvedMove = &solved
				return
			}
			losing[a] = true
			continue
		}
		opponentCanWin := false
		for b, ok2 := range afterMove.Valids() {
			if !ok2 {
				continue
			}
			reply := afterMove.Copy()
			reply.Move(game.Action(b))
			if reply.Ended() && reply.Winner() != rootPlayer {
				opponentCanWin = true
				break
			}
		}
		if opponentCanWin {
			losing[a] = true
		} else {
			anySafe = true
		}
	}
	if anySafe {
		pruned := make([]bool, len(valids))
		copy(pruned, valids)
		for a, isLosing := range losing {
			if isLosing {
				pruned[a] = false
			}
		}
		t.rootPrunedValids = pruned
	}
}

// Solved reports the tactically pre-solved winning move found by InitRoot, if any.
func (t *Tree) Solved() (game.Action, bool) {
	if t.solvedMove == nil {
		return game.Pass, false
	}
	return *t.solvedMove, true
}

// RootVisits returns the root's total visit count.
func (t *Tree) RootVisits() int32 { return t.root.n }

// FindLeaf descends from the root by repeated PUCT selection, applying each chosen
// move to a copy of g, until it reaches an unexpanded node. If that node is terminal,
// the result is backed up immediately and ok is false -- the caller has nothing to
// evaluate. Otherwise ok is true and leaf is the position the caller must run through
// the InferenceBackend and feed to ProcessResult.
func (t *Tree) FindLeaf(g game.Rules, allowForcePlayout bool) (leaf game.Rules, ok bool) {
	leaf = g.Copy()
	t.path = append(t.path[:0], t.root)
	node := t.root

	for node.children != nil {
		if node.ended {
			t.backup(value.FromPlayer0(node.score))
			return nil, false
		}
		cpuct, fpuReduction := t.cpuct, t.fpuReduction
		if node == t.root {
			fpuReduction /= 2
		}
		// A node whose own backed-up value is poor gets a further halved FPU
		// reduction, so its unvisited children aren't buried under an
		// already-pessimistic baseline.
		if node.v < 0.2 {
			fpuReduction /= 2
		}
		child := node.bestChild(cpuct, fpuReduction, allowForcePlayout)
		leaf.Move(child.move)
		node = child
		t.path = append(t.path, node)
	}

	if ended, score := game.EndedScore(leaf); ended {
		node.ended = true
		node.score = score
		t.backup(value.FromPlayer0(score))
		return nil, false
	}
	return leaf, true
}

// ProcessResult expands the most recently returned leaf with the InferenceBackend's
// policy and value output, and backs the value up the descent path. policy must be
// length numActions and already exponentiated out of log-space. When the expanded node
// is the root, the policy is additionally raised to 1/rootPolicyTemp (which flattens it
// for the default temperature above 1) and mixed with Dirichlet exploration noise.
func (t *Tree) ProcessResult(leaf game.Rules, policy []float32, v value.Value) {
	node := t.path[len(t.path)-1]
	valids := leaf.Valids()
	if node == t.root && t.rootPrunedValids != nil {
		valids = t.rootPrunedValids
	}

	masked := make([]float32, len(policy))
	var sum float32
	for a, isValid := range valids {
		if isValid {
			masked[a] = policy[a]
			sum += policy[a]
		}
	}
	if sum <= 0 {
		// Degenerate network output: fall back to uniform over legal moves.
		count := 0
		for _, ok := range valids {
			if ok {
				count++
			}
		}
		if count == 0 {
			klog.Warningf("mcts: ProcessResult on a position with no legal moves")
			count = 1
		}
		for a, isValid := range valids {
			if isValid {
				masked[a] = 1
			}
		}
		sum = float32(count)
	}
	for a := range masked {
		masked[a] /= sum
	}

	if node == t.root {
		t.sharpenRootPolicy(masked, valids)
		t.addRootNoise(masked, valids)
	}

	node.addChildren(valids, masked, leaf.CurrentPlayer(), t.rng)
	node.v = v.Get(leaf.CurrentPlayer())
	t.backup(v)
}

func (t *Tree) sharpenRootPolicy(policy []float32, valids []bool) {
	if t.rootPolicyTemp == 1 {
		return
	}
	invTemp := 1 / t.rootPolicyTemp
	var sum float32
	for a, isValid := range valids {
		if !isValid {
			continue
		}
		policy[a] = math32.Pow(policy[a], invTemp)
		sum += policy[a]
	}
	if sum <= 0 {
		return
	}
	for a := range policy {
		policy[a] /= sum
	}
}

func (t *Tree) addRootNoise(policy []float32, valids []bool) {
	if t.rootNoiseEps <= 0 {
		return
	}
	alpha := NoiseAlphaRatio / float64(t.numActions)
	noise := make([]float32, len(policy))
	var sum float32
	for a, isValid := range valids {
		if !isValid {
			continue
		}
		noise[a] = sampleGamma(t.rng, alpha)
		sum += noise[a]
	}
	if sum <= 0 {
		return
	}
	for a, isValid := range valids {
		if !isValid {
			continue
		}
		policy[a] = (1-t.rootNoiseEps)*policy[a] + t.rootNoiseEps*noise[a]/sum
	}
}

// sampleGamma draws from a Gamma(alpha, 1) distribution, normalized afterwards across
// actions to realize a Dirichlet(alpha) sample -- the standard construction for root
// exploration noise.
func sampleGamma(rng *rand.Rand, alpha float64) float32 {
	if alpha < 1 {
		// Boost-by-one-and-correct trick (Marsaglia-Tsang), avoids the
		// degenerate case alpha<1 breaks the main loop's acceptance step.
		u := rng.Float64()
		return float32(sampleGammaGE1(rng, alpha+1) * math.Pow(u, 1/alpha))
	}
	return float32(sampleGammaGE1(rng, alpha))
}

func sampleGammaGE1(rng *rand.Rand, alpha float64) float64 {
	d := alpha - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func (t *Tree) backup(v value.Value) {
	for i := len(t.path) - 1; i >= 0; i-- {
		t.path[i].update(v)
	}
}

// Counts returns the root's per-action visit counts (0 for actions that aren't legal
// root children).
func (t *Tree) Counts() []int32 {
	counts := make([]int32, t.numActions)
	for _, c := range t.root.children {
		counts[c.move] = c.n
	}
	return counts
}

// PolicyPrunedCounts returns a lower-bound-adjusted version of Counts: a child whose
// visit count cannot possibly catch up to the best child's UCT score under the
// remaining budget is reported as having received 0 visits, sharpening the training
// target onto moves that genuinely competed for selection.
func (t *Tree) PolicyPrunedCounts() []int32 {
	counts := t.Counts()
	if len(t.root.children) < 2 {
		return counts
	}
	var best *Node
	for _, c := range t.root.children {
		if best == nil || c.n > best.n {
			best = c
		}
	}
	bestScore := best.uct(t.root.n, t.cpuct, t.root.q-t.fpuReduction)
	for _, c := range t.root.children {
		if c == best || c.n == 0 {
			continue
		}
		denom := bestScore - c.q
		if denom <= 0 {
			continue
		}
		bound := math32.Ceil(t.cpuct * c.policy * math32.Sqrt(float32(t.root.n)) / denom)
		if bound <= 1 {
			counts[c.move] = 0
		} else if int32(bound) < c.n {
			counts[c.move] = int32(bound)
		}
	}
	return counts
}

// SetProbs writes the move-selection distribution derived from counts into buf (which
// must be length numActions), at the given temperature. A temperature below 1e-7 is
// treated as zero: probability mass is split uniformly across the tied best moves. A
// nil or all-zero counts slice (e.g. a solved root) is not valid input.
func SetProbs(buf []float32, counts []int32, temp float32) {
	for i := range buf {
		buf[i] = 0
	}
	if temp < 1e-7 {
		var best int32 = -1
		for _, c := range counts {
			if c > best {
				best = c
			}
		}
		if best <= 0 {
			return
		}
		n := 0
		for _, c := range counts {
			if c == best {
				n++
			}
		}
		p := float32(1) / float32(n)
		for a, c := range counts {
			if c == best {
				buf[a] = p
			}
		}
		return
	}

	invTemp := 1 / temp
	var sum float32
	for a, c := range counts {
		if c <= 0 {
			continue
		}
		p := math32.Pow(float32(c), invTemp)
		buf[a] = p
		sum += p
	}
	if sum <= 0 {
		return
	}
	for a := range buf {
		buf[a] /= sum
	}
}

// PickMove samples an action from a probability distribution (such as one written by
// SetProbs) using inverse-CDF sampling. If rounding error leaves probabilities that
// sum to less than 1, any draw landing past the end falls back to the best-probability
// action.
func PickMove(rng *rand.Rand, p []float32) game.Action {
	r := rng.Float32()
	var cum float32
	best := -1
	var bestP float32
	for a, pa := range p {
		if pa > bestP {
			bestP = pa
			best = a
		}
		cum += pa
		if r < cum {
			return game.Action(a)
		}
	}
	if best < 0 {
		klog.Warningf("mcts: PickMove called with an all-zero distribution")
		return game.Pass
	}
	return game.Action(best)
}
