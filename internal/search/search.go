// Package search implements SearchContext: one or more PUCT search trees advanced in
// lockstep, one playout per lane per Step call, so that every lane's leaf lands in the
// same batched evaluator call. A single lane is an ordinary sequential MCTS search; a
// caller wanting higher GPU utilization can run several games simultaneously as
// additional lanes. This engine's self-play, gating and play drivers each use one lane
// per Context and share the evaluator across goroutines instead. It is
// grounded on the original prototype's speculative multi-tree stepping, translated
// from an atomic go/done handoff between threads into a single-goroutine merged batch
// call -- the lockstep synchronization the original achieved via
// std::atomic<bool>::wait/notify falls out for free from calling EvaluateN once per
// Step.
package search

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/mcts"
	"github.com/avery-lin/puctzero/internal/value"
)

// Lane is one independently searched game, sharing the Context's evaluator with every
// other lane.
type Lane struct {
	Game game.Rules
	Tree *mcts.Tree

	rng         *rand.Rand // the rng also given to Tree; kept here for post-search move sampling
	pendingLeaf game.Rules // set by Step when this lane needed an evaluation this round
}

// Context owns a fixed evaluator and a set of lanes stepped together.
type Context struct {
	eval                *evaluator.Evaluator
	c, h, w, numActions int
	lanes               []*Lane
}

// New creates a Context against eval for games with the given canonical shape and
// action-space size. Lanes are added with AddLane.
func New(eval *evaluator.Evaluator, c, h, w, numActions int) *Context {
	return &Context{eval: eval, c: c, h: h, w: w, numActions: numActions}
}

// AddLane adds a new lane searching from g, with its own PUCT tree, and returns its
// index.
func (ctx *Context) AddLane(g game.Rules, rng *rand.Rand, opts ...mcts.Option) int {
	lane := &Lane{Game: g, Tree: mcts.New(ctx.numActions, rng, opts...), rng: rng}
	lane.Tree.InitRoot(g)
	ctx.lanes = append(ctx.lanes, lane)
	return len(ctx.lanes) - 1
}

// NumLanes returns the number of lanes in the context.
func (ctx *Context) NumLanes() int { return len(ctx.lanes) }

// Lane returns the i'th lane.
func (ctx *Context) Lane(i int) *Lane { return ctx.lanes[i] }

// ResetLane re-roots lane i onto a fresh game, for example after a move has been
// committed or after a finished game is replaced by a new one.
func (ctx *Context) ResetLane(i int, g game.Rules) {
	ctx.lanes[i].Game = g
	ctx.lanes[i].Tree.InitRoot(g)
}

// Step advances every lane by exactly one playout: each lane descends its own tree to
// a leaf, and every lane needing a network evaluation this round is merged into a
// single EvaluateN call. Lanes whose root was already tactically solved by InitRoot,
// or whose descent ended on a terminal node, contribute nothing to the
// batch and are simply skipped this round.
func (ctx *Context) Step(allowForcePlayout bool) error {
	type pending struct {
		laneIdx int
		leaf    game.Rules
	}
	var batch []pending

	for i, lane := range ctx.lanes {
		lane.pendingLeaf = nil
		if _, solved := lane.Tree.Solved(); solved {
			continue
		}
		leaf, ok := lane.Tree.FindLeaf(lane.Game, allowForcePlayout)
		if !ok {
			continue // terminal node along the path, already backed up internally
		}
		lane.pendingLeaf = leaf
		batch = append(batch, pending{laneIdx: i, leaf: leaf})
	}
	if len(batch) == 0 {
		return nil
	}

	inputs := make([][]float32, len(batch))
	for i, p := range batch {
		buf := make([]float32, ctx.c*ctx.h*ctx.w)
		p.leaf.Canonicalize(buf)
		inputs[i] = buf
	}

	policies, values, err := ctx.eval.EvaluateN(inputs)
	if err != nil {
		return errors.WithMessage(err, "search: batched evaluation failed")
	}

	for i, p := range batch {
		v := value.FromLogits(values[i][0], values[i][1])
		ctx.lanes[p.laneIdx].Tree.ProcessResult(p.leaf, policies[i], v)
	}
	return nil
}

// Playouts runs n Step calls, growing every lane's root visit count by up to n (lanes
// with a tactically solved root are unaffected).
func (ctx *Context) Playouts(n int, allowForcePlayout bool) error {
	for i := 0; i < n; i++ {
		if err := ctx.Step(allowForcePlayout); err != nil {
			return err
		}
	}
	return nil
}

// BestMove returns lane i's highest-visit-count root move (or its tactically solved
// move, if any), without randomness -- this is the move a competitive player commits
// to.
func (ctx *Context) BestMove(i int) game.Action {
	lane := ctx.lanes[i]
	if move, solved := lane.Tree.Solved(); solved {
		return move
	}
	counts := lane.Tree.Counts()
	best := -1
	var bestN int32 = -1
	for a, n := range counts {
		if n > bestN {
			bestN = n
			best = a
		}
	}
	return game.Action(best)
}

// SelectMove samples lane i's next move from its visit-count distribution at the given
// temperature, after policy-target pruning. A tactically solved root always returns
// its solved move regardless of temperature.
func (ctx *Context) SelectMove(i int, temp float32) game.Action {
	lane := ctx.lanes[i]
	if move, solved := lane.Tree.Solved(); solved {
		return move
	}
	probs := make([]float32, ctx.numActions)
	mcts.SetProbs(probs, lane.Tree.PolicyPrunedCounts(), temp)
	return mcts.PickMove(laneRNG(lane), probs)
}

// PolicyTarget writes lane i's training policy target (the pruned, unpruned-by-temperature
// visit-count distribution used as the network's policy label) into buf, which must
// have length numActions.
func (ctx *Context) PolicyTarget(i int, buf []float32) {
	lane := ctx.lanes[i]
	if move, solved := lane.Tree.Solved(); solved {
		for a := range buf {
			buf[a] = 0
		}
		buf[move] = 1
		return
	}
	mcts.SetProbs(buf, lane.Tree.PolicyPrunedCounts(), 1.0)
}

// ShowActions renders a human-readable breakdown of lane i's root children, sorted by
// visit count, for diagnostics and the CLI's show_actions command.
func (ctx *Context) ShowActions(i int) string {
	lane := ctx.lanes[i]
	if move, solved := lane.Tree.Solved(); solved {
		return fmt.Sprintf("tactically solved: %s wins", lane.Game.ActionToString(move))
	}
	counts := lane.Tree.Counts()
	type row struct {
		action game.Action
		n      int32
	}
	var rows []row
	for a, n := range counts {
		if n > 0 {
			rows = append(rows, row{game.Action(a), n})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].n > rows[j].n })

	var b strings.Builder
	fmt.Fprintf(&b, "root visits: %d\n", lane.Tree.RootVisits())
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-6s n=%-6d\n", lane.Game.ActionToString(r.action), r.n)
	}
	return b.String()
}

// laneRNG recovers a *rand.Rand for move sampling. Trees don't expose their rng
// (child shuffling and noise sampling are internal), so lanes keep a reference to the
// same rng for post-search sampling decisions like SelectMove.
func laneRNG(lane *Lane) *rand.Rand {
	return lane.rng
}
