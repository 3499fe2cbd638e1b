// Package mcts implements the PUCT search tree: node expansion, selection with
// first-play urgency and force-playout exploration, backup, and policy/visit-count
// target extraction for training. It is grounded on the original AlphaZero-style prototype
// this engine replaces, generalized from its fixed game to the game.Rules interface.
package mcts

import (
	"math/rand"

	"github.com/chewxy/math32"

	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/value"
)

// Tuning constants carried over unchanged from the prototype this search is grounded
// on.
const (
	// DefaultCPuct is the exploration constant in the PUCT formula.
	DefaultCPuct = 3.0
	// DefaultFPUReduction is how much a node's first-play urgency is reduced below its
	// parent's value estimate, damping over-exploration of completely unvisited
	// children.
	DefaultFPUReduction = 0.25
	// NoiseAlphaRatio sets the Dirichlet noise concentration at root: alpha =
	// NoiseAlphaRatio / numActions.
	NoiseAlphaRatio = 10.83
	// DefaultRootNoiseEpsilon is the weight given to Dirichlet noise when mixed into
	// the root policy.
	DefaultRootNoiseEpsilon = 0.25
	// DefaultRootPolicyTemp flattens (>1) or sharpens (<1) the root policy before
	// search, applied as pow(p, 1/DefaultRootPolicyTemp).
	DefaultRootPolicyTemp = 1.4
)

// Node is one position in the search tree: an edge from its parent (the move that
// reached it) together with the statistics accumulated by every playout that passed
// through it.
type Node struct {
	move   game.Action
	player int // player who chose this node's edge (the player to move at its parent); at the root, the player to move there

	policy float32 // prior probability of this edge, from the parent's policy head
	n      int32   // visit count
	q      float32 // mean value, from the perspective of player
	v      float32 // evaluation at expansion time, from the perspective of the player to move at this node (the perspective of its children's q)

	ended bool    // true if the state this node represents is terminal
	score float32 // terminal score (player-0 win probability), only valid if ended

	children []*Node
}

// uct scores a child for selection under the PUCT formula, given the parent's total
// visit count and the search's exploration constant. fpu is the value to use if the
// child has never been visited (first-play urgency).
func (c *Node) uct(parentN int32, cpuct, fpu float32) float32 {
	q := fpu
	if c.n > 0 {
		q = c.q
	}
	u := cpuct * c.policy * math32.Sqrt(float32(parentN)) / float32(1+c.n)
	return q + u
}

// forcePlayoutThreshold implements the force-playout rule: a child with few visits
// relative to its prior and the parent's total visits is force-selected regardless of
// its current value estimate, so that promising-but-unlucky moves aren't abandoned too
// early. It returns true if c must be force-selected.
func (c *Node) forcePlayoutThreshold(parentN int32) bool {
	if c.n == 0 || c.policy <= 0 {
		return false
	}
	threshold := math32.Sqrt(2 * c.policy * float32(parentN-c.n))
	return float32(c.n) < threshold
}

// addChildren expands a leaf, creating one child per legal action with the given
// policy priors (already masked and renormalized over legal moves), in a randomly
// shuffled order so ties in UCT are broken without a directional bias. nextPlayer is
// the player to move at n, the one choosing among these actions; every child records
// it as its player, so each child's q is from the chooser's perspective.
func (n *Node) addChildren(valids []bool, policy []float32, nextPlayer int, rng *rand.Rand) {
	order := make([]int, 0, len(valids))
	for a, ok := range valids {
		if ok {
			order = append(order, a)
		}
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	n.children = make([]*Node, len(order))
	for i, a := range order {
		n.children[i] = &Node{
			move:   game.Action(a),
			player: nextPlayer,
			policy: policy[a],
		}
	}
}

// bestChild selects the child to descend into: any child currently below its
// force-playout threshold is preferred (ties broken by first found after shuffling);
// otherwise the child with the highest UCT score wins.
func (n *Node) bestChild(cpuct, fpuReduction float32, allowForcePlayout bool) *Node {
	if allowForcePlayout {
		for _, c := range n.children {
			if c.forcePlayoutThreshold(n.n) {
				return c
			}
		}
	}
	var seenPolicy float32
	for _, c := range n.children {
		if c.n > 0 {
			seenPolicy += c.policy
		}
	}
	fpu := n.v - fpuReduction*math32.Sqrt(seenPolicy)
	var best *Node
	var bestScore float32
	for _, c := range n.children {
		score := c.uct(n.n, cpuct, fpu)
		if best == nil || score > bestScore {
			best = c
			bestScore = score
		}
	}
	return best
}

// update backs up a simulation result into this node's running mean, from this node's
// own perspective (player).
func (n *Node) update(v value.Value) {
	n.n++
	result := v.Get(n.player)
	n.q += (result - n.q) / float32(n.n)
}
