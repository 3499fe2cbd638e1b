package mcts

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/value"
)

func uniformPolicy(numActions int) []float32 {
	p := make([]float32, numActions)
	u := float32(1) / float32(numActions)
	for i := range p {
		p[i] = u
	}
	return p
}

// runPlayouts drives n playouts of a dummy, uniform-prior, coin-flip-value search,
// exercising the same FindLeaf/ProcessResult loop a real evaluator-backed
// SearchContext would drive.
func runPlayouts(t *testing.T, tree *Tree, g *connect4.Game, n int) {
	t.Helper()
	policy := uniformPolicy(connect4.NumActions)
	for i := 0; i < n; i++ {
		leaf, ok := tree.FindLeaf(g, true)
		if !ok {
			continue
		}
		tree.ProcessResult(leaf, policy, value.FromPlayer0(0.5))
	}
}

func TestRootVisitCountInvariant(t *testing.T) {
	g := connect4.New()
	rng := rand.New(rand.NewSource(1))
	tree := New(connect4.NumActions, rng)
	tree.InitRoot(g)
	require.False(t, func() bool { _, solved := tree.Solved(); return solved }())

	runPlayouts(t, tree, g, 200)

	var childSum int32
	for _, c := range tree.root.children {
		childSum += c.n
	}
	// The root's own visit count equals 1 (the expansion playout) plus every visit
	// that descended into a child.
	assert.Equal(t, tree.root.n, 1+childSum)
}

func TestQInUnitInterval(t *testing.T) {
	g := connect4.New()
	rng := rand.New(rand.NewSource(2))
	tree := New(connect4.NumActions, rng)
	tree.InitRoot(g)
	runPlayouts(t, tree, g, 100)

	for _, c := range tree.root.children {
		assert.GreaterOrEqual(t, c.q, float32(0))
		assert.LessOrEqual(t, c.q, float32(1))
	}
}

func TestRootPolicySumsToOne(t *testing.T) {
	g := connect4.New()
	rng := rand.New(rand.NewSource(3))
	tree := New(connect4.NumActions, rng)
	tree.InitRoot(g)
	runPlayouts(t, tree, g, 1)

	var sum float32
	for _, c := range tree.root.children {
		sum += c.policy
	}
	assert.InDelta(t, 1.0, sum, 1e-4)
}

func TestInitRootFindsImmediateWin(t *testing.T) {
	g := connect4.New()
	// Build three in a row for the side to move plus an open fourth cell. The extra
	// "e3" keeps turn parity so it is player 0 -- the owner of the three-in-a-row --
	// to move again afterwards.
	moves := []string{"a1", "e1", "b1", "e2", "c1", "e3"}
	for _, m := range moves {
		a, err := g.StringToAction(m)
		require.NoError(t, err)
		require.True(t, g.Valids()[a])
		g.Move(a)
	}
	require.False(t, g.Ended())

	rng := rand.New(rand.NewSource(4))
	tree := New(connect4.NumActions, rng)
	tree.InitRoot(g)

	move, solved := tree.Solved()
	require.True(t, solved, "a1,b1,c1 at height 0 plus a legal d1 must be a forced win")
	assert.Equal(t, "d1", g.ActionToString(move))
}

func TestSetProbsZeroTemperatureIsUniformOverTies(t *testing.T) {
	counts := []int32{5, 5, 3, 0}
	buf := make([]float32, len(counts))
	SetProbs(buf, counts, 0)
	assert.InDelta(t, 0.5, buf[0], 1e-6)
	assert.InDelta(t, 0.5, buf[1], 1e-6)
	assert.Equal(t, float32(0), buf[2])
	assert.Equal(t, float32(0), buf[3])
}

func TestSetProbsPositiveTemperatureNormalizes(t *testing.T) {
	counts := []int32{1, 3}
	buf := make([]float32, len(counts))
	SetProbs(buf, counts, 1.0)
	var sum float32
	for _, p := range buf {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, buf[1], buf[0])
}

func TestPickMoveRespectsDistribution(t *testing.T) {
	p := make([]float32, connect4.NumActions)
	p[7] = 1.0
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 10; i++ {
		assert.Equal(t, 7, int(PickMove(rng, p)))
	}
}

func TestPolicyPrunedCountsNeverExceedsRawCounts(t *testing.T) {
	g := connect4.New()
	rng := rand.New(rand.NewSource(6))
	tree := New(connect4.NumActions, rng)
	tree.InitRoot(g)
	runPlayouts(t, tree, g, 300)

	raw := tree.Counts()
	pruned := tree.PolicyPrunedCounts()
	for a := range raw {
		assert.LessOrEqual(t, pruned[a], raw[a])
	}
}
