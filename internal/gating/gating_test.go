package gating

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
)

func TestRunDeclaresAWinnerOrExhaustsRounds(t *testing.T) {
	c, h, w := connect4.Size, connect4.Size+1, connect4.Size*2
	evalA := evaluator.New(dummy.New(), c, h, w, connect4.NumActions)
	evalB := evaluator.New(dummy.New(), c, h, w, connect4.NumActions)
	go evalA.Run()
	go evalB.Run()
	defer evalA.Close()
	defer evalB.Close()

	candidates := [2]Candidate{{Name: "a.ckpt", Eval: evalA}, {Name: "b.ckpt", Eval: evalB}}
	cfg := Config{Rounds: 5, Playouts: 4, MaxMoves: 6, Parallelism: 2}

	res, err := Run(context.Background(), cfg, candidates, func() game.Rules { return connect4.New() }, c, h, w, connect4.NumActions)
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Rounds, cfg.Rounds)
	assert.Equal(t, res.Rounds, res.Wins[0]+res.Wins[1]+(res.Rounds-res.Wins[0]-res.Wins[1]))

	report := FormatResults(candidates, res)
	assert.Contains(t, report, "[[model]]")
	assert.Contains(t, report, "a.ckpt")
	assert.Contains(t, report, "b.ckpt")
}

func TestBestModelNameEmptyWithoutMajority(t *testing.T) {
	candidates := [2]Candidate{{Name: "a.ckpt"}, {Name: "b.ckpt"}}
	res := Result{Winner: -1}
	assert.Equal(t, "", BestModelName(candidates, res))

	res.Winner = 1
	assert.Equal(t, "b.ckpt", BestModelName(candidates, res))
}
