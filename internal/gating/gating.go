// Package gating implements the gating driver: a round-robin tournament between two
// InferenceBackend-backed players, alternating who moves first, tracking per-player
// and per-first-move scores, and declaring an early winner once one side reaches a
// majority of the scheduled rounds. It is grounded on the original gating binary's
// command-line tournament runner.
package gating

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/search"
)

// Config tunes a gating run.
type Config struct {
	Rounds      int
	Playouts    int
	MaxMoves    int
	Parallelism int
}

// Candidate is one side of the gate: a name (for reporting) and the evaluator it
// plays through.
type Candidate struct {
	Name string
	Eval *evaluator.Evaluator
}

// scoreTable accumulates wins and total score, indexed first by which candidate (0 or
// 1) and then by whether that candidate moved first (0) or second (1) in the round --
// matching the original's total_score[2][2]/total_count[2][2] tables, which exist to
// reveal whether a candidate's strength depends on move order.
type scoreTable struct {
	mu         sync.Mutex
	wins       [2]int
	totalScore [2][2]float64
	totalCount [2][2]int
}

// Result is the outcome of a full gating run.
type Result struct {
	Rounds      int
	Wins        [2]int
	FirstPlayScore, SecondPlayScore [2]float64
	FirstPlayCount, SecondPlayCount [2]int
	// Winner is the index (0 or 1) of the candidate that reached a majority, or -1 if
	// the configured rounds ran out without a majority.
	Winner int
}

// atLeastWin is the number of round-wins needed to end the gate early: a strict
// majority of the scheduled rounds.
func atLeastWin(rounds int) int { return rounds/2 + 1 }

// NewGameFunc constructs a fresh game position each round is played from.
type NewGameFunc func() game.Rules

// Run plays a round-robin gate between candidates[0] and candidates[1], alternating
// who moves first each round, and returns as soon as one side reaches a majority or
// the configured number of rounds is exhausted.
func Run(ctx context.Context, cfg Config, candidates [2]Candidate, newGame NewGameFunc, c, h, w, numActions int) (Result, error) {
	needed := atLeastWin(cfg.Rounds)
	var table scoreTable
	var roundsPlayed atomic.Int64
	stop := make(chan struct{})
	var stopOnce sync.Once

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}

	var wg errgroup.Group
	wg.SetLimit(parallelism)

	for round := 0; round < cfg.Rounds; round++ {
		round := round
		wg.Go(func() error {
			select {
			case <-stop:
				return nil
			case <-ctx.Done():
				return nil
			default:
			}

			firstIsA := round%2 == 0
			var order [2]int // order[0] moves first
			if firstIsA {
				order = [2]int{0, 1}
			} else {
				order = [2]int{1, 0}
			}

			score, err := playRound(ctx, cfg, candidates, order, newGame, c, h, w, numActions, round)
			if err != nil {
				return err
			}
			roundsPlayed.Add(1)

			table.mu.Lock()
			for slot, candidateIdx := range order {
				table.totalScore[candidateIdx][slot] += float64(score[slot])
				table.totalCount[candidateIdx][slot]++
			}
			if score[0] > score[1] {
				table.wins[order[0]]++
			} else if score[1] > score[0] {
				table.wins[order[1]]++
			}
			w0, w1 := table.wins[0], table.wins[1]
			table.mu.Unlock()

			if w0 >= needed || w1 >= needed {
				stopOnce.Do(func() { close(stop) })
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return Result{}, err
	}

	table.mu.Lock()
	defer table.mu.Unlock()
	res := Result{
		Rounds:          int(roundsPlayed.Load()),
		Wins:            table.wins,
		FirstPlayScore:  [2]float64{table.totalScore[0][0], table.totalScore[1][0]},
		SecondPlayScore: [2]float64{table.totalScore[0][1], table.totalScore[1][1]},
		FirstPlayCount:  [2]int{table.totalCount[0][0], table.totalCount[1][0]},
		SecondPlayCount: [2]int{table.totalCount[0][1], table.totalCount[1][1]},
		Winner:          -1,
	}
	if table.wins[0] >= needed {
		res.Winner = 0
	} else if table.wins[1] >= needed {
		res.Winner = 1
	}
	return res, nil
}

// playRound plays one game to completion between order[0] (moving first, as player 0)
// and order[1] (player 1), and returns the game's [player0, player1] score pair --
// i.e. result[slot] is order[slot]'s own score.
func playRound(ctx context.Context, cfg Config, candidates [2]Candidate, order [2]int, newGame NewGameFunc, c, h, w, numActions int, seed int) ([2]float32, error) {
	g := newGame()
	rng := rand.New(rand.NewSource(int64(seed)*7919 + 17))

	contexts := [2]*search.Context{
		search.New(candidates[order[0]].Eval, c, h, w, numActions),
		search.New(candidates[order[1]].Eval, c, h, w, numActions),
	}
	contexts[0].AddLane(g.Copy(), rng)
	contexts[1].AddLane(g.Copy(), rng)

	for move := 0; move < cfg.MaxMoves && !g.Ended(); move++ {
		if ctx.Err() != nil {
			break
		}
		mover := g.CurrentPlayer()
		sctx := contexts[mover]
		sctx.ResetLane(0, g.Copy())
		if err := sctx.Playouts(cfg.Playouts, true); err != nil {
			return [2]float32{}, err
		}
		action := sctx.BestMove(0)
		g.Move(action)
	}

	ended, score := game.EndedScore(g)
	if !ended {
		score = 0.5
	}
	return [2]float32{score, 1 - score}, nil
}

// FormatResults renders a gate Result in the TOML-shaped layout the original gating
// binary wrote, one [[model]] table per candidate.
func FormatResults(candidates [2]Candidate, res Result) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[[model]]\n")
		fmt.Fprintf(&b, "path = %q\n", c.Name)
		fmt.Fprintf(&b, "wins = %d\n", res.Wins[i])
		fmt.Fprintf(&b, "firstplay_count = %d\n", res.FirstPlayCount[i])
		fmt.Fprintf(&b, "firstplay_score = %f\n", res.FirstPlayScore[i])
		fmt.Fprintf(&b, "secondplay_count = %d\n", res.SecondPlayCount[i])
		fmt.Fprintf(&b, "secondplay_score = %f\n", res.SecondPlayScore[i])
		fmt.Fprintf(&b, "\n")
	}
	return b.String()
}

// BestModelName returns the winning candidate's name, for writing to the best-model
// file, or "" if the gate ended without a majority.
func BestModelName(candidates [2]Candidate, res Result) string {
	if res.Winner < 0 {
		return ""
	}
	name := candidates[res.Winner].Name
	klog.V(1).Infof("gating: %s won the gate (%d/%d rounds)", name, res.Wins[res.Winner], res.Rounds)
	return name
}
