// Package selfplay implements the self-play driver: a pool of worker goroutines, each
// playing games to completion against its own evaluator-backed search, recording
// (canonical tensor, policy target, value target) examples for training and
// periodically flushing them, augmented with every symmetry the game exposes, to the
// dataset directory. It is grounded on the original's per-thread self-play worker loop
// and the repository's own errgroup-based bounded-parallelism match runner.
package selfplay

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/dataset"
	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/mcts"
	"github.com/avery-lin/puctzero/internal/search"
)

// Config holds every self-play tuning knob, defaulted to the original prototype's
// values.
type Config struct {
	// PlayoutNum is the number of playouts spent on a fully-recorded move.
	PlayoutNum int
	// PlayoutCapNum is the (cheaper) number of playouts spent on an unrecorded,
	// exploration-only move.
	PlayoutCapNum int
	// PlayoutCapPercent is the probability that a given move is the cheap,
	// unrecorded kind rather than the full, recorded kind.
	PlayoutCapPercent float32

	TemperatureStart  float32
	TemperatureEnd    float32
	TemperatureLambda float32

	// WorkerThreads is the number of games played simultaneously.
	WorkerThreads int
	// MaxMoves bounds a single game's length before it's called a draw, guarding
	// against runaway non-terminating play.
	MaxMoves int

	OutputDir string
	// FlushEveryGames writes accumulated examples to disk after this many completed
	// games, rather than holding the whole run in memory or writing one tiny file
	// per game.
	FlushEveryGames int
}

// DefaultConfig returns the tuning the original self-play binary shipped with.
func DefaultConfig() Config {
	return Config{
		PlayoutNum:        1200,
		PlayoutCapNum:     150,
		PlayoutCapPercent: 0.75,
		TemperatureStart:  1.0,
		TemperatureEnd:    0.2,
		TemperatureLambda: -0.01,
		WorkerThreads:     32,
		MaxMoves:          200,
		FlushEveryGames:   20,
	}
}

// NewGameFunc constructs a fresh game position to start a self-play game from.
type NewGameFunc func() game.Rules

// Driver runs self-play games against eval and writes recorded examples to disk.
type Driver struct {
	cfg        Config
	eval       *evaluator.Evaluator
	newGame    NewGameFunc
	c, h, w    int
	numActions int
	numSym     int

	mu           sync.Mutex
	pending      pendingBatch
	nextDatasetIdx int

	gamesPlayed atomic.Int64
	examplesOut atomic.Int64
}

type pendingBatch struct {
	canonical []float32
	policy    []float32
	value     []float32
	n         int
}

// New creates a Driver against a sample game (used only to read its fixed shape and
// symmetry count).
func New(cfg Config, eval *evaluator.Evaluator, newGame NewGameFunc) (*Driver, error) {
	sample := newGame()
	c, h, w := sample.CanonicalShape()

	next, err := dataset.NextIndex(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	return &Driver{
		cfg: cfg, eval: eval, newGame: newGame,
		c: c, h: h, w: w,
		numActions:     sample.NumActions(),
		numSym:         sample.NumSymmetries(),
		nextDatasetIdx: next,
	}, nil
}

// temperature returns the move-sampling temperature for the given 0-indexed turn,
// decaying exponentially from TemperatureStart towards TemperatureEnd.
func (cfg Config) temperature(turn int) float32 {
	decay := math32.Exp(cfg.TemperatureLambda * float32(turn))
	return decay*(cfg.TemperatureStart-cfg.TemperatureEnd) + cfg.TemperatureEnd
}

type recordedPly struct {
	canonical []float32
	policy    []float32
}

// Run plays numGames self-play games spread across cfg.WorkerThreads workers, blocking
// until they all complete or ctx is cancelled. It returns the number of games actually
// completed.
func (d *Driver) Run(ctx context.Context, numGames int) (int, error) {
	workers := d.cfg.WorkerThreads
	if workers <= 0 {
		workers = 1
	}

	var wg errgroup.Group
	wg.SetLimit(workers)

	var completed atomic.Int64
	for g := 0; g < numGames; g++ {
		gameIdx := g
		wg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			plies, outcome, err := d.playOneGame(ctx, gameIdx)
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil // interrupted mid-game: not a completed game
			}
			d.gamesPlayed.Add(1)
			if err := d.recordGame(plies, outcome); err != nil {
				return err
			}
			n := completed.Add(1)
			if n%int64(d.cfg.FlushEveryGames) == 0 {
				if err := d.flush(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return int(completed.Load()), err
	}
	if err := d.flush(); err != nil {
		return int(completed.Load()), err
	}
	return int(completed.Load()), nil
}

// playOneGame plays a single game to completion and returns every recorded ply's
// canonical/policy pair plus the final [player0, player1] outcome.
func (d *Driver) playOneGame(ctx context.Context, gameIdx int) ([]recordedPly, [2]float32, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(gameIdx)*9973))
	g := d.newGame()

	sctx := search.New(d.eval, d.c, d.h, d.w, d.numActions)
	sctx.AddLane(g.Copy(), rng)

	var recorded []recordedPly
	for turn := 0; turn < d.cfg.MaxMoves; turn++ {
		if ctx.Err() != nil {
			return nil, [2]float32{}, nil
		}
		if g.Ended() {
			break
		}

		capped := rng.Float32() < d.cfg.PlayoutCapPercent
		playouts := d.cfg.PlayoutNum
		noiseEps := float32(mcts.DefaultRootNoiseEpsilon)
		if capped {
			playouts = d.cfg.PlayoutCapNum
			// Cheap exploration moves skip root noise: they're not recorded, so
			// there's no policy target for noise to diversify.
			noiseEps = 0
		}
		sctx.Lane(0).Tree = mcts.New(d.numActions, rng, mcts.WithRootNoiseEpsilon(noiseEps))
		sctx.Lane(0).Tree.InitRoot(g)
		if err := sctx.Playouts(playouts, true); err != nil {
			return nil, [2]float32{}, errors.WithMessagef(err, "selfplay: game %d turn %d", gameIdx, turn)
		}

		temp := d.cfg.temperature(turn)
		move := sctx.SelectMove(0, temp)

		if !capped {
			canonical := make([]float32, d.c*d.h*d.w)
			g.Canonicalize(canonical)
			policy := make([]float32, d.numActions)
			sctx.PolicyTarget(0, policy)
			recorded = append(recorded, recordedPly{canonical: canonical, policy: policy})
		}

		g.Move(move)
	}

	ended, score := game.EndedScore(g)
	if !ended {
		score = 0.5 // MaxMoves reached without a decision: scored as a draw.
	}
	return recorded, [2]float32{score, 1 - score}, nil
}

// recordGame appends every recorded ply of a finished game, augmented by each of the
// game's symmetries, to the pending in-memory batch.
func (d *Driver) recordGame(plies []recordedPly, outcome [2]float32) error {
	if len(plies) == 0 {
		return nil
	}
	sample := d.newGame()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range plies {
		d.pending.canonical = append(d.pending.canonical, p.canonical...)
		d.pending.policy = append(d.pending.policy, p.policy...)
		d.pending.value = append(d.pending.value, outcome[0], outcome[1])
		d.pending.n++

		for sym := 1; sym < d.numSym; sym++ {
			symCanonical := make([]float32, len(p.canonical))
			sample.CreateSymmetryBoard(sym, symCanonical, p.canonical)
			symPolicy := make([]float32, len(p.policy))
			sample.CreateSymmetryAction(sym, symPolicy, p.policy)
			symValue := make([]float32, 2)
			sample.CreateSymmetryValue(sym, symValue, outcome[:])

			d.pending.canonical = append(d.pending.canonical, symCanonical...)
			d.pending.policy = append(d.pending.policy, symPolicy...)
			d.pending.value = append(d.pending.value, symValue...)
			d.pending.n++
		}
	}
	return nil
}

// flush writes the pending in-memory batch to disk under the next dataset index and
// clears it. It is a no-op if nothing is pending.
func (d *Driver) flush() error {
	d.mu.Lock()
	batch := d.pending
	d.pending = pendingBatch{}
	idx := d.nextDatasetIdx
	if batch.n > 0 {
		d.nextDatasetIdx++
	}
	d.mu.Unlock()

	if batch.n == 0 {
		return nil
	}

	err := dataset.Write(d.cfg.OutputDir, idx, dataset.Batch{
		Canonical:  batch.canonical,
		Policy:     batch.policy,
		Value:      batch.value,
		N:          batch.n,
		C:          d.c,
		H:          d.h,
		W:          d.w,
		NumActions: d.numActions,
	})
	if err != nil {
		return errors.WithMessagef(err, "selfplay: flushing dataset index %d", idx)
	}
	d.examplesOut.Add(int64(batch.n))
	klog.V(1).Infof("selfplay: wrote dataset %04d with %d examples", idx, batch.n)
	return nil
}

// Stats reports cumulative progress.
func (d *Driver) Stats() (gamesPlayed, examplesWritten int64) {
	return d.gamesPlayed.Load(), d.examplesOut.Load()
}
