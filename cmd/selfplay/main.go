// Command selfplay runs self-play games against a single evaluator, writing recorded
// (canonical tensor, policy target, value target) examples to a dataset directory. It
// is grounded on the original a0trainer binary's flag surface and Ctrl+C handling,
// simplified to a single self-play-and-flush pass rather than an interleaved
// train-and-gate loop.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
	"github.com/avery-lin/puctzero/internal/inference/gomlx"
	"github.com/avery-lin/puctzero/internal/profilers"
	"github.com/avery-lin/puctzero/internal/selfplay"
	"github.com/avery-lin/puctzero/internal/ui/spinning"
)

var (
	flagNumGames      = flag.Int("num_games", 1000, "Number of self-play games to run.")
	flagOutputDir     = flag.String("output_dir", "data/selfplay", "Directory to write recorded example batches to.")
	flagCheckpointDir = flag.String("checkpoint_dir", "", "Checkpoint directory for the evaluating network. "+
		"If empty, a fixed uniform-policy dummy backend is used instead of a trained network.")

	flagPlayoutNum        = flag.Int("playout_num", 0, "Playouts per fully-recorded move. 0 keeps the default.")
	flagPlayoutCapNum     = flag.Int("playout_cap_num", 0, "Playouts per cheap exploration move. 0 keeps the default.")
	flagWorkerThreads     = flag.Int("workers", 0, "Number of games played simultaneously. 0 keeps the default.")
	flagMaxMoves          = flag.Int("max_moves", 0, "Moves before a game is called a draw. 0 keeps the default.")
	flagFlushEveryGames   = flag.Int("flush_every_games", 0, "Completed games between dataset flushes. 0 keeps the default.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	spinning.SafeInterrupt(cancel, 5*time.Second)
	defer cancel()

	profilers.Setup(ctx)
	defer profilers.OnQuit()

	must.M(run(ctx))
}

func newGame() game.Rules { return connect4.New() }

func run(ctx context.Context) error {
	backend, err := makeBackend()
	if err != nil {
		return err
	}
	klog.V(1).Infof("selfplay: evaluating with backend %s", backend)

	c, h, w := connect4.New().CanonicalShape()
	eval := evaluator.New(backend, c, h, w, connect4.NumActions)
	go eval.Run()
	defer eval.Close()

	cfg := selfplay.DefaultConfig()
	cfg.OutputDir = *flagOutputDir
	if *flagPlayoutNum > 0 {
		cfg.PlayoutNum = *flagPlayoutNum
	}
	if *flagPlayoutCapNum > 0 {
		cfg.PlayoutCapNum = *flagPlayoutCapNum
	}
	if *flagWorkerThreads > 0 {
		cfg.WorkerThreads = *flagWorkerThreads
	}
	if *flagMaxMoves > 0 {
		cfg.MaxMoves = *flagMaxMoves
	}
	if *flagFlushEveryGames > 0 {
		cfg.FlushEveryGames = *flagFlushEveryGames
	}

	driver, err := selfplay.New(cfg, eval, newGame)
	if err != nil {
		return errors.WithMessage(err, "selfplay: failed to create driver")
	}

	completed, err := driver.Run(ctx, *flagNumGames)
	if err != nil {
		return errors.WithMessage(err, "selfplay: run failed")
	}
	gamesPlayed, examplesWritten := driver.Stats()
	klog.Infof("selfplay: completed %d/%d games, %d played total, %d examples written",
		completed, *flagNumGames, gamesPlayed, examplesWritten)
	return nil
}

func makeBackend() (inference.Backend, error) {
	if *flagCheckpointDir == "" {
		return dummy.New(), nil
	}
	c, h, w := connect4.New().CanonicalShape()
	return gomlx.New(*flagCheckpointDir, c, h, w, connect4.NumActions)
}
