// Command gate runs a round-robin tournament between two checkpoints (or a checkpoint
// against the dummy baseline) and reports which one gates through. It is grounded on
// the original compare binary's two-player match-runner flag surface.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/gating"
	"github.com/avery-lin/puctzero/internal/inference"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
	"github.com/avery-lin/puctzero/internal/inference/gomlx"
	"github.com/avery-lin/puctzero/internal/profilers"
	"github.com/avery-lin/puctzero/internal/ui/spinning"
)

var (
	flagCheckpointA = flag.String("a", "", "Checkpoint directory for candidate A. Empty uses the dummy baseline.")
	flagCheckpointB = flag.String("b", "", "Checkpoint directory for candidate B. Empty uses the dummy baseline.")
	flagRounds      = flag.Int("rounds", 41, "Number of rounds to play, alternating who moves first.")
	flagPlayouts    = flag.Int("playouts", 400, "Playouts per move.")
	flagMaxMoves    = flag.Int("max_moves", 200, "Moves before a round is called a draw.")
	flagParallelism = flag.Int("parallelism", 0, "Rounds played simultaneously. 0 or less plays one round at a time.")
	flagBestOutFile = flag.String("best_out", "", "If set, writes the winning candidate's name to this file.")
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

func run(ctx context.Context) error {
	c, h, w := connect4.New().CanonicalShape()

	backendA, err := makeBackend(*flagCheckpointA)
	if err != nil {
		return errors.WithMessage(err, "gate: candidate A")
	}
	backendB, err := makeBackend(*flagCheckpointB)
	if err != nil {
		return errors.WithMessage(err, "gate: candidate B")
	}

	evalA := evaluator.New(backendA, c, h, w, connect4.NumActions)
	evalB := evaluator.New(backendB, c, h, w, connect4.NumActions)
	go evalA.Run()
	go evalB.Run()
	defer evalA.Close()
	defer evalB.Close()

	candidates := [2]gating.Candidate{
		{Name: nameOf(*flagCheckpointA), Eval: evalA},
		{Name: nameOf(*flagCheckpointB), Eval: evalB},
	}
	cfg := gating.Config{
		Rounds:      *flagRounds,
		Playouts:    *flagPlayouts,
		MaxMoves:    *flagMaxMoves,
		Parallelism: *flagParallelism,
	}

	res, err := gating.Run(ctx, cfg, candidates, func() game.Rules { return connect4.New() }, c, h, w, connect4.NumActions)
	if err != nil {
		return errors.WithMessage(err, "gate: run failed")
	}

	klog.Info(gating.FormatResults(candidates, res))
	best := gating.BestModelName(candidates, res)
	if best == "" {
		klog.Infof("gate: no candidate reached a majority after %d rounds", res.Rounds)
		return nil
	}
	klog.Infof("gate: %s wins the gate", best)
	if *flagBestOutFile != "" {
		if err := os.WriteFile(*flagBestOutFile, []byte(best+"\n"), 0o644); err != nil {
			return errors.WithMessage(err, "gate: writing best-model file")
		}
	}
	return nil
}

func makeBackend(checkpointDir string) (inference.Backend, error) {
	if checkpointDir == "" {
		return dummy.New(), nil
	}
	c, h, w := connect4.New().CanonicalShape()
	return gomlx.New(checkpointDir, c, h, w, connect4.NumActions)
}

func nameOf(checkpointDir string) string {
	if checkpointDir == "" {
		return "dummy"
	}
	return checkpointDir
}
