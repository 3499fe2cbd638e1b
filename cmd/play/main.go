// Command play runs an interactive terminal session against the search engine, backed
// by either a trained checkpoint or the dummy baseline. It is grounded on the original
// hive binary's interactive-session flag surface.
package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
	"github.com/avery-lin/puctzero/internal/inference/gomlx"
	"github.com/avery-lin/puctzero/internal/profilers"
	"github.com/avery-lin/puctzero/internal/search"
	"github.com/avery-lin/puctzero/internal/ui/cli"
	"github.com/avery-lin/puctzero/internal/ui/spinning"
)

var (
	flagCheckpointDir = flag.String("checkpoint_dir", "", "Checkpoint directory for the opposing network. "+
		"If empty, the dummy baseline is used.")
	flagPlayouts   = flag.Int("playouts", 800, "Playouts per engine move.")
	flagColor      = flag.Bool("color", true, "Colorize the board.")
	flagClear      = flag.Bool("clear_screen", false, "Clear the screen before each board print.")
	flagHumanFirst = flag.Bool("human_first", true, "Whether the human plays player 0.")
	flagShowStats  = flag.Bool("show_stats", false, "Print the engine's root visit-count breakdown before it moves.")
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
	backend, err := makeBackend()
	if err != nil {
		return err
	}

	c, h, w := connect4.New().CanonicalShape()
	eval := evaluator.New(backend, c, h, w, connect4.NumActions)
	go eval.Run()
	defer eval.Close()

	g := connect4.New()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sctx := search.New(eval, c, h, w, connect4.NumActions)
	sctx.AddLane(g.Copy(), rng)

	ui := cli.New(*flagColor, *flagClear)
	humanPlayer := 0
	if !*flagHumanFirst {
		humanPlayer = 1
	}

	for !g.Ended() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if g.CurrentPlayer() == humanPlayer {
			if err := ui.RunNextMove(g); err != nil {
				return errors.WithMessage(err, "play: reading human move")
			}
		} else {
			ui.Print(g)
			sctx.ResetLane(0, g.Copy())
			if err := sctx.Playouts(*flagPlayouts, true); err != nil {
				return errors.WithMessage(err, "play: engine search failed")
			}
			if *flagShowStats {
				cli.ShowActions(sctx, 0)
			}
			move := sctx.BestMove(0)
			klog.Infof("play: engine plays %s", g.ActionToString(move))
			g.Move(move)
		}
	}
	ui.PrintWinner(g)
	return nil
}

func makeBackend() (inference.Backend, error) {
	if *flagCheckpointDir == "" {
		return dummy.New(), nil
	}
	c, h, w := connect4.New().CanonicalShape()
	return gomlx.New(*flagCheckpointDir, c, h, w, connect4.NumActions)
}
