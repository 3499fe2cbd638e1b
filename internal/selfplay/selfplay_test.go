package selfplay

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avery-lin/puctzero/internal/dataset"
	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
)

func TestRunPlaysGamesAndWritesDataset(t *testing.T) {
	c, h, w := connect4.Size, connect4.Size+1, connect4.Size*2
	eval := evaluator.New(dummy.New(), c, h, w, connect4.NumActions)
	go eval.Run()
	defer eval.Close()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.PlayoutNum = 8
	cfg.PlayoutCapNum = 4
	cfg.WorkerThreads = 2
	cfg.MaxMoves = 10
	cfg.FlushEveryGames = 2
	cfg.OutputDir = dir

	driver, err := New(cfg, eval, func() game.Rules { return connect4.New() })
	require.NoError(t, err)

	completed, err := driver.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, completed)

	gamesPlayed, examplesWritten := driver.Stats()
	assert.Equal(t, int64(2), gamesPlayed)
	assert.Greater(t, examplesWritten, int64(0))

	path := fmt.Sprintf("%s/c_0000_%d.bin", dir, examplesWritten)
	data, shape, err := dataset.ReadTensorFile(path)
	require.NoError(t, err)
	assert.Equal(t, shape[0], int(examplesWritten))
	assert.NotEmpty(t, data)
}
