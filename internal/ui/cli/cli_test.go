package cli

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avery-lin/puctzero/internal/evaluator"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/inference/dummy"
	"github.com/avery-lin/puctzero/internal/search"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	old := os.Stdout
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = old
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestReadCommandAcceptsValidMove(t *testing.T) {
	g := connect4.New()
	ui := New(false, false)
	ui.reader = bufio.NewReader(strings.NewReader("c1\n"))

	var action int
	out := captureStdout(t, func() {
		a, err := ui.ReadCommand(g)
		require.NoError(t, err)
		action = int(a)
	})
	_ = out

	valids := g.Valids()
	assert.True(t, valids[action])
}

func TestReadCommandRetriesOnGarbage(t *testing.T) {
	g := connect4.New()
	ui := New(false, false)
	ui.reader = bufio.NewReader(strings.NewReader("not-a-move\nc1\n"))

	captureStdout(t, func() {
		_, err := ui.ReadCommand(g)
		require.NoError(t, err)
	})
}

func TestReadCommandFailsAfterThreeBadLines(t *testing.T) {
	g := connect4.New()
	ui := New(false, false)
	ui.reader = bufio.NewReader(strings.NewReader("zz\nzz\nzz\n"))

	captureStdout(t, func() {
		_, err := ui.ReadCommand(g)
		require.Error(t, err)
		assert.Equal(t, parsingErrorMsg, err.Error())
	})
}

func TestReadCommandRejectsFullColumn(t *testing.T) {
	g := connect4.New()
	fullColumn, err := g.StringToAction("a1")
	require.NoError(t, err)
	for i := 0; i < connect4.Size; i++ {
		g.Move(fullColumn)
	}
	require.False(t, g.Valids()[fullColumn])

	ui := New(false, false)
	ui.reader = bufio.NewReader(strings.NewReader("a1\nc1\n"))
	captureStdout(t, func() {
		action, err := ui.ReadCommand(g)
		require.NoError(t, err)
		assert.NotEqual(t, fullColumn, action)
	})
}

func TestPrintBoardRendersEveryHeightLayer(t *testing.T) {
	g := connect4.New()
	ui := New(false, false)
	out := captureStdout(t, func() { ui.PrintBoard(g) })
	for h := 0; h < connect4.Size; h++ {
		assert.Contains(t, out, fmt.Sprintf("height %d", h))
	}
	assert.Contains(t, out, "o")
}

func TestShowActionsPrintsRootVisits(t *testing.T) {
	c, h, w := connect4.Size, connect4.Size+1, connect4.Size*2
	eval := evaluator.New(dummy.New(), c, h, w, connect4.NumActions)
	go eval.Run()
	defer eval.Close()

	ctx := search.New(eval, c, h, w, connect4.NumActions)
	ctx.AddLane(connect4.New(), rand.New(rand.NewSource(1)))
	require.NoError(t, ctx.Playouts(4, true))

	out := captureStdout(t, func() { ShowActions(ctx, 0) })
	assert.Contains(t, out, "root visits")
}
