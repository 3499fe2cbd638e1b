// Package connect4 implements a concrete game.Rules: a 5x5x5 three-dimensional
// four-in-a-row game ("3D Connect-4"), the demo GameRules the rest of this repository
// exercises the search engine against.
//
// It is a direct Go port of the game used to validate the original search
// implementation this engine is grounded on, including its forced two-ply opening and
// its (C, H, W) canonical tensor layout.
package connect4

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/avery-lin/puctzero/internal/game"
)

const (
	// Size is the board's side length in every dimension.
	Size = 5
	// Run is the number of same-player pieces in a line required to win.
	Run = 4
	// NumActions is Size*Size: one action per (x, y) column.
	NumActions = Size * Size
	// NumSymmetries is 2: the identity view and the left-right mirrored view.
	NumSymmetries = 2
)

// CanonicalShape is (Size, Size+1, Size*2): Size height layers, each a (Size+1) x
// (2*Size) plane holding the two players' occupancy side by side plus one row
// broadcasting the side-to-move bit.
var canonicalC, canonicalH, canonicalW = Size, Size + 1, Size * 2

// Game is a 3D Connect-4 position: a Size x Size x Size lattice of cells, each either
// empty or occupied by player 0 or player 1, filled bottom-up (gravity along the
// height axis) within each (x, y) column.
type Game struct {
	currentPlayer int
	round         int
	// piece[height][x][y][player] is 1 if that player occupies that cell.
	piece [Size][Size][Size][2]uint8
}

var _ game.Rules = (*Game)(nil)

// New creates a game already advanced through the standard forced two-ply opening
// (column "c3" for player 0, then "b2" for player 1), matching the literal
// "forced-opening" 5x5 Connect-4 scenario this engine's dummy-evaluator convergence
// test exercises.
func New() *Game {
	g := &Game{}
	a, err := g.StringToAction("c3")
	if err != nil {
		panic(err)
	}
	g.Move(a)
	a, err = g.StringToAction("b2")
	if err != nil {
		panic(err)
	}
	g.Move(a)
	return g
}

// NumActions implements game.Rules.
func (g *Game) NumActions() int { return NumActions }

// CanonicalShape implements game.Rules.
func (g *Game) CanonicalShape() (c, h, w int) { return canonicalC, canonicalH, canonicalW }

// NumSymmetries implements game.Rules.
func (g *Game) NumSymmetries() int { return NumSymmetries }

// Copy implements game.Rules.
func (g *Game) Copy() game.Rules {
	cp := *g
	return &cp
}

// CurrentPlayer implements game.Rules.
func (g *Game) CurrentPlayer() int { return g.currentPlayer }

// Valids implements game.Rules: a column (x, y) accepts a move while its top cell is
// empty.
func (g *Game) Valids() []bool {
	valids := make([]bool, NumActions)
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			top := g.piece[Size-1][x][y]
			if top[0] == 0 && top[1] == 0 {
				valids[x*Size+y] = true
			}
		}
	}
	return valids
}

// Move implements game.Rules: drops a piece into column (action/Size, action%Size) at
// the lowest free height.
func (g *Game) Move(action game.Action) {
	if action == game.Pass {
		g.currentPlayer = 1 - g.currentPlayer
		g.round++
		return
	}
	x := int(action) / Size
	y := int(action) % Size
	placed := false
	for height := 0; height < Size; height++ {
		cell := &g.piece[height][x][y]
		if cell[0] == 0 && cell[1] == 0 {
			cell[g.currentPlayer] = 1
			placed = true
			break
		}
	}
	if !placed {
		panic(fmt.Sprintf("connect4: illegal move %d, column (%d,%d) is full", action, x, y))
	}
	g.currentPlayer = 1 - g.currentPlayer
	g.round++
}

var directions = [][3]int{
	{1, 0, 0}, {0, 1, 0}, {0, 0, 1},
	{1, 1, 0}, {1, -1, 0},
	{1, 0, 1}, {1, 0, -1},
	{0, 1, 1}, {0, 1, -1},
	{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
}

// winner returns the winning player, or -1 if the game isn't decided yet. A fully
// filled board with no four-in-a-row is awarded to player 1, matching the original
// game's tie-break rule.
func (g *Game) winner() int {
	for _, d := range directions {
		dx, dy, dz := d[0], d[1], d[2]
		for i := 0; i < Size; i++ {
			if i+dx*(Run-1) < 0 || i+dx*(Run-1) >= Size {
				continue
			}
			for j := 0; j < Size; j++ {
				if j+dy*(Run-1) < 0 || j+dy*(Run-1) >= Size {
					continue
				}
				for k := 0; k < Size; k++ {
					if k+dz*(Run-1) < 0 || k+dz*(Run-1) >= Size {
						continue
					}
					var count [2]int
					for l := 0; l < Run; l++ {
						cell := g.piece[i+dx*l][j+dy*l][k+dz*l]
						count[0] += int(cell[0])
						count[1] += int(cell[1])
					}
					if count[0] == Run {
						return 0
					}
					if count[1] == Run {
						return 1
					}
				}
			}
		}
	}
	if g.round == Size*Size*Size {
		return 1
	}
	return -1
}

// Ended implements game.Rules.
func (g *Game) Ended() bool { return g.winner() != -1 }

// Winner implements game.Rules.
func (g *Game) Winner() int {
	w := g.winner()
	if w == -1 {
		panic("connect4: Winner called on a non-terminal game")
	}
	return w
}

// Score implements game.Rules: 1 if player 0 won, 0 if player 1 won.
func (g *Game) Score() float32 {
	switch g.Winner() {
	case 0:
		return 1
	default:
		return 0
	}
}

// Canonicalize implements game.Rules. The planes are not swapped for the side to move:
// player 0's occupancy always fills columns [0, Size) and player 1's [Size, 2*Size),
// and the side to move is given only by the broadcast row.
func (g *Game) Canonicalize(out []float32) {
	if len(out) != canonicalC*canonicalH*canonicalW {
		panic("connect4: Canonicalize buffer has the wrong size")
	}
	for idx := range out {
		out[idx] = 0
	}
	at := func(c, h, w int) int { return (c*canonicalH+h)*canonicalW + w }
	for height := 0; height < Size; height++ {
		for x := 0; x < Size; x++ {
			for y := 0; y < Size; y++ {
				cell := g.piece[height][x][y]
				if cell[0] == 1 {
					out[at(height, x, y)] = 1
				}
				if cell[1] == 1 {
					out[at(height, x, y+Size)] = 1
				}
			}
		}
	}
	// Broadcast the side-to-move bit across the extra row, for every height layer.
	for height := 0; height < Size; height++ {
		for w := 0; w < canonicalW; w++ {
			out[at(height, Size, w)] = float32(g.currentPlayer)
		}
	}
}

// ActionToString implements game.Rules, using algebraic column notation: a letter for
// x, a digit for y.
func (g *Game) ActionToString(a game.Action) string {
	if a == game.Pass {
		return "pass"
	}
	x := int(a) / Size
	y := int(a) % Size
	return fmt.Sprintf("%c%c", 'a'+byte(x), '1'+byte(y))
}

// StringToAction implements game.Rules.
func (g *Game) StringToAction(s string) (game.Action, error) {
	if s == "pass" {
		return game.Pass, nil
	}
	if len(s) != 2 {
		return 0, errors.Errorf("connect4: invalid action string %q", s)
	}
	x := int(s[0] - 'a')
	y := int(s[1] - '1')
	if x < 0 || x >= Size || y < 0 || y >= Size {
		return 0, errors.Errorf("connect4: action string %q out of range", s)
	}
	return game.Action(x*Size + y), nil
}

// Hash implements game.Rules. Not implemented: transposition is out of scope (see
// SPEC_FULL.md section 5).
func (g *Game) Hash() uint64 { return 0 }

// CreateSymmetryBoard implements game.Rules: mirrors the board left-right (flips the
// x/column axis of each height layer, for both players' planes).
func (g *Game) CreateSymmetryBoard(symIndex int, dst, src []float32) {
	if symIndex != 1 {
		panic("connect4: only symmetry index 1 is implemented")
	}
	if len(dst) != len(src) {
		panic("connect4: CreateSymmetryBoard buffer size mismatch")
	}
	at := func(c, h, w int) int { return (c*canonicalH+h)*canonicalW + w }
	for height := 0; height < Size; height++ {
		for x := 0; x < Size; x++ {
			mirroredX := Size - 1 - x
			for y := 0; y < Size; y++ {
				dst[at(height, mirroredX, y)] = src[at(height, x, y)]
				dst[at(height, mirroredX, y+Size)] = src[at(height, x, y+Size)]
			}
		}
		for w := 0; w < canonicalW; w++ {
			dst[at(height, Size, w)] = src[at(height, Size, w)]
		}
	}
}

// CreateSymmetryAction implements game.Rules: mirrors the column index of an
// argmax-style one-hot policy vector left-right.
func (g *Game) CreateSymmetryAction(symIndex int, dst, src []float32) {
	if symIndex != 1 {
		panic("connect4: only symmetry index 1 is implemented")
	}
	if len(dst) != len(src) {
		panic("connect4: CreateSymmetryAction buffer size mismatch")
	}
	for x := 0; x < Size; x++ {
		mirroredX := Size - 1 - x
		for y := 0; y < Size; y++ {
			dst[mirroredX*Size+y] = src[x*Size+y]
		}
	}
}

// CreateSymmetryValue implements game.Rules: the value target is orientation
// independent, so it is just copied.
func (g *Game) CreateSymmetryValue(symIndex int, dst, src []float32) {
	if symIndex != 1 {
		panic("connect4: only symmetry index 1 is implemented")
	}
	copy(dst, src)
}
