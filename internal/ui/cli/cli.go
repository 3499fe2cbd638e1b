// Package cli implements a command-line UI for the game: board rendering centered to
// the terminal width, a search diagnostics dump, and algebraic move-string parsing. It
// is grounded on the repository's own terminal UI, adapted from Hive's hexagonal board
// and placement/move grammar to Connect4's stack of square height layers and its single
// column+row move notation.
package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/avery-lin/puctzero/internal/game"
	"github.com/avery-lin/puctzero/internal/game/connect4"
	"github.com/avery-lin/puctzero/internal/search"
)

var ansiFilter = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// displayWidth of s removes its color/control sequences and returns the length of what
// is left.
func displayWidth(s string) int {
	return len(ansiFilter.ReplaceAllString(s, ""))
}

func printCentered(block string) {
	lines := strings.Split(block, "\n")
	terminalWidth, _, _ := term.GetSize(int(os.Stdout.Fd()))
	blockWidth := 0
	for _, line := range lines {
		if w := displayWidth(line); w > blockWidth {
			blockWidth = w
		}
	}
	indent := (terminalWidth - blockWidth) / 2
	if indent < 0 {
		indent = 0
	}
	for _, line := range lines {
		if len(line) == 0 {
			fmt.Println()
			continue
		}
		fmt.Printf("%s%s\n", strings.Repeat(" ", indent), line)
	}
}

var (
	// playerStyle renders each player's stones and name: red for player 0, yellow for
	// player 1, matching their usual discs on a physical Connect-4 board.
	playerStyle = [2]lipgloss.Style{
		lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	}
	winnerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("13")).
			Foreground(lipgloss.Color("0")).
			Padding(1, 2)

	actionParser = regexp.MustCompile(`^\s*(pass|[a-zA-Z]\d+)\s*$`)

	parsingErrorMsg = "failed to read command 3 times"
)

// UI drives an interactive terminal session against a connect4.Game: printing the
// board and available moves, reading the human's next move, and reporting the final
// result.
type UI struct {
	color, clearScreen bool
	reader             *bufio.Reader
}

// New creates a UI reading moves from stdin and writing to stdout.
func New(color, clearScreen bool) *UI {
	return &UI{color: color, clearScreen: clearScreen, reader: bufio.NewReader(os.Stdin)}
}

// RunNextMove prints the board, reads one move from the human, and applies it.
func (ui *UI) RunNextMove(g *connect4.Game) error {
	for {
		ui.Print(g)
		fmt.Println()
		action, err := ui.ReadCommand(g)
		if err != nil && err.Error() == parsingErrorMsg {
			continue
		}
		if err != nil {
			return err
		}
		g.Move(action)
		return nil
	}
}

// Run plays an interactive game to completion, printing the board after every move and
// reading the human's moves from stdin between them.
func (ui *UI) Run(g *connect4.Game) error {
	for !g.Ended() {
		if err := ui.RunNextMove(g); err != nil {
			return err
		}
	}
	ui.PrintWinner(g)
	return nil
}

// PrintWinner prints the final result of a finished game.
func (ui *UI) PrintWinner(g *connect4.Game) {
	fmt.Println()
	winner := g.Winner()
	msg := fmt.Sprintf("*** PLAYER %d WINS!! Congratulations! ***", winner)
	if ui.color {
		printCentered(winnerStyle.Render(msg))
	} else {
		printCentered(msg)
	}
	fmt.Println()
}

// ReadCommand reads and parses one move, retrying on malformed or illegal input, for at
// most three attempts in all.
func (ui *UI) ReadCommand(g *connect4.Game) (action game.Action, err error) {
	for numErrs := 0; numErrs < 3; numErrs++ {
		fmt.Print("    ")
		ui.PrintPlayer(g)
		fmt.Print(" action (e.g. 'c3', or 'pass') > ")

		var text string
		text, err = ui.reader.ReadString('\n')
		if err != nil {
			return
		}
		text = strings.ToLower(strings.TrimSpace(text))

		if !actionParser.MatchString(text) {
			fmt.Printf("    * Failed to parse your input %q, please try again.\n", text)
			continue
		}
		action, err = g.StringToAction(text)
		if err != nil {
			fmt.Printf("    * %s\n", err)
			continue
		}
		if !ui.isValid(g, action) {
			fmt.Printf("    * %q is not a valid move right now.\n", text)
			continue
		}
		err = nil
		return
	}
	err = errors.New(parsingErrorMsg)
	return
}

func (ui *UI) isValid(g *connect4.Game, action game.Action) bool {
	if action == game.Pass {
		return false // Connect4 never requires a pass; only parsed for symmetry with other games.
	}
	valids := g.Valids()
	return int(action) >= 0 && int(action) < len(valids) && valids[action]
}

// Print renders the board and the list of legal moves.
func (ui *UI) Print(g *connect4.Game) {
	if ui.clearScreen {
		fmt.Print("\033c")
	}
	fmt.Println()
	ui.PrintBoard(g)
	fmt.Println()
	if !g.Ended() {
		ui.printLegalMoves(g)
	}
}

// PrintPlayer prints "Player N", colored if enabled.
func (ui *UI) PrintPlayer(g *connect4.Game) {
	fmt.Print(ui.renderPlayer(g.CurrentPlayer(), fmt.Sprintf("Player %d", g.CurrentPlayer())))
}

// renderPlayer styles s in the given player's color, if coloring is enabled.
func (ui *UI) renderPlayer(player int, s string) string {
	if !ui.color {
		return s
	}
	return playerStyle[player].Render(s)
}

// PrintBoard renders every height layer of the board, lowest first, each as a grid of
// lettered columns over numbered rows, centered in the terminal.
func (ui *UI) PrintBoard(g *connect4.Game) {
	var w strings.Builder
	c, h, wDim := g.CanonicalShape()
	canonical := make([]float32, c*h*wDim)
	g.Canonicalize(canonical)

	for height := 0; height < connect4.Size; height++ {
		fmt.Fprintf(&w, "height %d\n", height)
		ui.printLayer(&w, canonical, h, wDim, height)
	}
	printCentered(w.String())
}

func (ui *UI) printLayer(w io.Writer, canonical []float32, h, wDim, height int) {
	at := func(row, col int) int { return (height*h+row)*wDim + col }

	fmt.Fprint(w, "  ")
	for x := 0; x < connect4.Size; x++ {
		fmt.Fprintf(w, "%c ", 'a'+x)
	}
	fmt.Fprintln(w)
	for y := connect4.Size - 1; y >= 0; y-- {
		fmt.Fprintf(w, "%d ", y+1)
		for x := 0; x < connect4.Size; x++ {
			switch {
			case canonical[at(x, y)] == 1:
				fmt.Fprint(w, ui.renderPlayer(0, "o")+" ")
			case canonical[at(x, y+connect4.Size)] == 1:
				fmt.Fprint(w, ui.renderPlayer(1, "o")+" ")
			default:
				fmt.Fprint(w, ". ")
			}
		}
		fmt.Fprintln(w)
	}
}

func (ui *UI) printLegalMoves(g *connect4.Game) {
	valids := g.Valids()
	var moves []string
	for action, ok := range valids {
		if ok {
			moves = append(moves, g.ActionToString(game.Action(action)))
		}
	}
	fmt.Print("- Available columns: [")
	fmt.Print(strings.Join(moves, ", "))
	fmt.Println("]")
}

// ShowActions prints the search engine's per-move visit-count breakdown for lane idx of
// ctx: the same diagnostic a "show actions" debug command would emit during self-play
// or interactive play.
func ShowActions(ctx *search.Context, idx int) {
	fmt.Println(ctx.ShowActions(idx))
}
