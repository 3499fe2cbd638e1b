// Package game defines the GameRules capability that the search engine treats as an
// external collaborator: board state, legal moves, canonical tensor encoding,
// terminal detection and data-augmentation symmetries. The engine never depends on a
// concrete game; it only depends on this interface.
package game

// Action indexes one of a game's fixed set of possible moves.
type Action int

// Pass is the sentinel action a GameRules implementation may accept even when it is
// not currently a legal move in Valids -- games without a pass move never produce it.
const Pass Action = -1

// Rules is the capability every concrete game must implement. Implementations are
// mutable: Move advances the receiver's own state, and Copy is how the engine obtains
// an independent branch to explore.
type Rules interface {
	// NumActions is the fixed size of the action space (the "A" dimension of the
	// policy head).
	NumActions() int

	// CanonicalShape returns the (channels, height, width) of the tensor Canonicalize
	// writes.
	CanonicalShape() (c, h, w int)

	// NumSymmetries is the number of data-augmentation views CreateSymmetryBoard and
	// friends can produce, including the identity view.
	NumSymmetries() int

	// Copy returns a deep, independent copy of the current state.
	Copy() Rules

	// CurrentPlayer returns 0 or 1.
	CurrentPlayer() int

	// Valids returns a bitmask, one entry per action, of the currently legal moves.
	Valids() []bool

	// Move applies action to the receiver. It panics if action is illegal and is not
	// Pass.
	Move(action Action)

	// Ended reports whether the game has reached a terminal state.
	Ended() bool

	// Winner returns the winning player (0 or 1). Only valid when Ended() is true; it
	// must not be called on a drawn game.
	Winner() int

	// Score returns the win probability for player 0: 1 if player 0 won, 0 if player
	// 1 won, 0.5 on a draw. Only valid when Ended() is true.
	Score() float32

	// Canonicalize writes a deterministic, side-to-move-normalised tensor view of the
	// current state into out, which must be sized CanonicalShape's C*H*W.
	Canonicalize(out []float32)

	// Hash returns a content hash of the state, or 0 if the game does not implement
	// one. The engine never relies on it for correctness -- it exists purely as a hook
	// for a future transposition table.
	Hash() uint64

	// ActionToString and StringToAction are diagnostics-only: used by the REPL and by
	// game-history files, never by the search core.
	ActionToString(a Action) string
	StringToAction(s string) (Action, error)

	// CreateSymmetryBoard, CreateSymmetryAction and CreateSymmetryValue write the
	// symIndex'th symmetric view (1 <= symIndex < NumSymmetries) of src into dst. They
	// must be bijections: applying them NumSymmetries times recovers the original.
	CreateSymmetryBoard(symIndex int, dst, src []float32)
	CreateSymmetryAction(symIndex int, dst, src []float32)
	CreateSymmetryValue(symIndex int, dst, src []float32)
}

// EndedScore reports whether g has reached a terminal state and, if so, the score
// (win probability for player 0) at that state. If ended is false, score must be
// ignored by the caller.
func EndedScore(g Rules) (ended bool, score float32) {
	if !g.Ended() {
		return false, 0
	}
	return true, g.Score()
}
