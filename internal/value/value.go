// Package value implements the two-player zero-sum scalar value used throughout the
// search: a win probability for player 0, from which player 1's value is derived.
package value

// Value holds the win probability for player 0 in a two-player zero-sum game.
//
// v and (1-v) must always sum to 1: Value never stores the two players' scores
// independently, since that would allow them to drift out of the zero-sum invariant.
type Value struct {
	v float32
}

// FromPlayer0 builds a Value directly from player 0's win probability.
func FromPlayer0(v float32) Value {
	return Value{v: v}
}

// FromPlayer builds a Value given player's win probability.
func FromPlayer(player int, v float32) Value {
	if player == 0 {
		return Value{v: v}
	}
	return Value{v: 1 - v}
}

// FromLogits builds a Value from the two (already exponentiated) value-head outputs,
// normalising them so they sum to one: v0/(v0+v1).
func FromLogits(v0, v1 float32) Value {
	return Value{v: v0 / (v0 + v1)}
}

// Get returns the win probability for the given player (0 or 1).
func (val Value) Get(player int) float32 {
	if player == 0 {
		return val.v
	}
	return 1 - val.v
}
