package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/docstore/state"
)

func TestSetRemovesNulls(t *testing.T) {
	s := state.New().
		With("a", state.Int(1)).
		With("b", state.String("x")).
		With("c", state.Array{}).
		With("d", state.List{}).
		With("e", state.New())
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	s.Set("a", nil)
	_, ok := s.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())

	s.Set("b", state.String("y"))
	assert.Equal(t, state.String("y"), s.Get("b"))
	assert.Nil(t, s.Get("missing"))
}

func TestEqual(t *testing.T) {
	a := state.New().With("x", state.Int(1)).With("y", state.Strings("p", "q"))
	b := state.New().With("y", state.Strings("p", "q")).With("x", state.Int(1))
	assert.True(t, a.Equal(b))

	assert.False(t, state.Equal(state.Int(2), state.Float(2)))
	assert.False(t, state.Equal(state.Strings("p", "q"), state.Strings("q", "p")))
	assert.True(t, state.Equal(nil, state.Array{}))
	assert.True(t, state.Equal(state.List{}, state.New()))
	assert.False(t, state.Equal(state.Int(0), nil))
}

func TestClone(t *testing.T) {
	inner := state.New().With("n", state.Int(1))
	s := state.New().
		With("o", inner).
		With("a", state.Ints(1, 2)).
		With("l", state.List{state.New().With("k", state.String("v"))})
	c := s.Clone()
	require.True(t, s.Equal(c))

	inner.Set("n", state.Int(2))
	s.Get("a").(state.Array)[0] = state.Int(9)
	s.Get("l").(state.List)[0].Set("k", state.String("w"))

	assert.Equal(t, state.Int(1), c.Get("o").(*state.State).Get("n"))
	assert.Equal(t, state.Ints(1, 2), c.Get("a"))
	assert.Equal(t, state.String("v"), c.Get("l").(state.List)[0].Get("k"))

	var nilState *state.State
	assert.Nil(t, nilState.Clone())
}

func TestTimestamp(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 250*int(time.Millisecond), time.UTC)
	ts := state.TimestampOf(when)
	assert.Equal(t, state.Timestamp(when.UnixMilli()), ts)
	assert.True(t, when.Equal(ts.Time()))
}

func TestDiffSet(t *testing.T) {
	d := state.NewDiff().
		With("a", state.Int(1)).
		With("b", nil).
		With("c", state.Array{}).
		With("d", state.IntDelta(2))
	assert.Equal(t, []string{"a", "b", "c", "d"}, d.Keys())
	assert.True(t, state.IsUnset(d.Get("b")))
	assert.True(t, state.IsUnset(d.Get("c")))
	assert.True(t, state.IsNOP(d.Get("missing")))
	assert.Equal(t, state.Int(2), d.Get("d").(state.Delta).Value())

	d.Set("a", state.Int(5))
	assert.Equal(t, 4, d.Len())
	assert.Equal(t, state.Int(5), d.Get("a"))
}

func TestIsNOP(t *testing.T) {
	assert.True(t, state.IsNOP(nil))
	assert.True(t, state.IsNOP(state.NOP))
	assert.True(t, state.IsNOP(state.NewDiff()))
	assert.True(t, state.IsNOP(&state.ListDiff{Diff: []state.Update{nil, state.NOP, state.NewDiff()}}))
	assert.False(t, state.IsNOP(&state.ListDiff{RPush: []state.Value{state.Int(1)}}))
	assert.False(t, state.IsNOP(state.Unset))
	assert.False(t, state.IsNOP(state.Int(0)))
}

func TestApply(t *testing.T) {
	s := state.New().
		With("i", state.Int(1)).
		With("f", state.Float(1.5)).
		With("gone", state.String("x")).
		With("o", state.New().With("n", state.Int(1)).With("m", state.String("keep")))

	d := state.NewDiff().
		With("i", state.IntDelta(2)).
		With("f", state.IntDelta(1)).
		With("fresh", state.FloatDelta(0.5)).
		With("gone", state.Unset).
		With("o", state.NewDiff().With("n", state.IntDelta(-1))).
		With("same", state.NOP)

	got := state.Apply(s, d)
	want := state.New().
		With("i", state.Int(3)).
		With("f", state.Float(2.5)).
		With("o", state.New().With("m", state.String("keep")).With("n", state.Int(0))).
		With("fresh", state.Float(0.5))
	assert.True(t, want.Equal(got), "got %v", got)

	// the input is not modified
	assert.Equal(t, state.String("x"), s.Get("gone"))

	mixed := state.Apply(state.New().With("i", state.Int(1)), state.NewDiff().With("i", state.FloatDelta(0.5)))
	assert.Equal(t, state.Float(1.5), mixed.Get("i"))
}

func TestApplyList(t *testing.T) {
	s := state.New().
		With("tags", state.Strings("a", "b")).
		With("files", state.List{
			state.New().With("name", state.String("f1")),
			state.New().With("name", state.String("f2")),
		})

	d := state.NewDiff().
		With("tags", &state.ListDiff{
			Diff:  []state.Update{state.NOP, state.String("B")},
			RPush: []state.Value{state.String("c")},
		}).
		With("files", &state.ListDiff{
			Diff: []state.Update{
				state.NewDiff().With("size", state.Int(10)),
				state.New().With("name", state.String("g2")),
			},
			RPush: []state.Value{state.New().With("name", state.String("f3"))},
		}).
		With("nums", &state.ListDiff{RPush: []state.Value{state.Int(1), state.Int(2)}}).
		With("objs", &state.ListDiff{RPush: []state.Value{state.New().With("k", state.Int(1))}})

	got := state.Apply(s, d)
	assert.Equal(t, state.Strings("a", "B", "c"), got.Get("tags"))
	assert.Equal(t, state.Ints(1, 2), got.Get("nums"))
	assert.True(t, state.Equal(state.List{
		state.New().With("name", state.String("f1")).With("size", state.Int(10)),
		state.New().With("name", state.String("g2")),
		state.New().With("name", state.String("f3")),
	}, got.Get("files")))
	assert.True(t, state.Equal(state.List{state.New().With("k", state.Int(1))}, got.Get("objs")))
}
