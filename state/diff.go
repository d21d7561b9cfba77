package state

// Update is one entry of a StateDiff or ListDiff. Every Value is an Update
// meaning "set"; the other implementations are NOP, Unset, Delta, *StateDiff
// and *ListDiff.
type Update interface {
	update()
}

func (Bool) update()      {}
func (Int) update()       {}
func (Float) update()     {}
func (Timestamp) update() {}
func (String) update()    {}
func (Array) update()     {}
func (List) update()      {}
func (*State) update()    {}

type nop struct{}
type unset struct{}

func (nop) update()   {}
func (unset) update() {}

var (
	// NOP leaves a value unchanged.
	NOP Update = nop{}
	// Unset removes a value.
	Unset Update = unset{}
)

// Delta is a signed numeric increment applied to the stored value.
type Delta struct {
	n Value
}

func (Delta) update() {}

// IntDelta returns an integer increment.
func IntDelta(n int64) Delta {
	return Delta{n: Int(n)}
}

// FloatDelta returns a floating point increment.
func FloatDelta(f float64) Delta {
	return Delta{n: Float(f)}
}

// Value returns the increment as an Int or a Float.
func (d Delta) Value() Value {
	if d.n == nil {
		return Int(0)
	}
	return d.n
}

// StateDiff describes changes to the keys of a State.
type StateDiff struct {
	keys []string
	m    map[string]Update
}

// NewDiff returns an empty StateDiff.
func NewDiff() *StateDiff {
	return &StateDiff{m: make(map[string]Update)}
}

// Set records u for key. A nil Update, or a Value that is null, means Unset.
func (d *StateDiff) Set(key string, u Update) {
	if u == nil {
		u = Unset
	} else if v, ok := u.(Value); ok && IsNull(v) {
		u = Unset
	}
	if d.m == nil {
		d.m = make(map[string]Update)
	}
	if _, ok := d.m[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.m[key] = u
}

// With is Set returning the receiver.
func (d *StateDiff) With(key string, u Update) *StateDiff {
	d.Set(key, u)
	return d
}

// Get returns the update for key, or NOP when the key is not part of the diff.
func (d *StateDiff) Get(key string) Update {
	if d == nil {
		return NOP
	}
	if u, ok := d.m[key]; ok {
		return u
	}
	return NOP
}

// Keys returns the keys in insertion order.
func (d *StateDiff) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

// Len returns the number of entries.
func (d *StateDiff) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (*StateDiff) update() {}

// ListDiff describes changes to a list: positional updates followed by
// values appended at the tail.
type ListDiff struct {
	// Diff holds one entry per existing position. Entries are a Value, a
	// *StateDiff or NOP; nil is NOP.
	Diff []Update
	// RPush holds values appended after the positional updates.
	RPush []Value
}

func (*ListDiff) update() {}

// IsNOP reports whether u leaves its target unchanged.
func IsNOP(u Update) bool {
	switch x := u.(type) {
	case nil, nop:
		return true
	case *StateDiff:
		return x.Len() == 0
	case *ListDiff:
		if len(x.RPush) > 0 {
			return false
		}
		for _, e := range x.Diff {
			if !IsNOP(e) {
				return false
			}
		}
		return true
	}
	return false
}

// IsUnset reports whether u removes its target.
func IsUnset(u Update) bool {
	_, ok := u.(unset)
	return ok
}

// Apply applies d to s in memory and returns the result. It mirrors what the
// compiled update statements do on the backend.
func Apply(s *State, d *StateDiff) *State {
	out := s.Clone()
	if out == nil {
		out = New()
	}
	for _, k := range d.Keys() {
		out.Set(k, applyUpdate(out.Get(k), d.Get(k)))
	}
	return out
}

func applyUpdate(cur Value, u Update) Value {
	switch x := u.(type) {
	case nil, nop:
		return cur
	case unset:
		return nil
	case Delta:
		return addDelta(cur, x)
	case *StateDiff:
		sub, _ := cur.(*State)
		return Apply(sub, x)
	case *ListDiff:
		return applyList(cur, x)
	case Value:
		return x
	}
	return cur
}

func addDelta(cur Value, d Delta) Value {
	switch c := cur.(type) {
	case Int:
		if n, ok := d.Value().(Int); ok {
			return c + n
		}
		return Float(float64(c) + float64(d.Value().(Float)))
	case Float:
		switch n := d.Value().(type) {
		case Int:
			return c + Float(n)
		case Float:
			return c + n
		}
	case nil:
		return d.Value()
	}
	return cur
}

func applyList(cur Value, d *ListDiff) Value {
	switch c := cur.(type) {
	case Array:
		out := append(Array(nil), c...)
		for i, e := range d.Diff {
			if v, ok := e.(Value); ok && i < len(out) {
				out[i] = v
			}
		}
		return append(out, d.RPush...)
	case nil, List:
		l, _ := c.(List)
		out := make(List, len(l))
		for i, e := range l {
			out[i] = e.Clone()
		}
		for i, e := range d.Diff {
			if i >= len(out) {
				break
			}
			switch x := e.(type) {
			case *StateDiff:
				out[i] = Apply(out[i], x)
			case *State:
				out[i] = x.Clone()
			}
		}
		if len(out) == 0 && len(d.RPush) > 0 {
			if _, ok := d.RPush[0].(*State); !ok {
				return append(Array(nil), d.RPush...)
			}
		}
		for _, v := range d.RPush {
			if st, ok := v.(*State); ok {
				out = append(out, st.Clone())
			}
		}
		return out
	}
	return cur
}
