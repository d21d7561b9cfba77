package state

// State is a document or nested sub-document: an ordered map from key to
// Value. Absent keys are null. Insertion order is kept for readability only.
type State struct {
	keys []string
	m    map[string]Value
}

// New returns an empty State.
func New() *State {
	return &State{m: make(map[string]Value)}
}

func (*State) Kind() Kind { return KindState }
func (*State) value()     {}

// Len returns the number of non-null keys.
func (s *State) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in insertion order.
func (s *State) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Get returns the value for key, or nil when absent.
func (s *State) Get(key string) Value {
	if s == nil {
		return nil
	}
	return s.m[key]
}

// Lookup returns the value for key and whether it is present.
func (s *State) Lookup(key string) (Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.m[key]
	return v, ok
}

// Set stores v under key. A nil value or an empty container removes the key.
func (s *State) Set(key string, v Value) {
	if IsNull(v) {
		s.Delete(key)
		return
	}
	if s.m == nil {
		s.m = make(map[string]Value)
	}
	if _, ok := s.m[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.m[key] = v
}

// With is Set returning the receiver, for building literals.
func (s *State) With(key string, v Value) *State {
	s.Set(key, v)
	return s
}

// Delete removes key.
func (s *State) Delete(key string) {
	if s == nil {
		return
	}
	if _, ok := s.m[key]; !ok {
		return
	}
	delete(s.m, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Equal reports whether s and o hold the same keys and values.
func (s *State) Equal(o *State) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, k := range s.Keys() {
		w, ok := o.Lookup(k)
		if !ok || !Equal(s.Get(k), w) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := &State{keys: append([]string(nil), s.keys...), m: make(map[string]Value, len(s.m))}
	for k, v := range s.m {
		c.m[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v Value) Value {
	switch x := v.(type) {
	case Array:
		return append(Array(nil), x...)
	case List:
		l := make(List, len(x))
		for i, e := range x {
			l[i] = e.Clone()
		}
		return l
	case *State:
		return x.Clone()
	default:
		return v
	}
}
