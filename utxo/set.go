package utxo

import "sort"

// Set is the wallet's view of its unspent outputs, keyed by the canonical
// outpoint key. The set holds at most one entry per outpoint; entries are
// removed exactly when the outpoint is spent and never re-added for the same
// spend.
type Set map[string]*Output

// NewSet returns an empty set.
func NewSet() Set {
	return make(Set)
}

// Add inserts the output, overwriting any existing entry for the same
// outpoint.
func (s Set) Add(o *Output) {
	s[o.OutPoint.Key()] = o
}

// Remove deletes the entry for the given outpoint, if present.
func (s Set) Remove(op OutPoint) {
	delete(s, op.Key())
}

// Lookup returns the entry for the given outpoint.
func (s Set) Lookup(op OutPoint) (*Output, bool) {
	o, ok := s[op.Key()]
	return o, ok
}

// Contains reports whether the outpoint is tracked.
func (s Set) Contains(op OutPoint) bool {
	_, ok := s[op.Key()]
	return ok
}

// Outputs returns all entries ordered by outpoint key, so callers iterating
// the set observe a stable order.
func (s Set) Outputs() []*Output {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	outs := make([]*Output, 0, len(keys))
	for _, key := range keys {
		outs = append(outs, s[key])
	}

	return outs
}

// Clone returns a shallow copy of the set. The Output values themselves are
// shared.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for key, o := range s {
		c[key] = o
	}

	return c
}
