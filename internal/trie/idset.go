package trie

import "slices"

// IDSet is a read-only view of a set of token ids.
//
// Sets returned by lookups alias trie storage; callers must not retain them
// across a rebuild, and there is no way to mutate them.
type IDSet struct {
	m map[int]struct{}
}

// Has reports whether id is in the set.
func (s IDSet) Has(id int) bool {
	_, ok := s.m[id]
	return ok
}

// Len returns the number of ids in the set.
func (s IDSet) Len() int {
	return len(s.m)
}

// Empty reports whether the set has no ids.
func (s IDSet) Empty() bool {
	return len(s.m) == 0
}

// IDs returns the ids in ascending order.
func (s IDSet) IDs() []int {
	ids := make([]int, 0, len(s.m))
	for id := range s.m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Union returns a new set holding the ids of both sets.
func (s IDSet) Union(other IDSet) IDSet {
	switch {
	case other.Empty():
		return s
	case s.Empty():
		return other
	}
	out := make(map[int]struct{}, len(s.m)+len(other.m))
	for id := range s.m {
		out[id] = struct{}{}
	}
	for id := range other.m {
		out[id] = struct{}{}
	}
	return IDSet{m: out}
}
