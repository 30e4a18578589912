// Package primer has primers, primer pairs and the ordered collections the design loop builds.
package primer

import (
	"fmt"
	"strings"
)

// Primer is a single oligo picked by primer3
type Primer struct {
	// Seq of the primer (In 5' to 3' direction)
	Seq string `json:"seq" yaml:"seq"`

	// GC percentage
	GC float64 `json:"gc" yaml:"gc"`

	// Tm of the primer
	Tm float64 `json:"tm,omitempty" yaml:"tm,omitempty"`

	// Penalty score from primer3
	Penalty float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// Pair is a forward and reverse primer. Two pairs are equal if they
// have the same sequences in either orientation
type Pair struct {
	Forward Primer `json:"forward" yaml:"forward"`
	Reverse Primer `json:"reverse" yaml:"reverse"`

	// Penalty of the pair from primer3
	Penalty float64 `json:"penalty,omitempty" yaml:"penalty,omitempty"`
}

// Key identifies the pair independent of its orientation: the two
// upper-cased sequences in sorted order, joined by "|"
func (p Pair) Key() string {
	a, b := strings.ToUpper(p.Forward.Seq), strings.ToUpper(p.Reverse.Seq)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// Equal is true if o has the same sequences, in either orientation
func (p Pair) Equal(o Pair) bool {
	return p.Key() == o.Key()
}

// Swap returns the pair with forward and reverse exchanged
func (p Pair) Swap() Pair {
	return Pair{Forward: p.Reverse, Reverse: p.Forward, Penalty: p.Penalty}
}

func (p Pair) String() string {
	return fmt.Sprintf("Forward: %s\nReverse: %s", p.Forward.Seq, p.Reverse.Seq)
}

// Set is pairs without repeats, in the order they were added
type Set struct {
	index map[string]int
	pairs []Pair
}

// NewSet creates a set from pairs. Later repeats of a pair are dropped
func NewSet(pairs ...Pair) *Set {
	s := &Set{index: make(map[string]int)}
	for _, p := range pairs {
		s.Add(p)
	}
	return s
}

// Add appends p if it isn't in the set and returns whether it was added
func (s *Set) Add(p Pair) bool {
	if s.index == nil {
		s.index = make(map[string]int)
	}

	k := p.Key()
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.pairs)
	s.pairs = append(s.pairs, p)
	return true
}

// Contains returns whether p, in either orientation, is in the set
func (s *Set) Contains(p Pair) bool {
	_, ok := s.index[p.Key()]
	return ok
}

// Len is the number of pairs
func (s *Set) Len() int {
	return len(s.pairs)
}

// Pairs returns a copy of the pairs in the order they were added
func (s *Set) Pairs() []Pair {
	return append([]Pair(nil), s.pairs...)
}

// Pool is the growing list of candidate pairs for a target. Pairs are only
// ever appended, so an index into the pool stays valid between rounds
type Pool struct {
	set Set

	// Size is the number of pairs to request from primer3 in the next round
	Size int
}

// NewPool creates an empty pool that starts by requesting size pairs
func NewPool(size int) *Pool {
	return &Pool{Size: size}
}

// Extend appends the pairs that aren't in the pool yet and returns them
func (p *Pool) Extend(pairs []Pair) []Pair {
	var added []Pair
	for _, pair := range pairs {
		if p.set.Add(pair) {
			added = append(added, pair)
		}
	}
	return added
}

// Grow doubles the number of pairs requested in the next round
func (p *Pool) Grow() {
	p.Size *= 2
}

// Len is the number of unique candidates
func (p *Pool) Len() int {
	return p.set.Len()
}

// Pairs returns the candidates in the order they were found
func (p *Pool) Pairs() []Pair {
	return p.set.Pairs()
}
