// Package dofs provides degree-of-freedom enumeration for continuous Q_p
// elements, affine constraints, and the compressed per-cell index storage
// consumed by the matrix-free evaluation loop.
package dofs

import (
	"fmt"
	"sort"
)

// IndexSet is a sorted set of global indices in [0, Size), stored as
// disjoint half-open ranges.
type IndexSet struct {
	Size   int
	ranges [][2]int
	dirty  bool
}

func NewIndexSet(size int) *IndexSet {
	return &IndexSet{Size: size}
}

func (s *IndexSet) AddIndex(i int) { s.AddRange(i, i+1) }

func (s *IndexSet) AddRange(begin, end int) {
	if begin >= end {
		return
	}
	if begin < 0 || end > s.Size {
		panic(fmt.Sprintf("range [%d,%d) outside index space [0,%d)", begin, end, s.Size))
	}
	s.ranges = append(s.ranges, [2]int{begin, end})
	s.dirty = true
}

// Compress sorts and merges overlapping ranges.
func (s *IndexSet) Compress() {
	if !s.dirty {
		return
	}
	sort.Slice(s.ranges, func(i, j int) bool { return s.ranges[i][0] < s.ranges[j][0] })
	merged := s.ranges[:0]
	for _, r := range s.ranges {
		if n := len(merged); n > 0 && r[0] <= merged[n-1][1] {
			if r[1] > merged[n-1][1] {
				merged[n-1][1] = r[1]
			}
		} else {
			merged = append(merged, r)
		}
	}
	s.ranges = merged
	s.dirty = false
}

func (s *IndexSet) NElements() (n int) {
	s.Compress()
	for _, r := range s.ranges {
		n += r[1] - r[0]
	}
	return
}

func (s *IndexSet) IsContiguous() bool {
	s.Compress()
	return len(s.ranges) <= 1
}

func (s *IndexSet) IsElement(i int) bool {
	s.Compress()
	pos := sort.Search(len(s.ranges), func(k int) bool { return s.ranges[k][1] > i })
	return pos < len(s.ranges) && s.ranges[pos][0] <= i
}

// IndexWithinSet returns the position of global index i in the set's sorted
// element sequence, or -1 if absent.
func (s *IndexSet) IndexWithinSet(i int) int {
	s.Compress()
	var offset int
	for _, r := range s.ranges {
		if i >= r[0] && i < r[1] {
			return offset + i - r[0]
		}
		offset += r[1] - r[0]
	}
	return -1
}

// Elements lists all members in increasing order.
func (s *IndexSet) Elements() (out []int) {
	s.Compress()
	for _, r := range s.ranges {
		for i := r[0]; i < r[1]; i++ {
			out = append(out, i)
		}
	}
	return
}

// IsSubsetOf reports whether every element of s belongs to t.
func (s *IndexSet) IsSubsetOf(t *IndexSet) bool {
	for _, i := range s.Elements() {
		if !t.IsElement(i) {
			return false
		}
	}
	return true
}

// GhostTarget records how many ghost entries are imported from one rank.
type GhostTarget struct {
	Rank, Count int
}

// Partitioner maps global dof indices into a local numbering: the
// contiguous locally-owned range first, ghost entries after in sorted
// order. A non-contiguous owned range is a configuration error.
type Partitioner struct {
	GlobalSize int
	LocalBegin int
	LocalEnd   int
	Ghosts     *IndexSet

	// GhostTargets sizes the per-rank import; a single-rank run has at
	// most one (self) entry and performs no transport.
	GhostTargets []GhostTarget

	ghostLocal map[int]int
}

func NewPartitioner(owned, ghosts *IndexSet, globalSize int) (p *Partitioner, err error) {
	if !owned.IsContiguous() {
		return nil, fmt.Errorf("locally owned dof range is not contiguous: unsupported")
	}
	p = &Partitioner{
		GlobalSize: globalSize,
		Ghosts:     ghosts,
		ghostLocal: make(map[int]int),
	}
	if owned.NElements() > 0 {
		p.LocalBegin = owned.ranges[0][0]
		p.LocalEnd = owned.ranges[0][1]
	}
	nOwned := p.LocalEnd - p.LocalBegin
	for i, g := range ghosts.Elements() {
		p.ghostLocal[g] = nOwned + i
	}
	if n := ghosts.NElements(); n > 0 {
		p.GhostTargets = []GhostTarget{{Rank: 0, Count: n}}
	}
	return
}

func (p *Partitioner) NLocallyOwned() int { return p.LocalEnd - p.LocalBegin }

func (p *Partitioner) NLocal() int { return p.NLocallyOwned() + p.Ghosts.NElements() }

func (p *Partitioner) InLocalRange(g int) bool {
	return g >= p.LocalBegin && g < p.LocalEnd
}

// GlobalToLocal translates a global index; ghost entries land after the
// owned block. Panics on an index that is neither owned nor ghosted,
// which indicates an indexing bug upstream.
func (p *Partitioner) GlobalToLocal(g int) int {
	if p.InLocalRange(g) {
		return g - p.LocalBegin
	}
	if l, ok := p.ghostLocal[g]; ok {
		return l
	}
	panic(fmt.Sprintf("global dof %d is neither locally owned nor ghosted", g))
}

func (p *Partitioner) LocalToGlobal(l int) int {
	if l < p.NLocallyOwned() {
		return p.LocalBegin + l
	}
	ghostPos := l - p.NLocallyOwned()
	elems := p.Ghosts.Elements()
	if ghostPos >= len(elems) {
		panic(fmt.Sprintf("local index %d out of range", l))
	}
	return elems[ghostPos]
}
