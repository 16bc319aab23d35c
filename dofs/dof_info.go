package dofs

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// ConstraintPool is the deduplicated table of constraint weight rows. Two
// cells whose constrained dofs carry identical weight sequences share one
// row, keyed by the exact bit patterns of the floats.
type ConstraintPool struct {
	Rows  [][]float64
	index map[string]int
}

// Insert returns the row holding weights, adding it if absent.
func (cp *ConstraintPool) Insert(weights []float64) int {
	if cp.index == nil {
		cp.index = make(map[string]int)
	}
	key := weightKey(weights)
	if row, exists := cp.index[key]; exists {
		return row
	}
	row := len(cp.Rows)
	stored := make([]float64, len(weights))
	copy(stored, weights)
	cp.Rows = append(cp.Rows, stored)
	cp.index[key] = row
	return row
}

func weightKey(weights []float64) string {
	var b strings.Builder
	for _, w := range weights {
		b.WriteString(strconv.FormatUint(math.Float64bits(w), 16))
		b.WriteByte(':')
	}
	return b.String()
}

// ConstraintIndicator marks one constrained local dof within a cell row:
// which local dof, which pool row supplies the weights, and the
// inhomogeneity if present.
type ConstraintIndicator struct {
	LocalDof      int
	PoolRow       int
	Inhomogeneity float64
	Inhomogeneous bool
}

// DoFInfo is the compressed per-cell index storage of one dof handler.
// Cell rows follow the scheduler's batched cell order. For an
// unconstrained local dof the row stores its (local-numbered) index; for a
// constrained one it stores the constraint's target indices and an
// indicator referencing the pool.
type DoFInfo struct {
	DofsPerCell []int // per active-fe index

	RowStarts  [][2]int // per cell +1: offsets into DofIndices, Indicators
	DofIndices []int
	Indicators []ConstraintIndicator

	// Plain (constraint-ignoring) indices for cells that need them
	PlainRowStarts  []int
	PlainDofIndices []int

	Pool              ConstraintPool
	ConstrainedDofs   []int // locally owned constrained rows
	GhostDofs         *IndexSet
	VectorPartitioner *Partitioner

	// CellAtBoundary flags cells touching any ghost dof
	CellAtBoundary []bool
}

// CompressIndices runs the index compressor for the cells listed in
// cellOrder (active ordinals in scheduler order). Constrained entries are
// replaced by pool references; ghost dofs are collected and merged into the
// vector partitioner. A dof handler whose locally owned range is not
// contiguous is rejected.
func CompressIndices(dh *DoFHandler, ac *AffineConstraints, subdomain int,
	cellOrder []int, storePlain bool) (di *DoFInfo, err error) {
	var (
		owned = dh.LocallyOwnedDofs(subdomain)
		ghost = NewIndexSet(dh.NDofs)
	)
	di = &DoFInfo{
		DofsPerCell:    make([]int, len(dh.FECollection)),
		RowStarts:      make([][2]int, 0, len(cellOrder)+1),
		GhostDofs:      ghost,
		CellAtBoundary: make([]bool, len(cellOrder)),
	}
	for i, fe := range dh.FECollection {
		di.DofsPerCell[i] = fe.DofsPerCell
	}

	// first pass: global indices, constraint resolution, ghost discovery
	globalIndices := make([]int, 0, len(cellOrder)*dh.FECollection[0].DofsPerCell)
	di.RowStarts = append(di.RowStarts, [2]int{0, 0})
	if storePlain {
		di.PlainRowStarts = append(di.PlainRowStarts, 0)
	}
	noteGhost := func(dof int, cellPos int) {
		if !owned.IsElement(dof) {
			ghost.AddIndex(dof)
			di.CellAtBoundary[cellPos] = true
		}
	}
	for pos, ord := range cellOrder {
		for local, dof := range dh.CellDofIndices(ord) {
			if ac.IsConstrained(dof) {
				entries := ac.Entries(dof)
				weights := make([]float64, len(entries))
				for i, e := range entries {
					weights[i] = e.Weight
					globalIndices = append(globalIndices, e.Target)
					noteGhost(e.Target, pos)
				}
				ind := ConstraintIndicator{
					LocalDof: local,
					PoolRow:  di.Pool.Insert(weights),
				}
				if inh := ac.Inhomogeneity(dof); inh != 0 {
					ind.Inhomogeneity = inh
					ind.Inhomogeneous = true
				}
				di.Indicators = append(di.Indicators, ind)
			} else {
				globalIndices = append(globalIndices, dof)
				noteGhost(dof, pos)
			}
		}
		di.RowStarts = append(di.RowStarts, [2]int{len(globalIndices), len(di.Indicators)})
		if storePlain {
			for _, dof := range dh.CellDofIndices(ord) {
				di.PlainDofIndices = append(di.PlainDofIndices, dof)
			}
			di.PlainRowStarts = append(di.PlainRowStarts, len(di.PlainDofIndices))
		}
	}

	if di.VectorPartitioner, err = NewPartitioner(owned, ghost, dh.NDofs); err != nil {
		return nil, err
	}

	// second pass: translate to local numbering
	di.DofIndices = make([]int, len(globalIndices))
	for i, g := range globalIndices {
		di.DofIndices[i] = di.VectorPartitioner.GlobalToLocal(g)
	}
	if storePlain {
		for i, g := range di.PlainDofIndices {
			di.PlainDofIndices[i] = di.VectorPartitioner.GlobalToLocal(g)
		}
	}

	// locally owned constrained rows
	for _, dof := range ac.ConstrainedDofs() {
		if owned.IsElement(dof) {
			di.ConstrainedDofs = append(di.ConstrainedDofs, dof)
		}
	}
	sort.Ints(di.ConstrainedDofs)
	return
}

// CellIndices returns the compressed index run and indicators of cell row
// pos in the compression order.
func (di *DoFInfo) CellIndices(pos int) (indices []int, indicators []ConstraintIndicator) {
	indices = di.DofIndices[di.RowStarts[pos][0]:di.RowStarts[pos+1][0]]
	indicators = di.Indicators[di.RowStarts[pos][1]:di.RowStarts[pos+1][1]]
	return
}

// ComputeTightPartitioner restricts the ghost set to dofs actually listed
// in faceDofs, reducing the exchange volume for face integrals. The result
// is a subset of the full vector partitioner's ghost set.
func (di *DoFInfo) ComputeTightPartitioner(dh *DoFHandler, subdomain int,
	faceDofs [][]int) (p *Partitioner, err error) {
	var (
		owned = dh.LocallyOwnedDofs(subdomain)
		tight = NewIndexSet(dh.NDofs)
	)
	for _, list := range faceDofs {
		for _, dof := range list {
			if !owned.IsElement(dof) && di.GhostDofs.IsElement(dof) {
				tight.AddIndex(dof)
			}
		}
	}
	return NewPartitioner(owned, tight, dh.NDofs)
}
