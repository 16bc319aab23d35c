// Package scheduler groups the active cells of a mesh into fixed-width
// vectorized batches and, when threaded execution is requested, computes a
// conflict-free coloring of cell blocks so that same-color blocks can be
// processed concurrently without write races on shared dofs.
package scheduler

import (
	"fmt"

	"github.com/notargets/matfree/mesh"
)

// Scheme selects how evaluation loops are scheduled.
type Scheme uint8

const (
	// SchemeNone batches cells in traversal order; no thread schedule.
	SchemeNone Scheme = iota
	// SchemeColor partitions cells into blocks and colors the block
	// graph for safe concurrent execution.
	SchemeColor
)

// CellBatch is a group of up to VectorizationLength cells processed as one
// vectorized unit. An irregular batch repeats its last real cell to fill
// the lanes; padding lanes never contribute to reductions.
type CellBatch struct {
	Index             int
	Cells             []mesh.CellRef
	NComponentsFilled int
	Category          int
}

// TaskInfo is the scheduling metadata handed to evaluation loops.
type TaskInfo struct {
	Scheme              Scheme
	VectorizationLength int
	BlockSize           int
	MyPID, NProcs       int
	NActiveCells        int // locally owned cells covered by the schedule
	NGhostCells         int

	// CellPartitionData holds strictly increasing batch-index boundaries
	// of the scheduling partitions; PartitionRowIndex groups partitions
	// into rows (colors) executable concurrently.
	CellPartitionData []int
	PartitionRowIndex []int
}

// Options configures schedule construction.
type Options struct {
	Scheme     Scheme
	LaneWidth  int // 0 detects from the CPU
	BlockSize  int // cells per block in threaded mode; 0 picks a default
	NThreads   int // 0 means runtime.NumCPU is chosen by the caller
	Subdomain  int
	MyPID      int
	NProcs     int
	Categories []int // per active ordinal; forces homogeneous batches
	// StrictCategories refuses to mix categories even in the last,
	// partially filled batch of each category.
	StrictCategories bool
}

// Schedule is the complete batching and concurrency plan.
type Schedule struct {
	TaskInfo
	Batches []CellBatch

	// BatchOfCell / LaneOfCell invert the batching: active ordinal to
	// (batch, lane) of its first (non-padding) occurrence.
	BatchOfCell []int
	LaneOfCell  []int
}

// NewSchedule partitions the locally owned active cells of m into
// vectorized batches following the hierarchical mesh traversal order, and
// in threaded mode additionally computes the block coloring. Explicit
// categories combined with threaded scheduling are rejected.
func NewSchedule(m *mesh.Mesh, opts Options) (s *Schedule, err error) {
	if opts.Scheme == SchemeColor && opts.Categories != nil {
		return nil, fmt.Errorf(
			"explicit cell categories cannot be combined with threaded scheduling")
	}
	var (
		lanes = opts.LaneWidth
	)
	if lanes == 0 {
		lanes = DefaultLaneWidth()
	}
	s = &Schedule{
		TaskInfo: TaskInfo{
			Scheme:              opts.Scheme,
			VectorizationLength: lanes,
			MyPID:               opts.MyPID,
			NProcs:              opts.NProcs,
		},
		BatchOfCell: make([]int, m.NActiveCells()),
		LaneOfCell:  make([]int, m.NActiveCells()),
	}
	for i := range s.BatchOfCell {
		s.BatchOfCell[i] = -1
		s.LaneOfCell[i] = -1
	}

	owned, ghost := splitBySubdomain(m, opts.Subdomain)
	s.NActiveCells = len(owned)
	s.NGhostCells = len(ghost)

	switch opts.Scheme {
	case SchemeNone:
		s.buildSerial(m, owned, ghost, opts)
	case SchemeColor:
		if err = s.buildColored(m, owned, ghost, opts); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown scheduling scheme %d", opts.Scheme)
	}
	return
}

// splitBySubdomain separates locally owned cells (in traversal order) from
// ghost cells: unowned cells sharing a face with an owned one.
func splitBySubdomain(m *mesh.Mesh, subdomain int) (owned, ghost []int) {
	var (
		K       = m.NActiveCells()
		isOwned = make([]bool, K)
	)
	for k := 0; k < K; k++ {
		isOwned[k] = m.Cell(m.ActiveRefs[k]).SubdomainID == subdomain
		if isOwned[k] {
			owned = append(owned, k)
		}
	}
	for k := 0; k < K; k++ {
		if isOwned[k] {
			continue
		}
		for _, nbr := range m.EToE[k] {
			if nbr >= 0 && isOwned[nbr] {
				ghost = append(ghost, k)
				break
			}
		}
	}
	return
}

// buildSerial batches cells in traversal order, grouped by category when
// one is supplied. Every batch is homogeneous in category; the final batch
// of each group is padded by repeating its last real cell.
func (s *Schedule) buildSerial(m *mesh.Mesh, owned, ghost []int, opts Options) {
	groups := groupByCategory(owned, opts.Categories)
	if opts.Categories != nil && !opts.StrictCategories {
		// best effort: categories stay contiguous but a batch may straddle
		// a category boundary instead of padding the tail
		var all []int
		for _, g := range groups {
			all = append(all, g.cells...)
		}
		s.appendBatchesMixed(m, all, opts.Categories)
	} else {
		for _, g := range groups {
			s.appendBatches(m, g.cells, g.category)
		}
	}
	ownedBatches := len(s.Batches)
	s.CellPartitionData = []int{0, ownedBatches}
	s.PartitionRowIndex = []int{0, 1}
	// ghost cells batched after the partition cut
	if len(ghost) > 0 {
		s.appendBatches(m, ghost, 0)
		s.CellPartitionData = append(s.CellPartitionData, len(s.Batches))
		s.PartitionRowIndex = append(s.PartitionRowIndex, 2)
	}
}

type categoryGroup struct {
	category int
	cells    []int
}

// groupByCategory splits cells into category runs, preserving traversal
// order within each category. Categories are emitted in order of first
// appearance so that re-runs are deterministic.
func groupByCategory(cells []int, categories []int) (groups []categoryGroup) {
	if categories == nil {
		return []categoryGroup{{0, cells}}
	}
	pos := make(map[int]int)
	for _, k := range cells {
		c := categories[k]
		i, exists := pos[c]
		if !exists {
			i = len(groups)
			pos[c] = i
			groups = append(groups, categoryGroup{category: c})
		}
		groups[i].cells = append(groups[i].cells, k)
	}
	return
}

// appendBatches packs cells lanes-at-a-time, padding the last batch by
// repeating its final real cell.
func (s *Schedule) appendBatches(m *mesh.Mesh, cells []int, category int) {
	var (
		lanes = s.VectorizationLength
	)
	for start := 0; start < len(cells); start += lanes {
		end := start + lanes
		if end > len(cells) {
			end = len(cells)
		}
		batch := CellBatch{
			Index:             len(s.Batches),
			Cells:             make([]mesh.CellRef, lanes),
			NComponentsFilled: end - start,
			Category:          category,
		}
		for lane := 0; lane < lanes; lane++ {
			src := start + lane
			if src >= end {
				src = end - 1 // repeat the last valid cell
			}
			ord := cells[src]
			batch.Cells[lane] = m.ActiveRefs[ord]
			if src == start+lane {
				s.BatchOfCell[ord] = batch.Index
				s.LaneOfCell[ord] = lane
			}
		}
		s.Batches = append(s.Batches, batch)
	}
}

// appendBatchesMixed packs cells contiguously; a batch takes the category
// of its first lane.
func (s *Schedule) appendBatchesMixed(m *mesh.Mesh, cells []int, categories []int) {
	var (
		lanes = s.VectorizationLength
	)
	for start := 0; start < len(cells); start += lanes {
		end := start + lanes
		if end > len(cells) {
			end = len(cells)
		}
		batch := CellBatch{
			Index:             len(s.Batches),
			Cells:             make([]mesh.CellRef, lanes),
			NComponentsFilled: end - start,
			Category:          categories[cells[start]],
		}
		for lane := 0; lane < lanes; lane++ {
			src := start + lane
			if src >= end {
				src = end - 1
			}
			ord := cells[src]
			batch.Cells[lane] = m.ActiveRefs[ord]
			if src == start+lane {
				s.BatchOfCell[ord] = batch.Index
				s.LaneOfCell[ord] = lane
			}
		}
		s.Batches = append(s.Batches, batch)
	}
}

// NBatches counts all batches, ghost batches included.
func (s *Schedule) NBatches() int { return len(s.Batches) }

// NComponentsFilled reports the number of real (non-padding) lanes in one
// batch.
func (s *Schedule) NComponentsFilled(batch int) int {
	return s.Batches[batch].NComponentsFilled
}

// CellAt resolves (batch, lane) to the mesh cell it holds.
func (s *Schedule) CellAt(batch, lane int) mesh.CellRef {
	return s.Batches[batch].Cells[lane]
}

// OwnedCellOrder lists the locally owned active ordinals in final batch
// order, padding excluded.
func (s *Schedule) OwnedCellOrder(m *mesh.Mesh) (order []int) {
	nOwnedBatches := s.CellPartitionData[len(s.CellPartitionData)-1]
	if s.NGhostCells > 0 {
		nOwnedBatches = s.CellPartitionData[len(s.CellPartitionData)-2]
	}
	for b := 0; b < nOwnedBatches; b++ {
		batch := s.Batches[b]
		for lane := 0; lane < batch.NComponentsFilled; lane++ {
			order = append(order, m.ActiveOrdinal(batch.Cells[lane]))
		}
	}
	return
}
