package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/matfree/mesh"
)

func TestDefaultLaneWidth(t *testing.T) {
	lanes := DefaultLaneWidth()
	assert.True(t, lanes >= 2)
	assert.Equal(t, 0, lanes&(lanes-1), "lane width must be a power of two")
}

func TestBatchPartitionCompleteness(t *testing.T) {
	// every active cell appears exactly once as a non-padding lane
	for _, divisions := range []int{2, 3, 5} {
		m, err := mesh.UnitCube(2, divisions)
		assert.NoError(t, err)
		s, err := NewSchedule(m, Options{LaneWidth: 4})
		assert.NoError(t, err)
		seen := make([]int, m.NActiveCells())
		for b := 0; b < s.NBatches(); b++ {
			for lane := 0; lane < s.NComponentsFilled(b); lane++ {
				seen[m.ActiveOrdinal(s.CellAt(b, lane))]++
			}
		}
		for k, n := range seen {
			assert.Equal(t, 1, n, "cell %d", k)
		}
		// reverse maps agree
		for k := 0; k < m.NActiveCells(); k++ {
			b, lane := s.BatchOfCell[k], s.LaneOfCell[k]
			assert.Equal(t, k, m.ActiveOrdinal(s.CellAt(b, lane)))
		}
	}
}

func TestBatchPadding(t *testing.T) {
	// 3x3 = 9 cells in lanes of 4: batches of 4, 4, 1 with the last batch
	// padded by its final real cell
	m, _ := mesh.UnitCube(2, 3)
	s, err := NewSchedule(m, Options{LaneWidth: 4})
	assert.NoError(t, err)
	assert.Equal(t, 3, s.NBatches())
	assert.Equal(t, 4, s.NComponentsFilled(0))
	assert.Equal(t, 1, s.NComponentsFilled(2))
	last := s.Batches[2]
	for lane := 1; lane < 4; lane++ {
		assert.Equal(t, last.Cells[0], last.Cells[lane])
	}
}

func TestCategoryBatching(t *testing.T) {
	m, _ := mesh.UnitCube(2, 3)
	categories := make([]int, m.NActiveCells())
	for k := range categories {
		categories[k] = k % 2
	}
	{
		// strict: every batch is homogeneous in category
		s, err := NewSchedule(m, Options{
			LaneWidth: 2, Categories: categories, StrictCategories: true,
		})
		assert.NoError(t, err)
		for _, b := range s.Batches {
			for lane := 0; lane < b.NComponentsFilled; lane++ {
				k := m.ActiveOrdinal(b.Cells[lane])
				assert.Equal(t, b.Category, categories[k])
			}
		}
		// 5 + 4 cells in lanes of 2: the first category pads its tail
		assert.Equal(t, 5, s.NBatches())
		assert.Equal(t, 1, s.NComponentsFilled(2))
	}
	{
		// best effort: one batch straddles the category boundary, so only
		// the final batch is partially filled
		s, err := NewSchedule(m, Options{LaneWidth: 2, Categories: categories})
		assert.NoError(t, err)
		assert.Equal(t, 5, s.NBatches())
		for b := 0; b < s.NBatches()-1; b++ {
			assert.Equal(t, 2, s.NComponentsFilled(b))
		}
		assert.Equal(t, 1, s.NComponentsFilled(4))
	}
}

func TestColorRejectsCategories(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	_, err := NewSchedule(m, Options{
		Scheme:     SchemeColor,
		Categories: make([]int, m.NActiveCells()),
	})
	assert.Error(t, err)
}

func TestColoringSafety(t *testing.T) {
	// cells scheduled in the same row (color) must not share a face
	m, err := mesh.UnitCube(2, 8)
	assert.NoError(t, err)
	s, err := NewSchedule(m, Options{
		Scheme:    SchemeColor,
		LaneWidth: 2,
		BlockSize: 4,
		NThreads:  4,
	})
	assert.NoError(t, err)

	// row 0 is the boundary partition, processed alone; later rows hold
	// same-color blocks whose cells must be pairwise non-adjacent across
	// different partitions
	for r := 1; r < len(s.PartitionRowIndex)-1; r++ {
		partOf := make(map[int]int)
		for p := s.PartitionRowIndex[r]; p < s.PartitionRowIndex[r+1]; p++ {
			for b := s.CellPartitionData[p]; b < s.CellPartitionData[p+1]; b++ {
				for lane := 0; lane < s.NComponentsFilled(b); lane++ {
					partOf[m.ActiveOrdinal(s.CellAt(b, lane))] = p
				}
			}
		}
		for k, p := range partOf {
			for _, nbr := range m.EToE[k] {
				if nbr < 0 {
					continue
				}
				if np, ok := partOf[nbr]; ok {
					assert.Equal(t, p, np,
						"cells %d and %d share a face across partitions of one row", k, nbr)
				}
			}
		}
	}
	// completeness still holds under coloring
	seen := make([]bool, m.NActiveCells())
	for b := 0; b < s.NBatches(); b++ {
		for lane := 0; lane < s.NComponentsFilled(b); lane++ {
			k := m.ActiveOrdinal(s.CellAt(b, lane))
			assert.False(t, seen[k])
			seen[k] = true
		}
	}
	for k, ok := range seen {
		assert.True(t, ok, "cell %d missing from the schedule", k)
	}
}

func TestGhostCellsAfterCut(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	m.SetSubdomain(2, 1)
	m.SetSubdomain(3, 1)
	s, err := NewSchedule(m, Options{LaneWidth: 2})
	assert.NoError(t, err)
	assert.Equal(t, 2, s.NActiveCells)
	assert.Equal(t, 2, s.NGhostCells)
	// ghost batches sit after the last owned partition boundary
	nOwned := s.CellPartitionData[len(s.CellPartitionData)-2]
	for b := nOwned; b < s.NBatches(); b++ {
		for lane := 0; lane < s.NComponentsFilled(b); lane++ {
			k := m.ActiveOrdinal(s.CellAt(b, lane))
			assert.NotEqual(t, 0, m.Cell(m.ActiveRefs[k]).SubdomainID)
		}
	}
	order := s.OwnedCellOrder(m)
	assert.Equal(t, 2, len(order))
}
