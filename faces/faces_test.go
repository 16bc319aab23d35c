package faces

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/scheduler"
)

func newSchedule(t *testing.T, m *mesh.Mesh, lanes int) *scheduler.Schedule {
	s, err := scheduler.NewSchedule(m, scheduler.Options{LaneWidth: lanes})
	assert.NoError(t, err)
	return s
}

func TestFaceClassificationCounts(t *testing.T) {
	// 2x2 unit square: 4 interior faces (each counted once), 8 boundary
	m, err := mesh.UnitCube(2, 2)
	assert.NoError(t, err)
	s := newSchedule(t, m, 2)
	ft := NewTopology(m, s, 0)
	counts := ft.CountByType()
	assert.Equal(t, 4, counts[Interior])
	assert.Equal(t, 8, counts[Boundary])
	assert.Equal(t, 0, counts[GhostInterior])
	assert.Equal(t, 0, counts[RefinementEdge])
}

func TestFaceBatchInvariant(t *testing.T) {
	// every face batch holds one cell-batch pair; boundary batches use the
	// exterior sentinel
	m, _ := mesh.UnitCube(2, 4)
	s := newSchedule(t, m, 4)
	ft := NewTopology(m, s, 0)
	for _, fb := range ft.Batches {
		for lane := 0; lane < fb.NFacesFilled; lane++ {
			fi := fb.Faces[lane]
			assert.Equal(t, fb.Type, fi.Type)
			assert.Equal(t, fb.BatchInterior, s.BatchOfCell[fi.CellInterior])
			if fi.Type == Boundary {
				assert.Equal(t, -1, fb.BatchExterior)
				assert.Equal(t, -1, fi.CellExterior)
			} else {
				assert.Equal(t, fb.BatchExterior, s.BatchOfCell[fi.CellExterior])
			}
		}
	}
}

func TestReverseIndex(t *testing.T) {
	m, _ := mesh.UnitCube(2, 3)
	s := newSchedule(t, m, 2)
	ft := NewTopology(m, s, 0)
	// each interior face is reachable from both of its sides
	for _, fb := range ft.Batches {
		for lane := 0; lane < fb.NFacesFilled; lane++ {
			fi := fb.Faces[lane]
			slot, ok := ft.SlotOf(s.BatchOfCell[fi.CellInterior],
				fi.FaceInterior, s.LaneOfCell[fi.CellInterior])
			assert.True(t, ok)
			assert.Equal(t, fb.Index, slot.FaceBatch)
			assert.Equal(t, lane, slot.Lane)
			if fi.Type == Boundary {
				assert.Equal(t, m.BoundaryIDs[fi.CellInterior][fi.FaceInterior],
					slot.BoundaryID)
				continue
			}
			slot, ok = ft.SlotOf(s.BatchOfCell[fi.CellExterior],
				fi.FaceExterior, s.LaneOfCell[fi.CellExterior])
			assert.True(t, ok)
			assert.Equal(t, fb.Index, slot.FaceBatch)
		}
	}
	// every owned cell face resolves to a slot
	for k := 0; k < m.NActiveCells(); k++ {
		for f := 0; f < m.NFacesPerCell(); f++ {
			_, ok := ft.SlotOf(s.BatchOfCell[k], f, s.LaneOfCell[k])
			assert.True(t, ok, "cell %d face %d has no slot", k, f)
		}
	}
}

func TestRefinementEdgeFaces(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	m.RefineCells([]mesh.CellRef{m.ActiveRefs[0]})
	s := newSchedule(t, m, 2)
	ft := NewTopology(m, s, 0)
	counts := ft.CountByType()
	// four hanging faces, owned by the fine side
	assert.Equal(t, 4, counts[RefinementEdge])
	for _, fb := range ft.Batches {
		if fb.Type != RefinementEdge {
			continue
		}
		for lane := 0; lane < fb.NFacesFilled; lane++ {
			fi := fb.Faces[lane]
			fine := m.ActiveRefs[fi.CellInterior]
			coarse := m.ActiveRefs[fi.CellExterior]
			assert.True(t, fine.Level > coarse.Level)
		}
	}
}

func TestGhostFaces(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	m.SetSubdomain(2, 1)
	m.SetSubdomain(3, 1)
	s := newSchedule(t, m, 2)
	ft := NewTopology(m, s, 0)
	counts := ft.CountByType()
	// cells 0 and 1 each touch one unowned neighbor across the subdomain cut
	assert.Equal(t, 2, counts[GhostInterior])
	// the interior face between the two owned cells remains interior
	assert.Equal(t, 1, counts[Interior])
}
