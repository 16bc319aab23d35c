// Package faces discovers the faces of the batched cell schedule and groups
// them into vectorized face batches for face-integral evaluation. Faces are
// classified by which side owns them and batched so that every lane of a
// batch shares the same pair of cell batches, which also keeps batches from
// straddling scheduling partitions.
package faces

import (
	"fmt"

	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/scheduler"
)

// FaceType classifies a face by the ownership of its two sides.
type FaceType uint8

const (
	// Interior faces have both sides locally owned at equal refinement.
	Interior FaceType = iota
	// Boundary faces have a domain boundary on the exterior side.
	Boundary
	// GhostInterior faces have the exterior cell owned by another rank.
	GhostInterior
	// RefinementEdge faces have an active coarser cell on the exterior
	// side (hanging face, seen from the fine side).
	RefinementEdge
)

func (t FaceType) String() string {
	switch t {
	case Interior:
		return "interior"
	case Boundary:
		return "boundary"
	case GhostInterior:
		return "ghost"
	case RefinementEdge:
		return "refinement-edge"
	}
	return fmt.Sprintf("FaceType(%d)", uint8(t))
}

// FaceInfo describes one lane of a face batch. The interior side is always
// the locally owned (and, on hanging faces, finer) cell. Exterior fields are
// sentinels on boundary faces.
type FaceInfo struct {
	Type                       FaceType
	CellInterior, CellExterior int // active ordinals; exterior -1 on boundary
	FaceInterior, FaceExterior int // local face numbers; exterior -1 on boundary
	BoundaryID                 int // valid only for Boundary faces
}

// FaceBatch groups up to L same-type faces whose interior cells live in one
// cell batch and whose exterior cells live in one cell batch. A partially
// filled batch repeats its last real face in the padding lanes.
type FaceBatch struct {
	Index         int
	Type          FaceType
	BatchInterior int // cell batch of all interior-side cells
	BatchExterior int // cell batch of all exterior-side cells, -1 for boundary
	Faces         []FaceInfo
	NFacesFilled  int
}

// Slot locates the face-batch lane holding a given cell face, with the
// boundary id for domain-boundary faces.
type Slot struct {
	FaceBatch, Lane int
	BoundaryID      int
}

// Topology is the face decomposition of a cell schedule.
type Topology struct {
	Batches []FaceBatch

	nCellBatches, nFaces, lanes int
	reverse                     []Slot
}

type batchKey struct {
	t                 FaceType
	batchIn, batchOut int
}

// NewTopology discovers all faces touched by the locally owned cells of the
// schedule and batches them. Faces are visited in cell-batch order; each
// regular interior face is claimed by the side with the lower active ordinal,
// each hanging face by its fine side.
func NewTopology(m *mesh.Mesh, sched *scheduler.Schedule, subdomain int) (ft *Topology) {
	var (
		lanes  = sched.VectorizationLength
		nFaces = m.NFacesPerCell()
	)
	ft = &Topology{
		nCellBatches: sched.NBatches(),
		nFaces:       nFaces,
		lanes:        lanes,
		reverse:      make([]Slot, sched.NBatches()*nFaces*lanes),
	}
	for i := range ft.reverse {
		ft.reverse[i] = Slot{FaceBatch: -1, Lane: -1, BoundaryID: -1}
	}

	var (
		keys    []batchKey
		grouped = make(map[batchKey][]FaceInfo)
		order   = sched.OwnedCellOrder(m)
	)
	add := func(key batchKey, fi FaceInfo) {
		if _, exists := grouped[key]; !exists {
			keys = append(keys, key)
		}
		grouped[key] = append(grouped[key], fi)
	}
	for _, k := range order {
		for f := 0; f < nFaces; f++ {
			nbr := m.EToE[k][f]
			switch {
			case nbr == mesh.NeighborBoundary:
				add(batchKey{Boundary, sched.BatchOfCell[k], -1}, FaceInfo{
					Type:         Boundary,
					CellInterior: k,
					CellExterior: -1,
					FaceInterior: f,
					FaceExterior: -1,
					BoundaryID:   m.BoundaryIDs[k][f],
				})
			case nbr == mesh.NeighborRefined:
				// the fine side claims hanging faces
			case m.RefinementEdge[k][f]:
				add(batchKey{RefinementEdge, sched.BatchOfCell[k], sched.BatchOfCell[nbr]},
					FaceInfo{
						Type:         RefinementEdge,
						CellInterior: k,
						CellExterior: nbr,
						FaceInterior: f,
						FaceExterior: m.EToF[k][f],
					})
			case m.Cell(m.ActiveRefs[nbr]).SubdomainID != subdomain:
				add(batchKey{GhostInterior, sched.BatchOfCell[k], sched.BatchOfCell[nbr]},
					FaceInfo{
						Type:         GhostInterior,
						CellInterior: k,
						CellExterior: nbr,
						FaceInterior: f,
						FaceExterior: m.EToF[k][f],
					})
			case k < nbr:
				add(batchKey{Interior, sched.BatchOfCell[k], sched.BatchOfCell[nbr]},
					FaceInfo{
						Type:         Interior,
						CellInterior: k,
						CellExterior: nbr,
						FaceInterior: f,
						FaceExterior: m.EToF[k][f],
					})
			}
		}
	}

	for _, key := range keys {
		ft.appendBatches(sched, key, grouped[key])
	}
	return
}

func (ft *Topology) appendBatches(sched *scheduler.Schedule, key batchKey, list []FaceInfo) {
	lanes := ft.lanes
	for start := 0; start < len(list); start += lanes {
		end := start + lanes
		if end > len(list) {
			end = len(list)
		}
		fb := FaceBatch{
			Index:         len(ft.Batches),
			Type:          key.t,
			BatchInterior: key.batchIn,
			BatchExterior: key.batchOut,
			Faces:         make([]FaceInfo, lanes),
			NFacesFilled:  end - start,
		}
		for lane := 0; lane < lanes; lane++ {
			src := start + lane
			if src >= end {
				src = end - 1 // repeat the last valid face
			}
			fi := list[src]
			fb.Faces[lane] = fi
			if src == start+lane {
				ft.setSlot(key.batchIn, fi.FaceInterior,
					sched.LaneOfCell[fi.CellInterior], fb.Index, lane, fi)
				if fi.Type == Interior || fi.Type == GhostInterior {
					ft.setSlot(key.batchOut, fi.FaceExterior,
						sched.LaneOfCell[fi.CellExterior], fb.Index, lane, fi)
				}
			}
		}
		ft.Batches = append(ft.Batches, fb)
	}
}

// setSlot records the reverse entry for one side of a face, keyed by the
// cell's lane within its own cell batch.
func (ft *Topology) setSlot(cellBatch, face, cellLane, faceBatch, faceLane int, fi FaceInfo) {
	idx := (cellBatch*ft.nFaces+face)*ft.lanes + cellLane
	s := Slot{FaceBatch: faceBatch, Lane: faceLane, BoundaryID: -1}
	if fi.Type == Boundary {
		s.BoundaryID = fi.BoundaryID
	}
	ft.reverse[idx] = s
}

// NBatches counts the face batches.
func (ft *Topology) NBatches() int { return len(ft.Batches) }

// SlotOf resolves (cell batch, local face, cell lane) to the face-batch slot
// holding that face, with ok false when no owned face occupies the position.
func (ft *Topology) SlotOf(cellBatch, face, cellLane int) (s Slot, ok bool) {
	s = ft.reverse[(cellBatch*ft.nFaces+face)*ft.lanes+cellLane]
	return s, s.FaceBatch >= 0
}

// CountByType tallies real (non-padding) faces per class.
func (ft *Topology) CountByType() (counts map[FaceType]int) {
	counts = make(map[FaceType]int)
	for _, fb := range ft.Batches {
		counts[fb.Type] += fb.NFacesFilled
	}
	return
}
