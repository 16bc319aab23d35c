// Package mesh holds the hyper-rectangular cell triangulation consumed by the
// matrix-free evaluation pipeline. Cells are stored per refinement level; the
// leaves of the hierarchy form the active cell set. Connectivity is rebuilt
// over active cells after any generation or refinement step.
package mesh

import (
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
)

// Manifold is the narrow geometry contract: interpolate a point from a set of
// surrounding points and weights. Curved geometries project the weighted sum;
// the flat default returns it unchanged.
type Manifold interface {
	InterpolatePoint(points [][]float64, weights []float64) []float64
}

// FlatManifold is the default straight-edged geometry.
type FlatManifold struct{}

func (FlatManifold) InterpolatePoint(points [][]float64, weights []float64) []float64 {
	var (
		spaceDim = len(points[0])
		p        = make([]float64, spaceDim)
	)
	for i, pt := range points {
		w := weights[i]
		for d := 0; d < spaceDim; d++ {
			p[d] += w * pt[d]
		}
	}
	return p
}

// CellRef locates one mesh cell as (level, index within level).
type CellRef struct {
	Level, Index int
}

// Cell is one hyper-rectangular cell. Vertices are ordered
// lexicographically: vertex v has reference coordinate bit d of v along
// axis d, x fastest.
type Cell struct {
	Vertices         []int // 2^dim vertex ids
	Parent           int   // index within level-1, -1 for root cells
	Children         []int // indices within level+1, empty when active
	SubdomainID      int
	LevelSubdomainID int
}

func (c *Cell) IsActive() bool { return len(c.Children) == 0 }

// Sentinels for EToE entries that do not name an active same-level neighbor.
const (
	NeighborBoundary = -1 // face on the domain boundary
	NeighborRefined  = -2 // neighbor exists but is refined; fine side owns the face
)

type Mesh struct {
	Dim, SpaceDim int
	Vertices      [][]float64
	Levels        [][]Cell
	Manifold      Manifold

	// Active-cell connectivity, indexed by active-cell ordinal
	ActiveRefs  []CellRef
	EToE        [][]int // neighbor active ordinal, or a sentinel
	EToF        [][]int // neighbor local face number
	BoundaryIDs [][]int // per face: boundary id, or -1 for interior faces

	// RefinementEdge flags faces whose neighbor is an active cell one or
	// more levels coarser (the hanging-node case, seen from the fine side).
	RefinementEdge [][]bool

	// Per-level connectivity over all cells of that level, active or not
	LevelEToE [][][]int
	LevelEToF [][][]int

	activeOrdinal map[CellRef]int
}

// NFacesPerCell is 2*dim for hyper-rectangles.
func (m *Mesh) NFacesPerCell() int { return 2 * m.Dim }

// VerticesPerCell is 2^dim.
func (m *Mesh) VerticesPerCell() int { return 1 << m.Dim }

// VerticesPerFace is 2^(dim-1).
func (m *Mesh) VerticesPerFace() int { return 1 << (m.Dim - 1) }

func (m *Mesh) Cell(ref CellRef) *Cell { return &m.Levels[ref.Level][ref.Index] }

func (m *Mesh) NActiveCells() int { return len(m.ActiveRefs) }

// ActiveOrdinal returns the position of ref in the hierarchical active
// ordering, or -1 if ref is not an active cell.
func (m *Mesh) ActiveOrdinal(ref CellRef) int {
	if ord, ok := m.activeOrdinal[ref]; ok {
		return ord
	}
	return -1
}

// FaceVertices lists the local vertex numbers on face f: axis f/2, side f%2.
func FaceVertices(dim, f int) (lv []int) {
	var (
		axis, side = f / 2, f % 2
	)
	for v := 0; v < 1<<dim; v++ {
		if (v>>axis)&1 == side {
			lv = append(lv, v)
		}
	}
	return
}

// VertexCoords gathers the corner coordinates of one cell.
func (m *Mesh) VertexCoords(ref CellRef) (pts [][]float64) {
	c := m.Cell(ref)
	pts = make([][]float64, len(c.Vertices))
	for i, v := range c.Vertices {
		pts[i] = m.Vertices[v]
	}
	return
}

// Center is the arithmetic mean of the cell corners.
func (m *Mesh) Center(ref CellRef) (ctr []float64) {
	var (
		pts = m.VertexCoords(ref)
	)
	ctr = make([]float64, m.SpaceDim)
	for _, pt := range pts {
		for d := range ctr {
			ctr[d] += pt[d]
		}
	}
	for d := range ctr {
		ctr[d] /= float64(len(pts))
	}
	return
}

// Diameter is the largest corner-to-corner distance.
func (m *Mesh) Diameter(ref CellRef) (dia float64) {
	var (
		pts = m.VertexCoords(ref)
	)
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			var d2 float64
			for d := 0; d < m.SpaceDim; d++ {
				diff := pts[i][d] - pts[j][d]
				d2 += diff * diff
			}
			if d := math.Sqrt(d2); d > dia {
				dia = d
			}
		}
	}
	return
}

// CollectActive walks the hierarchy depth-first from the root cells in index
// order, appending leaves. Children are visited in child-number order, which
// keeps siblings adjacent and yields a Z-order-like spatial traversal.
func (m *Mesh) CollectActive() {
	m.ActiveRefs = m.ActiveRefs[:0]
	m.activeOrdinal = make(map[CellRef]int)
	var descend func(ref CellRef)
	descend = func(ref CellRef) {
		c := m.Cell(ref)
		if c.IsActive() {
			m.activeOrdinal[ref] = len(m.ActiveRefs)
			m.ActiveRefs = append(m.ActiveRefs, ref)
			return
		}
		for _, child := range c.Children {
			descend(CellRef{ref.Level + 1, child})
		}
	}
	for i := range m.Levels[0] {
		descend(CellRef{0, i})
	}
}

// connectFaces matches faces through the face-to-vertex incidence product
// FToF = FToV * FToV^T: two distinct faces sharing all 2^(dim-1) vertices
// are the two sides of one interior face. vertexOf maps (cell, local
// vertex) to a global vertex id.
func (m *Mesh) connectFaces(nCells int, vertexOf func(k, lv int) int) (etoe, etof [][]int) {
	var (
		nFaces     = m.NFacesPerCell()
		nvf        = m.VerticesPerFace()
		totalFaces = nFaces * nCells
		nv         = len(m.Vertices)
	)
	FToV := sparse.NewDOK(totalFaces, nv)
	for k := 0; k < nCells; k++ {
		for f := 0; f < nFaces; f++ {
			for _, lv := range FaceVertices(m.Dim, f) {
				FToV.Set(k*nFaces+f, vertexOf(k, lv), 1)
			}
		}
	}
	csr := FToV.ToCSR()
	FToF := sparse.NewCSR(totalFaces, totalFaces, nil, nil, nil)
	FToF.Mul(csr, csr.T())

	etoe = make([][]int, nCells)
	etof = make([][]int, nCells)
	for k := 0; k < nCells; k++ {
		etoe[k] = make([]int, nFaces)
		etof[k] = make([]int, nFaces)
		for f := 0; f < nFaces; f++ {
			etoe[k][f] = NeighborBoundary
			etof[k][f] = -1
		}
	}
	FToF.DoNonZero(func(i, j int, v float64) {
		if i == j || v != float64(nvf) {
			return
		}
		k1, f1 := i/nFaces, i%nFaces
		k2, f2 := j/nFaces, j%nFaces
		etoe[k1][f1] = k2
		etof[k1][f1] = f2
	})
	return
}

// BuildConnectivity computes active-cell adjacency. Same-level neighbors are
// matched directly; a face still unmatched afterwards is resolved against
// coarser levels by walking the parent chain, which identifies hanging
// (refinement-edge) faces. Anything left is a domain-boundary face.
func (m *Mesh) BuildConnectivity() {
	var (
		nFaces = m.NFacesPerCell()
		K      = m.NActiveCells()
	)
	// Per-level connectivity over all cells, used to hop across levels
	m.LevelEToE = make([][][]int, len(m.Levels))
	m.LevelEToF = make([][][]int, len(m.Levels))
	for l := range m.Levels {
		cells := m.Levels[l]
		m.LevelEToE[l], m.LevelEToF[l] = m.connectFaces(len(cells),
			func(k, lv int) int { return cells[k].Vertices[lv] })
	}

	m.EToE = make([][]int, K)
	m.EToF = make([][]int, K)
	m.BoundaryIDs = make([][]int, K)
	m.RefinementEdge = make([][]bool, K)
	for k := 0; k < K; k++ {
		ref := m.ActiveRefs[k]
		m.EToE[k] = make([]int, nFaces)
		m.EToF[k] = make([]int, nFaces)
		m.BoundaryIDs[k] = make([]int, nFaces)
		m.RefinementEdge[k] = make([]bool, nFaces)
		for f := 0; f < nFaces; f++ {
			m.EToE[k][f] = NeighborBoundary
			m.EToF[k][f] = -1
			m.BoundaryIDs[k][f] = 0
			nbr := m.LevelEToE[ref.Level][ref.Index][f]
			if nbr >= 0 {
				nref := CellRef{ref.Level, nbr}
				if m.Cell(nref).IsActive() {
					m.EToE[k][f] = m.activeOrdinal[nref]
					m.EToF[k][f] = m.LevelEToF[ref.Level][ref.Index][f]
					m.BoundaryIDs[k][f] = -1
				} else {
					// Neighbor refined further; fine cells own the face
					m.EToE[k][f] = NeighborRefined
					m.BoundaryIDs[k][f] = -1
				}
				continue
			}
			// Walk the ancestor chain looking for a coarser neighbor
			if coarse, cf := m.coarseNeighbor(ref, f); coarse >= 0 {
				m.EToE[k][f] = coarse
				m.EToF[k][f] = cf
				m.BoundaryIDs[k][f] = -1
				m.RefinementEdge[k][f] = true
			}
		}
	}
}

// coarseNeighbor ascends from ref through ancestors touching local face f
// until a level is found where the neighbor exists; if that neighbor is an
// active cell, it is the coarse side of a hanging face.
func (m *Mesh) coarseNeighbor(ref CellRef, f int) (ord, nf int) {
	var (
		axis, side = f / 2, f % 2
		cur        = ref
	)
	for cur.Level > 0 {
		c := m.Cell(cur)
		childNum := m.childNumber(cur)
		if (childNum>>axis)&1 != side {
			// The face is interior to the parent; no coarser neighbor
			return -1, -1
		}
		cur = CellRef{cur.Level - 1, c.Parent}
		nbr := m.LevelEToE[cur.Level][cur.Index][f]
		if nbr < 0 {
			continue
		}
		nref := CellRef{cur.Level, nbr}
		if m.Cell(nref).IsActive() {
			return m.activeOrdinal[nref], m.LevelEToF[cur.Level][cur.Index][f]
		}
		return -1, -1
	}
	return -1, -1
}

// childNumber recovers which child of its parent ref is.
func (m *Mesh) childNumber(ref CellRef) int {
	c := m.Cell(ref)
	parent := m.Levels[ref.Level-1][c.Parent]
	for i, child := range parent.Children {
		if child == ref.Index {
			return i
		}
	}
	panic(fmt.Sprintf("cell (%d,%d) not found among its parent's children",
		ref.Level, ref.Index))
}

// Finalize recomputes the active ordering and connectivity.
func (m *Mesh) Finalize() {
	m.CollectActive()
	m.BuildConnectivity()
}

// SetSubdomain assigns ownership of one active cell.
func (m *Mesh) SetSubdomain(ord, subdomain int) {
	c := m.Cell(m.ActiveRefs[ord])
	c.SubdomainID = subdomain
	c.LevelSubdomainID = subdomain
}

// DistortVertex displaces one vertex, used to build curved and degenerate
// test geometries.
func (m *Mesh) DistortVertex(v int, delta []float64) error {
	if len(delta) != m.SpaceDim {
		return fmt.Errorf("displacement has %d components, mesh spacedim is %d",
			len(delta), m.SpaceDim)
	}
	for d := range delta {
		m.Vertices[v][d] += delta[d]
	}
	return nil
}
