package mesh

import "fmt"

// HyperRectangle generates a dim-dimensional structured mesh of
// divisions[0] x ... x divisions[dim-1] cells spanning [lower, upper].
// All cells are active root cells owned by subdomain 0.
func HyperRectangle(lower, upper []float64, divisions []int) (m *Mesh, err error) {
	var (
		dim = len(divisions)
	)
	if len(lower) != dim || len(upper) != dim {
		return nil, fmt.Errorf("corner points have %d/%d components, expected %d",
			len(lower), len(upper), dim)
	}
	if dim < 1 || dim > 3 {
		return nil, fmt.Errorf("unsupported dimension %d", dim)
	}
	for d, n := range divisions {
		if n < 1 {
			return nil, fmt.Errorf("divisions[%d] = %d, must be positive", d, n)
		}
		if upper[d] <= lower[d] {
			return nil, fmt.Errorf("degenerate extent along axis %d", d)
		}
	}
	m = &Mesh{
		Dim:      dim,
		SpaceDim: dim,
		Manifold: FlatManifold{},
	}
	// Vertex lattice, x fastest
	nPts := make([]int, dim)
	for d := range nPts {
		nPts[d] = divisions[d] + 1
	}
	nVerts := 1
	for _, n := range nPts {
		nVerts *= n
	}
	m.Vertices = make([][]float64, nVerts)
	for v := 0; v < nVerts; v++ {
		pt := make([]float64, dim)
		rem := v
		for d := 0; d < dim; d++ {
			i := rem % nPts[d]
			rem /= nPts[d]
			pt[d] = lower[d] + (upper[d]-lower[d])*float64(i)/float64(divisions[d])
		}
		m.Vertices[v] = pt
	}
	vertexID := func(ijk []int) (id int) {
		stride := 1
		for d := 0; d < dim; d++ {
			id += ijk[d] * stride
			stride *= nPts[d]
		}
		return
	}
	nCells := 1
	for _, n := range divisions {
		nCells *= n
	}
	cells := make([]Cell, nCells)
	ijk := make([]int, dim)
	corner := make([]int, dim)
	for k := 0; k < nCells; k++ {
		rem := k
		for d := 0; d < dim; d++ {
			ijk[d] = rem % divisions[d]
			rem /= divisions[d]
		}
		verts := make([]int, 1<<dim)
		for v := 0; v < 1<<dim; v++ {
			for d := 0; d < dim; d++ {
				corner[d] = ijk[d] + (v>>d)&1
			}
			verts[v] = vertexID(corner)
		}
		cells[k] = Cell{Vertices: verts, Parent: -1}
	}
	m.Levels = [][]Cell{cells}
	m.Finalize()
	return
}

// UnitCube is the [0,1]^dim hypercube split into divisions^dim cells.
func UnitCube(dim, divisions int) (*Mesh, error) {
	var (
		lower = make([]float64, dim)
		upper = make([]float64, dim)
		div   = make([]int, dim)
	)
	for d := 0; d < dim; d++ {
		upper[d] = 1
		div[d] = divisions
	}
	return HyperRectangle(lower, upper, div)
}

// FromVertices builds a single-level mesh from explicit vertex coordinates
// and cell-to-vertex lists, allowing spaceDim > dim for embedded manifolds.
func FromVertices(dim, spaceDim int, vertices [][]float64, cellVertices [][]int) (m *Mesh, err error) {
	if spaceDim < dim {
		return nil, fmt.Errorf("spacedim %d smaller than dim %d", spaceDim, dim)
	}
	for i, pt := range vertices {
		if len(pt) != spaceDim {
			return nil, fmt.Errorf("vertex %d has %d coordinates, expected %d",
				i, len(pt), spaceDim)
		}
	}
	m = &Mesh{
		Dim:      dim,
		SpaceDim: spaceDim,
		Vertices: vertices,
		Manifold: FlatManifold{},
	}
	cells := make([]Cell, len(cellVertices))
	for k, cv := range cellVertices {
		if len(cv) != 1<<dim {
			return nil, fmt.Errorf("cell %d has %d vertices, expected %d",
				k, len(cv), 1<<dim)
		}
		verts := make([]int, len(cv))
		copy(verts, cv)
		cells[k] = Cell{Vertices: verts, Parent: -1}
	}
	m.Levels = [][]Cell{cells}
	m.Finalize()
	return
}
