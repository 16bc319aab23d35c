package mesh

import (
	"fmt"
	"strings"
)

// RefineCells splits the given active cells isotropically into 2^dim
// children each, creating new vertices through the manifold so that curved
// geometries place midpoints correctly. Connectivity is rebuilt afterwards.
func (m *Mesh) RefineCells(refs []CellRef) {
	var (
		dim = m.Dim
		// coordinate-keyed vertex dedup across all refined cells
		vertexKey = make(map[string]int)
	)
	for v, pt := range m.Vertices {
		vertexKey[coordKey(pt)] = v
	}
	for _, ref := range refs {
		cell := m.Cell(ref)
		if !cell.IsActive() {
			continue
		}
		if ref.Level+1 >= len(m.Levels) {
			m.Levels = append(m.Levels, nil)
		}
		corners := m.VertexCoords(ref)
		children := make([]int, 1<<dim)
		for c := 0; c < 1<<dim; c++ {
			verts := make([]int, 1<<dim)
			for v := 0; v < 1<<dim; v++ {
				// Offset along each axis in half-cell units: 0, 1 or 2
				weights := make([]float64, 1<<dim)
				for w := 0; w < 1<<dim; w++ {
					prod := 1.0
					for d := 0; d < dim; d++ {
						x := float64((c>>d)&1+(v>>d)&1) / 2
						if (w>>d)&1 == 1 {
							prod *= x
						} else {
							prod *= 1 - x
						}
					}
					weights[w] = prod
				}
				pt := m.Manifold.InterpolatePoint(corners, weights)
				key := coordKey(pt)
				id, exists := vertexKey[key]
				if !exists {
					id = len(m.Vertices)
					m.Vertices = append(m.Vertices, pt)
					vertexKey[key] = id
				}
				verts[v] = id
			}
			childIndex := len(m.Levels[ref.Level+1])
			m.Levels[ref.Level+1] = append(m.Levels[ref.Level+1], Cell{
				Vertices:         verts,
				Parent:           ref.Index,
				SubdomainID:      cell.SubdomainID,
				LevelSubdomainID: cell.LevelSubdomainID,
			})
			children[c] = childIndex
		}
		cell.Children = children
	}
	m.Finalize()
}

// GlobalRefine refines every active cell, times over.
func (m *Mesh) GlobalRefine(times int) {
	for t := 0; t < times; t++ {
		refs := make([]CellRef, len(m.ActiveRefs))
		copy(refs, m.ActiveRefs)
		m.RefineCells(refs)
	}
}

func coordKey(pt []float64) string {
	var b strings.Builder
	for _, x := range pt {
		fmt.Fprintf(&b, "%.12e,", x)
	}
	return b.String()
}
