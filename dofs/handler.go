package dofs

import (
	"fmt"
	"strings"

	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/quadrature"
)

// DoFHandler enumerates global dofs for a (possibly hp) collection of Q_p
// elements on the active cells of a mesh. Dofs shared between cells are
// identified through their support-point location, which is independent of
// the traversal order of the cells touching them.
type DoFHandler struct {
	Mesh         *mesh.Mesh
	FECollection []FiniteElement

	// ActiveFEIndex selects the element per active cell; all zero unless
	// set by the caller before Distribute.
	ActiveFEIndex []int

	NDofs    int
	cellDofs [][]int

	// DofSubdomain is the owning subdomain per dof: the smallest
	// subdomain id among the cells touching it.
	DofSubdomain []int
}

func NewDoFHandler(m *mesh.Mesh, fes ...FiniteElement) (dh *DoFHandler, err error) {
	if len(fes) == 0 {
		return nil, fmt.Errorf("at least one finite element is required")
	}
	for _, fe := range fes {
		if fe.Dim != m.Dim {
			return nil, fmt.Errorf("element dimension %d does not match mesh dimension %d",
				fe.Dim, m.Dim)
		}
	}
	dh = &DoFHandler{
		Mesh:          m,
		FECollection:  fes,
		ActiveFEIndex: make([]int, m.NActiveCells()),
	}
	return
}

// FE returns the element active on cell ord.
func (dh *DoFHandler) FE(ord int) FiniteElement {
	return dh.FECollection[dh.ActiveFEIndex[ord]]
}

// Distribute assigns global dof numbers over all active cells. Support
// points are interpolated multilinearly from the cell corners through the
// mesh manifold; cells sharing a vertex, edge or face therefore agree on
// the shared dof locations and receive identical numbers there.
func (dh *DoFHandler) Distribute() {
	var (
		m        = dh.Mesh
		K        = m.NActiveCells()
		keyToDof = make(map[string]int)
	)
	dh.cellDofs = make([][]int, K)
	dh.DofSubdomain = dh.DofSubdomain[:0]
	for k := 0; k < K; k++ {
		ref := m.ActiveRefs[k]
		cell := m.Cell(ref)
		fe := dh.FE(k)
		corners := m.VertexCoords(ref)
		nodes1D := lobattoNodes(fe.Degree)
		ijk := make([]int, m.Dim)
		dh.cellDofs[k] = make([]int, fe.DofsPerCell)
		weights := make([]float64, len(corners))
		for i := 0; i < fe.DofsPerCell; i++ {
			fe.NodeCoordinate(i, ijk)
			for w := range weights {
				weights[w] = 1
			}
			for d := 0; d < m.Dim; d++ {
				x := nodes1D[ijk[d]]
				for w := range weights {
					if (w>>d)&1 == 1 {
						weights[w] *= x
					} else {
						weights[w] *= 1 - x
					}
				}
			}
			pt := m.Manifold.InterpolatePoint(corners, weights)
			key := dofKey(dh.ActiveFEIndex[k], pt)
			dof, exists := keyToDof[key]
			if !exists {
				dof = len(dh.DofSubdomain)
				keyToDof[key] = dof
				dh.DofSubdomain = append(dh.DofSubdomain, cell.SubdomainID)
			} else if cell.SubdomainID < dh.DofSubdomain[dof] {
				dh.DofSubdomain[dof] = cell.SubdomainID
			}
			dh.cellDofs[k][i] = dof
		}
	}
	dh.NDofs = len(dh.DofSubdomain)
}

// CellDofIndices returns the global dofs of one active cell in
// lexicographic order. The slice is owned by the handler.
func (dh *DoFHandler) CellDofIndices(ord int) []int {
	return dh.cellDofs[ord]
}

// LocallyOwnedDofs collects the dofs owned by the given subdomain.
func (dh *DoFHandler) LocallyOwnedDofs(subdomain int) (s *IndexSet) {
	s = NewIndexSet(dh.NDofs)
	for dof, sd := range dh.DofSubdomain {
		if sd == subdomain {
			s.AddIndex(dof)
		}
	}
	s.Compress()
	return
}

// Renumber applies a permutation to the global numbering: dof i becomes
// perm[i]. The permutation must be a bijection on [0, NDofs).
func (dh *DoFHandler) Renumber(perm []int) error {
	if len(perm) != dh.NDofs {
		return fmt.Errorf("permutation has %d entries, expected %d", len(perm), dh.NDofs)
	}
	seen := make([]bool, dh.NDofs)
	for _, p := range perm {
		if p < 0 || p >= dh.NDofs || seen[p] {
			return fmt.Errorf("not a permutation of [0,%d)", dh.NDofs)
		}
		seen[p] = true
	}
	for k := range dh.cellDofs {
		for i, dof := range dh.cellDofs[k] {
			dh.cellDofs[k][i] = perm[dof]
		}
	}
	newSub := make([]int, dh.NDofs)
	for dof, sd := range dh.DofSubdomain {
		newSub[perm[dof]] = sd
	}
	dh.DofSubdomain = newSub
	return nil
}

// lobattoNodes gives the p+1 Gauss-Lobatto support locations on [0,1] used
// for dof identification, matching the mapping support layout.
func lobattoNodes(p int) []float64 {
	nodes := nodeCache[p]
	if nodes == nil {
		nodes = quadrature.GaussLobatto(p + 1).Points
		nodeCache[p] = nodes
	}
	return nodes
}

var nodeCache = map[int][]float64{}

func dofKey(feIndex int, pt []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|", feIndex)
	for _, x := range pt {
		fmt.Fprintf(&b, "%.10e,", x)
	}
	return b.String()
}
