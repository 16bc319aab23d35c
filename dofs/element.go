package dofs

import (
	"github.com/notargets/matfree/utils"
)

// FiniteElement describes a scalar continuous Q_p element on a
// hyper-rectangular cell: one dof per vertex, p-1 per edge, (p-1)^2 per
// quad, (p-1)^3 per hex. Per-cell dofs are handled in lexicographic tensor
// order, x fastest.
type FiniteElement struct {
	Dim, Degree int
	DofsPerCell int
	DofsPerFace int
}

func NewQ(dim, degree int) FiniteElement {
	if degree < 1 {
		panic("continuous elements need degree >= 1")
	}
	return FiniteElement{
		Dim:         dim,
		Degree:      degree,
		DofsPerCell: utils.IntPow(degree+1, dim),
		DofsPerFace: utils.IntPow(degree+1, dim-1),
	}
}

// NodeCoordinate decodes lexicographic dof i into per-axis node numbers
// in 0..Degree.
func (fe FiniteElement) NodeCoordinate(i int, out []int) {
	for d := 0; d < fe.Dim; d++ {
		out[d] = i % (fe.Degree + 1)
		i /= fe.Degree + 1
	}
}

// FaceDofs lists the cell-local lexicographic dof numbers lying on local
// face f (axis f/2, side f%2).
func (fe FiniteElement) FaceDofs(f int) (lds []int) {
	var (
		axis, side = f / 2, f % 2
		want       = 0
		ijk        = make([]int, fe.Dim)
	)
	if side == 1 {
		want = fe.Degree
	}
	for i := 0; i < fe.DofsPerCell; i++ {
		fe.NodeCoordinate(i, ijk)
		if ijk[axis] == want {
			lds = append(lds, i)
		}
	}
	return
}
