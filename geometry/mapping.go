package geometry

import (
	"fmt"

	"github.com/notargets/matfree/mesh"
)

// inverseStrategy selects how real-to-unit transforms are solved for a given
// (dim, spacedim, degree) combination. Resolved once at construction; no
// runtime type dispatch on the hot path.
type inverseStrategy uint8

const (
	closedForm1D inverseStrategy = iota
	closedForm2D
	genericNewton
	codimNewton
)

// MappingQ is a polynomial mapping of fixed degree from the [0,1]^dim
// reference cell into spacedim-dimensional physical space, built on a
// tensor product of 1-D Lagrange polynomials on Gauss-Lobatto nodes.
type MappingQ struct {
	Dim, SpaceDim, Degree int
	NSupport              int // (degree+1)^dim

	Basis    *LagrangeBasis1D
	strategy inverseStrategy
}

func NewMappingQ(dim, spaceDim, degree int) (mq *MappingQ, err error) {
	if degree < 1 {
		return nil, fmt.Errorf("mapping degree %d, must be at least 1", degree)
	}
	if dim < 1 || dim > 3 || spaceDim < dim || spaceDim > 3 {
		return nil, fmt.Errorf("unsupported dim/spacedim combination %d/%d", dim, spaceDim)
	}
	mq = &MappingQ{
		Dim:      dim,
		SpaceDim: spaceDim,
		Degree:   degree,
		Basis:    NewLagrangeBasis1D(degree),
	}
	n := 1
	for d := 0; d < dim; d++ {
		n *= degree + 1
	}
	mq.NSupport = n
	switch {
	case spaceDim > dim:
		mq.strategy = codimNewton
	case degree == 1 && dim == 1:
		mq.strategy = closedForm1D
	case degree == 1 && dim == 2:
		mq.strategy = closedForm2D
	default:
		mq.strategy = genericNewton
	}
	return
}

// SupportPoints produces the (degree+1)^dim physical support points of one
// cell in lexicographic order, x fastest. Vertices are taken directly; the
// interior and edge nodes are interpolated through the mesh manifold from
// the cell corners with multilinear weights.
func (mq *MappingQ) SupportPoints(m *mesh.Mesh, ref mesh.CellRef) (pts [][]float64) {
	var (
		dim     = mq.Dim
		n1      = mq.Degree + 1
		corners = m.VertexCoords(ref)
		nodes   = mq.Basis.Nodes
	)
	pts = make([][]float64, mq.NSupport)
	weights := make([]float64, len(corners))
	for I := 0; I < mq.NSupport; I++ {
		// multilinear weight of each corner at this tensor node
		for w := range weights {
			weights[w] = 1
		}
		rem := I
		for d := 0; d < dim; d++ {
			x := nodes[rem%n1]
			rem /= n1
			for w := range weights {
				if (w>>d)&1 == 1 {
					weights[w] *= x
				} else {
					weights[w] *= 1 - x
				}
			}
		}
		pts[I] = m.Manifold.InterpolatePoint(corners, weights)
	}
	return
}

// TransformUnitToReal maps a reference point to physical space by
// contracting the support points one axis at a time (sum factorization),
// O(dim*(p+1)^(dim+1)) instead of the naive O((p+1)^(2 dim)).
func (mq *MappingQ) TransformUnitToReal(support [][]float64, x []float64) (p []float64) {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		n1       = mq.Degree + 1
	)
	if mq.Degree == 1 {
		return mq.multilinear(support, x)
	}
	// work buffer holds the partially contracted coefficient array
	size := mq.NSupport
	work := make([]float64, size*spaceDim)
	for i, pt := range support {
		for s := 0; s < spaceDim; s++ {
			work[i*spaceDim+s] = pt[s]
		}
	}
	shape := make([]float64, n1)
	for d := 0; d < dim; d++ {
		for i := 0; i < n1; i++ {
			shape[i] = mq.Basis.Value(i, x[d])
		}
		groups := size / n1
		for g := 0; g < groups; g++ {
			base := g * n1 * spaceDim
			for s := 0; s < spaceDim; s++ {
				var sum float64
				for i := 0; i < n1; i++ {
					sum += shape[i] * work[base+i*spaceDim+s]
				}
				work[g*spaceDim+s] = sum
			}
		}
		size = groups
	}
	p = make([]float64, spaceDim)
	copy(p, work[:spaceDim])
	return
}

// multilinear is the degree-1 fast path: a direct weighted corner sum.
func (mq *MappingQ) multilinear(support [][]float64, x []float64) (p []float64) {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
	)
	p = make([]float64, spaceDim)
	for v := 0; v < 1<<dim; v++ {
		w := 1.0
		for d := 0; d < dim; d++ {
			if (v>>d)&1 == 1 {
				w *= x[d]
			} else {
				w *= 1 - x[d]
			}
		}
		for s := 0; s < spaceDim; s++ {
			p[s] += w * support[v][s]
		}
	}
	return
}

// MapDerivatives evaluates the map and its derivative tensors at one
// reference point. derivs[n] is the order-n tensor stored flat as
// [spacedim][dim]^n, row-major; derivs[0] is the physical point. maxOrder
// up to 4 is supported.
func (mq *MappingQ) MapDerivatives(support [][]float64, x []float64, maxOrder int) (derivs [][]float64) {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		n1       = mq.Degree + 1
	)
	if maxOrder > 4 {
		panic(fmt.Sprintf("derivative order %d not supported", maxOrder))
	}
	// per-axis 1-D values and derivatives at x[d]
	table := make([][][]float64, dim)
	for d := 0; d < dim; d++ {
		table[d] = make([][]float64, maxOrder+1)
		for o := 0; o <= maxOrder; o++ {
			table[d][o] = make([]float64, n1)
		}
		mq.Basis.ValuesAndDerivatives(x[d], maxOrder, table[d])
	}
	derivs = make([][]float64, maxOrder+1)
	counts := make([]int, dim)
	for order := 0; order <= maxOrder; order++ {
		sz := spaceDim
		for n := 0; n < order; n++ {
			sz *= dim
		}
		out := make([]float64, sz)
		nCombos := sz / spaceDim
		for combo := 0; combo < nCombos; combo++ {
			// decode derivative axes d1..dorder from combo
			for d := range counts {
				counts[d] = 0
			}
			rem := combo
			for n := 0; n < order; n++ {
				counts[rem%dim]++
				rem /= dim
			}
			for I := 0; I < mq.NSupport; I++ {
				w := 1.0
				ir := I
				for d := 0; d < dim; d++ {
					w *= table[d][counts[d]][ir%n1]
					ir /= n1
				}
				for s := 0; s < spaceDim; s++ {
					out[s*nCombos+combo] += w * support[I][s]
				}
			}
		}
		derivs[order] = out
	}
	return
}

// Jacobian returns the spacedim x dim Jacobian at one reference point, flat
// row-major: J[s*dim+d] = d x_s / d u_d.
func (mq *MappingQ) Jacobian(support [][]float64, x []float64) []float64 {
	return mq.MapDerivatives(support, x, 1)[1]
}
