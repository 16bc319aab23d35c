package geometry

import (
	"github.com/notargets/matfree/quadrature"
)

// Scratch is a caller-owned arena for the sum-factorization work buffers.
// Sized once per batch shape and reused across fill calls; never shared
// between goroutines.
type Scratch struct {
	a, b []float64
}

// NewScratch allocates buffers large enough for nq1 quadrature points per
// axis with the given mapping.
func NewScratch(mq *MappingQ, nq1 int) *Scratch {
	n := nq1
	if mq.Degree+1 > n {
		n = mq.Degree + 1
	}
	size := mq.SpaceDim
	for d := 0; d < mq.Dim; d++ {
		size *= n
	}
	return &Scratch{
		a: make([]float64, size),
		b: make([]float64, size),
	}
}

// CellGeometry carries the geometric quantities of one cell evaluated at
// its quadrature points.
type CellGeometry struct {
	Points           [][]float64
	Jacobians        [][]float64 // q -> spacedim x dim, row-major
	InverseJacobians [][]float64 // q -> dim x spacedim, only when dim == spacedim
	Hessians         [][]float64 // q -> spacedim x dim x dim reference derivatives
	PushedHessians   [][]float64 // q -> spacedim x dim x dim physical derivatives
	JxW              []float64
	DetJ             []float64
}

// FillCellGeometry evaluates points, Jacobians, JxW and (optionally)
// second derivatives at all quadrature points of one cell. Tensor-product
// quadrature with degree >= 2 and more than one point per axis goes through
// the fused sum-factorized path; everything else uses direct contraction.
// A Jacobian determinant that is not safely positive relative to the cell
// size reports a DistortedCellError.
func (mq *MappingQ) FillCellGeometry(support [][]float64, quad quadrature.Quadrature,
	diameter float64, wantHessians bool, scratch *Scratch) (g *CellGeometry, err error) {
	var (
		nq = quad.Len()
	)
	g = &CellGeometry{
		Points:    make([][]float64, nq),
		Jacobians: make([][]float64, nq),
		JxW:       make([]float64, nq),
		DetJ:      make([]float64, nq),
	}
	if wantHessians {
		g.Hessians = make([][]float64, nq)
	}
	if quad.IsTensorProduct && mq.Degree >= 2 && quad.Rules1D[0].Len() > 1 {
		mq.fillSumFactorized(support, quad, wantHessians, scratch, g)
	} else {
		maxOrder := 1
		if wantHessians {
			maxOrder = 2
		}
		for q := 0; q < nq; q++ {
			d := mq.MapDerivatives(support, quad.Points[q], maxOrder)
			g.Points[q] = d[0]
			g.Jacobians[q] = d[1]
			if wantHessians {
				g.Hessians[q] = d[2]
			}
		}
	}
	if err = mq.fillMeasures(quad, diameter, wantHessians, g); err != nil {
		return nil, err
	}
	return
}

// fillMeasures computes determinants, JxW, inverse Jacobians and pushed
// forward Hessians from the raw derivative tensors.
func (mq *MappingQ) fillMeasures(quad quadrature.Quadrature, diameter float64,
	wantHessians bool, g *CellGeometry) error {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		sizeTol  = distortedRelTol
	)
	for d := 0; d < dim; d++ {
		sizeTol *= diameter
	}
	square := dim == spaceDim
	if square {
		g.InverseJacobians = make([][]float64, quad.Len())
	}
	if wantHessians && square {
		g.PushedHessians = make([][]float64, quad.Len())
	}
	for q := range g.Jacobians {
		j := g.Jacobians[q]
		if square {
			det := Det(j, dim)
			g.DetJ[q] = det
			if det <= sizeTol {
				return &DistortedCellError{Det: det, Diameter: diameter}
			}
			inv := make([]float64, dim*dim)
			Invert(j, inv, dim)
			g.InverseJacobians[q] = inv
			g.JxW[q] = quad.Weights[q] * det
			if wantHessians {
				g.PushedHessians[q] = pushForward(g.Hessians[q], inv, spaceDim, dim)
			}
		} else {
			se := SurfaceElement(j, spaceDim, dim)
			g.DetJ[q] = se
			if se <= sizeTol {
				return &DistortedCellError{Det: se, Diameter: diameter}
			}
			g.JxW[q] = quad.Weights[q] * se
		}
	}
	return nil
}

// pushForward contracts a reference second-derivative tensor with the
// inverse Jacobian one index at a time, producing physical-space
// derivatives.
func pushForward(h, jinv []float64, spaceDim, dim int) (out []float64) {
	var (
		tmp = make([]float64, spaceDim*dim*dim)
	)
	out = make([]float64, spaceDim*dim*dim)
	// first index
	for s := 0; s < spaceDim; s++ {
		for i := 0; i < dim; i++ {
			for b := 0; b < dim; b++ {
				var sum float64
				for a := 0; a < dim; a++ {
					sum += h[s*dim*dim+a*dim+b] * jinv[a*dim+i]
				}
				tmp[s*dim*dim+i*dim+b] = sum
			}
		}
	}
	// second index
	for s := 0; s < spaceDim; s++ {
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				var sum float64
				for b := 0; b < dim; b++ {
					sum += tmp[s*dim*dim+i*dim+b] * jinv[b*dim+j]
				}
				out[s*dim*dim+i*dim+j] = sum
			}
		}
	}
	return
}

// fillSumFactorized evaluates values, gradients and Hessians of the
// vector-valued map at all tensor quadrature points in one fused pass per
// derivative combination, contracting one axis at a time.
func (mq *MappingQ) fillSumFactorized(support [][]float64, quad quadrature.Quadrature,
	wantHessians bool, scratch *Scratch, g *CellGeometry) {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		n1       = mq.Degree + 1
		nq1      = quad.Rules1D[0].Len()
		nq       = quad.Len()
	)
	if scratch == nil {
		scratch = NewScratch(mq, nq1)
	}
	// 1-D shape tables: value, first, second derivative at the 1-D points
	maxOrder := 1
	if wantHessians {
		maxOrder = 2
	}
	tables := make([][]float64, maxOrder+1)
	for o := 0; o <= maxOrder; o++ {
		tables[o] = make([]float64, nq1*n1)
		for q := 0; q < nq1; q++ {
			for i := 0; i < n1; i++ {
				tables[o][q*n1+i] = mq.Basis.Derivative(i, o, quad.Rules1D[0].Points[q])
			}
		}
	}
	// coefficient array in lexicographic layout, innermost component index
	coeff := make([]float64, mq.NSupport*spaceDim)
	for i, pt := range support {
		for s := 0; s < spaceDim; s++ {
			coeff[i*spaceDim+s] = pt[s]
		}
	}
	orders := make([]int, dim)
	evaluate := func() []float64 {
		copy(scratch.a, coeff)
		src, dst := scratch.a, scratch.b
		pre := 1
		for d := 0; d < dim; d++ {
			post := 1
			for k := d + 1; k < dim; k++ {
				post *= n1
			}
			contractAxis(src, dst, tables[orders[d]], pre, n1, nq1, post, spaceDim)
			pre *= nq1
			src, dst = dst, src
		}
		res := make([]float64, nq*spaceDim)
		copy(res, src[:nq*spaceDim])
		return res
	}
	setOrders := func(a, b int) {
		for d := range orders {
			orders[d] = 0
		}
		if a >= 0 {
			orders[a]++
		}
		if b >= 0 {
			orders[b]++
		}
	}

	// values
	setOrders(-1, -1)
	vals := evaluate()
	for q := 0; q < nq; q++ {
		g.Points[q] = vals[q*spaceDim : (q+1)*spaceDim]
	}
	// gradients, one axis per pass
	for q := 0; q < nq; q++ {
		g.Jacobians[q] = make([]float64, spaceDim*dim)
	}
	for d := 0; d < dim; d++ {
		setOrders(d, -1)
		grad := evaluate()
		for q := 0; q < nq; q++ {
			for s := 0; s < spaceDim; s++ {
				g.Jacobians[q][s*dim+d] = grad[q*spaceDim+s]
			}
		}
	}
	if !wantHessians {
		return
	}
	for q := 0; q < nq; q++ {
		g.Hessians[q] = make([]float64, spaceDim*dim*dim)
	}
	for a := 0; a < dim; a++ {
		for b := a; b < dim; b++ {
			setOrders(a, b)
			hes := evaluate()
			for q := 0; q < nq; q++ {
				for s := 0; s < spaceDim; s++ {
					v := hes[q*spaceDim+s]
					g.Hessians[q][s*dim*dim+a*dim+b] = v
					g.Hessians[q][s*dim*dim+b*dim+a] = v
				}
			}
		}
	}
}

// contractAxis applies the nq x n1 shape table S to one axis of the
// coefficient array. Layout: flat index (i_pre + pre*(i_axis + n*(i_post)))
// * comps + c, with already-contracted axes in the prefix.
func contractAxis(in, out, S []float64, pre, n1, nq, post, comps int) {
	for po := 0; po < post; po++ {
		for q := 0; q < nq; q++ {
			for pr := 0; pr < pre; pr++ {
				for c := 0; c < comps; c++ {
					var sum float64
					for i := 0; i < n1; i++ {
						sum += S[q*n1+i] * in[(pr+pre*(i+n1*po))*comps+c]
					}
					out[(pr+pre*(q+nq*po))*comps+c] = sum
				}
			}
		}
	}
}
