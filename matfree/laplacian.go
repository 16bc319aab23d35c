package matfree

import (
	"fmt"

	"github.com/notargets/matfree/utils"
)

// LaplaceOperator applies the matrix-free stiffness operator of the Laplace
// equation: dst = A src with A_ij = (grad phi_i, grad phi_j), evaluated cell
// by cell through the cached geometry and sum-factorized shape tables.
type LaplaceOperator struct {
	MF            *MatrixFree
	Handler, Quad int
}

func NewLaplaceOperator(mf *MatrixFree) *LaplaceOperator {
	if mf.Mapping.Dim != mf.Mapping.SpaceDim {
		panic(fmt.Sprintf("Laplace operator needs dim == spacedim, got %d and %d",
			mf.Mapping.Dim, mf.Mapping.SpaceDim))
	}
	return &LaplaceOperator{MF: mf}
}

// Apply evaluates dst = A src over the locally owned cells. Both vectors are
// in local numbering and sized Partitioner.NLocal(). Constrained rows pass
// src through unchanged, keeping the operator invertible on the constrained
// subspace.
func (op *LaplaceOperator) Apply(dst, src []float64) {
	var (
		mf  = op.MF
		dh  = mf.Handlers[op.Handler]
		dim = mf.Mesh.Dim
	)
	for i := range dst {
		dst[i] = 0
	}
	mf.CellLoop(func(batch int) {
		for lane := 0; lane < mf.NComponentsFilled(batch); lane++ {
			var (
				ord   = mf.Mesh.ActiveOrdinal(mf.CellIterator(batch, lane))
				fe    = dh.FE(ord)
				si    = mf.ShapeInfoFor(op.Handler, dh.ActiveFEIndex[ord], op.Quad)
				n1    = fe.Degree + 1
				nq1   = si.NQ1
				nq    = utils.IntPow(nq1, dim)
				local = make([]float64, fe.DofsPerCell)
				jinv  = mf.InverseJacobians(batch, lane)
				jxw   = mf.JxWValues(batch, lane)
				wRef  = make([][]float64, dim) // per axis, nq test weights
			)
			mf.ReadDofValues(op.Handler, batch, lane, src, local)

			// reference gradients at all quadrature points, one axis at a time
			gradRef := make([][]float64, dim)
			for d := 0; d < dim; d++ {
				gradRef[d] = tensorApply(si, dim, n1, local, d, false)
				wRef[d] = make([]float64, nq)
			}
			// quadrature loop: pull the gradient forward, weigh, pull back
			for q := 0; q < nq; q++ {
				var gPhys [3]float64
				for s := 0; s < dim; s++ {
					for d := 0; d < dim; d++ {
						gPhys[s] += jinv[q][d*dim+s] * gradRef[d][q]
					}
				}
				for d := 0; d < dim; d++ {
					var w float64
					for s := 0; s < dim; s++ {
						w += jinv[q][d*dim+s] * gPhys[s]
					}
					wRef[d][q] = w * jxw[q]
				}
			}
			// transpose contraction back to dof space
			out := make([]float64, fe.DofsPerCell)
			for d := 0; d < dim; d++ {
				contrib := tensorApply(si, dim, n1, wRef[d], d, true)
				for i := range out {
					out[i] += contrib[i]
				}
			}
			mf.DistributeLocalToGlobal(op.Handler, batch, lane, out, dst)
		}
	})
	// constrained rows act as identity
	p := mf.DofInfo[op.Handler].VectorPartitioner
	for _, c := range mf.DofInfo[op.Handler].ConstrainedDofs {
		l := p.GlobalToLocal(c)
		dst[l] = src[l]
	}
}

// tensorApply contracts a lexicographic coefficient array axis by axis with
// the 1-D shape tables, using the gradient table on diffAxis and the value
// table elsewhere. transpose false maps dof coefficients to quadrature
// values; transpose true is the adjoint, quadrature weights to dofs.
func tensorApply(si ShapeInfo, dim, n1 int, in []float64, diffAxis int,
	transpose bool) (cur []float64) {
	cur = in
	pre := 1
	for a := 0; a < dim; a++ {
		tab := si.Values
		if a == diffAxis {
			tab = si.Gradients
		}
		nIn := n1
		if transpose {
			nIn = si.NQ1
		}
		post := len(cur) / (pre * nIn)
		cur = contractShapeAxis(cur, tab, pre, nIn, post, transpose)
		if transpose {
			pre *= n1
		} else {
			pre *= si.NQ1
		}
	}
	return
}

// contractShapeAxis applies the nq x n table tab (or its transpose) along
// the middle axis of an array shaped (post, nIn, pre), x-fastest layout.
func contractShapeAxis(in []float64, tab utils.Matrix, pre, nIn, post int,
	transpose bool) (out []float64) {
	var (
		nq, n = tab.Dims()
		nOut  = nq
	)
	if transpose {
		nOut = n
	}
	out = make([]float64, pre*nOut*post)
	for p := 0; p < post; p++ {
		for i := 0; i < nIn; i++ {
			for j := 0; j < nOut; j++ {
				var t float64
				if transpose {
					t = tab.At(i, j)
				} else {
					t = tab.At(j, i)
				}
				if t == 0 {
					continue
				}
				var (
					src = in[(p*nIn+i)*pre : (p*nIn+i+1)*pre]
					d   = out[(p*nOut+j)*pre : (p*nOut+j+1)*pre]
				)
				for k, v := range src {
					d[k] += t * v
				}
			}
		}
	}
	return
}
