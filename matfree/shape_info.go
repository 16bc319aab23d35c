// Package matfree is the matrix-free operator evaluation engine: it caches
// shape-function tables, compressed dof indices, a vectorized cell schedule,
// face topology and per-batch geometric data, and drives evaluation loops
// over the batched cells.
package matfree

import (
	"fmt"
	"sort"

	"github.com/notargets/matfree/dofs"
	"github.com/notargets/matfree/geometry"
	"github.com/notargets/matfree/quadrature"
	"github.com/notargets/matfree/utils"
)

// ShapeInfo holds the 1-D shape function tables of one finite element
// evaluated at one 1-D quadrature rule, plus the numbering maps between
// the tensor-product (lexicographic) dof order and the hierarchic order
// (vertices first, then edge, face and interior dofs).
type ShapeInfo struct {
	Degree, NQ1 int

	// Values, Gradients, Hessians are nq1 x (p+1): row q holds all basis
	// functions at quadrature point q.
	Values, Gradients, Hessians utils.Matrix

	Nodes      []float64 // 1-D support nodes on [0,1]
	QPoints1D  []float64
	QWeights1D []float64

	LexToHier, HierToLex []int
}

// NewShapeInfo tabulates the Lagrange basis of fe at the points of r.
func NewShapeInfo(fe dofs.FiniteElement, r quadrature.Rule1D) (si ShapeInfo) {
	var (
		basis = geometry.NewLagrangeBasis1D(fe.Degree)
		n     = fe.Degree + 1
		nq    = r.Len()
	)
	si = ShapeInfo{
		Degree:     fe.Degree,
		NQ1:        nq,
		Values:     utils.NewMatrix(nq, n),
		Gradients:  utils.NewMatrix(nq, n),
		Hessians:   utils.NewMatrix(nq, n),
		Nodes:      basis.Nodes,
		QPoints1D:  r.Points,
		QWeights1D: r.Weights,
	}
	for q := 0; q < nq; q++ {
		x := r.Points[q]
		for i := 0; i < n; i++ {
			si.Values.Set(q, i, basis.Value(i, x))
			si.Gradients.Set(q, i, basis.Derivative(i, 1, x))
			si.Hessians.Set(q, i, basis.Derivative(i, 2, x))
		}
	}
	si.LexToHier, si.HierToLex = hierarchicMaps(fe.Dim, fe.Degree)
	return
}

// hierarchicMaps orders the tensor-product dofs hierarchically: first the
// cell vertices, then dofs interior to edges, faces and finally the cell,
// grouped by which axes carry an interior node index.
func hierarchicMaps(dim, p int) (lexToHier, hierToLex []int) {
	var (
		n     = utils.IntPow(p+1, dim)
		nodes = make([]struct {
			objDim, mask, lex int
		}, n)
	)
	for lex := 0; lex < n; lex++ {
		rem := lex
		objDim, mask := 0, 0
		for d := 0; d < dim; d++ {
			idx := rem % (p + 1)
			rem /= p + 1
			if idx > 0 && idx < p {
				objDim++
				mask |= 1 << d
			}
		}
		nodes[lex] = struct{ objDim, mask, lex int }{objDim, mask, lex}
	}
	sort.SliceStable(nodes, func(a, b int) bool {
		if nodes[a].objDim != nodes[b].objDim {
			return nodes[a].objDim < nodes[b].objDim
		}
		if nodes[a].mask != nodes[b].mask {
			return nodes[a].mask < nodes[b].mask
		}
		return nodes[a].lex < nodes[b].lex
	})
	lexToHier = make([]int, n)
	hierToLex = make([]int, n)
	for hier, nd := range nodes {
		lexToHier[nd.lex] = hier
		hierToLex[hier] = nd.lex
	}
	return
}

// shapeKey identifies one (active fe index, quadrature collection index)
// table within a ShapeInfo set.
type shapeKey struct {
	fe, quad int
}

// buildShapeTables tabulates every active fe of dh against every 1-D rule of
// the quadrature collection. Non-tensor-product quadratures have no 1-D
// decomposition and are rejected for matrix-free evaluation.
func buildShapeTables(dh *dofs.DoFHandler, quads []quadrature.Quadrature) (
	tables map[shapeKey]ShapeInfo, err error) {
	tables = make(map[shapeKey]ShapeInfo)
	for qi, q := range quads {
		if !q.IsTensorProduct {
			return nil, fmt.Errorf(
				"quadrature %d has no tensor-product decomposition; "+
					"matrix-free evaluation requires one", qi)
		}
		for fi, fe := range dh.FECollection {
			tables[shapeKey{fi, qi}] = NewShapeInfo(fe, q.Rules1D[0])
		}
	}
	return
}
