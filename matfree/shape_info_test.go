package matfree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/matfree/dofs"
	"github.com/notargets/matfree/quadrature"
)

func TestUpdateFlagsClosure(t *testing.T) {
	{
		// JxW pulls in volume elements and Jacobians
		f := UpdateJxW.Close()
		assert.NotZero(t, f&UpdateVolumeElements)
		assert.NotZero(t, f&UpdateJacobians)
	}
	{
		// pushed Hessians need second derivatives and the covariant path
		f := UpdateHessians.Close()
		assert.NotZero(t, f&UpdateJacobianGrads)
		assert.NotZero(t, f&UpdateInverseJacobians)
		assert.NotZero(t, f&UpdateJacobians)
	}
	{
		// the closure is idempotent
		for _, f := range []UpdateFlags{
			UpdateDefault, UpdateJxW, UpdateGradients | UpdateQuadraturePoints,
			UpdateHessians | UpdateNormals | UpdateJxW,
		} {
			closed := f.Close()
			assert.Equal(t, closed, closed.Close())
			// closing never drops a requested bit
			assert.Equal(t, f, closed&f)
		}
	}
}

func TestShapeInfoTables(t *testing.T) {
	var (
		fe = dofs.NewQ(1, 2)
		r  = quadrature.GaussLegendre(3)
		si = NewShapeInfo(fe, r)
	)
	assert.Equal(t, 3, si.NQ1)
	// partition of unity: values sum to one, gradients to zero, at every
	// quadrature point
	for q := 0; q < si.NQ1; q++ {
		var vsum, gsum float64
		for i := 0; i <= fe.Degree; i++ {
			vsum += si.Values.At(q, i)
			gsum += si.Gradients.At(q, i)
		}
		assert.InDelta(t, 1.0, vsum, 1.e-13)
		assert.InDelta(t, 0.0, gsum, 1.e-12)
	}
	// interpolation: the tables reproduce x^2 exactly for degree 2
	for q := 0; q < si.NQ1; q++ {
		var v, g float64
		for i := 0; i <= fe.Degree; i++ {
			v += si.Values.At(q, i) * si.Nodes[i] * si.Nodes[i]
			g += si.Gradients.At(q, i) * si.Nodes[i] * si.Nodes[i]
		}
		x := r.Points[q]
		assert.InDelta(t, x*x, v, 1.e-13)
		assert.InDelta(t, 2*x, g, 1.e-12)
	}
}

func TestHierarchicMaps(t *testing.T) {
	{
		// 1-D quadratic: vertices first, then the interior node
		lexToHier, hierToLex := hierarchicMaps(1, 2)
		assert.Equal(t, []int{0, 2, 1}, hierToLex)
		assert.Equal(t, []int{0, 2, 1}, lexToHier)
	}
	{
		// 2-D quadratic: 4 vertices, 4 edge nodes, 1 interior
		lexToHier, hierToLex := hierarchicMaps(2, 2)
		n := 9
		assert.Equal(t, n, len(lexToHier))
		// bijection
		for lex, hier := range lexToHier {
			assert.Equal(t, lex, hierToLex[hier])
		}
		// the corners occupy the first four hierarchic slots
		corners := map[int]bool{0: true, 2: true, 6: true, 8: true}
		for hier := 0; hier < 4; hier++ {
			assert.True(t, corners[hierToLex[hier]])
		}
		// the cell-interior node (lex 4) comes last
		assert.Equal(t, 4, hierToLex[n-1])
	}
	{
		// 3-D cubic: 8 + 12*2 + 6*4 + 8 = 64
		lexToHier, hierToLex := hierarchicMaps(3, 3)
		assert.Equal(t, 64, len(lexToHier))
		for lex, hier := range lexToHier {
			assert.Equal(t, lex, hierToLex[hier])
		}
	}
}

func TestBuildShapeTablesRejectsNonTensor(t *testing.T) {
	m := quadrature.FromPoints(2,
		[][]float64{{0.5, 0.5}}, []float64{1})
	dh := &dofs.DoFHandler{FECollection: []dofs.FiniteElement{dofs.NewQ(2, 1)}}
	_, err := buildShapeTables(dh, []quadrature.Quadrature{m})
	assert.Error(t, err)
}

func TestTensorApplyAdjoint(t *testing.T) {
	// <B u, v>_quad == <u, B^T v>_dof for the gradient contraction
	var (
		fe = dofs.NewQ(2, 2)
		si = NewShapeInfo(fe, quadrature.GaussLegendre(3))
		n  = fe.DofsPerCell
		nq = si.NQ1 * si.NQ1
		u  = make([]float64, n)
		v  = make([]float64, nq)
	)
	for i := range u {
		u[i] = math.Sin(float64(i) + 1)
	}
	for q := range v {
		v[q] = math.Cos(float64(q))
	}
	Bu := tensorApply(si, 2, 3, u, 0, false)
	Btv := tensorApply(si, 2, 3, v, 0, true)
	var lhs, rhs float64
	for q := range v {
		lhs += Bu[q] * v[q]
	}
	for i := range u {
		rhs += u[i] * Btv[i]
	}
	assert.InDelta(t, lhs, rhs, 1.e-10*(1+math.Abs(lhs)))
}
