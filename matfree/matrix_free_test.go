package matfree

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/matfree/dofs"
	"github.com/notargets/matfree/geometry"
	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/quadrature"
	"github.com/notargets/matfree/scheduler"
)

// setup builds a fully initialized engine on a divisions^2 unit square with
// Q_degree elements and no constraints.
func setup(t *testing.T, divisions, degree int, data AdditionalData) (
	*MatrixFree, *dofs.DoFHandler) {
	m, err := mesh.UnitCube(2, divisions)
	assert.NoError(t, err)
	mq, err := geometry.NewMappingQ(2, 2, 1)
	assert.NoError(t, err)
	dh, err := dofs.NewDoFHandler(m, dofs.NewQ(2, degree))
	assert.NoError(t, err)
	dh.Distribute()
	ac := dofs.NewAffineConstraints()
	assert.NoError(t, ac.Close())
	quad := quadrature.TensorProduct(2, quadrature.GaussLegendre(degree+1))

	mf := New()
	assert.NoError(t, mf.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{quad}, data))
	return mf, dh
}

func TestReinitQueries(t *testing.T) {
	data := AdditionalData{
		LaneWidth: 2,
		MappingUpdateFlags: UpdateQuadraturePoints | UpdateJxW |
			UpdateGradients,
	}
	mf, dh := setup(t, 3, 1, data)
	assert.True(t, mf.IndicesInitialized())
	assert.True(t, mf.MappingInitialized())
	assert.Equal(t, 5, mf.NCellBatches()) // 9 cells in lanes of 2
	assert.Equal(t, 0, mf.NGhostCellBatches())
	assert.Equal(t, 1, mf.NComponentsFilled(4))

	// cached quadrature points agree with the forward map
	mq := mf.Mapping
	for b := 0; b < mf.NCellBatches(); b++ {
		for lane := 0; lane < mf.NComponentsFilled(b); lane++ {
			ref := mf.CellIterator(b, lane)
			support := mq.SupportPoints(mf.Mesh, ref)
			for q := 0; q < mf.Quads[0].Len(); q++ {
				want := mq.TransformUnitToReal(support, mf.Quads[0].Points[q])
				got := mf.QuadraturePoint(b, lane, q)
				for d := range want {
					assert.InDelta(t, want[d], got[d], 1.e-13)
				}
			}
			// JxW sums to the cell volume, (1/3)^2 here
			var vol float64
			for _, w := range mf.JxWValues(b, lane) {
				vol += w
			}
			assert.InDelta(t, 1.0/9, vol, 1.e-12)
		}
	}

	// compressed rows align with the handler's per-cell indices
	for b := 0; b < mf.NCellBatches(); b++ {
		for lane := 0; lane < mf.NComponentsFilled(b); lane++ {
			ord := mf.Mesh.ActiveOrdinal(mf.CellIterator(b, lane))
			indices, indicators := mf.DofIndices(0, b, lane)
			assert.Empty(t, indicators)
			p := mf.DofInfo[0].VectorPartitioner
			for i, dof := range dh.CellDofIndices(ord) {
				assert.Equal(t, p.GlobalToLocal(dof), indices[i])
			}
		}
	}
}

func TestReinitFailureLeavesCleared(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	mq, _ := geometry.NewMappingQ(2, 2, 1)
	dh, _ := dofs.NewDoFHandler(m, dofs.NewQ(2, 1))
	dh.Distribute()
	ac := dofs.NewAffineConstraints()
	assert.NoError(t, ac.Close())
	// a quadrature without tensor structure cannot be used
	bad := quadrature.FromPoints(2, [][]float64{{0.5, 0.5}}, []float64{1})

	mf := New()
	err := mf.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{bad},
		AdditionalData{})
	assert.Error(t, err)
	assert.False(t, mf.IndicesInitialized())
	assert.False(t, mf.MappingInitialized())
	assert.Panics(t, func() { mf.NCellBatches() })

	// the instance is reusable after the fix
	good := quadrature.TensorProduct(2, quadrature.GaussLegendre(2))
	assert.NoError(t, mf.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{good},
		AdditionalData{LaneWidth: 2, MappingUpdateFlags: UpdateJxW}))
	assert.True(t, mf.MappingInitialized())
}

func TestCellLoopCoverage(t *testing.T) {
	mf, _ := setup(t, 4, 1, AdditionalData{
		TasksParallelScheme: scheduler.SchemeColor,
		LaneWidth:           2,
		BlockSize:           4,
		NThreads:            2,
		MappingUpdateFlags:  UpdateJxW,
	})
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	mf.CellLoop(func(batch int) {
		mu.Lock()
		seen[batch]++
		mu.Unlock()
	})
	assert.Equal(t, mf.NCellBatches(), len(seen))
	for b, n := range seen {
		assert.Equal(t, 1, n, "batch %d", b)
	}
}

func TestTranslationSimilarity(t *testing.T) {
	// a Cartesian mesh with a degree-1 mapping is full of translated
	// batches; the cache must reuse their Jacobians
	mf, _ := setup(t, 4, 1, AdditionalData{
		LaneWidth:          2,
		MappingUpdateFlags: UpdateJxW | UpdateQuadraturePoints,
	})
	var translated int
	for b := range mf.Cache.Batches {
		if mf.Cache.Batches[b].Similarity == SimilarityTranslation {
			translated++
			// shared Jacobian storage with the predecessor
			assert.Same(t, &mf.Cache.Batches[b-1].Lanes[0].Jacobians[0][0],
				&mf.Cache.Batches[b].Lanes[0].Jacobians[0][0])
		}
	}
	assert.True(t, translated > 0)

	// degree 2 disables the check even on the same straight mesh
	m, _ := mesh.UnitCube(2, 4)
	mq, _ := geometry.NewMappingQ(2, 2, 2)
	dh, _ := dofs.NewDoFHandler(m, dofs.NewQ(2, 1))
	dh.Distribute()
	ac := dofs.NewAffineConstraints()
	assert.NoError(t, ac.Close())
	quad := quadrature.TensorProduct(2, quadrature.GaussLegendre(2))
	mf2 := New()
	assert.NoError(t, mf2.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{quad},
		AdditionalData{LaneWidth: 2, MappingUpdateFlags: UpdateJxW}))
	for b := range mf2.Cache.Batches {
		assert.Equal(t, SimilarityNone, mf2.Cache.Batches[b].Similarity)
	}
}

func TestRenumberDofsRebuild(t *testing.T) {
	mf, dh := setup(t, 2, 1, AdditionalData{
		LaneWidth:          2,
		MappingUpdateFlags: UpdateJxW,
	})
	perm := make([]int, dh.NDofs)
	for i := range perm {
		perm[i] = dh.NDofs - 1 - i
	}
	assert.NoError(t, mf.RenumberDofs(0, perm))
	// the rebuilt rows follow the renumbered handler
	p := mf.DofInfo[0].VectorPartitioner
	for b := 0; b < mf.NCellBatches(); b++ {
		for lane := 0; lane < mf.NComponentsFilled(b); lane++ {
			ord := mf.Mesh.ActiveOrdinal(mf.CellIterator(b, lane))
			indices, _ := mf.DofIndices(0, b, lane)
			for i, dof := range dh.CellDofIndices(ord) {
				assert.Equal(t, p.GlobalToLocal(dof), indices[i])
			}
		}
	}
}

func laplaceData(scheme scheduler.Scheme) AdditionalData {
	return AdditionalData{
		TasksParallelScheme: scheme,
		LaneWidth:           2,
		MappingUpdateFlags:  UpdateGradients | UpdateJxW,
	}
}

func TestLaplaceOperatorNullspace(t *testing.T) {
	// without constraints the stiffness rows sum to zero: A applied to a
	// constant vector vanishes
	mf, _ := setup(t, 3, 2, laplaceData(scheduler.SchemeNone))
	var (
		op  = NewLaplaceOperator(mf)
		n   = mf.DofInfo[0].VectorPartitioner.NLocal()
		src = make([]float64, n)
		dst = make([]float64, n)
	)
	for i := range src {
		src[i] = 1
	}
	op.Apply(dst, src)
	for i := range dst {
		assert.InDelta(t, 0, dst[i], 1.e-11)
	}
}

func TestLaplaceOperatorStencil(t *testing.T) {
	// Q1 on a uniform square mesh has the classic 8/3, -1/3 stencil,
	// independent of the mesh size
	mf, dh := setup(t, 2, 1, laplaceData(scheduler.SchemeNone))
	var (
		op  = NewLaplaceOperator(mf)
		n   = mf.DofInfo[0].VectorPartitioner.NLocal()
		src = make([]float64, n)
		dst = make([]float64, n)
	)
	// the center vertex (0.5, 0.5) is cell 0's last lexicographic dof
	center := dh.CellDofIndices(0)[3]
	src[center] = 1
	op.Apply(dst, src)
	assert.InDelta(t, 8.0/3, dst[center], 1.e-12)
	// every neighbor in the 3x3 stencil carries -1/3
	var minusThird int
	for i := range dst {
		if i == center {
			continue
		}
		if math.Abs(dst[i]+1.0/3) < 1.e-12 {
			minusThird++
		} else {
			assert.InDelta(t, 0, dst[i], 1.e-12)
		}
	}
	assert.Equal(t, 8, minusThird)
}

func TestLaplaceOperatorSymmetry(t *testing.T) {
	for _, scheme := range []scheduler.Scheme{scheduler.SchemeNone, scheduler.SchemeColor} {
		mf, _ := setup(t, 4, 2, laplaceData(scheme))
		var (
			op = NewLaplaceOperator(mf)
			n  = mf.DofInfo[0].VectorPartitioner.NLocal()
			u  = make([]float64, n)
			v  = make([]float64, n)
			Au = make([]float64, n)
			Av = make([]float64, n)
		)
		for i := 0; i < n; i++ {
			u[i] = math.Sin(float64(i) * 0.7)
			v[i] = math.Cos(float64(i) * 1.3)
		}
		op.Apply(Au, u)
		op.Apply(Av, v)
		var uAv, vAu float64
		for i := 0; i < n; i++ {
			uAv += u[i] * Av[i]
			vAu += v[i] * Au[i]
		}
		assert.InDelta(t, uAv, vAu, 1.e-10*(1+math.Abs(uAv)))
	}
}

func TestLaplaceConstrainedRows(t *testing.T) {
	// a constrained dof passes through as identity and spreads its
	// contribution to the targets
	m, _ := mesh.UnitCube(2, 2)
	mq, _ := geometry.NewMappingQ(2, 2, 1)
	dh, _ := dofs.NewDoFHandler(m, dofs.NewQ(2, 1))
	dh.Distribute()
	var (
		c  = dh.CellDofIndices(0)[0]
		t0 = dh.CellDofIndices(0)[1]
		t1 = dh.CellDofIndices(0)[2]
	)
	ac := dofs.NewAffineConstraints()
	ac.AddLine(c)
	ac.AddEntry(c, t0, 0.5)
	ac.AddEntry(c, t1, 0.5)
	assert.NoError(t, ac.Close())
	quad := quadrature.TensorProduct(2, quadrature.GaussLegendre(2))
	mf := New()
	assert.NoError(t, mf.Reinit(m, mq, []*dofs.DoFHandler{dh},
		[]*dofs.AffineConstraints{ac}, []quadrature.Quadrature{quad},
		laplaceData(scheduler.SchemeNone)))
	var (
		op  = NewLaplaceOperator(mf)
		n   = mf.DofInfo[0].VectorPartitioner.NLocal()
		src = make([]float64, n)
		dst = make([]float64, n)
	)
	for i := range src {
		src[i] = float64(i + 1)
	}
	op.Apply(dst, src)
	p := mf.DofInfo[0].VectorPartitioner
	l := p.GlobalToLocal(c)
	assert.Equal(t, src[l], dst[l])
}
