package dofs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notargets/matfree/mesh"
)

func TestDistributeSharedDofs(t *testing.T) {
	{
		// 2x2 mesh, Q1: 3x3 = 9 global dofs, 4 per cell
		m, _ := mesh.UnitCube(2, 2)
		dh, err := NewDoFHandler(m, NewQ(2, 1))
		assert.NoError(t, err)
		dh.Distribute()
		assert.Equal(t, 9, dh.NDofs)
		for k := 0; k < 4; k++ {
			assert.Equal(t, 4, len(dh.CellDofIndices(k)))
		}
		// cells 0 and 1 share the two dofs on their common face
		shared := 0
		for _, d0 := range dh.CellDofIndices(0) {
			for _, d1 := range dh.CellDofIndices(1) {
				if d0 == d1 {
					shared++
				}
			}
		}
		assert.Equal(t, 2, shared)
	}
	{
		// Q2 on 2x2: 5x5 = 25 global dofs
		m, _ := mesh.UnitCube(2, 2)
		dh, _ := NewDoFHandler(m, NewQ(2, 2))
		dh.Distribute()
		assert.Equal(t, 25, dh.NDofs)
	}
	{
		// Q1 on a 2x2x2 cube: 27 dofs
		m, _ := mesh.UnitCube(3, 2)
		dh, _ := NewDoFHandler(m, NewQ(3, 1))
		dh.Distribute()
		assert.Equal(t, 27, dh.NDofs)
	}
}

func TestRenumber(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	dh, _ := NewDoFHandler(m, NewQ(2, 1))
	dh.Distribute()
	perm := make([]int, dh.NDofs)
	for i := range perm {
		perm[i] = dh.NDofs - 1 - i
	}
	before := append([]int{}, dh.CellDofIndices(0)...)
	assert.NoError(t, dh.Renumber(perm))
	for i, dof := range dh.CellDofIndices(0) {
		assert.Equal(t, dh.NDofs-1-before[i], dof)
	}
	// not a bijection
	perm[0] = perm[1]
	assert.Error(t, dh.Renumber(perm))
	assert.Error(t, dh.Renumber(perm[:3]))
}

func TestIndexSet(t *testing.T) {
	s := NewIndexSet(100)
	s.AddRange(10, 20)
	s.AddIndex(20)
	s.AddRange(50, 60)
	s.Compress()
	assert.Equal(t, 21, s.NElements())
	assert.False(t, s.IsContiguous())
	assert.True(t, s.IsElement(15))
	assert.True(t, s.IsElement(20))
	assert.False(t, s.IsElement(21))
	assert.Equal(t, 11, s.IndexWithinSet(50))
	sub := NewIndexSet(100)
	sub.AddRange(12, 15)
	sub.Compress()
	assert.True(t, sub.IsSubsetOf(s))
	assert.False(t, s.IsSubsetOf(sub))
}

func TestPartitioner(t *testing.T) {
	owned := NewIndexSet(40)
	owned.AddRange(10, 30)
	ghosts := NewIndexSet(40)
	ghosts.AddIndex(2)
	ghosts.AddIndex(35)
	p, err := NewPartitioner(owned, ghosts, 40)
	assert.NoError(t, err)
	assert.Equal(t, 20, p.NLocallyOwned())
	assert.Equal(t, 22, p.NLocal())
	assert.Equal(t, 0, p.GlobalToLocal(10))
	assert.Equal(t, 19, p.GlobalToLocal(29))
	assert.Equal(t, 20, p.GlobalToLocal(2))
	assert.Equal(t, 21, p.GlobalToLocal(35))
	for l := 0; l < p.NLocal(); l++ {
		assert.Equal(t, l, p.GlobalToLocal(p.LocalToGlobal(l)))
	}
	// non-contiguous owned range is a configuration error
	bad := NewIndexSet(40)
	bad.AddRange(0, 5)
	bad.AddRange(7, 9)
	bad.Compress()
	_, err = NewPartitioner(bad, ghosts, 40)
	assert.Error(t, err)
}

func TestAffineConstraintsClose(t *testing.T) {
	ac := NewAffineConstraints()
	// chain: 5 -> 3 -> {1, 2}, must flatten on Close
	ac.AddLine(3)
	ac.AddEntry(3, 1, 0.5)
	ac.AddEntry(3, 2, 0.5)
	ac.AddLine(5)
	ac.AddEntry(5, 3, 1.0)
	ac.SetInhomogeneity(5, 2.0)
	assert.NoError(t, ac.Close())
	entries := ac.Entries(5)
	assert.Equal(t, 2, len(entries))
	assert.Equal(t, 1, entries[0].Target)
	assert.InDelta(t, 0.5, entries[0].Weight, 1.e-15)
	assert.Equal(t, 2, entries[1].Target)
	assert.InDelta(t, 2.0, ac.Inhomogeneity(5), 1.e-15)
	assert.True(t, ac.IsConstrained(3))
	assert.False(t, ac.IsConstrained(1))

	// a cycle cannot be resolved
	bad := NewAffineConstraints()
	bad.AddLine(0)
	bad.AddEntry(0, 1, 1)
	bad.AddLine(1)
	bad.AddEntry(1, 0, 1)
	assert.Error(t, bad.Close())
}

func TestConstraintPoolDeterminism(t *testing.T) {
	var cp ConstraintPool
	r0 := cp.Insert([]float64{0.5, 0.5})
	r1 := cp.Insert([]float64{0.25, 0.75})
	r2 := cp.Insert([]float64{0.5, 0.5})
	assert.Equal(t, r0, r2)
	assert.NotEqual(t, r0, r1)
	assert.Equal(t, 2, len(cp.Rows))

	// identical weight sequences share a row across repeated runs
	var cp2 ConstraintPool
	assert.Equal(t, r0, cp2.Insert([]float64{0.5, 0.5}))
	assert.Equal(t, r1, cp2.Insert([]float64{0.25, 0.75}))
	assert.Equal(t, cp.Rows, cp2.Rows)
}

func TestCompressIndices(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	dh, _ := NewDoFHandler(m, NewQ(2, 1))
	dh.Distribute()
	ac := NewAffineConstraints()
	// constrain one dof of cell 3 to the average of two dofs of cell 0
	var (
		c  = dh.CellDofIndices(3)[3]
		t0 = dh.CellDofIndices(0)[0]
		t1 = dh.CellDofIndices(0)[1]
	)
	ac.AddLine(c)
	ac.AddEntry(c, t0, 0.5)
	ac.AddEntry(c, t1, 0.5)
	assert.NoError(t, ac.Close())

	cellOrder := []int{0, 1, 2, 3}
	di, err := CompressIndices(dh, ac, 0, cellOrder, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(di.Pool.Rows))
	assert.Equal(t, []float64{0.5, 0.5}, di.Pool.Rows[0])
	assert.Equal(t, []int{c}, di.ConstrainedDofs)

	// cell 3's row holds one indicator at local dof 3, pool row 0
	indices, indicators := di.CellIndices(3)
	assert.Equal(t, 1, len(indicators))
	assert.Equal(t, 3, indicators[0].LocalDof)
	assert.Equal(t, 0, indicators[0].PoolRow)
	// the targets replace the constrained index: still 5 entries total
	assert.Equal(t, 5, len(indices))

	// unconstrained cells resolve to their plain indices
	plainStart := di.PlainRowStarts[0]
	for i, dof := range dh.CellDofIndices(0) {
		assert.Equal(t, di.VectorPartitioner.GlobalToLocal(dof),
			di.PlainDofIndices[plainStart+i])
	}
	// single subdomain: no ghosts, partitioner covers everything
	assert.Equal(t, 0, di.GhostDofs.NElements())
	assert.Equal(t, dh.NDofs, di.VectorPartitioner.NLocal())
}

func TestTightPartitionerSubset(t *testing.T) {
	m, _ := mesh.UnitCube(2, 2)
	// split ownership: cells 0,1 on subdomain 0, cells 2,3 on subdomain 1
	m.SetSubdomain(2, 1)
	m.SetSubdomain(3, 1)
	dh, _ := NewDoFHandler(m, NewQ(2, 1))
	dh.Distribute()
	ac := NewAffineConstraints()
	assert.NoError(t, ac.Close())

	di, err := CompressIndices(dh, ac, 0, []int{0, 1, 2, 3}, false)
	assert.NoError(t, err)
	assert.True(t, di.GhostDofs.NElements() > 0)

	// restrict to the unshared face of one ghost cell
	faceDofs := [][]int{dh.CellDofIndices(2)[2:]}
	tight, err := di.ComputeTightPartitioner(dh, 0, faceDofs)
	assert.NoError(t, err)
	assert.True(t, tight.Ghosts.NElements() <= di.GhostDofs.NElements())
	assert.True(t, tight.Ghosts.IsSubsetOf(di.GhostDofs))
}
