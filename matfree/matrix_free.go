package matfree

import (
	"fmt"
	"log"
	"sync"

	"github.com/notargets/matfree/dofs"
	"github.com/notargets/matfree/faces"
	"github.com/notargets/matfree/geometry"
	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/quadrature"
	"github.com/notargets/matfree/scheduler"
)

// AdditionalData configures Reinit beyond its mandatory collaborators.
type AdditionalData struct {
	TasksParallelScheme scheduler.Scheme
	LaneWidth           int // 0 detects from the CPU
	BlockSize           int
	NThreads            int
	Subdomain           int
	MyPID, NProcs       int

	MappingUpdateFlags UpdateFlags
	BuildFaces         bool

	// CellCategories forces category-homogeneous batches; incompatible
	// with threaded scheduling.
	CellCategories   []int
	StrictCategories bool

	// StorePlainIndices additionally keeps constraint-ignoring index rows.
	StorePlainIndices bool
}

// MatrixFree owns the composed evaluation pipeline: shape tables, compressed
// dof indices, the batched cell schedule, face topology and the geometric
// cache. One instance serves one mesh/mapping/dof configuration; concurrent
// read-only evaluation is safe, concurrent Reinit/Clear is not.
type MatrixFree struct {
	Mesh        *mesh.Mesh
	Mapping     *geometry.MappingQ
	Handlers    []*dofs.DoFHandler
	Constraints []*dofs.AffineConstraints
	Quads       []quadrature.Quadrature

	Shape    []map[shapeKey]ShapeInfo // per dof handler
	DofInfo  []*dofs.DoFInfo
	Schedule *scheduler.Schedule
	Faces    *faces.Topology
	Cache    *MappingCache

	opts           AdditionalData
	cellRowOfBatch []int // first compression row of each owned batch

	indicesInitialized, mappingInitialized bool
}

// New returns an empty engine; call Reinit before any evaluation query.
func New() *MatrixFree { return &MatrixFree{} }

// Reinit builds the full pipeline: shape tables, cell schedule, index
// compression, optional face topology, then the mapping cache. A failure at
// any stage leaves the engine cleared, never half-initialized.
func (mf *MatrixFree) Reinit(m *mesh.Mesh, mq *geometry.MappingQ,
	dhs []*dofs.DoFHandler, acs []*dofs.AffineConstraints,
	quads []quadrature.Quadrature, data AdditionalData) (err error) {
	mf.Clear()
	defer func() {
		if err != nil {
			mf.Clear()
		}
	}()

	if len(dhs) == 0 || len(dhs) != len(acs) {
		return fmt.Errorf("need equal, nonzero numbers of dof handlers and "+
			"constraint sets, got %d and %d", len(dhs), len(acs))
	}
	if len(quads) == 0 {
		return fmt.Errorf("at least one quadrature is required")
	}
	mf.Mesh, mf.Mapping, mf.Handlers, mf.Constraints = m, mq, dhs, acs
	mf.Quads, mf.opts = quads, data

	// (1) shape tables for every handler x quadrature combination
	mf.Shape = make([]map[shapeKey]ShapeInfo, len(dhs))
	for i, dh := range dhs {
		if mf.Shape[i], err = buildShapeTables(dh, quads); err != nil {
			return err
		}
	}

	// (2) vectorized cell schedule
	if mf.Schedule, err = scheduler.NewSchedule(m, scheduler.Options{
		Scheme:           data.TasksParallelScheme,
		LaneWidth:        data.LaneWidth,
		BlockSize:        data.BlockSize,
		NThreads:         data.NThreads,
		Subdomain:        data.Subdomain,
		MyPID:            data.MyPID,
		NProcs:           data.NProcs,
		Categories:       data.CellCategories,
		StrictCategories: data.StrictCategories,
	}); err != nil {
		return err
	}

	// (3) index compression along the batched cell order
	cellOrder := mf.Schedule.OwnedCellOrder(m)
	mf.DofInfo = make([]*dofs.DoFInfo, len(dhs))
	for i, dh := range dhs {
		if mf.DofInfo[i], err = dofs.CompressIndices(dh, acs[i],
			data.Subdomain, cellOrder, data.StorePlainIndices); err != nil {
			return err
		}
	}
	mf.buildBatchRows()
	mf.indicesInitialized = true

	// (4) face topology on request
	if data.BuildFaces {
		mf.Faces = faces.NewTopology(m, mf.Schedule, data.Subdomain)
	}

	// (5) geometric cache on the first quadrature collection
	if mf.Cache, err = BuildMappingCache(m, mq, mf.Schedule,
		quads[0], data.MappingUpdateFlags); err != nil {
		return err
	}
	mf.mappingInitialized = true

	log.Printf("matrix-free setup: %d cells in %d batches of width %d, %d dofs",
		mf.Schedule.NActiveCells, mf.NCellBatches(),
		mf.Schedule.VectorizationLength, dhs[0].NDofs)
	return nil
}

// Clear resets the engine to its empty, reusable state.
func (mf *MatrixFree) Clear() {
	*mf = MatrixFree{}
}

// IndicesInitialized reports whether compressed dof indices are available.
func (mf *MatrixFree) IndicesInitialized() bool { return mf.indicesInitialized }

// MappingInitialized reports whether the geometric cache is available.
func (mf *MatrixFree) MappingInitialized() bool { return mf.mappingInitialized }

func (mf *MatrixFree) requireIndices() {
	if !mf.indicesInitialized {
		panic("evaluation query before Reinit built the dof indices")
	}
}

func (mf *MatrixFree) requireMapping() {
	if !mf.mappingInitialized {
		panic("evaluation query before Reinit built the mapping cache")
	}
}

// buildBatchRows records the compression-row offset of each owned batch:
// rows follow the batched cell order with padding lanes skipped.
func (mf *MatrixFree) buildBatchRows() {
	var (
		n   = mf.nOwnedBatches()
		row = 0
	)
	mf.cellRowOfBatch = make([]int, n)
	for b := 0; b < n; b++ {
		mf.cellRowOfBatch[b] = row
		row += mf.Schedule.NComponentsFilled(b)
	}
}

func (mf *MatrixFree) nOwnedBatches() int {
	cpd := mf.Schedule.CellPartitionData
	if mf.Schedule.NGhostCells > 0 {
		return cpd[len(cpd)-2]
	}
	return cpd[len(cpd)-1]
}

// NCellBatches counts the batches of locally owned cells.
func (mf *MatrixFree) NCellBatches() int {
	mf.requireIndices()
	return mf.nOwnedBatches()
}

// NGhostCellBatches counts the trailing ghost-cell batches.
func (mf *MatrixFree) NGhostCellBatches() int {
	mf.requireIndices()
	return mf.Schedule.NBatches() - mf.nOwnedBatches()
}

// NComponentsFilled reports the real lanes of one batch.
func (mf *MatrixFree) NComponentsFilled(batch int) int {
	mf.requireIndices()
	return mf.Schedule.NComponentsFilled(batch)
}

// CellIterator resolves (batch, lane) to the mesh cell held there.
func (mf *MatrixFree) CellIterator(batch, lane int) mesh.CellRef {
	mf.requireIndices()
	return mf.Schedule.CellAt(batch, lane)
}

// QuadraturePoint returns the physical location of point q in the given
// batch lane. Requires UpdateQuadraturePoints.
func (mf *MatrixFree) QuadraturePoint(batch, lane, q int) []float64 {
	mf.requireMapping()
	pts := mf.Cache.Batches[batch].Lanes[lane].Points
	if pts == nil {
		panic("quadrature points were not requested in the update flags")
	}
	return pts[q]
}

// Jacobians returns the per-point contravariant transforms of one lane.
func (mf *MatrixFree) Jacobians(batch, lane int) [][]float64 {
	mf.requireMapping()
	return mf.Cache.Batches[batch].Lanes[lane].Jacobians
}

// InverseJacobians returns the per-point covariant ingredients of one lane.
func (mf *MatrixFree) InverseJacobians(batch, lane int) [][]float64 {
	mf.requireMapping()
	return mf.Cache.Batches[batch].Lanes[lane].InverseJacobians
}

// JxWValues returns quadrature weight times volume element per point.
func (mf *MatrixFree) JxWValues(batch, lane int) []float64 {
	mf.requireMapping()
	jxw := mf.Cache.Batches[batch].Lanes[lane].JxW
	if jxw == nil {
		panic("JxW was not requested in the update flags")
	}
	return jxw
}

// ShapeInfoFor returns the shape table of (handler, active fe, quadrature).
func (mf *MatrixFree) ShapeInfoFor(handler, feIndex, quad int) ShapeInfo {
	mf.requireIndices()
	return mf.Shape[handler][shapeKey{feIndex, quad}]
}

// CellRow translates (batch, lane) to the compression row shared by all
// DofInfo tables.
func (mf *MatrixFree) CellRow(batch, lane int) int {
	mf.requireIndices()
	if lane >= mf.Schedule.NComponentsFilled(batch) {
		panic(fmt.Sprintf("lane %d is padding in batch %d", lane, batch))
	}
	return mf.cellRowOfBatch[batch] + lane
}

// DofIndices returns the compressed index run and constraint indicators of
// one batch lane for the given handler.
func (mf *MatrixFree) DofIndices(handler, batch, lane int) ([]int, []dofs.ConstraintIndicator) {
	return mf.DofInfo[handler].CellIndices(mf.CellRow(batch, lane))
}

// RenumberDofs permutes the global dof numbering of one handler and rebuilds
// only that handler's compressed index table; schedule, faces and geometry
// are untouched.
func (mf *MatrixFree) RenumberDofs(handler int, perm []int) (err error) {
	mf.requireIndices()
	if err = mf.Handlers[handler].Renumber(perm); err != nil {
		return err
	}
	cellOrder := mf.Schedule.OwnedCellOrder(mf.Mesh)
	mf.DofInfo[handler], err = dofs.CompressIndices(mf.Handlers[handler],
		mf.Constraints[handler], mf.opts.Subdomain, cellOrder,
		mf.opts.StorePlainIndices)
	return err
}

// CellLoop runs fn over every owned batch. Partitions within one schedule
// row run concurrently; rows are separated by a barrier, so fn may scatter
// into shared destinations as long as same-row partitions are conflict-free,
// which the colored schedule guarantees.
func (mf *MatrixFree) CellLoop(fn func(batch int)) {
	mf.requireMapping()
	var (
		cpd  = mf.Schedule.CellPartitionData
		pri  = mf.Schedule.PartitionRowIndex
		rows = len(pri) - 1
	)
	if mf.Schedule.NGhostCells > 0 {
		rows-- // ghost batches are not part of the evaluation loop
	}
	for r := 0; r < rows; r++ {
		var wg sync.WaitGroup
		for p := pri[r]; p < pri[r+1]; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for b := cpd[p]; b < cpd[p+1]; b++ {
					fn(b)
				}
			}(p)
		}
		wg.Wait()
	}
}
