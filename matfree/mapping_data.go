package matfree

import (
	"log"

	"github.com/notargets/matfree/geometry"
	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/quadrature"
	"github.com/notargets/matfree/scheduler"
	"github.com/notargets/matfree/utils"
)

// CellSimilarity classifies one cell batch relative to the previously
// filled one. A pure translation reuses the cached Jacobians and JxW.
type CellSimilarity uint8

const (
	SimilarityNone CellSimilarity = iota
	SimilarityTranslation
	// SimilarityInvertedTranslation marks a translated batch with reversed
	// orientation. The detector never emits it; callers treating it like
	// SimilarityNone stay correct.
	SimilarityInvertedTranslation
)

// translationTol is the relative tolerance on vertex offset agreement when
// testing a batch for pure translation.
const translationTol = 1e-12

// BatchGeometry holds the cached geometric data of one cell batch, one
// CellGeometry per lane. Padding lanes alias the last real lane.
type BatchGeometry struct {
	Similarity CellSimilarity
	Lanes      []*geometry.CellGeometry
}

// MappingCache is the per-batch geometric data table built during Reinit,
// filled only to the extent the closed update flags request.
type MappingCache struct {
	Flags UpdateFlags
	Quad  quadrature.Quadrature

	Batches      []BatchGeometry
	nTranslation int
}

// BuildMappingCache fills geometric data for every batch of the schedule.
// Consecutive batches whose cells are pure translations of the previous
// batch reuse its Jacobians, determinants and JxW values; the translation
// test is skipped entirely for mapping degree above one, where a shifted
// vertex set no longer implies shifted curvature.
func BuildMappingCache(m *mesh.Mesh, mq *geometry.MappingQ, sched *scheduler.Schedule,
	quad quadrature.Quadrature, flags UpdateFlags) (mc *MappingCache, err error) {
	var (
		closed       = flags.Close()
		wantHessians = closed&UpdateJacobianGrads != 0
		scratch      = geometry.NewScratch(mq, quadPointsPerAxis(quad))
		prevSupport  [][][]float64 // per lane support points of the last batch
	)
	mc = &MappingCache{
		Flags:   closed,
		Quad:    quad,
		Batches: make([]BatchGeometry, sched.NBatches()),
	}
	for b := 0; b < sched.NBatches(); b++ {
		var (
			batch   = &mc.Batches[b]
			filled  = sched.NComponentsFilled(b)
			support = make([][][]float64, sched.VectorizationLength)
		)
		batch.Lanes = make([]*geometry.CellGeometry, sched.VectorizationLength)
		for lane := 0; lane < filled; lane++ {
			support[lane] = mq.SupportPoints(m, sched.CellAt(b, lane))
		}
		batch.Similarity = classifySimilarity(mq, prevSupport, support, filled)
		for lane := 0; lane < filled; lane++ {
			ref := sched.CellAt(b, lane)
			if batch.Similarity == SimilarityTranslation {
				batch.Lanes[lane] = translateGeometry(
					mc.Batches[b-1].Lanes[lane], mq, support[lane], quad, closed)
				continue
			}
			g, ferr := mq.FillCellGeometry(support[lane], quad,
				m.Diameter(ref), wantHessians, scratch)
			if ferr != nil {
				return nil, ferr
			}
			trimToFlags(g, closed)
			batch.Lanes[lane] = g
		}
		// padding lanes alias the last real lane
		for lane := filled; lane < sched.VectorizationLength; lane++ {
			batch.Lanes[lane] = batch.Lanes[filled-1]
		}
		if batch.Similarity == SimilarityTranslation {
			mc.nTranslation++
		}
		prevSupport = support
	}
	if mc.nTranslation > 0 {
		log.Printf("mapping cache: %d of %d batches filled by translation",
			mc.nTranslation, sched.NBatches())
	}
	return
}

func quadPointsPerAxis(quad quadrature.Quadrature) int {
	if quad.IsTensorProduct {
		return quad.Rules1D[0].Len()
	}
	return quad.Len()
}

// classifySimilarity compares per-lane support points against the previous
// batch. All lanes must be offset by a constant vector for the batch to
// qualify; any curvature in the mapping disables the check.
func classifySimilarity(mq *geometry.MappingQ, prev, cur [][][]float64,
	filled int) CellSimilarity {
	if mq.Degree > 1 || prev == nil {
		return SimilarityNone
	}
	for lane := 0; lane < filled; lane++ {
		if prev[lane] == nil || len(prev[lane]) != len(cur[lane]) {
			return SimilarityNone
		}
		p0, c0 := prev[lane][0], cur[lane][0]
		for i := range cur[lane] {
			for d := range c0 {
				shift := c0[d] - p0[d]
				if !utils.Near(cur[lane][i][d]-prev[lane][i][d], shift, translationTol) {
					return SimilarityNone
				}
			}
		}
	}
	return SimilarityTranslation
}

// translateGeometry reuses the Jacobian-derived fields of src and recomputes
// only the physical point locations for the shifted cell.
func translateGeometry(src *geometry.CellGeometry, mq *geometry.MappingQ,
	support [][]float64, quad quadrature.Quadrature, flags UpdateFlags) *geometry.CellGeometry {
	g := &geometry.CellGeometry{
		Jacobians:        src.Jacobians,
		InverseJacobians: src.InverseJacobians,
		Hessians:         src.Hessians,
		PushedHessians:   src.PushedHessians,
		JxW:              src.JxW,
		DetJ:             src.DetJ,
	}
	if flags&UpdateQuadraturePoints != 0 {
		g.Points = make([][]float64, quad.Len())
		for q := range g.Points {
			g.Points[q] = mq.TransformUnitToReal(support, quad.Points[q])
		}
	}
	return g
}

// trimToFlags drops fields the closed flag set never asked for, so the
// cache footprint matches the request.
func trimToFlags(g *geometry.CellGeometry, flags UpdateFlags) {
	if flags&UpdateQuadraturePoints == 0 {
		g.Points = nil
	}
	if flags&UpdateJacobianGrads == 0 {
		g.Hessians = nil
	}
	if flags&UpdateHessians == 0 {
		g.PushedHessians = nil
	}
	if flags&UpdateJxW == 0 {
		g.JxW = nil
	}
}
