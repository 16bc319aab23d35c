package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/matfree/mesh"
	"github.com/notargets/matfree/utils"
)

// ErrTransformFailed signals that a physical point could not be pulled back
// to the reference cell: the Newton iteration diverged, the Jacobian turned
// non-positive, or the point lies outside the cell's validity domain.
var ErrTransformFailed = errors.New("real-to-unit transformation failed")

// DistortedCellError reports a cell whose Jacobian determinant is not safely
// positive relative to its size, found during volume-element computation.
type DistortedCellError struct {
	Det, Diameter float64
}

func (e *DistortedCellError) Error() string {
	return fmt.Sprintf("distorted cell: Jacobian determinant %g on cell of diameter %g",
		e.Det, e.Diameter)
}

const (
	newtonTol       = 1e-11
	newtonMaxIter   = 20
	newtonMinStep   = 0.05
	codimTolFactor  = 1e-12
	codimMaxIter    = 10
	closedFormEps2D = 1e-15
	distortedRelTol = 1e-12
)

// TransformRealToUnit computes the reference coordinates of a physical
// point on one cell. The solver strategy was fixed at construction:
// closed form in 1D and for bilinear 2D cells (with Newton fallback),
// Newton iteration otherwise, normal-equation Newton for embedded cells.
func (mq *MappingQ) TransformRealToUnit(m *mesh.Mesh, ref mesh.CellRef, p []float64) ([]float64, error) {
	support := mq.SupportPoints(m, ref)
	return mq.transformRealToUnit(support, p, m.Diameter(ref))
}

// TransformRealToUnitPoints is the batched variant: a failed point yields
// +Inf coordinates instead of aborting the batch, so one bad point cannot
// poison its neighbors.
func (mq *MappingQ) TransformRealToUnitPoints(m *mesh.Mesh, ref mesh.CellRef, pts [][]float64) (out [][]float64) {
	var (
		support  = mq.SupportPoints(m, ref)
		diameter = m.Diameter(ref)
	)
	out = make([][]float64, len(pts))
	for i, p := range pts {
		x, err := mq.transformRealToUnit(support, p, diameter)
		if err != nil {
			x = make([]float64, mq.Dim)
			for d := range x {
				x[d] = math.Inf(1)
			}
		}
		out[i] = x
	}
	return
}

func (mq *MappingQ) transformRealToUnit(support [][]float64, p []float64, diameter float64) ([]float64, error) {
	switch mq.strategy {
	case closedForm1D:
		return mq.inverse1D(support, p)
	case closedForm2D:
		if x, ok := mq.inverseBilinear(support, p); ok {
			return x, nil
		}
		return mq.inverseNewton(support, p)
	case genericNewton:
		return mq.inverseNewton(support, p)
	default:
		return mq.inverseCodimNewton(support, p, diameter)
	}
}

// inverse1D is exact for a linear 1-D map.
func (mq *MappingQ) inverse1D(support [][]float64, p []float64) ([]float64, error) {
	var (
		v0, v1 = support[0][0], support[len(support)-1][0]
	)
	if v1 == v0 {
		return nil, ErrTransformFailed
	}
	return []float64{(p[0] - v0) / (v1 - v0)}, nil
}

// inverseBilinear solves the degree-1 2D map in closed form. The quadratic
// coefficients are cross products prone to catastrophic cancellation, so the
// discriminant uses compensated products. The root nearest the cell center
// is selected; an answer outside [-eps, 1+eps]^2 or a non-positive
// discriminant defers to Newton.
func (mq *MappingQ) inverseBilinear(support [][]float64, p []float64) ([]float64, bool) {
	var (
		v0, v1, v2, v3 = support[0], support[1], support[2], support[3]
		bx, by         = v1[0] - v0[0], v1[1] - v0[1]
		cx, cy         = v2[0] - v0[0], v2[1] - v0[1]
		dx, dy         = v3[0] - v2[0] - v1[0] + v0[0], v3[1] - v2[1] - v1[1] + v0[1]
		px, py         = p[0] - v0[0], p[1] - v0[1]
	)
	// alpha y^2 + beta y + gamma = 0 after eliminating x
	alpha := cy*dx - cx*dy
	beta := (bx*cy - by*cx) + (dy*px - dx*py)
	gamma := by*px - bx*py

	var y float64
	if math.Abs(alpha) < 1e-30 {
		if beta == 0 {
			return nil, false
		}
		y = -gamma / beta
	} else {
		// compensated discriminant: beta^2 - 4 alpha gamma
		b2, b2e := utils.TwoProduct(beta, beta)
		ag, age := utils.TwoProduct(4*alpha, gamma)
		disc := (b2 - ag) + (b2e - age)
		if disc <= 0 {
			return nil, false
		}
		sq := math.Sqrt(disc)
		y1 := (-beta + sq) / (2 * alpha)
		y2 := (-beta - sq) / (2 * alpha)
		if math.Abs(y1-0.5) <= math.Abs(y2-0.5) {
			y = y1
		} else {
			y = y2
		}
	}
	den := bx + dx*y
	var x float64
	if math.Abs(den) > math.Abs(by+dy*y) {
		x = (px - cx*y) / den
	} else {
		den = by + dy*y
		if den == 0 {
			return nil, false
		}
		x = (py - cy*y) / den
	}
	if x < -closedFormEps2D || x > 1+closedFormEps2D ||
		y < -closedFormEps2D || y > 1+closedFormEps2D {
		return nil, false
	}
	return []float64{x, y}, true
}

// affineGuess builds the least-squares affine approximation of the cell from
// its corners and inverts it for the Newton starting point. Exact for
// degree-1 maps in 1D.
func (mq *MappingQ) affineGuess(support [][]float64, p []float64) []float64 {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		nv       = 1 << dim
		a        = make([]float64, spaceDim*dim)
		b        = make([]float64, spaceDim)
	)
	// corners live at the first/last basis nodes of each axis
	corner := func(v int) []float64 {
		idx := 0
		stride := 1
		for d := 0; d < dim; d++ {
			if (v>>d)&1 == 1 {
				idx += mq.Degree * stride
			}
			stride *= mq.Degree + 1
		}
		return support[idx]
	}
	for v := 0; v < nv; v++ {
		pv := corner(v)
		for s := 0; s < spaceDim; s++ {
			b[s] += pv[s]
			for d := 0; d < dim; d++ {
				rd := float64((v>>d)&1) - 0.5
				a[s*dim+d] += pv[s] * rd
			}
		}
	}
	scale := 4 / float64(nv)
	for i := range a {
		a[i] *= scale
	}
	for s := range b {
		b[s] /= float64(nv)
	}
	rhs := make([]float64, spaceDim)
	for s := 0; s < spaceDim; s++ {
		rhs[s] = p[s] - b[s]
	}
	x := make([]float64, dim)
	if dim == spaceDim {
		if !Solve(a, rhs, x, dim) {
			for d := range x {
				x[d] = 0
			}
		}
	} else {
		// normal equations for the embedded case
		ata := make([]float64, dim*dim)
		atr := make([]float64, dim)
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				var sum float64
				for s := 0; s < spaceDim; s++ {
					sum += a[s*dim+i] * a[s*dim+j]
				}
				ata[i*dim+j] = sum
			}
			var sum float64
			for s := 0; s < spaceDim; s++ {
				sum += a[s*dim+i] * rhs[s]
			}
			atr[i] = sum
		}
		if !Solve(ata, atr, x, dim) {
			for d := range x {
				x[d] = 0
			}
		}
	}
	for d := range x {
		x[d] += 0.5
	}
	return x
}

// inverseNewton solves map(x) = p for dim == spacedim. Convergence is
// measured in the inverse-Jacobian-weighted norm, since the raw Euclidean
// residual is unreliable on anisotropic cells. Each step backtracks by
// halving until the squared residual decreases; a step shrinking past
// newtonMinStep or a non-positive Jacobian determinant fails the transform.
func (mq *MappingQ) inverseNewton(support [][]float64, p []float64) ([]float64, error) {
	var (
		dim  = mq.Dim
		x    = mq.affineGuess(support, p)
		jinv = make([]float64, dim*dim)
		f    = make([]float64, dim)
		dx   = make([]float64, dim)
		xt   = make([]float64, dim)
	)
	for it := 0; it < newtonMaxIter; it++ {
		d := mq.MapDerivatives(support, x, 1)
		for s := 0; s < dim; s++ {
			f[s] = d[0][s] - p[s]
		}
		if Det(d[1], dim) <= 0 {
			return nil, ErrTransformFailed
		}
		if !Invert(d[1], jinv, dim) {
			return nil, ErrTransformFailed
		}
		for i := 0; i < dim; i++ {
			var sum float64
			for j := 0; j < dim; j++ {
				sum += jinv[i*dim+j] * f[j]
			}
			dx[i] = sum
		}
		if norm(dx) < newtonTol {
			return x, nil
		}
		f2 := dot(f, f)
		accepted := false
		for alpha := 1.0; alpha > newtonMinStep; alpha /= 2 {
			for i := 0; i < dim; i++ {
				xt[i] = x[i] - alpha*dx[i]
			}
			pt := mq.TransformUnitToReal(support, xt)
			var ft2 float64
			for s := 0; s < dim; s++ {
				diff := pt[s] - p[s]
				ft2 += diff * diff
			}
			if ft2 < f2 {
				copy(x, xt)
				accepted = true
				break
			}
		}
		if !accepted {
			return nil, ErrTransformFailed
		}
	}
	return nil, ErrTransformFailed
}

// inverseCodimNewton solves the normal-equations form DF^T (p - F(x)) = 0
// for embedded cells (spacedim = dim+1), using first and second map
// derivatives. No closed form exists here; the tolerance scales with the
// cell diameter.
func (mq *MappingQ) inverseCodimNewton(support [][]float64, p []float64, diameter float64) ([]float64, error) {
	var (
		dim      = mq.Dim
		spaceDim = mq.SpaceDim
		tol      = codimTolFactor * diameter
		x        = mq.affineGuess(support, p)
		r        = make([]float64, spaceDim)
		g        = make([]float64, dim)
		h        = make([]float64, dim*dim)
		dx       = make([]float64, dim)
	)
	for it := 0; it < codimMaxIter; it++ {
		d := mq.MapDerivatives(support, x, 2)
		for s := 0; s < spaceDim; s++ {
			r[s] = p[s] - d[0][s]
		}
		df, d2f := d[1], d[2]
		for a := 0; a < dim; a++ {
			var sum float64
			for s := 0; s < spaceDim; s++ {
				sum += df[s*dim+a] * r[s]
			}
			g[a] = sum
			for b := 0; b < dim; b++ {
				var hab float64
				for s := 0; s < spaceDim; s++ {
					hab += df[s*dim+a]*df[s*dim+b] - r[s]*d2f[s*dim*dim+a*dim+b]
				}
				h[a*dim+b] = hab
			}
		}
		if !Solve(h, g, dx, dim) {
			return nil, ErrTransformFailed
		}
		for a := 0; a < dim; a++ {
			x[a] += dx[a]
		}
		if norm(dx) < tol {
			return x, nil
		}
	}
	return nil, ErrTransformFailed
}
