package geometry

import "math"

// Small fixed-dimension tensor helpers for the 1, 2 and 3 dimensional
// Jacobians on the transform hot path. Singularity is a recoverable
// condition here, reported through the ok flag, not a panic.

// Det computes the determinant of the n x n matrix a, flat row-major.
func Det(a []float64, n int) float64 {
	switch n {
	case 1:
		return a[0]
	case 2:
		return a[0]*a[3] - a[1]*a[2]
	case 3:
		return a[0]*(a[4]*a[8]-a[5]*a[7]) -
			a[1]*(a[3]*a[8]-a[5]*a[6]) +
			a[2]*(a[3]*a[7]-a[4]*a[6])
	}
	panic("unsupported dimension")
}

// Invert writes the inverse of the n x n matrix a into out. Returns false
// when a is numerically singular.
func Invert(a, out []float64, n int) bool {
	d := Det(a, n)
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return false
	}
	inv := 1 / d
	switch n {
	case 1:
		out[0] = inv
	case 2:
		out[0] = a[3] * inv
		out[1] = -a[1] * inv
		out[2] = -a[2] * inv
		out[3] = a[0] * inv
	case 3:
		out[0] = (a[4]*a[8] - a[5]*a[7]) * inv
		out[1] = (a[2]*a[7] - a[1]*a[8]) * inv
		out[2] = (a[1]*a[5] - a[2]*a[4]) * inv
		out[3] = (a[5]*a[6] - a[3]*a[8]) * inv
		out[4] = (a[0]*a[8] - a[2]*a[6]) * inv
		out[5] = (a[2]*a[3] - a[0]*a[5]) * inv
		out[6] = (a[3]*a[7] - a[4]*a[6]) * inv
		out[7] = (a[1]*a[6] - a[0]*a[7]) * inv
		out[8] = (a[0]*a[4] - a[1]*a[3]) * inv
	default:
		panic("unsupported dimension")
	}
	return true
}

// Solve solves the n x n system a*x = b in place of x. Returns false when a
// is numerically singular.
func Solve(a, b, x []float64, n int) bool {
	inv := make([]float64, n*n)
	if !Invert(a, inv, n) {
		return false
	}
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += inv[i*n+j] * b[j]
		}
		x[i] = sum
	}
	return true
}

// SurfaceElement computes sqrt(det(J^T J)) for a spacedim x dim Jacobian,
// the volume element of an embedded cell.
func SurfaceElement(j []float64, spaceDim, dim int) float64 {
	g := make([]float64, dim*dim)
	for a := 0; a < dim; a++ {
		for b := 0; b < dim; b++ {
			var sum float64
			for s := 0; s < spaceDim; s++ {
				sum += j[s*dim+a] * j[s*dim+b]
			}
			g[a*dim+b] = sum
		}
	}
	return math.Sqrt(Det(g, dim))
}

func dot(a, b []float64) (s float64) {
	for i := range a {
		s += a[i] * b[i]
	}
	return
}

func norm(a []float64) float64 { return math.Sqrt(dot(a, a)) }
