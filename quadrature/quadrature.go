// Package quadrature supplies 1-D Gauss and Gauss-Lobatto rules and their
// tensor products on the [0,1]^dim reference cell. Tensor-product rules keep
// their per-axis factors so that sum-factorized evaluation paths can apply.
package quadrature

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Rule1D is a one-dimensional rule on [0,1].
type Rule1D struct {
	Points, Weights []float64
}

func (r Rule1D) Len() int { return len(r.Points) }

// GaussLegendre returns the n-point Gauss rule on [0,1], exact for
// polynomials of degree 2n-1. Nodes and weights come from the eigenvalue
// decomposition of the Jacobi recurrence matrix (Golub-Welsch).
func GaussLegendre(n int) (r Rule1D) {
	x, w := jacobiGQ(0, 0, n-1)
	r.Points = make([]float64, n)
	r.Weights = make([]float64, n)
	for i := 0; i < n; i++ {
		r.Points[i] = (x[i] + 1) / 2
		r.Weights[i] = w[i] / 2
	}
	return
}

// GaussLobatto returns the n-point Gauss-Lobatto rule on [0,1], n >= 2,
// including both endpoints. The interior nodes are the Gauss points of the
// (1,1) Jacobi weight; weights follow 2/(N(N+1) P_N(x)^2) on [-1,1].
func GaussLobatto(n int) (r Rule1D) {
	if n < 2 {
		panic("Gauss-Lobatto rule needs at least 2 points")
	}
	N := n - 1
	x := make([]float64, n)
	x[0], x[N] = -1, 1
	if N >= 2 {
		xint, _ := jacobiGQ(1, 1, N-2)
		copy(x[1:N], xint)
	}
	r.Points = make([]float64, n)
	r.Weights = make([]float64, n)
	fac := 2 / (float64(N) * float64(N+1))
	for i := 0; i < n; i++ {
		p := legendre(N, x[i])
		r.Points[i] = (x[i] + 1) / 2
		r.Weights[i] = fac / (p * p) / 2
	}
	return
}

// jacobiGQ computes the N+1 point Gauss quadrature for the Jacobi weight
// (1-x)^alpha (1+x)^beta on [-1,1].
func jacobiGQ(alpha, beta float64, N int) (x, w []float64) {
	if N == 0 {
		x = []float64{-(alpha - beta) / (alpha + beta + 2)}
		w = []float64{gamma0(alpha, beta)}
		return
	}
	var (
		h1 = make([]float64, N+1)
		d0 = make([]float64, N+1)
		d1 = make([]float64, N)
	)
	for i := 0; i < N+1; i++ {
		h1[i] = 2*float64(i) + alpha + beta
	}
	fac := -.5 * (alpha*alpha - beta*beta)
	for i := 0; i < N+1; i++ {
		val := h1[i]
		d0[i] = fac / (val * (val + 2))
	}
	if alpha+beta < 10*1.e-16 {
		d0[0] = 0
	}
	for i := 0; i < N; i++ {
		ip1 := float64(i + 1)
		val := h1[i]
		d1[i] = 2 / (val + 2) *
			math.Sqrt(ip1*(ip1+alpha+beta)*(ip1+alpha)*(ip1+beta)/((val+1)*(val+3)))
	}
	JJ := mat.NewSymDense(N+1, nil)
	for i := 0; i < N+1; i++ {
		JJ.SetSym(i, i, d0[i])
		if i < N {
			JJ.SetSym(i, i+1, d1[i])
		}
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(JJ, true); !ok {
		panic("eigenvalue decomposition failed")
	}
	x = eig.Values(nil)
	VVr := mat.NewDense(N+1, N+1, nil)
	eig.VectorsTo(VVr)
	w = make([]float64, N+1)
	g0 := gamma0(alpha, beta)
	for i := 0; i < N+1; i++ {
		v := VVr.At(0, i)
		w[i] = v * v * g0
	}
	return
}

func gamma0(alpha, beta float64) float64 {
	ab1 := alpha + beta + 1
	return math.Pow(2, ab1) / ab1 *
		math.Gamma(alpha+1) * math.Gamma(beta+1) / math.Gamma(ab1)
}

// legendre evaluates P_N(x) by the three-term recurrence.
func legendre(N int, x float64) float64 {
	if N == 0 {
		return 1
	}
	pm1, p := 1.0, x
	for n := 1; n < N; n++ {
		fn := float64(n)
		pm1, p = p, ((2*fn+1)*x*p-fn*pm1)/(fn+1)
	}
	return p
}

// Quadrature is a rule on the [0,1]^dim reference cell.
type Quadrature struct {
	Dim             int
	Points          [][]float64
	Weights         []float64
	IsTensorProduct bool
	Rules1D         []Rule1D // per-axis factors when IsTensorProduct
}

func (q Quadrature) Len() int { return len(q.Points) }

// TensorProduct expands a 1-D rule into dim dimensions, first axis fastest.
func TensorProduct(dim int, r Rule1D) (q Quadrature) {
	var (
		n1 = r.Len()
		n  = 1
	)
	for d := 0; d < dim; d++ {
		n *= n1
	}
	q = Quadrature{
		Dim:             dim,
		Points:          make([][]float64, n),
		Weights:         make([]float64, n),
		IsTensorProduct: true,
		Rules1D:         make([]Rule1D, dim),
	}
	for d := 0; d < dim; d++ {
		q.Rules1D[d] = r
	}
	for i := 0; i < n; i++ {
		pt := make([]float64, dim)
		wt := 1.0
		rem := i
		for d := 0; d < dim; d++ {
			j := rem % n1
			rem /= n1
			pt[d] = r.Points[j]
			wt *= r.Weights[j]
		}
		q.Points[i] = pt
		q.Weights[i] = wt
	}
	return
}

// FromPoints wraps explicit points and weights with no tensor structure.
func FromPoints(dim int, points [][]float64, weights []float64) Quadrature {
	return Quadrature{Dim: dim, Points: points, Weights: weights}
}
