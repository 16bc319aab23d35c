// Package geometry implements the reference-to-real cell mapping engine:
// tensor-product Lagrange mappings of configurable degree on Gauss-Lobatto
// support nodes, forward and inverse point transforms, and Jacobian /
// higher-derivative evaluation with sum-factorized fast paths.
package geometry

import (
	"github.com/notargets/matfree/quadrature"
)

// LagrangeBasis1D holds the degree-p Lagrange basis on the p+1 Gauss-Lobatto
// nodes of [0,1], stored as monomial coefficients so that derivatives of any
// order come from one Horner pass.
type LagrangeBasis1D struct {
	Degree int
	Nodes  []float64
	coeffs [][]float64 // coeffs[i][k] multiplies x^k in basis function i
}

func NewLagrangeBasis1D(degree int) (b *LagrangeBasis1D) {
	var (
		n = degree + 1
	)
	b = &LagrangeBasis1D{
		Degree: degree,
		coeffs: make([][]float64, n),
	}
	if degree == 0 {
		b.Nodes = []float64{0.5}
		b.coeffs[0] = []float64{1}
		return
	}
	b.Nodes = quadrature.GaussLobatto(n).Points
	for i := 0; i < n; i++ {
		// l_i(x) = prod_{j != i} (x - x_j)/(x_i - x_j), expanded to monomials
		c := make([]float64, 1, n)
		c[0] = 1
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			den := b.Nodes[i] - b.Nodes[j]
			next := make([]float64, len(c)+1)
			for k, ck := range c {
				next[k+1] += ck / den
				next[k] -= ck * b.Nodes[j] / den
			}
			c = next
		}
		b.coeffs[i] = c
	}
	return
}

// Value evaluates basis function i at x.
func (b *LagrangeBasis1D) Value(i int, x float64) float64 {
	return b.Derivative(i, 0, x)
}

// Derivative evaluates the order-th derivative of basis function i at x.
// Order 0 is the value; orders beyond the degree are zero.
func (b *LagrangeBasis1D) Derivative(i, order int, x float64) (y float64) {
	var (
		c = b.coeffs[i]
	)
	if order >= len(c) {
		return 0
	}
	for k := len(c) - 1; k >= order; k-- {
		// falling factorial k*(k-1)*...*(k-order+1)
		fac := 1.0
		for m := 0; m < order; m++ {
			fac *= float64(k - m)
		}
		y = y*x + c[k]*fac
	}
	return
}

// ValuesAndDerivatives fills out[d][i] with the d-th derivative of basis
// function i at x, for d = 0..maxOrder.
func (b *LagrangeBasis1D) ValuesAndDerivatives(x float64, maxOrder int, out [][]float64) {
	for d := 0; d <= maxOrder; d++ {
		for i := 0; i <= b.Degree; i++ {
			out[d][i] = b.Derivative(i, d, x)
		}
	}
}
