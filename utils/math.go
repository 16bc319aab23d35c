package utils

import "math"

// IntPow is integer exponentiation, used for counts like (p+1)^dim.
func IntPow(base, exp int) (y int) {
	y = 1
	for i := 0; i < exp; i++ {
		y *= base
	}
	return
}

func Near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// TwoProduct computes a*b exactly as a rounded product and a compensation
// term, using an FMA. Used by the 2D closed-form inverse mapping to avoid
// catastrophic cancellation in the discriminant.
func TwoProduct(a, b float64) (p, e float64) {
	p = a * b
	e = math.FMA(a, b, -p)
	return
}
