package InputParameters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	data := `
Title: "Curved Laplacian"
Dim: 2
Divisions: 4
ElementOrder: 2
Scheme: color
Distortions:
  3: [0.05, 0.05]
`
	var op OperatorParameters
	assert.NoError(t, op.Parse([]byte(data)))
	assert.Equal(t, 2, op.Dim)
	assert.Equal(t, "color", op.Scheme)
	// quadrature defaults to one point beyond the element order
	assert.Equal(t, 3, op.QuadraturePoints)
	assert.Equal(t, []float64{0.05, 0.05}, op.Distortions[3])
}
