package geometry

import "math"

// FaceNormal returns the outward unit normal and the boundary form magnitude
// (the surface element entering face quadrature weights) at quadrature point
// q of local face. Faces pair per axis with the even index on the low side.
// Requires inverse Jacobians, so dim must equal spacedim.
func (mq *MappingQ) FaceNormal(g *CellGeometry, face, q int) (normal []float64, form float64) {
	if g.InverseJacobians == nil {
		panic("face normals require inverse Jacobians")
	}
	var (
		dim  = mq.Dim
		axis = face / 2
		sign = 1.0
		jinv = g.InverseJacobians[q]
	)
	if face%2 == 0 {
		sign = -1
	}
	// the covariant row grad(xhat_axis) is normal to the face plane
	normal = make([]float64, dim)
	var norm float64
	for s := 0; s < dim; s++ {
		normal[s] = jinv[axis*dim+s]
		norm += normal[s] * normal[s]
	}
	norm = math.Sqrt(norm)
	for s := range normal {
		normal[s] *= sign / norm
	}
	form = g.DetJ[q] * norm
	return
}
