package matfree

import "strings"

// UpdateFlags declares which geometric quantities the caller needs at the
// quadrature points of each cell batch. Storage is allocated only for the
// closed flag set.
type UpdateFlags uint32

const (
	UpdateDefault UpdateFlags = 0

	// UpdateQuadraturePoints requests physical quadrature point locations.
	UpdateQuadraturePoints UpdateFlags = 1 << iota
	// UpdateJacobians requests the contravariant transform dF/dx̂.
	UpdateJacobians
	// UpdateInverseJacobians requests dx̂/dx, the covariant ingredient.
	UpdateInverseJacobians
	// UpdateJacobianGrads requests reference second derivatives of the map.
	UpdateJacobianGrads
	// UpdateJxW requests quadrature weight times volume (or surface) element.
	UpdateJxW
	// UpdateNormals requests outward unit normals on faces.
	UpdateNormals
	// UpdateGradients requests what pushing shape gradients forward needs.
	UpdateGradients
	// UpdateHessians requests pushed-forward second derivatives.
	UpdateHessians
	// UpdateVolumeElements requests the Jacobian determinants.
	UpdateVolumeElements
)

// closureIterations bounds the dependency expansion; the implication chain
// is at most this deep.
const closureIterations = 5

// Close expands the implied dependencies of f to a fixed point, so that
// every requested quantity has its ingredients requested too.
func (f UpdateFlags) Close() UpdateFlags {
	for i := 0; i < closureIterations; i++ {
		if f&UpdateJxW != 0 {
			f |= UpdateVolumeElements
		}
		if f&UpdateNormals != 0 {
			f |= UpdateInverseJacobians
		}
		if f&UpdateGradients != 0 {
			f |= UpdateInverseJacobians
		}
		if f&UpdateHessians != 0 {
			f |= UpdateJacobianGrads | UpdateInverseJacobians
		}
		if f&UpdateVolumeElements != 0 {
			f |= UpdateJacobians
		}
		if f&UpdateInverseJacobians != 0 {
			f |= UpdateJacobians
		}
	}
	return f
}

func (f UpdateFlags) String() string {
	var (
		names = []struct {
			bit  UpdateFlags
			name string
		}{
			{UpdateQuadraturePoints, "quadrature_points"},
			{UpdateJacobians, "jacobians"},
			{UpdateInverseJacobians, "inverse_jacobians"},
			{UpdateJacobianGrads, "jacobian_grads"},
			{UpdateJxW, "JxW"},
			{UpdateNormals, "normals"},
			{UpdateGradients, "gradients"},
			{UpdateHessians, "hessians"},
			{UpdateVolumeElements, "volume_elements"},
		}
		set []string
	)
	for _, n := range names {
		if f&n.bit != 0 {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, "|")
}
