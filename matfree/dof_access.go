package matfree

// ReadDofValues gathers the local values of one batch lane from the local
// vector src, resolving constrained dofs on the fly: a constrained local dof
// receives the weighted combination of its targets plus any inhomogeneity.
// src is indexed in local numbering (owned range first, ghosts after).
func (mf *MatrixFree) ReadDofValues(handler, batch, lane int, src, local []float64) {
	var (
		di                  = mf.DofInfo[handler]
		indices, indicators = mf.DofIndices(handler, batch, lane)
		pos, ind            = 0, 0
	)
	for i := range local {
		if ind < len(indicators) && indicators[ind].LocalDof == i {
			var (
				weights = di.Pool.Rows[indicators[ind].PoolRow]
				v       float64
			)
			if indicators[ind].Inhomogeneous {
				v = indicators[ind].Inhomogeneity
			}
			for _, w := range weights {
				v += w * src[indices[pos]]
				pos++
			}
			local[i] = v
			ind++
		} else {
			local[i] = src[indices[pos]]
			pos++
		}
	}
}

// DistributeLocalToGlobal scatters local contributions of one batch lane
// into dst, spreading constrained rows onto their targets with the pool
// weights. Inhomogeneities carry no contribution on the transpose path.
func (mf *MatrixFree) DistributeLocalToGlobal(handler, batch, lane int, local, dst []float64) {
	var (
		di                  = mf.DofInfo[handler]
		indices, indicators = mf.DofIndices(handler, batch, lane)
		pos, ind            = 0, 0
	)
	for i := range local {
		if ind < len(indicators) && indicators[ind].LocalDof == i {
			for _, w := range di.Pool.Rows[indicators[ind].PoolRow] {
				dst[indices[pos]] += w * local[i]
				pos++
			}
			ind++
		} else {
			dst[indices[pos]] += local[i]
			pos++
		}
	}
}
