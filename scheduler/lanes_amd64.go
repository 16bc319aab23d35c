//go:build amd64

package scheduler

import "golang.org/x/sys/cpu"

// DefaultLaneWidth picks the SIMD batch width from the widest vector unit
// available: 8 doubles for AVX-512, 4 for AVX2, 2 for SSE2 (always present
// on amd64).
func DefaultLaneWidth() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 8
	case cpu.X86.HasAVX2:
		return 4
	default:
		return 2
	}
}
