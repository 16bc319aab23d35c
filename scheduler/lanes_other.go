//go:build !amd64

package scheduler

// DefaultLaneWidth on non-amd64 targets assumes a 256-bit vector unit.
func DefaultLaneWidth() int { return 4 }
