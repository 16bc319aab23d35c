package dofs

import (
	"fmt"
	"sort"
)

// ConstraintEntry is one (target dof, weight) pair of an affine constraint.
type ConstraintEntry struct {
	Target int
	Weight float64
}

type constraintLine struct {
	entries       []ConstraintEntry
	inhomogeneity float64
}

// AffineConstraints stores hanging-node and boundary constraints: a
// constrained dof equals a weighted sum of target dofs plus an optional
// inhomogeneity. Lines must be closed before use, which resolves chains of
// constraints into direct references to unconstrained dofs.
type AffineConstraints struct {
	lines  map[int]*constraintLine
	closed bool
}

func NewAffineConstraints() *AffineConstraints {
	return &AffineConstraints{lines: make(map[int]*constraintLine)}
}

func (ac *AffineConstraints) AddLine(dof int) {
	if ac.closed {
		panic("cannot add constraints after Close")
	}
	if _, exists := ac.lines[dof]; !exists {
		ac.lines[dof] = &constraintLine{}
	}
}

func (ac *AffineConstraints) AddEntry(dof, target int, weight float64) {
	ac.AddLine(dof)
	ac.lines[dof].entries = append(ac.lines[dof].entries, ConstraintEntry{target, weight})
}

func (ac *AffineConstraints) SetInhomogeneity(dof int, value float64) {
	ac.AddLine(dof)
	ac.lines[dof].inhomogeneity = value
}

func (ac *AffineConstraints) IsConstrained(dof int) bool {
	if ac == nil {
		return false
	}
	_, exists := ac.lines[dof]
	return exists
}

func (ac *AffineConstraints) Entries(dof int) []ConstraintEntry {
	return ac.lines[dof].entries
}

func (ac *AffineConstraints) Inhomogeneity(dof int) float64 {
	return ac.lines[dof].inhomogeneity
}

// NConstraints is the number of constrained dofs.
func (ac *AffineConstraints) NConstraints() int {
	if ac == nil {
		return 0
	}
	return len(ac.lines)
}

// ConstrainedDofs lists constrained dofs in increasing order.
func (ac *AffineConstraints) ConstrainedDofs() (out []int) {
	if ac == nil {
		return nil
	}
	for dof := range ac.lines {
		out = append(out, dof)
	}
	sort.Ints(out)
	return
}

// Close resolves constraint chains so that every entry targets an
// unconstrained dof, merging duplicate targets. A cycle among constraints
// is an error.
func (ac *AffineConstraints) Close() error {
	for dof, line := range ac.lines {
		resolved, inh, err := ac.resolve(dof, line, 0)
		if err != nil {
			return err
		}
		line.entries = resolved
		line.inhomogeneity = inh
	}
	ac.closed = true
	return nil
}

func (ac *AffineConstraints) resolve(dof int, line *constraintLine, depth int) ([]ConstraintEntry, float64, error) {
	if depth > len(ac.lines) {
		return nil, 0, fmt.Errorf("cycle detected while resolving constraint on dof %d", dof)
	}
	var (
		acc = make(map[int]float64)
		inh = line.inhomogeneity
	)
	for _, e := range line.entries {
		if sub, isConstrained := ac.lines[e.Target]; isConstrained {
			subEntries, subInh, err := ac.resolve(e.Target, sub, depth+1)
			if err != nil {
				return nil, 0, err
			}
			for _, se := range subEntries {
				acc[se.Target] += e.Weight * se.Weight
			}
			inh += e.Weight * subInh
		} else {
			acc[e.Target] += e.Weight
		}
	}
	targets := make([]int, 0, len(acc))
	for t := range acc {
		targets = append(targets, t)
	}
	sort.Ints(targets)
	resolved := make([]ConstraintEntry, len(targets))
	for i, t := range targets {
		resolved[i] = ConstraintEntry{t, acc[t]}
	}
	return resolved, inh, nil
}
