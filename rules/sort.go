package rules

import (
	"cmp"
	"slices"
)

type visitState int

const (
	unvisited visitState = iota
	inProgress
	done
)

// SortByDependencies orders rules so that every dependency present in the
// input comes before the rule that declares it. Visitation follows priority
// descending (stable), which only decides ties. Dependencies that are not in
// the input are ignored.
//
// A back edge to a rule still being visited is a cycle: the edge is skipped,
// the cycle path is returned, and sorting carries on. Every input rule
// appears exactly once in the output.
func SortByDependencies(input []*Rule) ([]*Rule, [][]string) {
	byPriority := slices.Clone(input)
	slices.SortStableFunc(byPriority, func(a, b *Rule) int { return cmp.Compare(b.Priority, a.Priority) })

	byID := make(map[string]*Rule, len(byPriority))
	for _, r := range byPriority {
		byID[r.ID] = r
	}

	state := make(map[string]visitState, len(byPriority))
	ordered := make([]*Rule, 0, len(byPriority))
	var cycles [][]string
	var stack []string

	var visit func(r *Rule)
	visit = func(r *Rule) {
		switch state[r.ID] {
		case done:
			return
		case inProgress:
			start := slices.Index(stack, r.ID)
			path := append(slices.Clone(stack[start:]), r.ID)
			cycles = append(cycles, path)
			return
		}

		state[r.ID] = inProgress
		stack = append(stack, r.ID)

		for _, depID := range r.DependsOn {
			if dep, ok := byID[depID]; ok {
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		state[r.ID] = done
		ordered = append(ordered, r)
	}

	for _, r := range byPriority {
		visit(r)
	}

	return ordered, cycles
}
