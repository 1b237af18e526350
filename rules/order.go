package rules

import "sort"

// resolveOrder turns a rulebook's membership into its execution order:
// priority descending, then before/after constraints among equal
// priorities, then insertion order. Constraints are followed transitively
// through the whole constraint graph, including rules that aren't members.
func resolveOrder(rulebookID string, slots []membership, constraints []Constraint) ([]membership, error) {
	ordered := make([]membership, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].seq < ordered[j].seq
	})

	if len(constraints) == 0 {
		return ordered, nil
	}

	edges := make(map[string][]string)
	for _, c := range constraints {
		edges[c.Before] = append(edges[c.Before], c.After)
	}

	for start := 0; start < len(ordered); {
		end := start + 1
		for end < len(ordered) && ordered[end].priority == ordered[start].priority {
			end++
		}
		if end-start > 1 {
			group, err := orderGroup(rulebookID, ordered[start:end], edges)
			if err != nil {
				return nil, err
			}
			copy(ordered[start:end], group)
		}
		start = end
	}

	return ordered, nil
}

// orderGroup topologically sorts one equal-priority group. group is already
// in insertion order; among ready rules the earliest inserted goes first.
func orderGroup(rulebookID string, group []membership, edges map[string][]string) ([]membership, error) {
	index := make(map[string]int, len(group))
	for i, ms := range group {
		index[ms.member.Handle()] = i
	}

	after := make([][]int, len(group))
	indegree := make([]int, len(group))
	for i, ms := range group {
		// A rule that reaches itself gets a self-edge and is never placed
		for _, j := range reachableMembers(edges, ms.member.Handle(), index) {
			after[i] = append(after[i], j)
			indegree[j]++
		}
	}

	placed := make([]bool, len(group))
	out := make([]membership, 0, len(group))
	for len(out) < len(group) {
		next := -1
		for i := range group {
			if !placed[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, ms := range group {
				if !placed[i] {
					stuck = append(stuck, ms.member.Handle())
				}
			}
			return nil, &CycleError{Rulebook: rulebookID, Rules: stuck}
		}
		placed[next] = true
		out = append(out, group[next])
		for _, j := range after[next] {
			indegree[j]--
		}
	}

	return out, nil
}

// reachableMembers returns the group indexes reachable from handle along
// at least one edge
func reachableMembers(edges map[string][]string, handle string, index map[string]int) []int {
	var found []int
	seen := make(map[string]bool)
	stack := append([]string(nil), edges[handle]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if i, ok := index[n]; ok {
			found = append(found, i)
		}
		stack = append(stack, edges[n]...)
	}
	return found
}
