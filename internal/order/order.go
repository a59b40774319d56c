// Package order topologically sorts raw resources so that any resource
// defining a type (its metadata.name matches another resource's kind)
// is processed before the resources of that type.
package order

import (
	"fmt"
	"strings"

	"github.com/vk/manifold/internal/resource"
)

// CycleError reports a dependency cycle among name-defining resources.
// Cycles are always fatal; the orderer never breaks them silently.
type CycleError struct {
	Members []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among resources: %s", strings.Join(e.Members, ", "))
}

// Sort returns the resources in dependency order using a stable Kahn
// topological sort: among all currently ready nodes the lowest original
// index is always picked, so the output is deterministic for a given input.
func Sort(resources []*resource.Resource) ([]*resource.Resource, error) {
	n := len(resources)

	// Index definers by the names they can be referred to by: the bare
	// metadata.name and, when a module is set, the qualified form.
	definers := make(map[string][]int)
	for i, r := range resources {
		definers[r.Meta.Name] = append(definers[r.Meta.Name], i)
		if r.Meta.Module != "" {
			definers[r.Meta.Module+"."+r.Meta.Name] = append(definers[r.Meta.Module+"."+r.Meta.Name], i)
		}
	}

	// Edge definer -> dependent, tracked as an in-degree per dependent
	// plus adjacency from each definer.
	indegree := make([]int, n)
	dependents := make([][]int, n)
	for i, r := range resources {
		for _, d := range definers[r.Kind] {
			if d == i {
				continue
			}
			dependents[d] = append(dependents[d], i)
			indegree[i]++
		}
	}

	out := make([]*resource.Resource, 0, n)
	done := make([]bool, n)
	for len(out) < n {
		// Lowest original index among ready nodes wins the tie-break.
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next == -1 {
			var members []string
			for i := 0; i < n; i++ {
				if !done[i] {
					members = append(members, resources[i].FQN())
				}
			}
			return nil, &CycleError{Members: members}
		}
		done[next] = true
		out = append(out, resources[next])
		for _, dep := range dependents[next] {
			indegree[dep]--
		}
	}
	return out, nil
}
