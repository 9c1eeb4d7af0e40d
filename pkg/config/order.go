package config

import (
	"fmt"
	"sort"
	"strings"
)

// Ref is an entity's "kind/name" reference, the form used in depends_on.
func (e Entity) Ref() string {
	return e.Kind + "/" + e.Name
}

// Order arranges entities into reconciliation waves. Entities in the same
// wave have no dependency relationship and can be reconciled in any order;
// every entity in a later wave depends, directly or transitively, on an
// earlier one. Unknown depends_on targets and dependency cycles are errors.
//
// Teardown runs the waves in reverse.
func Order(entities []Entity) ([][]Entity, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	byRef := make(map[string]*Entity, len(entities))
	dependents := make(map[string][]string, len(entities))
	inDegree := make(map[string]int, len(entities))

	for i := range entities {
		ref := entities[i].Ref()
		if _, dup := byRef[ref]; dup {
			return nil, fmt.Errorf("duplicate entity %s", ref)
		}
		byRef[ref] = &entities[i]
		inDegree[ref] = 0
	}

	for _, ent := range entities {
		for _, dep := range ent.DependsOn {
			if _, ok := byRef[dep]; !ok {
				return nil, fmt.Errorf("entity %s depends on unknown entity %s", ent.Ref(), dep)
			}
			if dep == ent.Ref() {
				return nil, fmt.Errorf("entity %s depends on itself", dep)
			}
			dependents[dep] = append(dependents[dep], ent.Ref())
			inDegree[ent.Ref()]++
		}
	}

	// Kahn's algorithm, wave by wave. Waves are sorted so order is stable
	// across runs.
	var wave []string
	for ref, degree := range inDegree {
		if degree == 0 {
			wave = append(wave, ref)
		}
	}

	var waves [][]Entity
	placed := 0
	for len(wave) > 0 {
		sort.Strings(wave)

		ents := make([]Entity, 0, len(wave))
		var next []string
		for _, ref := range wave {
			ents = append(ents, *byRef[ref])
			placed++
			for _, dependent := range dependents[ref] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		waves = append(waves, ents)
		wave = next
	}

	if placed != len(entities) {
		return nil, fmt.Errorf("dependency cycle involving %s", formatCycleMembers(inDegree))
	}
	return waves, nil
}

// formatCycleMembers names the entities left unplaced after the topological
// sort, which are exactly the cycle participants.
func formatCycleMembers(inDegree map[string]int) string {
	var members []string
	for ref, degree := range inDegree {
		if degree > 0 {
			members = append(members, ref)
		}
	}
	sort.Strings(members)
	return strings.Join(members, ", ")
}
