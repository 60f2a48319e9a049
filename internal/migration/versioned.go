package migration

import (
	"fmt"
	"sort"
)

// planUp selects every migration with stored < version <= target, skipping
// versions already present in the applied marker, sorted ascending. The sort
// is defensive; callers are expected to supply migrations pre-ordered.
func planUp(migrations []*VersionMigration, stored, target int, applied []int) []*VersionMigration {
	done := make(map[int]struct{}, len(applied))
	for _, v := range applied {
		done[v] = struct{}{}
	}
	plan := make([]*VersionMigration, 0, len(migrations))
	for _, m := range migrations {
		if m.Version <= stored || m.Version > target {
			continue
		}
		if _, ok := done[m.Version]; ok {
			continue
		}
		plan = append(plan, m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })
	return plan
}

// validateList runs assembly-time validation over the whole migration list
// and rejects duplicate versions. Runs before any transaction begins.
func validateList(migrations []*VersionMigration) error {
	seen := make(map[int]struct{}, len(migrations))
	for _, m := range migrations {
		if err := m.validate(); err != nil {
			return err
		}
		if _, dup := seen[m.Version]; dup {
			return newError(ErrConfigConflict, m.Version, "",
				fmt.Errorf("two migrations share version %d", m.Version))
		}
		seen[m.Version] = struct{}{}
	}
	return nil
}
