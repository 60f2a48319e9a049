package migration

import (
	"errors"
	"testing"
)

func versions(ms []*VersionMigration) []int {
	out := make([]int, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Version)
	}
	return out
}

func migrationList(vs ...int) []*VersionMigration {
	out := make([]*VersionMigration, 0, len(vs))
	for _, v := range vs {
		out = append(out, NewVersionMigration(v))
	}
	return out
}

func TestPlanUp_SelectsWindow(t *testing.T) {
	ms := migrationList(1, 2, 3, 4, 5)
	got := versions(planUp(ms, 2, 4, nil))
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected [3 4], got %v", got)
	}
}

func TestPlanUp_SortsDefensively(t *testing.T) {
	ms := migrationList(3, 1, 2)
	got := versions(planUp(ms, 0, 3, nil))
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected ascending [1 2 3], got %v", got)
	}
}

func TestPlanUp_SkipsAppliedMarker(t *testing.T) {
	// sparse history: version 2 was applied even though the stored version
	// counter lags behind
	ms := migrationList(1, 2, 3)
	got := versions(planUp(ms, 1, 3, []int{2}))
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected [3], got %v", got)
	}
}

func TestPlanUp_EmptyWhenCurrent(t *testing.T) {
	ms := migrationList(1, 2)
	if got := planUp(ms, 2, 2, nil); len(got) != 0 {
		t.Fatalf("expected empty plan, got %v", versions(got))
	}
}

func TestValidateList_DuplicateVersion(t *testing.T) {
	err := validateList(migrationList(1, 2, 2))
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("expected ErrConfigConflict, got %v", err)
	}
}

func TestValidateList_NonPositiveVersion(t *testing.T) {
	err := validateList(migrationList(0))
	if !errors.Is(err, ErrConfigConflict) {
		t.Fatalf("expected ErrConfigConflict for version 0, got %v", err)
	}
}
