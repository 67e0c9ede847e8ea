package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"togglr/internal/model"
	"togglr/pkg/constraints"
)

func TestOverrideCreateAndGetByTarget(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	ov := &model.FeatureOverride{
		FeatureID:        f.ID,
		TargetType:       constraints.TargetUser,
		TargetIdentifier: "u1",
		Enabled:          true,
	}
	if err := repo.Create(context.Background(), ov); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ov.ID == 0 {
		t.Fatal("expected assigned ID after create")
	}
	if ov.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set on create")
	}

	got, err := repo.GetByTarget(context.Background(), f.ID, constraints.TargetUser, "u1")
	if err != nil {
		t.Fatalf("GetByTarget: %v", err)
	}
	if got == nil || !got.Enabled || got.TargetIdentifier != "u1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	// Absent target is (nil, nil), not an error.
	miss, err := repo.GetByTarget(context.Background(), f.ID, constraints.TargetUser, "u2")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil override, got %+v", miss)
	}
}

func TestOverrideCreate_DuplicateTarget(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	other := seedFeature(t, db, "new-checkout", false)
	repo := NewOverrideRepository(db)

	first := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetUser, TargetIdentifier: "u1", Enabled: true}
	if err := repo.Create(context.Background(), first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Same (feature, type, identifier) triple collides.
	dup := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetUser, TargetIdentifier: "u1", Enabled: false}
	if err := repo.Create(context.Background(), dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// The existing override keeps its verdict.
	got, err := repo.GetByTarget(context.Background(), f.ID, constraints.TargetUser, "u1")
	if err != nil || got == nil {
		t.Fatalf("GetByTarget after conflict: override=%v err=%v", got, err)
	}
	if !got.Enabled {
		t.Fatal("losing write must not alter the existing override")
	}

	// Same identifier under a different type or a different feature is fine.
	groupSame := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetGroup, TargetIdentifier: "u1", Enabled: false}
	if err := repo.Create(context.Background(), groupSame); err != nil {
		t.Fatalf("same identifier, different type: %v", err)
	}
	otherFeature := &model.FeatureOverride{FeatureID: other.ID, TargetType: constraints.TargetUser, TargetIdentifier: "u1", Enabled: false}
	if err := repo.Create(context.Background(), otherFeature); err != nil {
		t.Fatalf("same target, different feature: %v", err)
	}
}

func TestOverrideGetLatestForTargets(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	seed := []struct {
		group   string
		enabled bool
		at      time.Time
	}{
		{"beta", true, base},
		{"ops", false, base.Add(2 * time.Hour)}, // newest
		{"qa", true, base.Add(time.Hour)},
	}
	for _, s := range seed {
		ov := &model.FeatureOverride{
			FeatureID:        f.ID,
			TargetType:       constraints.TargetGroup,
			TargetIdentifier: s.group,
			Enabled:          s.enabled,
			CreatedAt:        s.at,
		}
		if err := repo.Create(context.Background(), ov); err != nil {
			t.Fatalf("seed group %s: %v", s.group, err)
		}
	}

	// Newest matching override wins regardless of slice order.
	got, err := repo.GetLatestForTargets(context.Background(), f.ID, constraints.TargetGroup, []string{"qa", "beta", "ops"})
	if err != nil {
		t.Fatalf("GetLatestForTargets: %v", err)
	}
	if got == nil || got.TargetIdentifier != "ops" {
		t.Fatalf("expected newest override (ops), got %+v", got)
	}
	if got.Enabled {
		t.Fatal("expected ops verdict false")
	}

	// Membership restricts the candidate set.
	got, err = repo.GetLatestForTargets(context.Background(), f.ID, constraints.TargetGroup, []string{"beta", "qa"})
	if err != nil {
		t.Fatalf("GetLatestForTargets: %v", err)
	}
	if got == nil || got.TargetIdentifier != "qa" {
		t.Fatalf("expected qa to win within subset, got %+v", got)
	}

	// Empty set and unknown groups both miss without error.
	got, err = repo.GetLatestForTargets(context.Background(), f.ID, constraints.TargetGroup, nil)
	if err != nil || got != nil {
		t.Fatalf("empty set: override=%v err=%v", got, err)
	}
	got, err = repo.GetLatestForTargets(context.Background(), f.ID, constraints.TargetGroup, []string{"nobody"})
	if err != nil || got != nil {
		t.Fatalf("unknown groups: override=%v err=%v", got, err)
	}
}

func TestOverrideGetLatestForTargets_TieBreaksOnID(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	older := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetGroup, TargetIdentifier: "beta", Enabled: false, CreatedAt: at}
	newer := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetGroup, TargetIdentifier: "ops", Enabled: true, CreatedAt: at}
	if err := repo.Create(context.Background(), older); err != nil {
		t.Fatalf("seed older: %v", err)
	}
	if err := repo.Create(context.Background(), newer); err != nil {
		t.Fatalf("seed newer: %v", err)
	}

	got, err := repo.GetLatestForTargets(context.Background(), f.ID, constraints.TargetGroup, []string{"beta", "ops"})
	if err != nil {
		t.Fatalf("GetLatestForTargets: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("equal timestamps must resolve to the higher ID, got %+v", got)
	}
}

func TestOverrideUpdateEnabled_PreservesCreatedAt(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ov := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetGroup, TargetIdentifier: "beta", Enabled: true, CreatedAt: at}
	if err := repo.Create(context.Background(), ov); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateEnabled(context.Background(), ov.ID, false); err != nil {
		t.Fatalf("UpdateEnabled: %v", err)
	}

	got, err := repo.GetByID(context.Background(), ov.ID)
	if err != nil || got == nil {
		t.Fatalf("GetByID: override=%v err=%v", got, err)
	}
	if got.Enabled {
		t.Fatal("expected enabled flipped to false")
	}
	if !got.CreatedAt.Equal(at) {
		t.Fatalf("UpdateEnabled must not advance CreatedAt: want %v got %v", at, got.CreatedAt)
	}
}

func TestOverrideDelete_Idempotent(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	ov := &model.FeatureOverride{FeatureID: f.ID, TargetType: constraints.TargetUser, TargetIdentifier: "u1", Enabled: true}
	if err := repo.Create(context.Background(), ov); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.Delete(context.Background(), ov.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := repo.GetByID(context.Background(), ov.ID)
	if err != nil || got != nil {
		t.Fatalf("override should be gone: override=%v err=%v", got, err)
	}

	// Deleting again succeeds quietly.
	if err := repo.Delete(context.Background(), ov.ID); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
}

func TestOverrideListByFeature(t *testing.T) {
	db := newTestDB(t)
	f := seedFeature(t, db, "dark-mode", false)
	repo := NewOverrideRepository(db)

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"u1", "u2", "u3"} {
		ov := &model.FeatureOverride{
			FeatureID:        f.ID,
			TargetType:       constraints.TargetUser,
			TargetIdentifier: id,
			Enabled:          true,
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(context.Background(), ov); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	list, err := repo.ListByFeature(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("ListByFeature: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 overrides, got %d", len(list))
	}
	// Newest first.
	if list[0].TargetIdentifier != "u3" || list[2].TargetIdentifier != "u1" {
		t.Fatalf("unexpected order: %+v", list)
	}
}
