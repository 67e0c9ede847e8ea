package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"togglr/internal/model"
	"togglr/pkg/constraints"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite, no CGO
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("togglr_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(&model.Feature{}, &model.FeatureOverride{}, &model.OutboxTask{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedFeature(t *testing.T, db *gorm.DB, key string, def bool) *model.Feature {
	t.Helper()
	f := &model.Feature{Key: key, DefaultEnabled: def, Version: 1}
	if err := NewFeatureRepository(db).Create(context.Background(), f); err != nil {
		t.Fatalf("seed feature %s: %v", key, err)
	}
	return f
}

func TestFeatureCreateAndGetByKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	f := &model.Feature{Key: "dark-mode", DefaultEnabled: true, Description: "dark theme rollout", Version: 1}
	if err := repo.Create(context.Background(), f); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.ID == 0 {
		t.Fatal("expected assigned ID after create")
	}

	got, err := repo.GetByKey(context.Background(), "dark-mode")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if got == nil {
		t.Fatal("expected feature, got nil")
	}
	if got.Key != "dark-mode" || !got.DefaultEnabled || got.Description != "dark theme rollout" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
}

func TestFeatureGetByKey_Absent(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	got, err := repo.GetByKey(context.Background(), "nope")
	if err != nil {
		t.Fatalf("absence must not be an error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil feature, got %+v", got)
	}
}

func TestFeatureCreate_DuplicateKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	seedFeature(t, db, "dark-mode", false)

	err := repo.Create(context.Background(), &model.Feature{Key: "dark-mode", Version: 1})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate key, got %v", err)
	}

	// The original row must be untouched.
	got, err := repo.GetByKey(context.Background(), "dark-mode")
	if err != nil || got == nil {
		t.Fatalf("GetByKey after conflict: feature=%v err=%v", got, err)
	}
	if got.DefaultEnabled {
		t.Fatal("losing write must not alter the existing feature")
	}
}

func TestFeatureUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	f := seedFeature(t, db, "dark-mode", false)
	f.DefaultEnabled = true
	f.Description = "now on by default"
	if err := repo.Update(context.Background(), f); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByKey(context.Background(), "dark-mode")
	if err != nil || got == nil {
		t.Fatalf("GetByKey: feature=%v err=%v", got, err)
	}
	if !got.DefaultEnabled || got.Description != "now on by default" {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestFeatureBumpVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	f := seedFeature(t, db, "dark-mode", false)

	v, err := repo.BumpVersion(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("BumpVersion: %v", err)
	}
	if v != 2 {
		t.Fatalf("expected version 2 after first bump, got %d", v)
	}
	v, err = repo.BumpVersion(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("BumpVersion: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected version 3 after second bump, got %d", v)
	}

	got, err := repo.GetByKey(context.Background(), "dark-mode")
	if err != nil || got == nil {
		t.Fatalf("GetByKey: feature=%v err=%v", got, err)
	}
	if got.Version != 3 {
		t.Fatalf("bump not persisted, version %d", got.Version)
	}
}

func TestFeatureDelete_CascadesOverrides(t *testing.T) {
	db := newTestDB(t)
	features := NewFeatureRepository(db)
	overrides := NewOverrideRepository(db)

	f := seedFeature(t, db, "dark-mode", false)
	other := seedFeature(t, db, "new-checkout", true)

	for i, id := range []string{"u1", "u2"} {
		ov := &model.FeatureOverride{
			FeatureID:        f.ID,
			TargetType:       constraints.TargetUser,
			TargetIdentifier: id,
			Enabled:          i%2 == 0,
		}
		if err := overrides.Create(context.Background(), ov); err != nil {
			t.Fatalf("seed override %s: %v", id, err)
		}
	}
	keep := &model.FeatureOverride{
		FeatureID:        other.ID,
		TargetType:       constraints.TargetUser,
		TargetIdentifier: "u1",
		Enabled:          true,
	}
	if err := overrides.Create(context.Background(), keep); err != nil {
		t.Fatalf("seed unrelated override: %v", err)
	}

	if err := features.Delete(context.Background(), f); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := features.GetByKey(context.Background(), "dark-mode")
	if err != nil {
		t.Fatalf("GetByKey after delete: %v", err)
	}
	if got != nil {
		t.Fatal("feature still present after delete")
	}

	var count int64
	if err := db.Model(&model.FeatureOverride{}).Where("feature_id = ?", f.ID).Count(&count).Error; err != nil {
		t.Fatalf("count orphans: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected cascade to remove overrides, %d left", count)
	}

	// Overrides of other features must survive.
	left, err := overrides.GetByTarget(context.Background(), other.ID, constraints.TargetUser, "u1")
	if err != nil || left == nil {
		t.Fatalf("unrelated override lost: override=%v err=%v", left, err)
	}
}

func TestFeatureList_Search(t *testing.T) {
	db := newTestDB(t)
	repo := NewFeatureRepository(db)

	seedFeature(t, db, "dark-mode", false)
	seedFeature(t, db, "dark-sidebar", false)
	seedFeature(t, db, "new-checkout", true)

	all, err := repo.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 features, got %d", len(all))
	}

	dark, err := repo.List(context.Background(), "dark")
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(dark) != 2 {
		t.Fatalf("expected 2 matches for 'dark', got %d", len(dark))
	}
	for _, f := range dark {
		if f.Key != "dark-mode" && f.Key != "dark-sidebar" {
			t.Fatalf("unexpected match %q", f.Key)
		}
	}
}
