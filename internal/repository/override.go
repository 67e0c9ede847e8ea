package repository

import (
	"context"
	"errors"

	"togglr/internal/model"

	"gorm.io/gorm"
)

// OverrideInterface defines the interface for override persistence.
// Lookup methods report absence as (nil, nil); errors mean the store failed.
type OverrideInterface interface {
	GetByTarget(ctx context.Context, featureID uint64, targetType, targetIdentifier string) (*model.FeatureOverride, error)
	GetLatestForTargets(ctx context.Context, featureID uint64, targetType string, identifiers []string) (*model.FeatureOverride, error)
	GetByID(ctx context.Context, id uint64) (*model.FeatureOverride, error)
	ListByFeature(ctx context.Context, featureID uint64) ([]model.FeatureOverride, error)
	Create(ctx context.Context, override *model.FeatureOverride) error
	UpdateEnabled(ctx context.Context, id uint64, enabled bool) error
	Delete(ctx context.Context, id uint64) error
	WithTx(tx *gorm.DB) OverrideInterface
}

// OverrideRepository implementation of OverrideInterface for MySQL
type OverrideRepository struct {
	db *gorm.DB
}

func NewOverrideRepository(db *gorm.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// GetByTarget finds the single override for one concrete target, if any.
func (r *OverrideRepository) GetByTarget(ctx context.Context, featureID uint64, targetType, targetIdentifier string) (*model.FeatureOverride, error) {
	var override model.FeatureOverride
	err := r.db.WithContext(ctx).
		Where("feature_id = ? AND target_type = ? AND target_identifier = ?", featureID, targetType, targetIdentifier).
		First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}

// GetLatestForTargets picks, among the feature's overrides of the given type
// whose identifier is in the set, the one created most recently. Equal
// timestamps are decided by the highest row ID, so the result is always
// deterministic. An empty set matches nothing and skips the query entirely.
func (r *OverrideRepository) GetLatestForTargets(ctx context.Context, featureID uint64, targetType string, identifiers []string) (*model.FeatureOverride, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}
	var override model.FeatureOverride
	err := r.db.WithContext(ctx).
		Where("feature_id = ? AND target_type = ? AND target_identifier IN ?", featureID, targetType, identifiers).
		Order("created_at DESC, id DESC").
		First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}

func (r *OverrideRepository) GetByID(ctx context.Context, id uint64) (*model.FeatureOverride, error) {
	var override model.FeatureOverride
	if err := r.db.WithContext(ctx).First(&override, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}

func (r *OverrideRepository) ListByFeature(ctx context.Context, featureID uint64) ([]model.FeatureOverride, error) {
	var overrides []model.FeatureOverride
	err := r.db.WithContext(ctx).
		Where("feature_id = ?", featureID).
		Order("created_at DESC, id DESC").
		Find(&overrides).Error
	return overrides, err
}

// Create inserts an override. A second row for the same
// (feature, target_type, target_identifier) surfaces as ErrConflict and
// leaves the original untouched.
func (r *OverrideRepository) Create(ctx context.Context, override *model.FeatureOverride) error {
	err := r.db.WithContext(ctx).Create(override).Error
	return translateError(err)
}

// UpdateEnabled flips the verdict in place. Only the enabled column moves;
// created_at keeps its original value so group precedence is undisturbed.
func (r *OverrideRepository) UpdateEnabled(ctx context.Context, id uint64, enabled bool) error {
	return r.db.WithContext(ctx).Model(&model.FeatureOverride{}).
		Where("id = ?", id).
		UpdateColumn("enabled", enabled).Error
}

// Delete removes an override by ID. Deleting a missing row is not an error.
func (r *OverrideRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Delete(&model.FeatureOverride{}, id).Error
}

func (r *OverrideRepository) WithTx(tx *gorm.DB) OverrideInterface {
	return &OverrideRepository{db: tx}
}
