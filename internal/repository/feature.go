package repository

import (
	"context"
	"errors"

	"togglr/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeatureInterface defines the interface for feature persistence
type FeatureInterface interface {
	GetByKey(ctx context.Context, key string) (*model.Feature, error)
	GetAll(ctx context.Context) ([]*model.Feature, error)
	List(ctx context.Context, search string) ([]*model.Feature, error)
	Create(ctx context.Context, feature *model.Feature) error
	Update(ctx context.Context, feature *model.Feature) error
	BumpVersion(ctx context.Context, id uint64) (int, error)
	Delete(ctx context.Context, feature *model.Feature) error
	PingContext(ctx context.Context) error
	WithTx(tx *gorm.DB) FeatureInterface
}

// FeatureRepository implementation of FeatureInterface for MySQL
type FeatureRepository struct {
	db *gorm.DB
}

// NewFeatureRepository creates a new instance
func NewFeatureRepository(db *gorm.DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// GetByKey retrieves a feature by its unique key. Absence is reported as
// (nil, nil); a non-nil error always means the store itself failed.
func (r *FeatureRepository) GetByKey(ctx context.Context, key string) (*model.Feature, error) {
	var feature model.Feature
	if err := r.db.WithContext(ctx).Where("`key` = ?", key).First(&feature).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &feature, nil
}

func (r *FeatureRepository) GetAll(ctx context.Context) ([]*model.Feature, error) {
	var features []*model.Feature
	err := r.db.WithContext(ctx).Find(&features).Error
	return features, err
}

func (r *FeatureRepository) List(ctx context.Context, search string) ([]*model.Feature, error) {
	var features []*model.Feature
	query := r.db.WithContext(ctx)

	if search != "" {
		query = query.Where("`key` LIKE ?", "%"+search+"%")
	}

	err := query.Order("updated_at DESC").Find(&features).Error
	return features, err
}

// Create inserts a new feature. A duplicate key surfaces as ErrConflict.
func (r *FeatureRepository) Create(ctx context.Context, feature *model.Feature) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations).Create(feature).Error
	return translateError(err)
}

// Update persists the mutable fields (default_enabled, description). The
// version column is owned by BumpVersion and never written here, so a stale
// in-memory counter cannot roll it back. Key immutability is the service's
// contract; the row is addressed by ID.
func (r *FeatureRepository) Update(ctx context.Context, feature *model.Feature) error {
	err := r.db.WithContext(ctx).Omit(clause.Associations, "version").Save(feature).Error
	return translateError(err)
}

// BumpVersion atomically increments the change counter and returns the new
// value. Runs as a single UPDATE so concurrent bumps never read-modify-write.
func (r *FeatureRepository) BumpVersion(ctx context.Context, id uint64) (int, error) {
	if err := r.db.WithContext(ctx).Model(&model.Feature{}).Where("id = ?", id).
		UpdateColumn("version", gorm.Expr("version + ?", 1)).Error; err != nil {
		return 0, err
	}
	var feature model.Feature
	if err := r.db.WithContext(ctx).Select("version").First(&feature, id).Error; err != nil {
		return 0, err
	}
	return feature.Version, nil
}

// Delete removes the feature and every override it owns in one transaction.
// The FK cascade clause covers drivers that enforce it; the explicit delete
// covers those that don't.
func (r *FeatureRepository) Delete(ctx context.Context, feature *model.Feature) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feature_id = ?", feature.ID).Delete(&model.FeatureOverride{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Feature{}, feature.ID).Error
	})
}

func (r *FeatureRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *FeatureRepository) WithTx(tx *gorm.DB) FeatureInterface {
	return &FeatureRepository{db: tx}
}
