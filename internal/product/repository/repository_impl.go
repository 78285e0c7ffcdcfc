package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/product/domain"
	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Product, error) {
	if db == nil {
		db = r.db
	}
	var record domain.Product
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindFreeDefault returns the org's free default main product, if configured.
func (r *Repository) FindFreeDefault(ctx context.Context, db *gorm.DB, orgID snowflake.ID) (*domain.Product, error) {
	if db == nil {
		db = r.db
	}
	var record domain.Product
	err := db.WithContext(ctx).
		Where("org_id = ? AND is_free = ? AND is_default = ? AND is_add_on = ?", orgID, true, true, false).
		Order("id asc").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListGrants returns the feature grants of one product version.
func (r *Repository) ListGrants(ctx context.Context, db *gorm.DB, orgID, productID snowflake.ID, version int) ([]domain.ProductFeature, error) {
	if db == nil {
		db = r.db
	}
	var grants []domain.ProductFeature
	err := db.WithContext(ctx).
		Where("org_id = ? AND product_id = ? AND product_version = ?", orgID, productID, version).
		Order("feature_id asc").
		Find(&grants).Error
	if err != nil {
		return nil, err
	}
	return grants, nil
}
