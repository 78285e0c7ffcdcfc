package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"github.com/smallbiznis/entitle/internal/entitlement/domain"
	"gorm.io/gorm"
)

type repositoryImpl struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, records []domain.CustomerEntitlement) error {
	if len(records) == 0 {
		return nil
	}
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(&records).Error
}

func (r *repositoryImpl) ListContributing(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID snowflake.ID,
	featureID snowflake.ID,
	statuses []customerproductdomain.Status,
) ([]domain.CustomerEntitlement, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Table("customer_entitlements AS ce").
		Joins("JOIN customer_products cp ON cp.id = ce.customer_product_id AND cp.org_id = ce.org_id").
		Where("ce.org_id = ? AND ce.customer_id = ?", orgID, customerID).
		Where("ce.superseded_at IS NULL").
		Where("cp.status IN ?", statuses)

	if featureID != 0 {
		stmt = stmt.Where("ce.feature_id = ?", featureID)
	}

	var records []domain.CustomerEntitlement
	// Entity iteration order is load-bearing for deduction precedence: NULL
	// (customer-level) first, then entities ascending by id.
	err := stmt.
		Select("ce.*").
		Order("ce.entity_id IS NOT NULL, ce.entity_id asc, ce.id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) ListByCustomerProduct(ctx context.Context, db *gorm.DB, orgID, customerProductID snowflake.ID) ([]domain.CustomerEntitlement, error) {
	if db == nil {
		db = r.db
	}
	var records []domain.CustomerEntitlement
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_product_id = ? AND superseded_at IS NULL", orgID, customerProductID).
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) FindByProductFeature(ctx context.Context, db *gorm.DB, orgID, customerProductID, featureID snowflake.ID) (*domain.CustomerEntitlement, error) {
	if db == nil {
		db = r.db
	}
	var record domain.CustomerEntitlement
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_product_id = ? AND feature_id = ? AND superseded_at IS NULL", orgID, customerProductID, featureID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) ApplyUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity float64, rowVersion int, at time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE customer_entitlements
		 SET usage_amount = usage_amount + ?, row_version = row_version + 1, updated_at = ?
		 WHERE id = ? AND row_version = ?`,
		quantity,
		at,
		id,
		rowVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) Supersede(ctx context.Context, db *gorm.DB, id, successorID snowflake.ID, at time.Time) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Exec(
		`UPDATE customer_entitlements
		 SET superseded_by = ?, superseded_at = ?, updated_at = ?
		 WHERE id = ? AND superseded_at IS NULL`,
		successorID,
		at,
		at,
		id,
	).Error
}

func (r *repositoryImpl) UpdateGrant(ctx context.Context, db *gorm.DB, record *domain.CustomerEntitlement) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Exec(
		`UPDATE customer_entitlements
		 SET granted = ?, purchased = ?, rollover = ?, rollover_expires_at = ?, usage_amount = ?,
		     next_reset_at = ?, row_version = row_version + 1, updated_at = ?
		 WHERE id = ?`,
		record.Granted,
		record.Purchased,
		record.Rollover,
		record.RolloverExpiresAt,
		record.Usage,
		record.NextResetAt,
		record.UpdatedAt,
		record.ID,
	).Error
}

func (r *repositoryImpl) ListDueForReset(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.CustomerEntitlement, error) {
	if db == nil {
		db = r.db
	}
	var records []domain.CustomerEntitlement
	// Usage on expired or deleted attachments is frozen; only grants whose
	// attachment still contributes to balances reset.
	err := db.WithContext(ctx).
		Table("customer_entitlements AS ce").
		Joins("JOIN customer_products cp ON cp.id = ce.customer_product_id AND cp.org_id = ce.org_id").
		Where("ce.superseded_at IS NULL AND ce.next_reset_at IS NOT NULL AND ce.next_reset_at <= ?", now).
		Where("cp.status IN ?", customerproductdomain.BalanceStatuses).
		Select("ce.*").
		Order("ce.next_reset_at asc").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
