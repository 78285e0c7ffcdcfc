package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repositoryImpl struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, record *domain.CustomerProduct) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.CustomerProduct, error) {
	return r.findOne(ctx, db, "org_id = ? AND id = ?", orgID, id)
}

func (r *repositoryImpl) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}
	var record domain.CustomerProduct
	stmt := db.WithContext(ctx).Where("org_id = ? AND id = ?", orgID, id)
	if !strings.EqualFold(db.Dialector.Name(), "sqlite") {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := stmt.First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) FindByProcessorSubscriptionID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, subscriptionID string) (*domain.CustomerProduct, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, "org_id = ? AND processor_subscription_id = ?", orgID, subscriptionID)
}

func (r *repositoryImpl) FindMainInGroup(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID snowflake.ID,
	groupCode string,
	entityID *snowflake.ID,
	statuses []domain.Status,
) ([]domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ? AND group_code = ? AND is_add_on = ?", orgID, customerID, groupCode, false).
		Where("status IN ?", statuses)

	if entityID == nil {
		stmt = stmt.Where("entity_id IS NULL")
	} else {
		stmt = stmt.Where("entity_id = ?", *entityID)
	}

	var records []domain.CustomerProduct
	if err := stmt.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) FindLatestExpiredMainInGroup(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID snowflake.ID,
	groupCode string,
	entityID *snowflake.ID,
) (*domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ? AND group_code = ? AND is_add_on = ? AND status = ?",
			orgID, customerID, groupCode, false, domain.StatusExpired)

	if entityID == nil {
		stmt = stmt.Where("entity_id IS NULL")
	} else {
		stmt = stmt.Where("entity_id = ?", *entityID)
	}

	var record domain.CustomerProduct
	err := stmt.Order("expired_at desc, id desc").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, statuses []domain.Status) ([]domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}
	stmt := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ?", orgID, customerID)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}

	var records []domain.CustomerProduct
	if err := stmt.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) ListPage(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID snowflake.ID,
	status domain.Status,
	limit int,
	afterID snowflake.ID,
) ([]domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ?", orgID, customerID)
	if status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if afterID != 0 {
		stmt = stmt.Where("id > ?", afterID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var records []domain.CustomerProduct
	if err := stmt.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) ListByProductVersion(
	ctx context.Context,
	db *gorm.DB,
	orgID, productID snowflake.ID,
	version int,
	statuses []domain.Status,
	limit int,
	afterID snowflake.ID,
) ([]domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Where("org_id = ? AND product_id = ? AND product_version = ?", orgID, productID, version)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}
	if afterID != 0 {
		stmt = stmt.Where("id > ?", afterID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var records []domain.CustomerProduct
	if err := stmt.Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repositoryImpl) UpdateLifecycle(ctx context.Context, db *gorm.DB, record *domain.CustomerProduct) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Exec(
		`UPDATE customer_products
		 SET status = ?, product_version = ?, starts_at = ?, trial_ends_at = ?, canceled_at = ?, expired_at = ?,
		     processor_subscription_id = ?, processor_schedule_id = ?, options = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		record.Status,
		record.ProductVersion,
		record.StartsAt,
		record.TrialEndsAt,
		record.CanceledAt,
		record.ExpiredAt,
		record.ProcessorSubscriptionID,
		record.ProcessorScheduleID,
		record.Options,
		record.UpdatedAt,
		record.OrgID,
		record.ID,
	).Error
}

func (r *repositoryImpl) HardDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.CustomerProduct{}).Error
}

func (r *repositoryImpl) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.CustomerProduct, error) {
	if db == nil {
		db = r.db
	}
	var record domain.CustomerProduct
	err := db.WithContext(ctx).Where(query, args...).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
