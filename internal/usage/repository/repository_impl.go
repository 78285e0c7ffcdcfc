package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repositoryImpl struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) domain.Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) InsertIdempotent(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) (bool, error) {
	if db == nil {
		db = r.db
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.UsageEvent, error) {
	if db == nil {
		db = r.db
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrInvalidIdempotencyKey
	}

	var record domain.UsageEvent
	err := db.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, key).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repositoryImpl) UpdateOutcome(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) error {
	if db == nil {
		db = r.db
	}
	return db.WithContext(ctx).Exec(
		`UPDATE usage_events
		 SET status = ?, reject_reason = ?, overage = ?, applied = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		event.Status,
		event.RejectReason,
		event.Overage,
		event.Applied,
		event.UpdatedAt,
		event.OrgID,
		event.ID,
	).Error
}

func (r *repositoryImpl) ListPage(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID, limit int, beforeID snowflake.ID) ([]domain.UsageEvent, error) {
	if db == nil {
		db = r.db
	}

	stmt := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ?", orgID, customerID)
	if beforeID != 0 {
		stmt = stmt.Where("id < ?", beforeID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var records []domain.UsageEvent
	if err := stmt.Order("id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
