package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/entitle/internal/cache"
	"github.com/smallbiznis/entitle/internal/feature/domain"
	"github.com/smallbiznis/entitle/pkg/db/option"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
	store "github.com/smallbiznis/entitle/pkg/repository"
	"gorm.io/gorm"
)

// resolverTTL bounds how stale a cached catalog feature can get. Features are
// written rarely and read on every usage report, so a short TTL is enough.
const resolverTTL = time.Minute

var sortableColumns = map[string]bool{
	"code":       true,
	"created_at": true,
}

// Repository reads catalog features through a process-local resolver cache.
type Repository struct {
	store    store.Repository[domain.Feature]
	resolver cache.Cache[string, *domain.Feature]
}

func Provide(db *gorm.DB) *Repository {
	return &Repository{
		store:    store.ProvideStore[domain.Feature](db),
		resolver: cache.NewTTLCache[string, *domain.Feature](),
	}
}

func (r *Repository) FindByID(ctx context.Context, orgID, id snowflake.ID) (*domain.Feature, error) {
	key := fmt.Sprintf("id:%s:%s", orgID, id)
	if record, ok := r.resolver.Get(key); ok {
		return record, nil
	}

	record, err := r.store.FindOne(ctx, &domain.Feature{OrgID: orgID, ID: id})
	if err != nil {
		return nil, err
	}
	if record != nil {
		r.resolver.Set(key, record, resolverTTL)
	}
	return record, nil
}

func (r *Repository) FindByCode(ctx context.Context, orgID snowflake.ID, code string) (*domain.Feature, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidCode
	}

	key := fmt.Sprintf("code:%s:%s", orgID, code)
	if record, ok := r.resolver.Get(key); ok {
		return record, nil
	}

	record, err := r.store.FindOne(ctx, &domain.Feature{OrgID: orgID, Code: code})
	if err != nil {
		return nil, err
	}
	if record != nil {
		r.resolver.Set(key, record, resolverTTL)
	}
	return record, nil
}

// List pages through the org's feature catalog.
func (r *Repository) List(ctx context.Context, orgID snowflake.ID, sortBy, sortOrder string, page pagination.Pagination) ([]*domain.Feature, error) {
	return r.store.Find(ctx, &domain.Feature{OrgID: orgID},
		option.WithSortBy(option.WithQuerySortBy(sortBy, sortOrder, sortableColumns)),
		option.ApplyPagination(page),
	)
}
