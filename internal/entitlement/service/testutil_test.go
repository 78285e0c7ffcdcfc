package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	entitlementrepository "github.com/smallbiznis/entitle/internal/entitlement/repository"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	featurerepository "github.com/smallbiznis/entitle/internal/feature/repository"
	"github.com/smallbiznis/entitle/internal/keylock"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type engineFixture struct {
	t     *testing.T
	db    *gorm.DB
	clk   *clock.FakeClock
	genID *snowflake.Node
	cache balancecache.BalanceCache
	repo  entitlementdomain.Repository
	svc   entitlementdomain.Service
	orgID snowflake.ID
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(
		&featuredomain.Feature{},
		&productdomain.Product{},
		&productdomain.ProductFeature{},
		&customerproductdomain.CustomerProduct{},
		&entitlementdomain.CustomerEntitlement{},
		&usagedomain.UsageEvent{},
	); err != nil {
		t.Fatal(err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cache := balancecache.NewMemoryCache(time.Minute)
	repo := entitlementrepository.Provide(db)

	svc := NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Repo:     repo,
		Features: featurerepository.Provide(db),
		Cache:    cache,
		Locks:    keylock.New(),
	})

	return &engineFixture{
		t:     t,
		db:    db,
		clk:   clk,
		genID: node,
		cache: cache,
		repo:  repo,
		svc:   svc,
		orgID: node.Generate(),
	}
}

func (f *engineFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), int64(f.orgID))
}

func (f *engineFixture) createFeature(code string, kind featuredomain.Kind) *featuredomain.Feature {
	f.t.Helper()
	record := &featuredomain.Feature{
		ID:    f.genID.Generate(),
		OrgID: f.orgID,
		Code:  code,
		Kind:  kind,
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

func (f *engineFixture) createCustomerProduct(customerID snowflake.ID, entityID *snowflake.ID, status customerproductdomain.Status) *customerproductdomain.CustomerProduct {
	f.t.Helper()
	record := &customerproductdomain.CustomerProduct{
		ID:             f.genID.Generate(),
		OrgID:          f.orgID,
		CustomerID:     customerID,
		EntityID:       entityID,
		ProductID:      f.genID.Generate(),
		ProductVersion: 1,
		GroupCode:      "plan",
		Status:         status,
		StartsAt:       f.clk.Now(),
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

type grantSpec struct {
	feature      *featuredomain.Feature
	granted      float64
	purchased    float64
	rollover     float64
	usage        float64
	unlimited    bool
	usageAllowed bool
}

func (f *engineFixture) createEntitlement(cp *customerproductdomain.CustomerProduct, spec grantSpec) *entitlementdomain.CustomerEntitlement {
	f.t.Helper()
	record := &entitlementdomain.CustomerEntitlement{
		ID:                f.genID.Generate(),
		OrgID:             f.orgID,
		CustomerProductID: cp.ID,
		CustomerID:        cp.CustomerID,
		EntityID:          cp.EntityID,
		FeatureID:         spec.feature.ID,
		FeatureCode:       spec.feature.Code,
		Kind:              spec.feature.Kind,
		Unlimited:         spec.unlimited,
		UsageAllowed:      spec.usageAllowed,
		Granted:           spec.granted,
		Purchased:         spec.purchased,
		Rollover:          spec.rollover,
		Usage:             spec.usage,
		RowVersion:        1,
		CreatedAt:         f.clk.Now(),
		UpdatedAt:         f.clk.Now(),
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

func (f *engineFixture) reload(id snowflake.ID) *entitlementdomain.CustomerEntitlement {
	f.t.Helper()
	var record entitlementdomain.CustomerEntitlement
	if err := f.db.Where("id = ?", id).First(&record).Error; err != nil {
		f.t.Fatal(err)
	}
	return &record
}
