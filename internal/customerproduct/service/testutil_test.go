package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/entitle/internal/balancecache"
	"github.com/smallbiznis/entitle/internal/clock"
	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	customerproductrepository "github.com/smallbiznis/entitle/internal/customerproduct/repository"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	entitlementrepository "github.com/smallbiznis/entitle/internal/entitlement/repository"
	entitlementservice "github.com/smallbiznis/entitle/internal/entitlement/service"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	featurerepository "github.com/smallbiznis/entitle/internal/feature/repository"
	"github.com/smallbiznis/entitle/internal/keylock"
	"github.com/smallbiznis/entitle/internal/notification"
	"github.com/smallbiznis/entitle/internal/orgcontext"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	productrepository "github.com/smallbiznis/entitle/internal/product/repository"
	"github.com/smallbiznis/entitle/internal/proration"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// recordingProrator captures every quantity change it receives.
type recordingProrator struct {
	mu      sync.Mutex
	changes []proration.QuantityChange
	err     error
}

func (p *recordingProrator) OnQuantityChange(_ context.Context, change proration.QuantityChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
	return p.err
}

func (p *recordingProrator) calls() []proration.QuantityChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]proration.QuantityChange, len(p.changes))
	copy(out, p.changes)
	return out
}

type lifecycleFixture struct {
	t        *testing.T
	db       *gorm.DB
	clk      *clock.FakeClock
	genID    *snowflake.Node
	svc      domain.Service
	ents     entitlementdomain.Service
	prorator *recordingProrator
	orgID    snowflake.ID
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
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
		&domain.CustomerProduct{},
		&entitlementdomain.CustomerEntitlement{},
		&usagedomain.UsageEvent{},
	); err != nil {
		t.Fatal(err)
	}

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatal(err)
	}

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	cache := balancecache.NewMemoryCache(time.Minute)
	locks := keylock.New()
	prorator := &recordingProrator{}

	ents := entitlementservice.NewService(entitlementservice.ServiceParam{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     entitlementrepository.Provide(db),
		Features: featurerepository.Provide(db),
		Cache:    cache,
		Locks:    locks,
	})

	svc := NewService(ServiceParam{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        clk,
		Repo:         customerproductrepository.Provide(db),
		Products:     productrepository.Provide(db),
		Entitlements: ents,
		Cache:        cache,
		Locks:        locks,
		Notifier:     notification.NewLogNotifier(log),
		Prorator:     prorator,
	})

	return &lifecycleFixture{
		t:        t,
		db:       db,
		clk:      clk,
		genID:    node,
		svc:      svc,
		ents:     ents,
		prorator: prorator,
		orgID:    node.Generate(),
	}
}

func (f *lifecycleFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), int64(f.orgID))
}

func (f *lifecycleFixture) createFeature(code string, kind featuredomain.Kind) *featuredomain.Feature {
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

func (f *lifecycleFixture) createProduct(code, groupCode string, mutate func(*productdomain.Product)) *productdomain.Product {
	f.t.Helper()
	record := &productdomain.Product{
		ID:        f.genID.Generate(),
		OrgID:     f.orgID,
		Code:      code,
		GroupCode: groupCode,
		Version:   1,
	}
	if mutate != nil {
		mutate(record)
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

func (f *lifecycleFixture) createGrant(product *productdomain.Product, feature *featuredomain.Feature, included float64, mutate func(*productdomain.ProductFeature)) *productdomain.ProductFeature {
	f.t.Helper()
	record := &productdomain.ProductFeature{
		ID:               f.genID.Generate(),
		OrgID:            f.orgID,
		ProductID:        product.ID,
		ProductVersion:   product.Version,
		FeatureID:        feature.ID,
		IncludedQuantity: included,
		ResetInterval:    productdomain.ResetNone,
	}
	if mutate != nil {
		mutate(record)
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

func (f *lifecycleFixture) attach(customerID snowflake.ID, product *productdomain.Product, mutate func(*domain.AttachProductRequest)) *domain.CustomerProduct {
	f.t.Helper()
	req := domain.AttachProductRequest{
		CustomerID: customerID.String(),
		ProductID:  product.ID.String(),
	}
	if mutate != nil {
		mutate(&req)
	}
	record, err := f.svc.Attach(f.ctx(), req)
	if err != nil {
		f.t.Fatal(err)
	}
	return record
}

// seedAttachment inserts an attachment row directly, bypassing Attach and its
// occupancy checks.
func (f *lifecycleFixture) seedAttachment(customerID snowflake.ID, product *productdomain.Product, status domain.Status) *domain.CustomerProduct {
	f.t.Helper()
	now := f.clk.Now()
	record := &domain.CustomerProduct{
		ID:             f.genID.Generate(),
		OrgID:          f.orgID,
		CustomerID:     customerID,
		ProductID:      product.ID,
		ProductVersion: product.Version,
		GroupCode:      product.GroupCode,
		IsFree:         product.IsFree,
		Status:         status,
		StartsAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := f.db.Create(record).Error; err != nil {
		f.t.Fatal(err)
	}
	return record
}

func (f *lifecycleFixture) reload(id snowflake.ID) *domain.CustomerProduct {
	f.t.Helper()
	var record domain.CustomerProduct
	if err := f.db.Where("id = ?", id).First(&record).Error; err != nil {
		f.t.Fatal(err)
	}
	return &record
}

func (f *lifecycleFixture) entitlementsOf(customerProductID snowflake.ID) []entitlementdomain.CustomerEntitlement {
	f.t.Helper()
	var records []entitlementdomain.CustomerEntitlement
	if err := f.db.Where("customer_product_id = ?", customerProductID).Order("id asc").Find(&records).Error; err != nil {
		f.t.Fatal(err)
	}
	return records
}

func floatPtr(v float64) *float64 { return &v }
