package service

import (
	"testing"

	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttach_ActiveWithGrants(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	product := f.createProduct("pro", "plan", nil)
	f.createGrant(product, feature, 100, nil)

	customerID := f.genID.Generate()
	cp := f.attach(customerID, product, nil)

	assert.Equal(t, domain.StatusActive, cp.Status)
	assert.Equal(t, "plan", cp.GroupCode)

	grants := f.entitlementsOf(cp.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, feature.ID, grants[0].FeatureID)
	assert.Equal(t, float64(100), grants[0].Granted)
	assert.Equal(t, "api_calls", grants[0].FeatureCode)
}

func TestAttach_GroupCodeFallsBackToProductCode(t *testing.T) {
	f := newLifecycleFixture(t)
	product := f.createProduct("Pro Plan", "", nil)

	cp := f.attach(f.genID.Generate(), product, nil)
	assert.Equal(t, "pro-plan", cp.GroupCode)
}

func TestAttach_SecondMainRejected(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)

	_, err := f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: customerID.String(),
		ProductID:  team.ID.String(),
	})
	require.ErrorIs(t, err, domain.ErrGroupOccupied)
}

func TestAttach_ScheduledQueuesBehindOccupant(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)
	f.createGrant(team, feature, 500, nil)

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)

	queued := f.attach(customerID, team, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})
	assert.Equal(t, domain.StatusScheduled, queued.Status)
	// Grants only materialize on activation.
	assert.Empty(t, f.entitlementsOf(queued.ID))
}

func TestAttach_ScheduledRequiresOccupant(t *testing.T) {
	f := newLifecycleFixture(t)
	team := f.createProduct("team", "plan", nil)

	// Nothing occupies the slot; there is no product to queue behind.
	_, err := f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: f.genID.Generate().String(),
		ProductID:  team.ID.String(),
		Scheduled:  true,
	})
	require.ErrorIs(t, err, domain.ErrNoGroupOccupant)
}

func TestAttach_ScheduledQueuesBehindCancelingOccupant(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	starter := f.createProduct("starter", "plan", func(p *productdomain.Product) {
		p.IsFree = true
	})

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)
	_, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: cp.ID.String(),
	})
	require.NoError(t, err)

	// An expiring occupant still anchors the queue.
	queued := f.attach(customerID, starter, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})
	assert.Equal(t, domain.StatusScheduled, queued.Status)
}

func TestAttach_AddOnStacksOnOccupiedGroup(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	extra := f.createProduct("extra-seats", "plan", func(p *productdomain.Product) {
		p.IsAddOn = true
	})

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)

	addon := f.attach(customerID, extra, nil)
	assert.Equal(t, domain.StatusActive, addon.Status)
	assert.True(t, addon.IsAddOn)
}

func TestAttach_EntityScopesHoldSeparateSlots(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)

	customerID := f.genID.Generate()
	entityA := f.genID.Generate()
	entityB := f.genID.Generate()

	f.attach(customerID, pro, nil)
	a := f.attach(customerID, pro, func(req *domain.AttachProductRequest) {
		req.EntityID = entityA.String()
	})
	b := f.attach(customerID, pro, func(req *domain.AttachProductRequest) {
		req.EntityID = entityB.String()
	})

	assert.Equal(t, domain.StatusActive, a.Status)
	assert.Equal(t, domain.StatusActive, b.Status)

	// Same entity, second main: rejected.
	_, err := f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: customerID.String(),
		EntityID:   entityA.String(),
		ProductID:  pro.ID.String(),
	})
	require.ErrorIs(t, err, domain.ErrGroupOccupied)
}

func TestAttach_TrialStartsTrialing(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 100, nil)

	days := 14
	cp := f.attach(f.genID.Generate(), pro, func(req *domain.AttachProductRequest) {
		req.TrialDays = &days
	})

	assert.Equal(t, domain.StatusTrialing, cp.Status)
	require.NotNil(t, cp.TrialEndsAt)
	assert.Equal(t, f.clk.Now().AddDate(0, 0, 14), cp.TrialEndsAt.UTC())
	// Trials get full grants up front.
	assert.Len(t, f.entitlementsOf(cp.ID), 1)
}

func TestAttach_InvalidTrialDays(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)

	zero := 0
	_, err := f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: f.genID.Generate().String(),
		ProductID:  pro.ID.String(),
		TrialDays:  &zero,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTrialDays)

	days := 14
	_, err = f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: f.genID.Generate().String(),
		ProductID:  pro.ID.String(),
		Scheduled:  true,
		TrialDays:  &days,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTrialDays)
}

func TestAttach_OptionsSetPurchasedQuantity(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("seats", featuredomain.KindAllocated)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 5, func(g *productdomain.ProductFeature) {
		g.MaxPurchase = floatPtr(20)
	})

	cp := f.attach(f.genID.Generate(), pro, func(req *domain.AttachProductRequest) {
		req.Options = []domain.FeatureOption{{FeatureID: feature.ID.String(), Quantity: 50}}
	})

	grants := f.entitlementsOf(cp.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, float64(20), grants[0].Purchased, "clamped to max purchase")
}

func TestAttach_ResetScheduleStamped(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 100, func(g *productdomain.ProductFeature) {
		g.ResetInterval = productdomain.ResetMonth
	})

	cp := f.attach(f.genID.Generate(), pro, nil)

	grants := f.entitlementsOf(cp.ID)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].NextResetAt)
	assert.True(t, grants[0].NextResetAt.Equal(f.clk.Now().AddDate(0, 1, 0)))
	require.NotNil(t, grants[0].ResetAnchor)
	assert.True(t, grants[0].ResetAnchor.Equal(cp.StartsAt))
}

func TestAttach_UnknownProduct(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.Attach(f.ctx(), domain.AttachProductRequest{
		CustomerID: f.genID.Generate().String(),
		ProductID:  f.genID.Generate().String(),
	})
	require.ErrorIs(t, err, domain.ErrInvalidProduct)
}
