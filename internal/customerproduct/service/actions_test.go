package service

import (
	"testing"
	"time"

	"github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCancel_MarksCanceling(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	cp := f.attach(f.genID.Generate(), pro, nil)

	result, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: cp.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceling, result.Status)

	stored := f.reload(cp.ID)
	assert.Equal(t, domain.StatusCanceling, stored.Status)
	require.NotNil(t, stored.CanceledAt)

	// Repeating the cancel is a no-op, not an error.
	again, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: cp.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceling, again.Status)
}

func TestCancel_ScheduledIsHardDeleted(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)
	queued := f.attach(customerID, team, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	result, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: queued.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDeleted, result.Status)

	err = f.db.Where("id = ?", queued.ID).First(&domain.CustomerProduct{}).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCancel_ImmediateExpiresAndInsertsFreeDefault(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	free := f.createProduct("free", "plan", func(p *productdomain.Product) {
		p.IsFree = true
		p.IsDefault = true
	})
	f.createGrant(free, feature, 10, nil)

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)

	result, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: cp.ID.String(),
		Immediate:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.Equal(t, domain.SuccessorInserted, result.Successor)
	require.NotZero(t, result.SuccessorID)

	successor := f.reload(result.SuccessorID)
	assert.Equal(t, domain.StatusActive, successor.Status)
	assert.Equal(t, free.ID, successor.ProductID)
	assert.True(t, successor.IsFree)
	assert.Len(t, f.entitlementsOf(successor.ID), 1)
}

func TestExpire_ActivatesQueuedFreeScheduledMain(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	starter := f.createProduct("starter", "plan", func(p *productdomain.Product) {
		p.IsFree = true
	})
	f.createGrant(starter, feature, 500, nil)
	// A configured default must lose to the queued successor.
	free := f.createProduct("free", "plan", func(p *productdomain.Product) {
		p.IsFree = true
		p.IsDefault = true
	})

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)
	queued := f.attach(customerID, starter, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	f.clk.Advance(72 * time.Hour)

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.Equal(t, domain.SuccessorActivated, result.Successor)
	assert.Equal(t, queued.ID, result.SuccessorID)

	successor := f.reload(queued.ID)
	assert.Equal(t, domain.StatusActive, successor.Status)
	assert.True(t, successor.StartsAt.Equal(f.clk.Now()))
	assert.Len(t, f.entitlementsOf(queued.ID), 1)

	var defaulted int64
	require.NoError(t, f.db.Model(&domain.CustomerProduct{}).
		Where("customer_id = ? AND product_id = ?", customerID, free.ID).
		Count(&defaulted).Error)
	assert.Zero(t, defaulted, "no default inserted next to the successor")
}

func TestExpire_SuccessorCarriesConsumption(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 100, nil)
	starter := f.createProduct("starter", "plan", func(p *productdomain.Product) {
		p.IsFree = true
	})
	f.createGrant(starter, feature, 500, nil)

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)
	queued := f.attach(customerID, starter, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	_, err := f.ents.Deduct(f.ctx(), entitlementdomain.DeductRequest{
		CustomerID: customerID,
		FeatureID:  feature.ID,
		Quantity:   40,
	})
	require.NoError(t, err)

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SuccessorActivated, result.Successor)

	grants := f.entitlementsOf(queued.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, float64(500), grants[0].Granted)
	assert.Equal(t, float64(40), grants[0].Usage, "consumption carried onto the successor")
}

func TestExpire_PaidScheduledDeletedWithOccupant(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)
	free := f.createProduct("free", "plan", func(p *productdomain.Product) {
		p.IsFree = true
		p.IsDefault = true
	})
	f.createGrant(free, feature, 10, nil)

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)
	queued := f.attach(customerID, team, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	// The paid successor was queued behind a product that no longer exists;
	// the slot falls through to the default.
	assert.Equal(t, domain.SuccessorInserted, result.Successor)
	assert.Equal(t, free.ID, f.reload(result.SuccessorID).ProductID)

	err = f.db.Where("id = ?", queued.ID).First(&domain.CustomerProduct{}).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestScheduledDowngrade_AcrossCycleBoundary(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	paid := f.createProduct("pro", "plan", nil)
	freeTier := f.createProduct("free", "plan", func(p *productdomain.Product) {
		p.IsFree = true
	})
	f.createGrant(freeTier, feature, 50, nil)

	customerID := f.genID.Generate()
	current := f.attach(customerID, paid, nil)
	downgrade := f.attach(customerID, freeTier, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	_, err := f.svc.Cancel(f.ctx(), domain.CancelProductRequest{
		CustomerProductID: current.ID.String(),
	})
	require.NoError(t, err)

	f.clk.Advance(30 * 24 * time.Hour)

	result, err := f.svc.OnCycleBoundary(f.ctx(), current.ID, f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.Equal(t, domain.SuccessorActivated, result.Successor)
	assert.Equal(t, downgrade.ID, result.SuccessorID)

	var active int64
	require.NoError(t, f.db.Model(&domain.CustomerProduct{}).
		Where("customer_id = ? AND group_code = ? AND status = ?", customerID, "plan", domain.StatusActive).
		Count(&active).Error)
	assert.EqualValues(t, 1, active, "exactly one live main in the group")
	assert.Equal(t, domain.StatusActive, f.reload(downgrade.ID).Status)
}

func TestExpire_AddOnSkipsSuccession(t *testing.T) {
	f := newLifecycleFixture(t)
	f.createProduct("free", "plan", func(p *productdomain.Product) {
		p.IsFree = true
		p.IsDefault = true
	})
	extra := f.createProduct("extra-seats", "plan", func(p *productdomain.Product) {
		p.IsAddOn = true
	})

	cp := f.attach(f.genID.Generate(), extra, nil)

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.Equal(t, domain.SuccessorNone, result.Successor)
}

func TestExpire_NoDefaultLeavesSlotEmpty(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	cp := f.attach(f.genID.Generate(), pro, nil)

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SuccessorNone, result.Successor)
}

func TestExpire_Idempotent(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	cp := f.attach(f.genID.Generate(), pro, nil)

	_, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)

	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.Equal(t, domain.SuccessorNone, result.Successor)
}

func TestActivateScheduled_RejectedWhileGroupOccupied(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)
	queued := f.attach(customerID, team, func(req *domain.AttachProductRequest) {
		req.Scheduled = true
	})

	_, err := f.svc.ActivateScheduled(f.ctx(), queued.ID, domain.ActivateScheduledParams{})
	require.ErrorIs(t, err, domain.ErrGroupOccupied)
	assert.Equal(t, domain.StatusScheduled, f.reload(queued.ID).Status)
}

func TestActivateScheduled_ClaimsFreeSlot(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 100, nil)

	// Queued out-of-band, e.g. by a processor schedule import.
	cp := f.seedAttachment(f.genID.Generate(), pro, domain.StatusScheduled)

	result, err := f.svc.ActivateScheduled(f.ctx(), cp.ID, domain.ActivateScheduledParams{
		ProcessorSubscriptionID: "sub_123",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, result.Status)

	stored := f.reload(cp.ID)
	require.NotNil(t, stored.ProcessorSubscriptionID)
	assert.Equal(t, "sub_123", *stored.ProcessorSubscriptionID)
	assert.Len(t, f.entitlementsOf(cp.ID), 1)

	// Re-running is a no-op.
	again, err := f.svc.ActivateScheduled(f.ctx(), cp.ID, domain.ActivateScheduledParams{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, again.Status)
	assert.Len(t, f.entitlementsOf(cp.ID), 1, "grants not duplicated")
}

func TestActivateScheduled_CarriesFromExpiredPredecessor(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 100, nil)
	team := f.createProduct("team", "plan", nil)
	f.createGrant(team, feature, 500, nil)

	customerID := f.genID.Generate()
	cp := f.attach(customerID, pro, nil)

	_, err := f.ents.Deduct(f.ctx(), entitlementdomain.DeductRequest{
		CustomerID: customerID,
		FeatureID:  feature.ID,
		Quantity:   40,
	})
	require.NoError(t, err)

	// No successor queued and no default configured: the slot empties out.
	result, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SuccessorNone, result.Successor)

	queued := f.seedAttachment(customerID, team, domain.StatusScheduled)
	_, err = f.svc.ActivateScheduled(f.ctx(), queued.ID, domain.ActivateScheduledParams{})
	require.NoError(t, err)

	grants := f.entitlementsOf(queued.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, float64(500), grants[0].Granted)
	assert.Equal(t, float64(40), grants[0].Usage, "carried from the expired predecessor")
}

func TestActivateScheduled_CorruptGroupIsInvariantViolation(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	team := f.createProduct("team", "plan", nil)
	starter := f.createProduct("starter", "plan", func(p *productdomain.Product) {
		p.IsFree = true
	})

	customerID := f.genID.Generate()
	f.attach(customerID, pro, nil)
	// A second live main should never exist; force the corruption directly.
	f.seedAttachment(customerID, team, domain.StatusActive)
	queued := f.seedAttachment(customerID, starter, domain.StatusScheduled)

	_, err := f.svc.ActivateScheduled(f.ctx(), queued.ID, domain.ActivateScheduledParams{})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, domain.StatusScheduled, f.reload(queued.ID).Status)
}

func TestActivateScheduled_RejectsNonScheduled(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	cp := f.attach(f.genID.Generate(), pro, nil)

	_, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)

	_, err = f.svc.ActivateScheduled(f.ctx(), cp.ID, domain.ActivateScheduledParams{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateQuantity_ProratesExactlyOncePerChange(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("seats", featuredomain.KindAllocated)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 5, func(g *productdomain.ProductFeature) {
		g.MaxPurchase = floatPtr(10)
	})

	cp := f.attach(f.genID.Generate(), pro, nil)

	_, err := f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         feature.ID.String(),
		Quantity:          4,
	})
	require.NoError(t, err)

	calls := f.prorator.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, float64(0), calls[0].Before)
	assert.Equal(t, float64(4), calls[0].After)
	assert.Equal(t, cp.ID, calls[0].CustomerProductID)

	// Same quantity again: committed state unchanged, no proration.
	_, err = f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         feature.ID.String(),
		Quantity:          4,
	})
	require.NoError(t, err)
	assert.Len(t, f.prorator.calls(), 1)

	// Above the ceiling: clamped, and the clamped value is what prorates.
	_, err = f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         feature.ID.String(),
		Quantity:          50,
	})
	require.NoError(t, err)
	calls = f.prorator.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, float64(4), calls[1].Before)
	assert.Equal(t, float64(10), calls[1].After)
}

func TestUpdateQuantity_ProrationFailureDoesNotRollBack(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("seats", featuredomain.KindAllocated)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 5, nil)

	cp := f.attach(f.genID.Generate(), pro, nil)
	f.prorator.err = assert.AnError

	_, err := f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         feature.ID.String(),
		Quantity:          3,
	})
	require.NoError(t, err)

	grants := f.entitlementsOf(cp.ID)
	require.Len(t, grants, 1)
	assert.Equal(t, float64(3), grants[0].Purchased)
}

func TestUpdateQuantity_RejectedAfterExpiry(t *testing.T) {
	f := newLifecycleFixture(t)
	feature := f.createFeature("seats", featuredomain.KindAllocated)
	pro := f.createProduct("pro", "plan", nil)
	f.createGrant(pro, feature, 5, nil)

	cp := f.attach(f.genID.Generate(), pro, nil)
	_, err := f.svc.ExpireAndActivateDefault(f.ctx(), cp.ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         feature.ID.String(),
		Quantity:          3,
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Empty(t, f.prorator.calls())
}

func TestUpdateQuantity_NegativeRejected(t *testing.T) {
	f := newLifecycleFixture(t)
	pro := f.createProduct("pro", "plan", nil)
	cp := f.attach(f.genID.Generate(), pro, nil)

	_, err := f.svc.UpdateQuantity(f.ctx(), domain.UpdateQuantityRequest{
		CustomerProductID: cp.ID.String(),
		FeatureID:         f.genID.Generate().String(),
		Quantity:          -1,
	})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
