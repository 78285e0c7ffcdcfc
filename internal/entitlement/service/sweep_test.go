package service

import (
	"testing"
	"time"

	customerproductdomain "github.com/smallbiznis/entitle/internal/customerproduct/domain"
	entitlementdomain "github.com/smallbiznis/entitle/internal/entitlement/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	productdomain "github.com/smallbiznis/entitle/internal/product/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *engineFixture) scheduleReset(e *entitlementdomain.CustomerEntitlement, interval productdomain.ResetInterval, nextResetAt time.Time, maxRollover *float64, windowDays int) {
	f.t.Helper()
	e.ResetInterval = interval
	e.NextResetAt = &nextResetAt
	e.MaxRollover = maxRollover
	e.RolloverWindowDays = windowDays
	if err := f.db.Save(e).Error; err != nil {
		f.t.Fatal(err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestSweepDue_ConsumableRollsOverCapped(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 60})

	boundary := f.clk.Now().Add(-time.Hour)
	f.scheduleReset(ent, productdomain.ResetMonth, boundary, floatPtr(30), 0)

	count, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded := f.reload(ent.ID)
	// 40 remained; the cap trims it to 30.
	assert.Equal(t, float64(30), reloaded.Rollover)
	assert.Equal(t, float64(0), reloaded.Usage)
	require.NotNil(t, reloaded.NextResetAt)
	assert.True(t, reloaded.NextResetAt.After(f.clk.Now()))
}

func TestSweepDue_OverageNeverRollsOver(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 130, usageAllowed: true})

	f.scheduleReset(ent, productdomain.ResetMonth, f.clk.Now().Add(-time.Hour), nil, 0)

	_, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)

	reloaded := f.reload(ent.ID)
	// Negative remainder clamps to zero; the new period starts clean.
	assert.Equal(t, float64(0), reloaded.Rollover)
	assert.Equal(t, float64(0), reloaded.Usage)
}

func TestSweepDue_RolloverWindowExpires(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 100, rollover: 25})

	boundary := f.clk.Now().Add(-time.Hour)
	expired := boundary.Add(-time.Hour)
	ent.RolloverExpiresAt = &expired
	f.scheduleReset(ent, productdomain.ResetMonth, boundary, floatPtr(50), 7)

	_, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)

	reloaded := f.reload(ent.ID)
	// The stale rollover was dropped before computing the carry, so nothing
	// remained to carry.
	assert.Equal(t, float64(0), reloaded.Rollover)
	assert.Equal(t, float64(0), reloaded.Usage)
}

func TestSweepDue_RolloverWindowStamped(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 80})

	boundary := f.clk.Now().Add(-time.Hour)
	f.scheduleReset(ent, productdomain.ResetMonth, boundary, floatPtr(50), 14)

	_, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)

	reloaded := f.reload(ent.ID)
	assert.Equal(t, float64(20), reloaded.Rollover)
	require.NotNil(t, reloaded.RolloverExpiresAt)
	assert.Equal(t, boundary.AddDate(0, 0, 14), reloaded.RolloverExpiresAt.UTC())
}

func TestSweepDue_NoRolloverPolicyForfeitsRemainder(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 500, usage: 480})

	f.scheduleReset(ent, productdomain.ResetMonth, f.clk.Now().Add(-time.Hour), nil, 0)

	_, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)

	reloaded := f.reload(ent.ID)
	// Without a cap the 20 unused units are gone: the new period starts at
	// exactly the granted amount, never more.
	assert.Equal(t, float64(0), reloaded.Rollover)
	assert.Equal(t, float64(0), reloaded.Usage)
}

func TestSweepDue_ExpiredAttachmentUsageFrozen(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusExpired)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 60})

	f.scheduleReset(ent, productdomain.ResetMonth, f.clk.Now().Add(-time.Hour), floatPtr(30), 0)

	count, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	reloaded := f.reload(ent.ID)
	assert.Equal(t, float64(60), reloaded.Usage, "expired attachments keep their usage")
	assert.Equal(t, float64(0), reloaded.Rollover)
}

func TestSweepDue_AllocatedUsageHeld(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("seats", featuredomain.KindAllocated)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 10, usage: 7})

	f.scheduleReset(ent, productdomain.ResetMonth, f.clk.Now().Add(-time.Hour), nil, 0)

	count, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded := f.reload(ent.ID)
	// Seats stay allocated across the boundary; only the schedule moved.
	assert.Equal(t, float64(7), reloaded.Usage)
	assert.Equal(t, float64(0), reloaded.Rollover)
	require.NotNil(t, reloaded.NextResetAt)
	assert.True(t, reloaded.NextResetAt.After(f.clk.Now()))
}

func TestSweepDue_CatchesUpMissedBoundaries(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 50})

	// Three daily boundaries ago; the sweep was down.
	f.scheduleReset(ent, productdomain.ResetDay, f.clk.Now().AddDate(0, 0, -3), nil, 0)

	_, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)

	reloaded := f.reload(ent.ID)
	assert.Equal(t, float64(0), reloaded.Usage)
	require.NotNil(t, reloaded.NextResetAt)
	// One single sweep walked all three boundaries.
	assert.True(t, reloaded.NextResetAt.After(f.clk.Now()))
	assert.False(t, reloaded.NextResetAt.After(f.clk.Now().AddDate(0, 0, 1)))
}

func TestSweepDue_NothingDue(t *testing.T) {
	f := newEngineFixture(t)
	feature := f.createFeature("api_calls", featuredomain.KindConsumable)

	customerID := f.genID.Generate()
	cp := f.createCustomerProduct(customerID, nil, customerproductdomain.StatusActive)
	ent := f.createEntitlement(cp, grantSpec{feature: feature, granted: 100, usage: 10})
	f.scheduleReset(ent, productdomain.ResetMonth, f.clk.Now().Add(24*time.Hour), nil, 0)

	count, err := f.svc.SweepDue(f.ctx(), f.clk.Now(), 50)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, float64(10), f.reload(ent.ID).Usage)
}
