package market

import (
	"errors"
	"testing"
	"time"

	"github.com/team3d/merchantchain/core"
)

func secs(n int64) int64 { return n * int64(time.Second) }

// TestRestockIfDue covers the cooldown gate, idempotence, and the
// overshoot re-cap.
func TestRestockIfDue(t *testing.T) {
	l := &core.Listing{
		Policy:              core.PolicyFiniteStock,
		Stock:               1,
		StockCap:            5,
		LastRestockAt:       secs(100),
		RestockCooldownSecs: 60,
	}

	// Within the window: no-op.
	restockIfDue(l, secs(150))
	if l.Stock != 1 || l.LastRestockAt != secs(100) {
		t.Errorf("early restock mutated listing: %+v", l)
	}

	// At the boundary the cooldown has elapsed.
	restockIfDue(l, secs(160))
	if l.Stock != 5 || l.LastRestockAt != secs(160) {
		t.Errorf("boundary restock: %+v", l)
	}

	// Immediately again: idempotent no-op.
	restockIfDue(l, secs(160))
	if l.Stock != 5 || l.LastRestockAt != secs(160) {
		t.Errorf("repeat restock mutated listing: %+v", l)
	}

	// Buy-backs can push stock above the cap; an elapsed restock re-caps.
	l.Stock = 9
	restockIfDue(l, secs(230))
	if l.Stock != 5 {
		t.Errorf("overshoot should re-cap to 5, got %d", l.Stock)
	}

	// Growing-price listings never restock.
	g := &core.Listing{Policy: core.PolicyGrowingPrice, Price: 100}
	restockIfDue(g, secs(999))
	if g.Price != 100 {
		t.Error("growing listing mutated by restock")
	}
}

// TestApplyPostSale covers the two pricing policies.
func TestApplyPostSale(t *testing.T) {
	l := &core.Listing{Policy: core.PolicyFiniteStock, Stock: 3, StockCap: 5}
	if err := applyPostSale(l, 2); err != nil {
		t.Fatal(err)
	}
	if l.Stock != 1 {
		t.Errorf("stock: got %d want 1", l.Stock)
	}
	if err := applyPostSale(l, 2); !errors.Is(err, core.ErrOutOfStock) {
		t.Errorf("overdraw: got %v want ErrOutOfStock", err)
	}

	g := &core.Listing{Policy: core.PolicyGrowingPrice, Price: 100, GrowthRateBps: 500}
	if err := applyPostSale(g, 10); err != nil {
		t.Fatal(err)
	}
	if g.Price != 105 {
		t.Errorf("grown price: got %d want 105", g.Price)
	}
	// Integer floor: 105 * 1.05 = 110.25 → 110.
	if err := applyPostSale(g, 1); err != nil {
		t.Fatal(err)
	}
	if g.Price != 110 {
		t.Errorf("second growth: got %d want 110", g.Price)
	}

	// A zero growth rate keeps the price constant.
	flat := &core.Listing{Policy: core.PolicyGrowingPrice, Price: 100}
	_ = applyPostSale(flat, 1)
	if flat.Price != 100 {
		t.Errorf("zero-rate price: got %d want 100", flat.Price)
	}
}

// TestValidatePricingParams covers the policy-specific listing checks.
func TestValidatePricingParams(t *testing.T) {
	finite := core.ListItemPayload{Policy: core.PolicyFiniteStock, StockCap: 5}
	if err := validatePricingParams(&finite); err != nil {
		t.Errorf("valid finite: %v", err)
	}
	finite.StockCap = 0
	if err := validatePricingParams(&finite); err == nil {
		t.Error("zero cap should fail")
	}
	finite.StockCap = 5
	finite.RestockCooldownSecs = -1
	if err := validatePricingParams(&finite); err == nil {
		t.Error("negative cooldown should fail")
	}
	// Anything above the nanosecond-safe bound would wrap the restock math.
	finite.RestockCooldownSecs = maxRestockCooldownSecs + 1
	if err := validatePricingParams(&finite); err == nil {
		t.Error("oversized cooldown should fail")
	}
	finite.RestockCooldownSecs = maxRestockCooldownSecs
	if err := validatePricingParams(&finite); err != nil {
		t.Errorf("bound cooldown should list: %v", err)
	}

	growing := core.ListItemPayload{Policy: core.PolicyGrowingPrice}
	if err := validatePricingParams(&growing); err != nil {
		t.Errorf("zero-rate growing: %v", err)
	}

	bogus := core.ListItemPayload{Policy: "haggling"}
	if err := validatePricingParams(&bogus); err == nil {
		t.Error("unknown policy should fail")
	}
}
