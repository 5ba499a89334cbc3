package market

import (
	"fmt"
	"math"
	"time"

	"github.com/team3d/merchantchain/core"
)

const bpsDenominator = 10_000

// maxRestockCooldownSecs keeps the nanosecond conversion in restockIfDue
// inside int64 range.
const maxRestockCooldownSecs = math.MaxInt64 / int64(time.Second)

// restockIfDue resets a finite-stock listing to its cap when the cooldown
// has elapsed. It runs at the start of every buy, whether or not the
// listing is out of stock: an elapsed cooldown always re-caps, which also
// corrects a stock overshoot left by buy-backs. Within the cooldown
// window it is a no-op, so calling it repeatedly is idempotent.
func restockIfDue(l *core.Listing, now int64) {
	if l.Policy != core.PolicyFiniteStock {
		return
	}
	if now-l.LastRestockAt < l.RestockCooldownSecs*int64(time.Second) {
		return
	}
	l.Stock = l.StockCap
	l.LastRestockAt = now
}

// applyPostSale mutates the listing after a successful sale: finite-stock
// listings lose the purchased units; growing-price listings multiply the
// price by 1 + rate/10000 with integer floor, once per buy call no matter
// how many units the call purchased.
func applyPostSale(l *core.Listing, amount uint64) error {
	switch l.Policy {
	case core.PolicyFiniteStock:
		if amount > l.Stock {
			return fmt.Errorf("%w: %d units requested, %d in stock", core.ErrOutOfStock, amount, l.Stock)
		}
		l.Stock -= amount
	case core.PolicyGrowingPrice:
		multiplier := bpsDenominator + l.GrowthRateBps
		if l.Price > math.MaxUint64/multiplier {
			return fmt.Errorf("price overflow growing listing %s", core.ListingKey(l.GameID, l.TemplateID))
		}
		l.Price = l.Price * multiplier / bpsDenominator
	default:
		return fmt.Errorf("unknown pricing policy %q", l.Policy)
	}
	return nil
}

// validatePricingParams checks the policy-specific fields of a new or
// updated listing.
func validatePricingParams(p *core.ListItemPayload) error {
	switch p.Policy {
	case core.PolicyFiniteStock:
		if p.StockCap == 0 {
			return fmt.Errorf("stock cap must be > 0 for %s", core.PolicyFiniteStock)
		}
		if p.RestockCooldownSecs < 0 {
			return fmt.Errorf("restock cooldown must not be negative")
		}
		if p.RestockCooldownSecs > maxRestockCooldownSecs {
			return fmt.Errorf("restock cooldown must not exceed %d seconds", maxRestockCooldownSecs)
		}
	case core.PolicyGrowingPrice:
		// A zero growth rate is a constant-price unlimited listing;
		// allowed.
	default:
		return fmt.Errorf("unknown pricing policy %q", p.Policy)
	}
	return nil
}
