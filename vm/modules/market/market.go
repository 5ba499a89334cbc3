// Package market implements the marketplace core: the listing registry,
// the pricing state machine, the trade engine that routes every payment
// split, and the admin surface. It owns the accounting invariant that the
// buy-back reserve never exceeds the marketplace escrow balance.
package market

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
	"github.com/team3d/merchantchain/vm/modules/catalog"
	"github.com/team3d/merchantchain/vm/modules/economy"
)

func init() {
	vm.Register(core.TxListItem, handleListItem)
	vm.Register(core.TxBuyItem, handleBuyItem)
	vm.Register(core.TxBuyBack, handleBuyBack)
	vm.Register(core.TxSetListingFee, handleSetListingFee)
	vm.Register(core.TxSetWhitelist, handleSetWhitelist)
	vm.Register(core.TxWithdrawProfit, handleWithdrawProfit)
}

func handleListItem(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	var p core.ListItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode list_item payload: %w", err)
	}

	game, err := requirePublisher(ctx.State, p.GameID, ctx.Tx.From)
	if err != nil {
		return err
	}
	if !game.Whitelisted {
		return fmt.Errorf("%w: game %q", core.ErrNotWhitelisted, p.GameID)
	}

	exists, err := catalog.TemplateExists(ctx.State, p.TemplateID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", core.ErrUnknownTemplate, p.TemplateID)
	}
	approved, err := catalog.IsGameApproved(ctx.State, p.TemplateID, p.GameID)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("%w: template %q, game %q", core.ErrTemplateNotApproved, p.TemplateID, p.GameID)
	}

	if p.BuyBackPrice >= p.Price {
		return fmt.Errorf("%w: buy-back %d, price %d", core.ErrInvalidBuyBack, p.BuyBackPrice, p.Price)
	}
	if err := validatePricingParams(&p); err != nil {
		return err
	}

	market, err := ctx.State.GetMarket()
	if err != nil {
		return err
	}

	// Charge the listing fee to the admin's account before touching the
	// registry, so a failed fee payment leaves nothing behind.
	if market.ListingFee > 0 {
		if err := economy.Transfer(ctx.State, ctx.Tx.From, market.Admin, market.ListingFee); err != nil {
			return fmt.Errorf("listing fee: %w", err)
		}
		market.CollectedListingFees += market.ListingFee
	}

	now := ctx.Block.Header.Timestamp
	key := core.ListingKey(p.GameID, p.TemplateID)

	l := &core.Listing{
		GameID:       p.GameID,
		TemplateID:   p.TemplateID,
		Price:        p.Price,
		BuyBackPrice: p.BuyBackPrice,
		Policy:       p.Policy,
		Features:     p.Features,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.Policy == core.PolicyFiniteStock {
		l.Stock = p.StockCap
		l.StockCap = p.StockCap
		l.LastRestockAt = now
		l.RestockCooldownSecs = p.RestockCooldownSecs
	} else {
		l.GrowthRateBps = p.GrowthRateBps
	}

	existing, err := ctx.State.GetListing(p.GameID, p.TemplateID)
	switch {
	case err == nil:
		// Re-listing the same pair updates in place: it keeps its stable
		// index and creation time, listings are never duplicated.
		l.Index = existing.Index
		l.CreatedAt = existing.CreatedAt
	case errors.Is(err, core.ErrNotFound):
		l.Index = market.ListingCount
		market.ListingCount++

		seq, err := ctx.State.GetListingSeq()
		if err != nil {
			return err
		}
		if err := ctx.State.SetListingSeq(append(seq, key)); err != nil {
			return err
		}
		fwd, err := ctx.State.GetGameTemplates(p.GameID)
		if err != nil {
			return err
		}
		if err := ctx.State.SetGameTemplates(p.GameID, appendUnique(fwd, p.TemplateID)); err != nil {
			return err
		}
		rev, err := ctx.State.GetTemplateGames(p.TemplateID)
		if err != nil {
			return err
		}
		if err := ctx.State.SetTemplateGames(p.TemplateID, appendUnique(rev, p.GameID)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("listing %q: %w", key, err)
	}

	if err := ctx.State.SetListing(l); err != nil {
		return err
	}
	if err := ctx.State.SetMarket(market); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventListingCreated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"game_id":     p.GameID,
				"template_id": p.TemplateID,
				"price":       p.Price,
				"buy_back":    p.BuyBackPrice,
				"policy":      string(p.Policy),
				"index":       l.Index,
			},
		})
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
