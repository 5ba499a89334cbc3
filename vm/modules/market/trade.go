package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
	"github.com/team3d/merchantchain/vm/modules/catalog"
	"github.com/team3d/merchantchain/vm/modules/economy"
	"github.com/team3d/merchantchain/vm/modules/publisher"
)

// handleBuyItem purchases units of a listing. The documented effect order
// is load-bearing: restock, then the three payment splits at the
// pre-mutation price, then the reserve increment, then the pricing
// adjustment, then the mint. A failure anywhere reverts the whole tx.
func handleBuyItem(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	var p core.BuyItemPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_item payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("amount must be > 0")
	}
	receiver := p.Receiver
	if receiver == "" {
		receiver = ctx.Tx.From
	}

	l, err := ctx.State.GetListing(p.GameID, p.TemplateID)
	if err != nil {
		return fmt.Errorf("listing %q: %w", core.ListingKey(p.GameID, p.TemplateID), err)
	}

	now := ctx.Block.Header.Timestamp
	restockIfDue(l, now)

	if l.Policy == core.PolicyFiniteStock && p.Amount > l.Stock {
		return fmt.Errorf("%w: %d units requested, %d in stock", core.ErrOutOfStock, p.Amount, l.Stock)
	}

	devFee, err := publisher.FeeOf(ctx.State, p.GameID)
	if err != nil {
		return err
	}
	devRecipient, err := publisher.DeveloperOf(ctx.State, p.GameID)
	if err != nil {
		return err
	}
	market, err := ctx.State.GetMarket()
	if err != nil {
		return err
	}

	// Payment splits, all at the pre-mutation price, summing to exactly
	// the price: the buy-back portion goes into the escrow, the developer
	// fee to the game's developer, the remainder to the vault. Zero-value
	// legs are skipped.
	vault := market.Vault
	if vault == "" {
		vault = core.MarketplaceAccount
	}
	price, buyBack := l.Price, l.BuyBackPrice
	if buyBack > price || devFee > price-buyBack {
		return fmt.Errorf("%w: buy-back %d + dev fee %d exceeds price %d",
			core.ErrTransferFailed, buyBack, devFee, price)
	}
	if buyBack > 0 {
		if err := economy.Transfer(ctx.State, ctx.Tx.From, core.MarketplaceAccount, buyBack); err != nil {
			return err
		}
	}
	if devFee > 0 {
		if err := economy.Transfer(ctx.State, ctx.Tx.From, devRecipient, devFee); err != nil {
			return err
		}
	}
	if remainder := price - buyBack - devFee; remainder > 0 {
		if err := economy.Transfer(ctx.State, ctx.Tx.From, vault, remainder); err != nil {
			return err
		}
	}

	if market.TotalBuyBackReserve > math.MaxUint64-buyBack {
		return fmt.Errorf("buy-back reserve overflow")
	}
	market.TotalBuyBackReserve += buyBack
	if err := ctx.State.SetMarket(market); err != nil {
		return err
	}

	if err := applyPostSale(l, p.Amount); err != nil {
		return err
	}
	l.UpdatedAt = now
	if err := ctx.State.SetListing(l); err != nil {
		return err
	}

	instanceID, err := catalog.Mint(ctx.State, ctx.Tx.ID, p.TemplateID, l.Features, p.Amount, receiver, now)
	if err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventItemSold,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"instance_id": instanceID,
				"game_id":     p.GameID,
				"template_id": p.TemplateID,
				"buyer":       ctx.Tx.From,
				"receiver":    receiver,
				"amount":      p.Amount,
				"price":       price,
				"buy_back":    buyBack,
				"dev_fee":     devFee,
			},
		})
	}
	return nil
}

// handleBuyBack sells a minted instance back at the listing's guaranteed
// buy-back price: burn first, then restock the listing, then refund from
// escrow, then release the reserve.
func handleBuyBack(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	var p core.BuyBackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy_back payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("amount must be > 0")
	}
	holder := p.Holder
	if holder == "" {
		holder = ctx.Tx.From
	}

	templateID, err := catalog.ResolveTemplate(ctx.State, p.InstanceID)
	if err != nil {
		return err
	}
	l, err := ctx.State.GetListing(p.GameID, templateID)
	if err != nil {
		return fmt.Errorf("listing %q: %w", core.ListingKey(p.GameID, templateID), err)
	}

	_, remaining, err := catalog.Burn(ctx.State, holder, p.InstanceID, p.Amount, ctx.Tx.From)
	if err != nil {
		return err
	}

	now := ctx.Block.Header.Timestamp
	if l.Policy == core.PolicyFiniteStock {
		// Returned units go straight back on the shelf, deliberately
		// unbounded by the cap; the next elapsed restock re-caps.
		if l.Stock > math.MaxUint64-p.Amount {
			return fmt.Errorf("stock overflow for listing %s", core.ListingKey(p.GameID, templateID))
		}
		l.Stock += p.Amount
		l.UpdatedAt = now
		if err := ctx.State.SetListing(l); err != nil {
			return err
		}
	}

	buyBack := l.BuyBackPrice
	if buyBack > 0 {
		if err := economy.Transfer(ctx.State, core.MarketplaceAccount, ctx.Tx.From, buyBack); err != nil {
			return err
		}
	}

	market, err := ctx.State.GetMarket()
	if err != nil {
		return err
	}
	// Unreachable while the reserve invariant holds, but checked, never
	// assumed.
	if market.TotalBuyBackReserve < buyBack {
		return fmt.Errorf("%w: reserve %d, refund %d", core.ErrReserveUnderflow, market.TotalBuyBackReserve, buyBack)
	}
	market.TotalBuyBackReserve -= buyBack
	if err := ctx.State.SetMarket(market); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventItemBoughtBack,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"instance_id": p.InstanceID,
				"game_id":     p.GameID,
				"template_id": templateID,
				"holder":      holder,
				"amount":      p.Amount,
				"remaining":   remaining,
				"refund":      buyBack,
			},
		})
	}
	return nil
}
