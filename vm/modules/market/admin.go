package market

import (
	"encoding/json"
	"fmt"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
	"github.com/team3d/merchantchain/vm/modules/economy"
)

// requirePublisher loads the game and checks that caller is its registered
// developer.
func requirePublisher(state core.State, gameID, caller string) (*core.Game, error) {
	game, err := state.GetGame(gameID)
	if err != nil {
		return nil, fmt.Errorf("game %q: %w", gameID, err)
	}
	if game.Developer != caller {
		return nil, fmt.Errorf("%w: game %q", core.ErrNotPublisher, gameID)
	}
	return game, nil
}

// requireAdmin loads the market state and checks that caller is the
// administrator. A chain whose genesis seeded no admin has no admin.
func requireAdmin(state core.State, caller string) (*core.MarketState, error) {
	market, err := state.GetMarket()
	if err != nil {
		return nil, err
	}
	if market.Admin == "" || caller != market.Admin {
		return nil, core.ErrNotAdmin
	}
	return market, nil
}

func handleSetListingFee(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	var p core.SetListingFeePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_listing_fee payload: %w", err)
	}

	market, err := requireAdmin(ctx.State, ctx.Tx.From)
	if err != nil {
		return err
	}
	market.ListingFee = p.Fee
	if err := ctx.State.SetMarket(market); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventListingFeeUpdated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"fee": p.Fee},
		})
	}
	return nil
}

func handleSetWhitelist(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	var p core.SetWhitelistPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_whitelist payload: %w", err)
	}

	if _, err := requireAdmin(ctx.State, ctx.Tx.From); err != nil {
		return err
	}
	game, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q: %w", p.GameID, err)
	}
	game.Whitelisted = p.Approved
	if err := ctx.State.SetGame(game); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventWhitelistUpdated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"game_id": p.GameID, "approved": p.Approved},
		})
	}
	return nil
}

// handleWithdrawProfit pays out everything in the escrow above the
// buy-back reserve. The reserve itself is untouchable: it backs every
// outstanding buy-back guarantee.
func handleWithdrawProfit(ctx *vm.Context, payload json.RawMessage) error {
	if err := guard.enter(); err != nil {
		return err
	}
	defer guard.exit()

	market, err := requireAdmin(ctx.State, ctx.Tx.From)
	if err != nil {
		return err
	}

	escrow, err := ctx.State.GetAccount(core.MarketplaceAccount)
	if err != nil {
		return err
	}
	if escrow.Balance < market.TotalBuyBackReserve {
		return fmt.Errorf("%w: escrow %d below reserve %d",
			core.ErrReserveUnderflow, escrow.Balance, market.TotalBuyBackReserve)
	}

	profit := escrow.Balance - market.TotalBuyBackReserve
	if profit > 0 {
		if err := economy.Transfer(ctx.State, core.MarketplaceAccount, ctx.Tx.From, profit); err != nil {
			return err
		}
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventProfitWithdrawn,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"to": ctx.Tx.From, "amount": profit},
		})
	}
	return nil
}
