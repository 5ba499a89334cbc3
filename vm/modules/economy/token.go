// Package economy implements the token ledger: reserve-currency balance
// moves between accounts. The market module routes all payments through
// Transfer so every split shares the same overflow and balance checks.
package economy

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// Transfer moves amount from one account to another. Underflow
// (insufficient balance) and overflow both fail with ErrTransferFailed
// rather than wrapping; a zero amount is rejected, callers skip it.
func Transfer(state core.State, from, to string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("%w: amount must be > 0", core.ErrTransferFailed)
	}
	if to == "" {
		return fmt.Errorf("%w: recipient address required", core.ErrTransferFailed)
	}

	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: insufficient balance: have %d need %d",
			core.ErrTransferFailed, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}

	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("%w: balance overflow for %s", core.ErrTransferFailed, to)
	}
	recipient.Balance += amount
	return state.SetAccount(recipient)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}

	if err := Transfer(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTokenTransfer,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"from":   ctx.Tx.From,
				"to":     p.To,
				"amount": p.Amount,
			},
		})
	}
	return nil
}
