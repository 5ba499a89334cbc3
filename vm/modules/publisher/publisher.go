// Package publisher implements the publisher directory: each game's
// registered developer (the per-sale fee recipient) and its current fee.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
)

func init() {
	vm.Register(core.TxRegisterGame, handleRegisterGame)
	vm.Register(core.TxSetDevFee, handleSetDevFee)
}

func handleRegisterGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterGamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode register_game payload: %w", err)
	}
	if p.GameID == "" {
		return errors.New("game_id required")
	}

	// Check the game doesn't already exist; distinguish DB errors from
	// not-found.
	if _, err := ctx.State.GetGame(p.GameID); err == nil {
		return fmt.Errorf("game %q already registered", p.GameID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("checking game %q: %w", p.GameID, err)
	}

	g := &core.Game{
		ID:           p.GameID,
		Developer:    ctx.Tx.From,
		DevFee:       p.DevFee,
		RegisteredAt: ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGameRegistered,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"game_id": p.GameID, "developer": ctx.Tx.From, "dev_fee": p.DevFee},
		})
	}
	return nil
}

func handleSetDevFee(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetDevFeePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode set_dev_fee payload: %w", err)
	}

	g, err := ctx.State.GetGame(p.GameID)
	if err != nil {
		return fmt.Errorf("game %q: %w", p.GameID, err)
	}
	if g.Developer != ctx.Tx.From {
		return fmt.Errorf("%w: game %q", core.ErrNotPublisher, p.GameID)
	}

	g.DevFee = p.Fee
	if err := ctx.State.SetGame(g); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventDevFeeUpdated,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"game_id": p.GameID, "dev_fee": p.Fee},
		})
	}
	return nil
}

// DeveloperOf returns the registered developer (fee recipient) of gameID.
func DeveloperOf(state core.State, gameID string) (string, error) {
	g, err := state.GetGame(gameID)
	if err != nil {
		return "", fmt.Errorf("game %q: %w", gameID, err)
	}
	return g.Developer, nil
}

// FeeOf returns the current per-sale developer fee of gameID.
func FeeOf(state core.State, gameID string) (uint64, error) {
	g, err := state.GetGame(gameID)
	if err != nil {
		return 0, fmt.Errorf("game %q: %w", gameID, err)
	}
	return g.DevFee, nil
}
