// Package catalog implements the item catalog: templates with issued
// supply, per-game sale approvals, and the mint/burn of concrete item
// instances. Minting and burning have no public transactions — the trade
// engine calls Mint on sale and Burn on buy-back.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/crypto"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
)

func init() {
	vm.Register(core.TxRegisterTemplate, handleRegisterTemplate)
	vm.Register(core.TxApproveGame, handleApproveGame)
}

func handleRegisterTemplate(ctx *vm.Context, payload json.RawMessage) error {
	var p core.RegisterTemplatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode register_template payload: %w", err)
	}
	if p.ID == "" {
		return errors.New("template id required")
	}
	if p.InitialSupply == 0 {
		return errors.New("initial supply must be > 0")
	}

	// Prevent overwriting an existing template; distinguish DB errors
	// from not-found.
	if _, err := ctx.State.GetTemplate(p.ID); err == nil {
		return fmt.Errorf("template %q already exists", p.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("check template %q: %w", p.ID, err)
	}

	t := &core.ItemTemplate{
		ID:            p.ID,
		Name:          p.Name,
		Creator:       ctx.Tx.From,
		IssuedSupply:  p.InitialSupply,
		ApprovedGames: map[string]bool{},
	}
	if err := ctx.State.SetTemplate(t); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTemplateReg,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data:        map[string]any{"template_id": p.ID, "name": p.Name},
		})
	}
	return nil
}

func handleApproveGame(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ApproveGamePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode approve_game payload: %w", err)
	}

	tmpl, err := ctx.State.GetTemplate(p.TemplateID)
	if err != nil {
		return fmt.Errorf("template %q: %w", p.TemplateID, err)
	}
	if tmpl.Creator != ctx.Tx.From {
		return errors.New("only the template creator can change approvals")
	}
	if _, err := ctx.State.GetGame(p.GameID); err != nil {
		return fmt.Errorf("game %q: %w", p.GameID, err)
	}

	if tmpl.ApprovedGames == nil {
		tmpl.ApprovedGames = map[string]bool{}
	}
	if p.Approved {
		tmpl.ApprovedGames[p.GameID] = true
	} else {
		delete(tmpl.ApprovedGames, p.GameID)
	}
	if err := ctx.State.SetTemplate(tmpl); err != nil {
		return err
	}

	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventGameApproval,
			TxID:        ctx.Tx.ID,
			BlockHeight: ctx.Block.Header.Height,
			Data: map[string]any{
				"template_id": p.TemplateID,
				"game_id":     p.GameID,
				"approved":    p.Approved,
			},
		})
	}
	return nil
}

// TemplateExists reports whether the template is known and has issued
// supply. A registered template whose supply burned down to zero counts
// as unknown, matching the listing registry's rules.
func TemplateExists(state core.State, templateID string) (bool, error) {
	tmpl, err := state.GetTemplate(templateID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tmpl.IssuedSupply > 0, nil
}

// IsGameApproved reports whether the game may sell the template.
func IsGameApproved(state core.State, templateID, gameID string) (bool, error) {
	tmpl, err := state.GetTemplate(templateID)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tmpl.ApprovedGames[gameID], nil
}

// Mint creates a new instance of templateID holding units, owned by
// receiver, carrying the listing's feature payload unchanged. The instance
// ID is derived from the triggering tx so replays are deterministic.
func Mint(state core.State, txID, templateID string, features core.FeatureSet, units uint64, receiver string, now int64) (string, error) {
	if units == 0 {
		return "", errors.New("mint units must be > 0")
	}
	tmpl, err := state.GetTemplate(templateID)
	if err != nil {
		return "", fmt.Errorf("template %q: %w", templateID, err)
	}
	if tmpl.IssuedSupply > math.MaxUint64-units {
		return "", fmt.Errorf("issued supply overflow for template %q", templateID)
	}

	instanceID := crypto.Hash([]byte(txID + ":item:" + templateID))
	inst := &core.ItemInstance{
		ID:         instanceID,
		TemplateID: templateID,
		Owner:      receiver,
		Units:      units,
		Features:   features,
		MintedAt:   now,
	}
	if err := state.SetInstance(inst); err != nil {
		return "", err
	}

	tmpl.IssuedSupply += units
	if err := state.SetTemplate(tmpl); err != nil {
		return "", err
	}
	return instanceID, nil
}

// Burn destroys units of an instance on the holder's behalf and returns
// the instance's template ID and the units left on it (zero means the
// instance was deleted). The burn policy is owned here: the caller must be
// the holder and the holder must own the instance.
func Burn(state core.State, holder, instanceID string, units uint64, caller string) (string, uint64, error) {
	inst, err := state.GetInstance(instanceID)
	if err != nil {
		return "", 0, fmt.Errorf("instance %q: %w", instanceID, err)
	}
	if caller != holder || inst.Owner != holder {
		return "", 0, fmt.Errorf("%w: %s does not hold instance %q", core.ErrBurnDenied, holder, instanceID)
	}
	if units == 0 || units > inst.Units {
		return "", 0, fmt.Errorf("burn %d units but instance %q holds %d", units, instanceID, inst.Units)
	}

	remaining := inst.Units - units
	if remaining == 0 {
		if err := state.DeleteInstance(instanceID); err != nil {
			return "", 0, err
		}
	} else {
		inst.Units = remaining
		if err := state.SetInstance(inst); err != nil {
			return "", 0, err
		}
	}

	tmpl, err := state.GetTemplate(inst.TemplateID)
	if err != nil {
		return "", 0, fmt.Errorf("template %q: %w", inst.TemplateID, err)
	}
	if tmpl.IssuedSupply < units {
		return "", 0, fmt.Errorf("issued supply underflow for template %q", inst.TemplateID)
	}
	tmpl.IssuedSupply -= units
	if err := state.SetTemplate(tmpl); err != nil {
		return "", 0, err
	}
	return inst.TemplateID, remaining, nil
}

// ResolveTemplate maps an instance back to the template it was minted from.
func ResolveTemplate(state core.State, instanceID string) (string, error) {
	inst, err := state.GetInstance(instanceID)
	if err != nil {
		return "", fmt.Errorf("instance %q: %w", instanceID, err)
	}
	return inst.TemplateID, nil
}
