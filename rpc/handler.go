package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/indexer"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getTemplate":
		return h.getTemplate(req)

	case "getGame":
		return h.getGame(req)

	case "getListing":
		return h.getListing(req)

	case "getListings":
		return h.getListings(req)

	case "listingsForGame":
		return h.listingsForGame(req)

	case "gamesForTemplate":
		return h.gamesForTemplate(req)

	case "featuresOf":
		return h.featuresOf(req)

	case "getItem":
		return h.getItem(req)

	case "getItemsByOwner":
		return h.getItemsByOwner(req)

	case "getSalesByGame":
		return h.getSalesByGame(req)

	case "getMarketInfo":
		return h.getMarketInfo(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getTemplate(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	tmpl, err := h.state.GetTemplate(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, tmpl)
}

func (h *Handler) getGame(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	game, err := h.state.GetGame(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, game)
}

func (h *Handler) getListing(req Request) Response {
	var params struct {
		GameID     string `json:"game_id"`
		TemplateID string `json:"template_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.GameID == "" || params.TemplateID == "" {
		return errResponse(req.ID, CodeInvalidParams, "game_id and template_id are required")
	}
	listing, err := h.state.GetListing(params.GameID, params.TemplateID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, listing)
}

// getListings pages through all listings in creation order. Offset and
// limit are optional; limit defaults to 100.
func (h *Handler) getListings(req Request) Response {
	var params struct {
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errResponse(req.ID, CodeInvalidParams, err.Error())
		}
	}
	if params.Limit <= 0 || params.Limit > 1000 {
		params.Limit = 100
	}

	seq, err := h.state.GetListingSeq()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if params.Offset < 0 || params.Offset >= len(seq) {
		return okResponse(req.ID, []*core.Listing{})
	}
	end := params.Offset + params.Limit
	if end > len(seq) {
		end = len(seq)
	}

	listings := make([]*core.Listing, 0, end-params.Offset)
	for _, key := range seq[params.Offset:end] {
		gameID, templateID, ok := core.SplitListingKey(key)
		if !ok {
			continue
		}
		l, err := h.state.GetListing(gameID, templateID)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		listings = append(listings, l)
	}
	return okResponse(req.ID, listings)
}

func (h *Handler) listingsForGame(req Request) Response {
	var params struct {
		GameID string `json:"game_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.GameID == "" {
		return errResponse(req.ID, CodeInvalidParams, "game_id is required")
	}
	ids, err := h.state.GetGameTemplates(params.GameID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) gamesForTemplate(req Request) Response {
	var params struct {
		TemplateID string `json:"template_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.TemplateID == "" {
		return errResponse(req.ID, CodeInvalidParams, "template_id is required")
	}
	ids, err := h.state.GetTemplateGames(params.TemplateID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) featuresOf(req Request) Response {
	var params struct {
		GameID     string `json:"game_id"`
		TemplateID string `json:"template_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.GameID == "" || params.TemplateID == "" {
		return errResponse(req.ID, CodeInvalidParams, "game_id and template_id are required")
	}
	listing, err := h.state.GetListing(params.GameID, params.TemplateID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, listing.Features)
}

func (h *Handler) getItem(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	item, err := h.state.GetInstance(params.ID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, item)
}

func (h *Handler) getItemsByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetItemsByOwner(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getSalesByGame(req Request) Response {
	var params struct {
		GameID string `json:"game_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.GameID == "" {
		return errResponse(req.ID, CodeInvalidParams, "game_id is required")
	}
	ids, err := h.indexer.GetSalesByGame(params.GameID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

// getMarketInfo reports the marketplace accounting snapshot, including the
// profit currently withdrawable above the buy-back reserve.
func (h *Handler) getMarketInfo(req Request) Response {
	market, err := h.state.GetMarket()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	escrow, err := h.state.GetAccount(core.MarketplaceAccount)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	var profit uint64
	if escrow.Balance > market.TotalBuyBackReserve {
		profit = escrow.Balance - market.TotalBuyBackReserve
	}
	return okResponse(req.ID, map[string]any{
		"admin":                  market.Admin,
		"vault":                  market.Vault,
		"listing_fee":            market.ListingFee,
		"listing_count":          market.ListingCount,
		"buy_back_reserve":       market.TotalBuyBackReserve,
		"collected_listing_fees": market.CollectedListingFees,
		"escrow_balance":         escrow.Balance,
		"withdrawable_profit":    profit,
	})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
