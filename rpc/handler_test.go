package rpc

import (
	"encoding/json"
	"testing"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/indexer"
	"github.com/team3d/merchantchain/internal/testutil"
	"github.com/team3d/merchantchain/storage"
	"github.com/team3d/merchantchain/wallet"
)

const testChainID = "test-chain"

type handlerEnv struct {
	handler *Handler
	state   *storage.StateDB
	mempool *core.Mempool
}

func newTestEnv(t *testing.T) *handlerEnv {
	t.Helper()
	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	mp := core.NewMempool()
	idx := indexer.New(db, events.NewEmitter())
	return &handlerEnv{
		handler: NewHandler(bc, mp, state, idx, testChainID),
		state:   state,
		mempool: mp,
	}
}

func dispatch(handler *Handler, method string, params any) Response {
	raw, _ := json.Marshal(params)
	return handler.Dispatch(Request{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  raw,
	})
}

// TestGetBlockHeight verifies that getBlockHeight returns 0 for a fresh chain.
func TestGetBlockHeight(t *testing.T) {
	env := newTestEnv(t)
	resp := dispatch(env.handler, "getBlockHeight", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	// Dispatch is called directly (no HTTP round-trip), so result is int64.
	if h, ok := resp.Result.(int64); !ok || h != 0 {
		t.Errorf("height: got %v", resp.Result)
	}
}

// TestGetBalance verifies getBalance returns zero for an unknown account.
func TestGetBalance(t *testing.T) {
	env := newTestEnv(t)
	resp := dispatch(env.handler, "getBalance", map[string]string{"address": "nonexistent"})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if balance, _ := result["balance"].(uint64); balance != 0 {
		t.Errorf("balance: got %v want 0", result["balance"])
	}
}

// TestGetListing verifies the (game_id, template_id) lookup.
func TestGetListing(t *testing.T) {
	env := newTestEnv(t)
	_ = env.state.SetListing(&core.Listing{
		GameID: "arena", TemplateID: "sword", Price: 100, BuyBackPrice: 20,
		Policy: core.PolicyFiniteStock, Stock: 5, StockCap: 5,
	})

	resp := dispatch(env.handler, "getListing", map[string]string{
		"game_id": "arena", "template_id": "sword",
	})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	listing, ok := resp.Result.(*core.Listing)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if listing.Price != 100 {
		t.Errorf("price: got %d want 100", listing.Price)
	}

	resp = dispatch(env.handler, "getListing", map[string]string{"game_id": "arena"})
	if resp.Error == nil {
		t.Error("missing template_id should error")
	}
}

// TestGetListings verifies sequence-ordered pagination.
func TestGetListings(t *testing.T) {
	env := newTestEnv(t)
	_ = env.state.SetListing(&core.Listing{GameID: "arena", TemplateID: "sword", Index: 0})
	_ = env.state.SetListing(&core.Listing{GameID: "arena", TemplateID: "shield", Index: 1})
	_ = env.state.SetListingSeq([]string{"arena/sword", "arena/shield"})

	resp := dispatch(env.handler, "getListings", map[string]int{"offset": 0, "limit": 10})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	listings, ok := resp.Result.([]*core.Listing)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if len(listings) != 2 || listings[0].TemplateID != "sword" {
		t.Errorf("listings: got %d entries", len(listings))
	}

	resp = dispatch(env.handler, "getListings", map[string]int{"offset": 1, "limit": 10})
	listings, _ = resp.Result.([]*core.Listing)
	if len(listings) != 1 || listings[0].TemplateID != "shield" {
		t.Errorf("paged listings: got %v", listings)
	}
}

// TestGetMarketInfo verifies the accounting snapshot including profit.
func TestGetMarketInfo(t *testing.T) {
	env := newTestEnv(t)
	_ = env.state.SetMarket(&core.MarketState{
		Admin: "adm", Vault: "vlt", ListingFee: 5, TotalBuyBackReserve: 20,
	})
	_ = env.state.SetAccount(&core.Account{Address: core.MarketplaceAccount, Balance: 90})

	resp := dispatch(env.handler, "getMarketInfo", struct{}{})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	info, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type: %T", resp.Result)
	}
	if got, _ := info["withdrawable_profit"].(uint64); got != 70 {
		t.Errorf("profit: got %v want 70", info["withdrawable_profit"])
	}
	if got, _ := info["buy_back_reserve"].(uint64); got != 20 {
		t.Errorf("reserve: got %v want 20", info["buy_back_reserve"])
	}
}

// TestSendTxChainIDMismatch verifies cross-chain replay rejection.
func TestSendTxChainIDMismatch(t *testing.T) {
	env := newTestEnv(t)
	w, _ := wallet.Generate()
	tx, _ := w.Transfer("other-chain", "aabb", 1, 0, 0)

	raw, _ := json.Marshal(tx)
	resp := env.handler.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "sendTx", Params: raw})
	if resp.Error == nil {
		t.Fatal("wrong chain ID should be rejected")
	}
	if env.mempool.Size() != 0 {
		t.Error("rejected tx must not enter the mempool")
	}
}

// TestSendTxAcceptsValid verifies a well-formed tx reaches the mempool.
func TestSendTxAcceptsValid(t *testing.T) {
	env := newTestEnv(t)
	w, _ := wallet.Generate()
	tx, _ := w.Transfer(testChainID, "aabb", 1, 0, 0)

	raw, _ := json.Marshal(tx)
	resp := env.handler.Dispatch(Request{JSONRPC: "2.0", ID: 1, Method: "sendTx", Params: raw})
	if resp.Error != nil {
		t.Fatalf("error: %v", resp.Error.Message)
	}
	if env.mempool.Size() != 1 {
		t.Error("tx should be in the mempool")
	}
}

// TestMethodNotFound verifies that unknown methods return a -32601 error.
func TestMethodNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := dispatch(env.handler, "nonExistentMethod", struct{}{})
	if resp.Error == nil {
		t.Error("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code: got %d want %d", resp.Error.Code, CodeMethodNotFound)
	}
}
