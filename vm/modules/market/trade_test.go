package market

import (
	"errors"
	"testing"
	"time"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/crypto"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/wallet"
)

// sendAt is execAt but returns the executed transaction, so tests can
// derive the minted instance ID from its hash.
func (f *fixture) sendAt(w *wallet.Wallet, typ core.TxType, payload any, now int64) (*core.Transaction, error) {
	f.t.Helper()
	nonce := f.nonces[w.PubKey()]
	tx, err := w.NewTx(testChainID, typ, nonce, 0, payload)
	if err != nil {
		f.t.Fatal(err)
	}
	f.height++
	block := core.NewBlock(f.height, "0000", w.PubKey(), []*core.Transaction{tx})
	block.Header.Timestamp = now
	if err := f.exec.ExecuteTx(block, tx); err != nil {
		return tx, err
	}
	f.nonces[w.PubKey()] = nonce + 1
	return tx, nil
}

func buyPayload(amount uint64) core.BuyItemPayload {
	return core.BuyItemPayload{GameID: "arena", TemplateID: "sword", Amount: amount}
}

// TestBuyItemSplitsAndReserve verifies the three payment legs, the reserve
// bookkeeping, the stock decrement, and the minted instance.
func TestBuyItemSplitsAndReserve(t *testing.T) {
	f := newFixture(t)
	// price 100, buy-back 20, dev fee 10 (from the fixture's game).
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 5, 60), 1); err != nil {
		t.Fatal(err)
	}

	buyerBefore := f.balance(f.buyer.PubKey())
	devBefore := f.balance(f.dev.PubKey())

	tx, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), 2)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Buyer pays exactly the price: 20 escrow, 10 dev, 70 vault.
	if got := f.balance(f.buyer.PubKey()); got != buyerBefore-100 {
		t.Errorf("buyer balance: got %d want %d", got, buyerBefore-100)
	}
	if got := f.balance(core.MarketplaceAccount); got != 20 {
		t.Errorf("escrow balance: got %d want 20", got)
	}
	if got := f.balance(f.dev.PubKey()); got != devBefore+10 {
		t.Errorf("dev balance: got %d want %d", got, devBefore+10)
	}
	if got := f.balance(vaultAddr); got != 70 {
		t.Errorf("vault balance: got %d want 70", got)
	}
	if got := f.market().TotalBuyBackReserve; got != 20 {
		t.Errorf("reserve: got %d want 20", got)
	}

	l, _ := f.state.GetListing("arena", "sword")
	if l.Stock != 4 {
		t.Errorf("stock: got %d want 4", l.Stock)
	}

	instanceID := crypto.Hash([]byte(tx.ID + ":item:sword"))
	inst, err := f.state.GetInstance(instanceID)
	if err != nil {
		t.Fatalf("minted instance: %v", err)
	}
	if inst.Owner != f.buyer.PubKey() || inst.Units != 1 {
		t.Errorf("instance: %+v", inst)
	}
	if inst.Features.Feature1 != 3 || inst.Features.EquipmentSlot != 1 {
		t.Error("listing features should be forwarded to the mint")
	}

	// Payment is flat per call: buying 2 units costs the same 100.
	buyerBefore = f.balance(f.buyer.PubKey())
	if _, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(2), 3); err != nil {
		t.Fatalf("multi-unit buy: %v", err)
	}
	if got := f.balance(f.buyer.PubKey()); got != buyerBefore-100 {
		t.Errorf("multi-unit buy cost: got %d want %d", got, buyerBefore-100)
	}
	l, _ = f.state.GetListing("arena", "sword")
	if l.Stock != 2 {
		t.Errorf("stock after 2-unit buy: got %d want 2", l.Stock)
	}
}

// TestBuyItemMintsToReceiver verifies the receiver override.
func TestBuyItemMintsToReceiver(t *testing.T) {
	f := newFixture(t)
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 5, 0), 1); err != nil {
		t.Fatal(err)
	}

	gift, _ := wallet.Generate()
	p := buyPayload(1)
	p.Receiver = gift.PubKey()
	tx, err := f.sendAt(f.buyer, core.TxBuyItem, p, 2)
	if err != nil {
		t.Fatal(err)
	}
	inst, err := f.state.GetInstance(crypto.Hash([]byte(tx.ID + ":item:sword")))
	if err != nil {
		t.Fatal(err)
	}
	if inst.Owner != gift.PubKey() {
		t.Error("instance should be minted to the named receiver")
	}
}

// TestOutOfStockAndRestock verifies the sell-out error and the
// cooldown-gated restock to cap.
func TestOutOfStockAndRestock(t *testing.T) {
	f := newFixture(t)
	t0 := int64(1_000) * int64(time.Second)
	cooldown := int64(60)

	p := finiteListing(100, 20, 2, cooldown)
	if err := f.execAt(f.dev, core.TxListItem, p, t0); err != nil {
		t.Fatal(err)
	}

	if _, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(2), t0+1); err != nil {
		t.Fatalf("sell-out buy: %v", err)
	}

	// Within the cooldown the listing is empty.
	_, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), t0+2)
	if !errors.Is(err, core.ErrOutOfStock) {
		t.Errorf("within cooldown: got %v want ErrOutOfStock", err)
	}

	// Asking for more than the cap fails even right after a restock.
	later := t0 + (cooldown+1)*int64(time.Second)
	_, err = f.sendAt(f.buyer, core.TxBuyItem, buyPayload(3), later)
	if !errors.Is(err, core.ErrOutOfStock) {
		t.Errorf("over cap: got %v want ErrOutOfStock", err)
	}

	// After the cooldown the shelf refills to cap, then the sale proceeds.
	if _, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), later); err != nil {
		t.Fatalf("post-cooldown buy: %v", err)
	}
	l, _ := f.state.GetListing("arena", "sword")
	if l.Stock != 1 {
		t.Errorf("stock after restock and sale: got %d want 1", l.Stock)
	}
	if l.LastRestockAt != later {
		t.Errorf("restock clock: got %d want %d", l.LastRestockAt, later)
	}
}

// TestGrowingPrice verifies the once-per-call integer-floor price growth.
func TestGrowingPrice(t *testing.T) {
	f := newFixture(t)
	p := core.ListItemPayload{
		GameID:        "arena",
		TemplateID:    "sword",
		Price:         100,
		BuyBackPrice:  20,
		Policy:        core.PolicyGrowingPrice,
		GrowthRateBps: 500,
	}
	if err := f.execAt(f.dev, core.TxListItem, p, 1); err != nil {
		t.Fatal(err)
	}

	if _, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), 2); err != nil {
		t.Fatal(err)
	}
	l, _ := f.state.GetListing("arena", "sword")
	if l.Price != 105 {
		t.Errorf("price after first buy: got %d want 105", l.Price)
	}

	// A multi-unit call still grows the price exactly once, and 105*1.05
	// floors to 110.
	if _, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(3), 3); err != nil {
		t.Fatal(err)
	}
	l, _ = f.state.GetListing("arena", "sword")
	if l.Price != 110 {
		t.Errorf("price after second buy: got %d want 110", l.Price)
	}
}

// TestBuyBackRoundTrip verifies burn, restock, refund, and the reserve
// returning to its pre-sale level.
func TestBuyBackRoundTrip(t *testing.T) {
	f := newFixture(t)
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 5, 60), 1); err != nil {
		t.Fatal(err)
	}

	buyTx, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), 2)
	if err != nil {
		t.Fatal(err)
	}
	instanceID := crypto.Hash([]byte(buyTx.ID + ":item:sword"))
	buyerAfterBuy := f.balance(f.buyer.PubKey())

	_, err = f.sendAt(f.buyer, core.TxBuyBack, core.BuyBackPayload{
		InstanceID: instanceID, GameID: "arena", Amount: 1,
	}, 3)
	if err != nil {
		t.Fatalf("buy-back: %v", err)
	}

	if got := f.balance(f.buyer.PubKey()); got != buyerAfterBuy+20 {
		t.Errorf("refund: got %d want %d", got, buyerAfterBuy+20)
	}
	if got := f.market().TotalBuyBackReserve; got != 0 {
		t.Errorf("reserve after round trip: got %d want 0", got)
	}
	if got := f.balance(core.MarketplaceAccount); got != 0 {
		t.Errorf("escrow after round trip: got %d want 0", got)
	}
	if _, err := f.state.GetInstance(instanceID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("instance should be burned: got %v", err)
	}
	l, _ := f.state.GetListing("arena", "sword")
	if l.Stock != 5 {
		t.Errorf("returned unit should restock the shelf: got %d want 5", l.Stock)
	}
	tmpl, _ := f.state.GetTemplate("sword")
	if tmpl.IssuedSupply != 100 {
		t.Errorf("issued supply after round trip: got %d want 100", tmpl.IssuedSupply)
	}
}

// TestPartialBuyBackKeepsInstance verifies that selling back fewer units
// than the instance holds burns only those units and advertises the
// leftover, so downstream consumers do not drop a still-owned instance.
func TestPartialBuyBackKeepsInstance(t *testing.T) {
	f := newFixture(t)
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 5, 60), 1); err != nil {
		t.Fatal(err)
	}

	buyTx, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(2), 2)
	if err != nil {
		t.Fatal(err)
	}
	instanceID := crypto.Hash([]byte(buyTx.ID + ":item:sword"))
	buyerAfterBuy := f.balance(f.buyer.PubKey())

	var remaining uint64
	f.emitter.Subscribe(events.EventItemBoughtBack, func(ev events.Event) {
		remaining, _ = ev.Data["remaining"].(uint64)
	})

	_, err = f.sendAt(f.buyer, core.TxBuyBack, core.BuyBackPayload{
		InstanceID: instanceID, GameID: "arena", Amount: 1,
	}, 3)
	if err != nil {
		t.Fatalf("partial buy-back: %v", err)
	}

	inst, err := f.state.GetInstance(instanceID)
	if err != nil {
		t.Fatalf("instance should survive a partial buy-back: %v", err)
	}
	if inst.Units != 1 || inst.Owner != f.buyer.PubKey() {
		t.Errorf("instance after partial buy-back: %+v", inst)
	}
	if remaining != 1 {
		t.Errorf("event remaining: got %d want 1", remaining)
	}

	// The refund is the flat buy-back price, and the one returned unit goes
	// back on the shelf.
	if got := f.balance(f.buyer.PubKey()); got != buyerAfterBuy+20 {
		t.Errorf("refund: got %d want %d", got, buyerAfterBuy+20)
	}
	if got := f.market().TotalBuyBackReserve; got != 0 {
		t.Errorf("reserve: got %d want 0", got)
	}
	l, _ := f.state.GetListing("arena", "sword")
	if l.Stock != 4 {
		t.Errorf("stock: got %d want 4", l.Stock)
	}
}

// TestBuyBackRequiresHolder verifies that only the holder can sell back.
func TestBuyBackRequiresHolder(t *testing.T) {
	f := newFixture(t)
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 5, 0), 1); err != nil {
		t.Fatal(err)
	}
	buyTx, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), 2)
	if err != nil {
		t.Fatal(err)
	}
	instanceID := crypto.Hash([]byte(buyTx.ID + ":item:sword"))

	// The dev tries to sell the buyer's instance back.
	_, err = f.sendAt(f.dev, core.TxBuyBack, core.BuyBackPayload{
		InstanceID: instanceID, GameID: "arena", Holder: f.buyer.PubKey(), Amount: 1,
	}, 3)
	if !errors.Is(err, core.ErrBurnDenied) {
		t.Errorf("third-party buy-back: got %v want ErrBurnDenied", err)
	}

	// The failed attempt must leave the reserve untouched.
	if got := f.market().TotalBuyBackReserve; got != 20 {
		t.Errorf("reserve after failed buy-back: got %d want 20", got)
	}
}

// TestReserveNeverExceedsEscrow holds the accounting invariant across a
// mixed sequence of sales and buy-backs.
func TestReserveNeverExceedsEscrow(t *testing.T) {
	f := newFixture(t)
	if err := f.execAt(f.dev, core.TxListItem, finiteListing(100, 20, 10, 0), 1); err != nil {
		t.Fatal(err)
	}

	check := func(step string) {
		t.Helper()
		escrow := f.balance(core.MarketplaceAccount)
		reserve := f.market().TotalBuyBackReserve
		if reserve > escrow {
			t.Fatalf("%s: reserve %d exceeds escrow %d", step, reserve, escrow)
		}
	}

	var instances []string
	for i := 0; i < 3; i++ {
		tx, err := f.sendAt(f.buyer, core.TxBuyItem, buyPayload(1), int64(i+2))
		if err != nil {
			t.Fatal(err)
		}
		instances = append(instances, crypto.Hash([]byte(tx.ID+":item:sword")))
		check("after sale")
	}
	for _, id := range instances[:2] {
		if _, err := f.sendAt(f.buyer, core.TxBuyBack, core.BuyBackPayload{
			InstanceID: id, GameID: "arena", Amount: 1,
		}, 10); err != nil {
			t.Fatal(err)
		}
		check("after buy-back")
	}
	if got := f.market().TotalBuyBackReserve; got != 20 {
		t.Errorf("final reserve: got %d want 20", got)
	}
}
