package indexer

import (
	"testing"

	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/internal/testutil"
)

// TestOwnerIndexFollowsTrade verifies that sales add to the owner index
// and buy-backs remove from it.
func TestOwnerIndexFollowsTrade(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type: events.EventItemSold,
		TxID: "tx1",
		Data: map[string]any{
			"receiver":    "alice",
			"instance_id": "inst1",
			"game_id":     "arena",
		},
	})
	emitter.Emit(events.Event{
		Type: events.EventItemSold,
		TxID: "tx2",
		Data: map[string]any{
			"receiver":    "alice",
			"instance_id": "inst2",
			"game_id":     "arena",
		},
	})

	items, err := idx.GetItemsByOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items: got %v", items)
	}
	sales, _ := idx.GetSalesByGame("arena")
	if len(sales) != 2 || sales[0] != "tx1" {
		t.Errorf("sales: got %v", sales)
	}

	emitter.Emit(events.Event{
		Type: events.EventItemBoughtBack,
		TxID: "tx3",
		Data: map[string]any{
			"holder":      "alice",
			"instance_id": "inst1",
		},
	})
	items, _ = idx.GetItemsByOwner("alice")
	if len(items) != 1 || items[0] != "inst2" {
		t.Errorf("items after buy-back: got %v", items)
	}
}

// TestPartialBuyBackKeepsOwnerEntry verifies that an instance stays in
// the owner index while it still has units left, and drops out only when
// the last unit is bought back.
func TestPartialBuyBackKeepsOwnerEntry(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{
		Type: events.EventItemSold,
		TxID: "tx1",
		Data: map[string]any{
			"receiver":    "alice",
			"instance_id": "inst1",
			"game_id":     "arena",
		},
	})

	emitter.Emit(events.Event{
		Type: events.EventItemBoughtBack,
		TxID: "tx2",
		Data: map[string]any{
			"holder":      "alice",
			"instance_id": "inst1",
			"remaining":   uint64(2),
		},
	})
	items, err := idx.GetItemsByOwner("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0] != "inst1" {
		t.Errorf("items after partial buy-back: got %v", items)
	}

	emitter.Emit(events.Event{
		Type: events.EventItemBoughtBack,
		TxID: "tx3",
		Data: map[string]any{
			"holder":      "alice",
			"instance_id": "inst1",
			"remaining":   uint64(0),
		},
	})
	items, _ = idx.GetItemsByOwner("alice")
	if len(items) != 0 {
		t.Errorf("items after final buy-back: got %v", items)
	}
}

// TestUnknownOwnerIsEmpty verifies a missing index reads as an empty list.
func TestUnknownOwnerIsEmpty(t *testing.T) {
	idx := New(testutil.NewMemDB(), events.NewEmitter())
	items, err := idx.GetItemsByOwner("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("items: got %v", items)
	}
}

// TestMalformedEventIgnored verifies events without the expected fields do
// not corrupt the index.
func TestMalformedEventIgnored(t *testing.T) {
	db := testutil.NewMemDB()
	emitter := events.NewEmitter()
	idx := New(db, emitter)

	emitter.Emit(events.Event{Type: events.EventItemSold, Data: map[string]any{}})
	items, _ := idx.GetItemsByOwner("")
	if len(items) != 0 {
		t.Errorf("malformed event indexed: %v", items)
	}
}
