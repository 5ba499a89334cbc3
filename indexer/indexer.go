// Package indexer maintains secondary indexes over committed blocks so
// storefronts can query items by owner or sales by game without scanning
// full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/storage"
)

const (
	prefixOwnerItems = "idx:owner:item:"
	prefixGameSales  = "idx:game:sale:"
)

// Indexer subscribes to marketplace events and updates lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventItemSold, idx.onItemSold)
	emitter.Subscribe(events.EventItemBoughtBack, idx.onItemBoughtBack)
	return idx
}

// GetItemsByOwner returns all instance IDs held by the given pubkey.
func (idx *Indexer) GetItemsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerItems + owner)
}

// GetSalesByGame returns the tx IDs of all sales recorded for a game.
func (idx *Indexer) GetSalesByGame(gameID string) ([]string, error) {
	return idx.getList(prefixGameSales + gameID)
}

// ---- event handlers ----

func (idx *Indexer) onItemSold(ev events.Event) {
	receiver, _ := ev.Data["receiver"].(string)
	instanceID, _ := ev.Data["instance_id"].(string)
	gameID, _ := ev.Data["game_id"].(string)
	if receiver == "" || instanceID == "" {
		return
	}
	_ = idx.addToList(prefixOwnerItems+receiver, instanceID)
	if gameID != "" {
		_ = idx.addToList(prefixGameSales+gameID, ev.TxID)
	}
}

func (idx *Indexer) onItemBoughtBack(ev events.Event) {
	holder, _ := ev.Data["holder"].(string)
	instanceID, _ := ev.Data["instance_id"].(string)
	if holder == "" || instanceID == "" {
		return
	}
	// A partial buy-back leaves the instance alive with fewer units; it
	// stays in the owner's list until the last unit is burned.
	if remaining, _ := ev.Data["remaining"].(uint64); remaining > 0 {
		return
	}
	_ = idx.removeFromList(prefixOwnerItems+holder, instanceID)
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, _ := idx.getList(key)
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
