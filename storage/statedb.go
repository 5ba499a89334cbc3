package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below. ComputeRoot()
// iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixTemplate = registerPrefix("tmpl:")
	prefixInstance = registerPrefix("item:")
	prefixGame     = registerPrefix("game:")
	prefixListing  = registerPrefix("list:")
	prefixMarket   = registerPrefix("mkt:")
	prefixIndex    = registerPrefix("lidx:")
)

// Singleton and index keys under their prefixes.
const (
	keyMarketState = "state"
	keyListingSeq  = "seq"
	subGameFwd     = "game:" // lidx:game:<gameID> → template IDs
	subTemplateRev = "tmpl:" // lidx:tmpl:<templateID> → game IDs
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Accounts ----

// GetAccount returns the account at address, or a zero-value account if it
// has never been written. Every address implicitly has a balance.
func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Catalog ----

func (s *StateDB) GetTemplate(id string) (*core.ItemTemplate, error) {
	var t core.ItemTemplate
	if err := s.getJSON(prefixTemplate+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTemplate(t *core.ItemTemplate) error {
	return s.setJSON(prefixTemplate+t.ID, t)
}

func (s *StateDB) GetInstance(id string) (*core.ItemInstance, error) {
	var inst core.ItemInstance
	if err := s.getJSON(prefixInstance+id, &inst); err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *StateDB) SetInstance(inst *core.ItemInstance) error {
	return s.setJSON(prefixInstance+inst.ID, inst)
}

func (s *StateDB) DeleteInstance(id string) error {
	s.del(prefixInstance + id)
	return nil
}

// ---- Publisher directory ----

func (s *StateDB) GetGame(id string) (*core.Game, error) {
	var g core.Game
	if err := s.getJSON(prefixGame+id, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *StateDB) SetGame(g *core.Game) error {
	return s.setJSON(prefixGame+g.ID, g)
}

// ---- Listings ----

func (s *StateDB) GetListing(gameID, templateID string) (*core.Listing, error) {
	var l core.Listing
	if err := s.getJSON(prefixListing+core.ListingKey(gameID, templateID), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *StateDB) SetListing(l *core.Listing) error {
	return s.setJSON(prefixListing+core.ListingKey(l.GameID, l.TemplateID), l)
}

// ---- Marketplace scalars ----

// GetMarket returns the marketplace state, or a zero-value MarketState for
// a chain whose genesis has not seeded one (no admin, zero fee).
func (s *StateDB) GetMarket() (*core.MarketState, error) {
	var m core.MarketState
	err := s.getJSON(prefixMarket+keyMarketState, &m)
	if errors.Is(err, core.ErrNotFound) {
		return &core.MarketState{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetMarket(m *core.MarketState) error {
	return s.setJSON(prefixMarket+keyMarketState, m)
}

// ---- Enumeration indexes ----

// getList reads a JSON string list, treating a missing key as empty.
func (s *StateDB) getList(key string) ([]string, error) {
	var ids []string
	err := s.getJSON(key, &ids)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *StateDB) GetListingSeq() ([]string, error) {
	return s.getList(prefixIndex + keyListingSeq)
}

func (s *StateDB) SetListingSeq(keys []string) error {
	return s.setJSON(prefixIndex+keyListingSeq, keys)
}

func (s *StateDB) GetGameTemplates(gameID string) ([]string, error) {
	return s.getList(prefixIndex + subGameFwd + gameID)
}

func (s *StateDB) SetGameTemplates(gameID string, templateIDs []string) error {
	return s.setJSON(prefixIndex+subGameFwd+gameID, templateIDs)
}

func (s *StateDB) GetTemplateGames(templateID string) ([]string, error) {
	return s.getList(prefixIndex + subTemplateRev + templateID)
}

func (s *StateDB) SetTemplateGames(templateID string, gameIDs []string) error {
	return s.setJSON(prefixIndex+subTemplateRev+templateID, gameIDs)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that later writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known
// state prefixes) with the current write buffer, then hashes the sorted
// key-value pairs using length-prefix encoding. It does not flush or
// modify state, so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Apply the uncommitted write buffer, then drop deleted keys.
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// batch and then clears it. Call ComputeRoot() before signing the block,
// then Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
