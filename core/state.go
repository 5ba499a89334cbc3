package core

import "strings"

// MarketplaceAccount is the reserved escrow address that holds the
// segregated buy-back reserve. It has no key pair; only the trade engine
// moves funds in and out of it.
const MarketplaceAccount = "sys:marketplace"

// Account holds a participant's token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key (or a reserved sys: address).
type Account struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// FeatureSet is the small fixed-size attribute payload a listing carries
// and forwards unchanged to the catalog on mint.
type FeatureSet struct {
	Feature1      uint8 `json:"feature1"`
	Feature2      uint8 `json:"feature2"`
	Feature3      uint8 `json:"feature3"`
	Feature4      uint8 `json:"feature4"`
	EquipmentSlot uint8 `json:"equipment_slot"`
}

// ItemTemplate defines a class of sellable catalog items. IssuedSupply
// counts units currently in circulation: the initial print run plus mints,
// minus burns. A template with zero issued supply is treated as unknown by
// the listing registry.
type ItemTemplate struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Creator       string          `json:"creator"` // pubkey hex of registrant
	IssuedSupply  uint64          `json:"issued_supply"`
	ApprovedGames map[string]bool `json:"approved_games"` // game ID → may sell
}

// ItemInstance is a minted stack of units of a template, owned by one
// account and burnable on buy-back.
type ItemInstance struct {
	ID         string     `json:"id"`
	TemplateID string     `json:"template_id"`
	Owner      string     `json:"owner"` // pubkey hex
	Units      uint64     `json:"units"`
	Features   FeatureSet `json:"features"`
	MintedAt   int64      `json:"minted_at"`
}

// Game is a publisher-directory entry: who develops (and collects the
// per-sale fee for) a game, and whether the marketplace admin has
// whitelisted it for listing.
type Game struct {
	ID           string `json:"id"`
	Developer    string `json:"developer"` // pubkey hex, fee recipient
	DevFee       uint64 `json:"dev_fee"`   // per-sale developer fee
	Whitelisted  bool   `json:"whitelisted"`
	RegisteredAt int64  `json:"registered_at"`
}

// PricingPolicy selects how a listing's price and stock evolve.
type PricingPolicy string

const (
	// PolicyFiniteStock sells from a bounded stock that restocks to its
	// cap once per cooldown.
	PolicyFiniteStock PricingPolicy = "finite_stock"
	// PolicyGrowingPrice sells unlimited stock; each sale multiplies the
	// price by 1 + GrowthRateBps/10000 (integer floor).
	PolicyGrowingPrice PricingPolicy = "growing_price"
)

// Listing is a sellable (game, template) pair. Listings are never deleted;
// re-listing the same pair updates in place and keeps its Index.
type Listing struct {
	GameID       string        `json:"game_id"`
	TemplateID   string        `json:"template_id"`
	Price        uint64        `json:"price"`
	BuyBackPrice uint64        `json:"buy_back_price"`
	Policy       PricingPolicy `json:"policy"`

	// finite_stock state
	Stock               uint64 `json:"stock"`
	StockCap            uint64 `json:"stock_cap"`
	LastRestockAt       int64  `json:"last_restock_at"` // block timestamp, ns
	RestockCooldownSecs int64  `json:"restock_cooldown_secs"`

	// growing_price state
	GrowthRateBps uint64 `json:"growth_rate_bps"`

	Features  FeatureSet `json:"features"`
	Index     uint64     `json:"index"` // stable position in the global sequence
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// ListingKey builds the state key suffix for a (game, template) pair.
func ListingKey(gameID, templateID string) string {
	return gameID + "/" + templateID
}

// SplitListingKey is the inverse of ListingKey. Game IDs may not contain
// a slash, so the first separator is authoritative.
func SplitListingKey(key string) (gameID, templateID string, ok bool) {
	i := strings.IndexByte(key, '/')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// MarketState holds the process-wide marketplace scalars.
// TotalBuyBackReserve is a running total maintained by the trade engine
// (incremented per sale, decremented per buy-back), never recomputed by
// summing listings.
type MarketState struct {
	Admin                string `json:"admin"` // pubkey hex
	Vault                string `json:"vault"` // receives price - buyBackPrice - devFee per sale
	ListingFee           uint64 `json:"listing_fee"`
	TotalBuyBackReserve  uint64 `json:"total_buy_back_reserve"`
	CollectedListingFees uint64 `json:"collected_listing_fees"`
	ListingCount         uint64 `json:"listing_count"`
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Catalog
	GetTemplate(id string) (*ItemTemplate, error)
	SetTemplate(t *ItemTemplate) error
	GetInstance(id string) (*ItemInstance, error)
	SetInstance(inst *ItemInstance) error
	DeleteInstance(id string) error

	// Publisher directory
	GetGame(id string) (*Game, error)
	SetGame(g *Game) error

	// Listings
	GetListing(gameID, templateID string) (*Listing, error)
	SetListing(l *Listing) error

	// Marketplace scalars
	GetMarket() (*MarketState, error)
	SetMarket(m *MarketState) error

	// Enumeration: global listing sequence plus forward (game → templates)
	// and reverse (template → games) indexes.
	GetListingSeq() ([]string, error)
	SetListingSeq(keys []string) error
	GetGameTemplates(gameID string) ([]string, error)
	SetGameTemplates(gameID string, templateIDs []string) error
	GetTemplateGames(templateID string) ([]string, error)
	SetTemplateGames(templateID string, gameIDs []string) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current
	// write buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the header.
	Commit() error
}
