package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/team3d/merchantchain/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	// token ledger
	TxTransfer TxType = "transfer"

	// catalog
	TxRegisterTemplate TxType = "register_template"
	TxApproveGame      TxType = "approve_game"

	// publisher directory
	TxRegisterGame TxType = "register_game"
	TxSetDevFee    TxType = "set_dev_fee"

	// marketplace
	TxListItem       TxType = "list_item"
	TxBuyItem        TxType = "buy_item"
	TxBuyBack        TxType = "buy_back"
	TxSetListingFee  TxType = "set_listing_fee"
	TxSetWhitelist   TxType = "set_whitelist"
	TxWithdrawProfit TxType = "withdraw_profit"
)

// Transaction is the atomic unit of work on the ledger.
// From holds the sender's full hex-encoded ed25519 public key.
// Signature covers all fields except Signature itself; ChainID is signed
// so a transaction cannot be replayed on another network.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves reserve-currency tokens between accounts.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// RegisterTemplatePayload creates a catalog template with its initial
// print run. InitialSupply must be positive: a template with zero issued
// supply cannot be listed.
type RegisterTemplatePayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	InitialSupply uint64 `json:"initial_supply"`
}

// ApproveGamePayload grants or revokes a game's right to sell a template.
// Only the template creator may change approvals.
type ApproveGamePayload struct {
	TemplateID string `json:"template_id"`
	GameID     string `json:"game_id"`
	Approved   bool   `json:"approved"`
}

// RegisterGamePayload creates a publisher-directory entry. The sender
// becomes the game's developer and fee recipient.
type RegisterGamePayload struct {
	GameID string `json:"game_id"`
	DevFee uint64 `json:"dev_fee"`
}

// SetDevFeePayload updates a game's per-sale developer fee.
type SetDevFeePayload struct {
	GameID string `json:"game_id"`
	Fee    uint64 `json:"fee"`
}

// ListItemPayload creates or updates a (game, template) listing.
type ListItemPayload struct {
	GameID              string        `json:"game_id"`
	TemplateID          string        `json:"template_id"`
	Price               uint64        `json:"price"`
	BuyBackPrice        uint64        `json:"buy_back_price"`
	Policy              PricingPolicy `json:"policy"`
	StockCap            uint64        `json:"stock_cap"`
	RestockCooldownSecs int64         `json:"restock_cooldown_secs"`
	GrowthRateBps       uint64        `json:"growth_rate_bps"`
	Features            FeatureSet    `json:"features"`
}

// BuyItemPayload purchases units of a listing. Receiver defaults to the
// sender when empty.
type BuyItemPayload struct {
	GameID     string `json:"game_id"`
	TemplateID string `json:"template_id"`
	Receiver   string `json:"receiver"`
	Amount     uint64 `json:"amount"`
}

// BuyBackPayload sells a minted instance back at the listing's guaranteed
// buy-back price. Holder defaults to the sender when empty.
type BuyBackPayload struct {
	InstanceID string `json:"instance_id"`
	GameID     string `json:"game_id"`
	Holder     string `json:"holder"`
	Amount     uint64 `json:"amount"`
}

// SetListingFeePayload updates the global listing fee (admin only).
type SetListingFeePayload struct {
	Fee uint64 `json:"fee"`
}

// SetWhitelistPayload approves or bans a game from the marketplace
// (admin only).
type SetWhitelistPayload struct {
	GameID   string `json:"game_id"`
	Approved bool   `json:"approved"`
}

// WithdrawProfitPayload withdraws everything above the buy-back reserve
// from the marketplace escrow (admin only).
type WithdrawProfitPayload struct{}
