// Package consensus implements single-authority block sealing. One
// configured sealer key produces every block, which serialises all
// marketplace mutations into a single deterministic order.
package consensus

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/team3d/merchantchain/config"
	"github.com/team3d/merchantchain/core"
	"github.com/team3d/merchantchain/crypto"
	"github.com/team3d/merchantchain/events"
	"github.com/team3d/merchantchain/vm"
)

// Sealer is the single-authority block production engine.
type Sealer struct {
	cfg       *config.Config
	bc        *core.Blockchain
	state     core.State
	mempool   *core.Mempool
	exec      *vm.Executor
	emitter   *events.Emitter
	privKey   crypto.PrivateKey
	pubKey    crypto.PublicKey
	authority string // pubkey hex allowed to seal; defaults to the local key
}

// New creates a Sealer for the local node identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
) *Sealer {
	pub := privKey.Public()
	authority := cfg.Authority
	if authority == "" {
		authority = pub.Hex()
	}
	return &Sealer{
		cfg:       cfg,
		bc:        bc,
		state:     state,
		mempool:   mempool,
		exec:      exec,
		emitter:   emitter,
		privKey:   privKey,
		pubKey:    pub,
		authority: authority,
	}
}

// IsAuthority reports whether this node holds the sealing key.
func (s *Sealer) IsAuthority() bool {
	return s.pubKey.Hex() == s.authority
}

// SealBlock builds, executes, signs and commits the next block.
func (s *Sealer) SealBlock() (*core.Block, error) {
	if !s.IsAuthority() {
		return nil, errors.New("not the configured sealing authority")
	}

	limit := s.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = 500
	}
	txs := s.mempool.Pending(limit)

	tip := s.bc.Tip()
	var prevHash string
	var nextHeight int64
	if tip == nil {
		prevHash = config.GenesisHash
		nextHeight = 1
	} else {
		prevHash = tip.Hash
		nextHeight = tip.Header.Height + 1
	}

	snapID, err := s.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	block := core.NewBlock(nextHeight, prevHash, s.pubKey.Hex(), nil)

	// Apply transactions one at a time. A failing tx (out of stock, bad
	// nonce, insufficient balance) reverts only its own writes inside the
	// executor; it is dropped from the block and evicted from the pool so
	// one rejected purchase cannot stall everyone else's transactions.
	included := make([]*core.Transaction, 0, len(txs))
	var dropped []string
	for _, tx := range txs {
		if err := s.exec.ExecuteTx(block, tx); err != nil {
			log.Printf("[consensus] dropping tx %s: %v", tx.ID, err)
			dropped = append(dropped, tx.ID)
			continue
		}
		included = append(included, tx)
	}
	if len(dropped) > 0 {
		s.mempool.Remove(dropped)
	}
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = s.state.ComputeRoot()
	block.Sign(s.privKey)

	if err := s.bc.AddBlock(block); err != nil {
		// Discard the executed-but-unproduced block's writes; the included
		// txs stay pooled for the next attempt.
		if revertErr := s.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("add block: %w (revert: %v)", err, revertErr)
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := s.state.Commit(); err != nil {
		log.Fatalf("[consensus] FATAL: block %d stored but state commit failed: %v",
			block.Header.Height, err)
	}

	// Emit after Sign() so block.Hash is set correctly.
	s.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})

	txIDs := make([]string, len(included))
	for i, tx := range included {
		txIDs[i] = tx.ID
	}
	s.mempool.Remove(txIDs)

	return block, nil
}

// ValidateBlock checks that block was sealed by the configured authority
// and links onto the current tip.
func (s *Sealer) ValidateBlock(block *core.Block) error {
	if block.Header.Sealer != s.authority {
		return fmt.Errorf("wrong sealer: got %s want %s", block.Header.Sealer, s.authority)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Sealer)
	if err != nil {
		return fmt.Errorf("invalid sealer pubkey: %w", err)
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}

	tip := s.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
	} else {
		if block.Header.PrevHash != tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
		}
		if block.Header.Height != tip.Header.Height+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
		}
	}
	return nil
}

// Run starts the sealing loop with the given interval. It blocks until
// done is closed. Empty mempools still produce blocks so restock clocks
// keep advancing.
func (s *Sealer) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !s.IsAuthority() {
				continue
			}
			if _, err := s.SealBlock(); err != nil {
				log.Printf("[consensus] seal block error: %v", err)
			}
		}
	}
}
