package blockchain

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	blocksBucket = "blocks"
	lastHashKey  = "LAST"

	genesisCoinbaseData = "The Times 03/Jan/2009 Chancellor on brink of second bailout for banks"
)

// Config holds the mining parameters of a ledger.
type Config struct {
	Difficulty int
	MaxNonce   int64 // zero means unbounded up to math.MaxInt64

	// ValidateImports makes ImportBlock reject blocks whose proof of work
	// does not check out. Off by default: peers are trusted.
	ValidateImports bool
}

func (cfg Config) maxNonce() int64 {
	if cfg.MaxNonce <= 0 {
		return defaultMaxNonce
	}
	return cfg.MaxNonce
}

// Blockchain is the persisted chain of blocks. Blocks are keyed by the hex
// form of their hash; the reserved key LAST holds the hex hash of the tip.
type Blockchain struct {
	db  *bbolt.DB
	cfg Config

	// mu serializes writers so the tip read before mining is still the tip
	// when the mined block is written.
	mu sync.Mutex
}

// OpenDB opens (creating if needed) a bbolt store at path.
func OpenDB(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, wrapError(ErrIO, "open store "+path, err)
	}
	return db, nil
}

// OpenBlockchain opens the ledger stored in db. The store must hold a tip
// pointer, i.e. CreateBlockchain must have run against it before.
func OpenBlockchain(db *bbolt.DB, cfg Config) (*Blockchain, error) {
	if err := validateDifficulty(cfg.Difficulty); err != nil {
		return nil, err
	}

	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(blocksBucket))
		if b == nil || b.Get([]byte(lastHashKey)) == nil {
			return NewError(ErrNotFound, "no existing blockchain found, create one first")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Blockchain{db: db, cfg: cfg}, nil
}

// CreateBlockchain discards any chain held in db and writes a new genesis
// block whose coinbase pays rewardPubKeyHash.
func CreateBlockchain(db *bbolt.DB, rewardPubKeyHash []byte, cfg Config) (*Blockchain, error) {
	if err := validateDifficulty(cfg.Difficulty); err != nil {
		return nil, err
	}

	cbtx, err := NewCoinbaseTX(rewardPubKeyHash, genesisCoinbaseData)
	if err != nil {
		return nil, err
	}
	genesis, err := newBlock([]*Transaction{cbtx}, []byte{}, 0, cfg.Difficulty, cfg.maxNonce())
	if err != nil {
		return nil, fmt.Errorf("mining genesis: %w", err)
	}

	return CreateBlockchainWithGenesis(db, genesis, cfg)
}

// CreateBlockchainWithGenesis discards any chain held in db and starts a new
// one from an already mined genesis block, typically one fetched from a peer.
func CreateBlockchainWithGenesis(db *bbolt.DB, genesis *Block, cfg Config) (*Blockchain, error) {
	if err := validateDifficulty(cfg.Difficulty); err != nil {
		return nil, err
	}
	if !genesis.IsGenesis() || genesis.Height != 0 {
		return nil, NewError(ErrValidation, fmt.Sprintf("block %s is not a genesis block", genesis.HashString()))
	}

	data, err := genesis.Serialize()
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(blocksBucket)) != nil {
			if err := tx.DeleteBucket([]byte(blocksBucket)); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket([]byte(blocksBucket))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(genesis.HashString()), data); err != nil {
			return err
		}
		return b.Put([]byte(lastHashKey), []byte(genesis.HashString()))
	})
	if err != nil {
		return nil, wrapError(ErrIO, "write genesis block", err)
	}

	if err := db.Sync(); err != nil {
		return nil, wrapError(ErrIO, "flush block store", err)
	}

	return &Blockchain{db: db, cfg: cfg}, nil
}

// Difficulty returns the difficulty new blocks are mined at.
func (bc *Blockchain) Difficulty() int {
	return bc.cfg.Difficulty
}

// tip reads the hex hash stored under LAST.
func tip(tx *bbolt.Tx) ([]byte, error) {
	b := tx.Bucket([]byte(blocksBucket))
	if b == nil {
		return nil, NewError(ErrNotFound, "blocks bucket missing")
	}
	last := b.Get([]byte(lastHashKey))
	if last == nil {
		return nil, NewError(ErrNotFound, "tip pointer missing")
	}
	return append([]byte(nil), last...), nil
}

// readBlock loads the block stored under a hex key.
func readBlock(tx *bbolt.Tx, key []byte) (*Block, error) {
	b := tx.Bucket([]byte(blocksBucket))
	if b == nil {
		return nil, NewError(ErrNotFound, "blocks bucket missing")
	}
	data := b.Get(key)
	if data == nil {
		return nil, NewError(ErrNotFound, fmt.Sprintf("block %s not found", key))
	}
	return DeserializeBlock(data)
}

// LastBlock returns the tip block.
func (bc *Blockchain) LastBlock() (*Block, error) {
	var block *Block
	err := bc.db.View(func(tx *bbolt.Tx) error {
		last, err := tip(tx)
		if err != nil {
			return err
		}
		block, err = readBlock(tx, last)
		return err
	})
	return block, err
}

// GetBestHeight returns the height of the tip block.
func (bc *Blockchain) GetBestHeight() (int, error) {
	block, err := bc.LastBlock()
	if err != nil {
		return 0, err
	}
	return block.Height, nil
}

// AddBlock mines a block with transactions on top of the current tip and
// persists it. The block is written before the tip pointer moves; both
// writes share one bbolt transaction.
func (bc *Blockchain) AddBlock(transactions []*Transaction) (*Block, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	last, err := bc.LastBlock()
	if err != nil {
		return nil, err
	}

	newBlock, err := newBlock(transactions, last.Hash, last.Height+1, bc.cfg.Difficulty, bc.cfg.maxNonce())
	if err != nil {
		return nil, fmt.Errorf("mining block %d: %w", last.Height+1, err)
	}

	data, err := newBlock.Serialize()
	if err != nil {
		return nil, err
	}

	err = bc.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(blocksBucket))
		if err := b.Put([]byte(newBlock.HashString()), data); err != nil {
			return err
		}
		return b.Put([]byte(lastHashKey), []byte(newBlock.HashString()))
	})
	if err != nil {
		return nil, wrapError(ErrIO, "write block", err)
	}

	return newBlock, nil
}

// ImportBlock stores a block received from a peer. A block already present
// is ignored. The tip moves only when the block is higher than the current
// tip, so blocks arriving newest first still leave the newest as tip.
// It reports whether the block was new.
func (bc *Blockchain) ImportBlock(block *Block) (bool, error) {
	if bc.cfg.ValidateImports && !NewProofOfWork(block).Validate() {
		return false, NewError(ErrValidation, fmt.Sprintf("block %s fails proof of work", block.HashString()))
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	data, err := block.Serialize()
	if err != nil {
		return false, err
	}

	var added bool
	err = bc.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(blocksBucket))
		if b == nil {
			return NewError(ErrNotFound, "blocks bucket missing")
		}

		key := []byte(block.HashString())
		if b.Get(key) != nil {
			return nil
		}

		if err := b.Put(key, data); err != nil {
			return err
		}
		added = true

		last, err := tip(tx)
		if err != nil {
			return err
		}
		lastBlock, err := readBlock(tx, last)
		if err != nil {
			return err
		}

		if block.Height > lastBlock.Height {
			return b.Put([]byte(lastHashKey), key)
		}
		return nil
	})
	if err != nil {
		var lerr *Error
		if errors.As(err, &lerr) {
			return false, err
		}
		return false, wrapError(ErrIO, "import block", err)
	}

	return added, nil
}

// GetBlock returns the block with the given hash.
func (bc *Blockchain) GetBlock(hash []byte) (*Block, error) {
	var block *Block
	err := bc.db.View(func(tx *bbolt.Tx) error {
		var err error
		block, err = readBlock(tx, []byte(hex.EncodeToString(hash)))
		return err
	})
	return block, err
}

// GetBlockHashes returns the hashes of the chain from tip to genesis.
func (bc *Blockchain) GetBlockHashes() [][]byte {
	var hashes [][]byte

	bci := bc.Iterator()
	for block := bci.Next(); block != nil; block = bci.Next() {
		hashes = append(hashes, block.Hash)
	}

	return hashes
}

// FindTransaction scans the chain from tip to genesis for the transaction id.
func (bc *Blockchain) FindTransaction(id []byte) (Transaction, error) {
	bci := bc.Iterator()
	for block := bci.Next(); block != nil; block = bci.Next() {
		for _, tx := range block.Transactions {
			if bytes.Equal(tx.ID, id) {
				return *tx, nil
			}
		}
	}

	return Transaction{}, NewError(ErrNotFound, fmt.Sprintf("transaction %x not found", id))
}

// FindUTXO computes the unspent outputs of every transaction by scanning the
// full chain. Transactions with no unspent output are left out.
func (bc *Blockchain) FindUTXO() map[string]TXOutputs {
	spentTXOs := make(map[string]map[int]bool)

	bci := bc.Iterator()
	for block := bci.Next(); block != nil; block = bci.Next() {
		for _, tx := range block.Transactions {
			if tx.IsCoinbase() {
				continue
			}
			for _, in := range tx.Vin {
				inTxID := hex.EncodeToString(in.Txid)
				if spentTXOs[inTxID] == nil {
					spentTXOs[inTxID] = make(map[int]bool)
				}
				spentTXOs[inTxID][in.Vout] = true
			}
		}
	}

	utxo := make(map[string]TXOutputs)

	bci = bc.Iterator()
	for block := bci.Next(); block != nil; block = bci.Next() {
		for _, tx := range block.Transactions {
			txID := tx.IDHex()
			outs := TXOutputs{Outputs: make(map[int]TXOutput)}

			for outIdx, out := range tx.Vout {
				if spentTXOs[txID][outIdx] {
					continue
				}
				outs.Outputs[outIdx] = out
			}

			if len(outs.Outputs) > 0 {
				utxo[txID] = outs
			}
		}
	}

	return utxo
}

// previousTransactions collects the transactions referenced by the inputs of tx.
func (bc *Blockchain) previousTransactions(tx *Transaction) (map[string]Transaction, error) {
	prevTXs := make(map[string]Transaction)
	for _, vin := range tx.Vin {
		prevTX, err := bc.FindTransaction(vin.Txid)
		if err != nil {
			return nil, err
		}
		prevTXs[prevTX.IDHex()] = prevTX
	}
	return prevTXs, nil
}

// SignTransaction signs the inputs of tx with privKey.
func (bc *Blockchain) SignTransaction(tx *Transaction, privKey *ecdsa.PrivateKey) error {
	if tx.IsCoinbase() {
		return nil
	}

	prevTXs, err := bc.previousTransactions(tx)
	if err != nil {
		return NewError(ErrValidation, "previous transaction not found: "+err.Error())
	}

	return tx.Sign(privKey, prevTXs)
}

// VerifyTransaction checks the input signatures of tx against the chain.
func (bc *Blockchain) VerifyTransaction(tx *Transaction) bool {
	if tx.IsCoinbase() {
		return true
	}

	prevTXs, err := bc.previousTransactions(tx)
	if err != nil {
		return false
	}

	return tx.Verify(prevTXs)
}
