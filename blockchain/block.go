package blockchain

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"time"
)

// Block is the basic unit of the chain.
type Block struct {
	Timestamp     int64 // milliseconds since epoch
	Transactions  []*Transaction
	PrevBlockHash []byte // empty for the genesis block
	Hash          []byte
	Height        int
	Nonce         int64
	Difficulty    int // leading zero hex digits required of Hash
}

// NewBlock mines a block holding transactions on top of prevBlockHash.
func NewBlock(transactions []*Transaction, prevBlockHash []byte, height, difficulty int) (*Block, error) {
	return newBlock(transactions, prevBlockHash, height, difficulty, defaultMaxNonce)
}

func newBlock(transactions []*Transaction, prevBlockHash []byte, height, difficulty int, maxNonce int64) (*Block, error) {
	if err := validateDifficulty(difficulty); err != nil {
		return nil, err
	}

	block := &Block{
		Timestamp:     time.Now().UnixMilli(),
		Transactions:  transactions,
		PrevBlockHash: prevBlockHash,
		Hash:          []byte{},
		Height:        height,
		Difficulty:    difficulty,
	}

	pow := NewProofOfWork(block)
	pow.MaxNonce = maxNonce

	nonce, hash, err := pow.Run()
	if err != nil {
		return nil, err
	}

	block.Hash = hash
	block.Nonce = nonce

	return block, nil
}

// NewGenesisBlock mines the first block of a chain around its coinbase.
func NewGenesisBlock(coinbase *Transaction, difficulty int) (*Block, error) {
	return NewBlock([]*Transaction{coinbase}, []byte{}, 0, difficulty)
}

// HashString returns the hex form of the block hash, used as store key.
func (b *Block) HashString() string {
	return hex.EncodeToString(b.Hash)
}

// IsGenesis reports whether the block has no predecessor.
func (b *Block) IsGenesis() bool {
	return len(b.PrevBlockHash) == 0
}

// HashTransactions returns the merkle root of the serialized transactions.
func (b *Block) HashTransactions() ([]byte, error) {
	txs := make([][]byte, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		data, err := tx.Serialize()
		if err != nil {
			return nil, err
		}
		txs = append(txs, data)
	}

	return NewMerkleTree(txs).RootNode.Data, nil
}

// Serialize encodes the block with gob.
func (b *Block) Serialize() ([]byte, error) {
	var result bytes.Buffer
	if err := gob.NewEncoder(&result).Encode(b); err != nil {
		return nil, wrapError(ErrSerialization, "encode block", err)
	}
	return result.Bytes(), nil
}

// DeserializeBlock decodes a block produced by Serialize.
func DeserializeBlock(data []byte) (*Block, error) {
	var block Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&block); err != nil {
		return nil, wrapError(ErrSerialization, "decode block", err)
	}
	return &block, nil
}
