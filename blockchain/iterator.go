package blockchain

import (
	"encoding/hex"

	"go.etcd.io/bbolt"
)

// BlockchainIterator walks the chain from the tip it was created at back to
// genesis.
type BlockchainIterator struct {
	currentHash []byte // hex key of the next block, nil once exhausted
	db          *bbolt.DB
}

// Iterator returns an iterator positioned at the current tip.
func (bc *Blockchain) Iterator() *BlockchainIterator {
	var current []byte
	_ = bc.db.View(func(tx *bbolt.Tx) error {
		last, err := tip(tx)
		if err != nil {
			return err
		}
		current = last
		return nil
	})

	return &BlockchainIterator{currentHash: current, db: bc.db}
}

// Next returns the next block, newest first. It returns nil after genesis,
// and also when a block is missing from the store or cannot be decoded.
func (i *BlockchainIterator) Next() *Block {
	if len(i.currentHash) == 0 {
		return nil
	}

	var block *Block
	err := i.db.View(func(tx *bbolt.Tx) error {
		var err error
		block, err = readBlock(tx, i.currentHash)
		return err
	})
	if err != nil {
		i.currentHash = nil
		return nil
	}

	if block.IsGenesis() {
		i.currentHash = nil
	} else {
		i.currentHash = []byte(hex.EncodeToString(block.PrevBlockHash))
	}

	return block
}
