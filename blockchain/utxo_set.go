package blockchain

import (
	"encoding/hex"
	"sync"

	"go.etcd.io/bbolt"
)

const utxoBucket = "chainstate"

// UTXOSet indexes the unspent outputs of the chain in a store of its own,
// keyed by the hex id of the transaction holding them. It is a cache: Reindex
// rebuilds it from the chain at any time.
//
// mu serializes the writers of the index. A rebuild must not interleave with
// a block being mined and applied, or it would store a scan of the chain
// taken before that block.
type UTXOSet struct {
	Blockchain *Blockchain
	db         *bbolt.DB
	mu         sync.Mutex
}

// NewUTXOSet returns the index over bc persisted in db.
func NewUTXOSet(bc *Blockchain, db *bbolt.DB) *UTXOSet {
	return &UTXOSet{Blockchain: bc, db: db}
}

// FindSpendableOutputs selects unspent outputs locked to pubkeyHash until
// their sum reaches amount. It returns the accumulated value and the chosen
// output indexes per hex transaction id. The accumulated value is below
// amount only when all outputs of the key together are below it.
func (u *UTXOSet) FindSpendableOutputs(pubkeyHash []byte, amount int) (int, map[string][]int, error) {
	unspentOutputs := make(map[string][]int)
	accumulated := 0

	err := u.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(utxoBucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()

	Work:
		for k, v := c.First(); k != nil; k, v = c.Next() {
			txID := string(k)
			outs, err := DeserializeOutputs(v)
			if err != nil {
				return err
			}

			for _, outIdx := range outs.Indexes() {
				out := outs.Outputs[outIdx]
				if out.IsLockedWithKey(pubkeyHash) {
					accumulated += out.Value
					unspentOutputs[txID] = append(unspentOutputs[txID], outIdx)

					if accumulated >= amount {
						break Work
					}
				}
			}
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return accumulated, unspentOutputs, nil
}

// FindUTXO returns every unspent output locked to pubkeyHash.
func (u *UTXOSet) FindUTXO(pubkeyHash []byte) ([]TXOutput, error) {
	var UTXOs []TXOutput

	err := u.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(utxoBucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			outs, err := DeserializeOutputs(v)
			if err != nil {
				return err
			}
			for _, idx := range outs.Indexes() {
				if out := outs.Outputs[idx]; out.IsLockedWithKey(pubkeyHash) {
					UTXOs = append(UTXOs, out)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return UTXOs, nil
}

// Balance sums the unspent outputs locked to pubkeyHash.
func (u *UTXOSet) Balance(pubkeyHash []byte) (int, error) {
	utxos, err := u.FindUTXO(pubkeyHash)
	if err != nil {
		return 0, err
	}

	balance := 0
	for _, out := range utxos {
		balance += out.Value
	}
	return balance, nil
}

// CountTransactions returns the number of transactions with at least one
// unspent output.
func (u *UTXOSet) CountTransactions() (int, error) {
	counter := 0

	err := u.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(utxoBucket))
		if b == nil {
			return nil
		}
		counter = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, wrapError(ErrIO, "count utxo entries", err)
	}

	return counter, nil
}

// Snapshot returns the whole index keyed by hex transaction id.
func (u *UTXOSet) Snapshot() (map[string]TXOutputs, error) {
	snapshot := make(map[string]TXOutputs)

	err := u.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(utxoBucket))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			outs, err := DeserializeOutputs(v)
			if err != nil {
				return err
			}
			snapshot[string(k)] = outs
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// Reindex wipes the index and rebuilds it from a full scan of the chain.
func (u *UTXOSet) Reindex() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	utxos := u.Blockchain.FindUTXO()

	err := u.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(utxoBucket)) != nil {
			if err := tx.DeleteBucket([]byte(utxoBucket)); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket([]byte(utxoBucket))
		if err != nil {
			return err
		}

		for txID, outs := range utxos {
			data, err := outs.Serialize()
			if err != nil {
				return err
			}
			if err := b.Put([]byte(txID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapError(ErrIO, "reindex utxo set", err)
	}

	return nil
}

// Update applies a block appended on top of the indexed chain: the outputs
// its inputs spend are removed and its own outputs are added.
func (u *UTXOSet) Update(block *Block) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.update(block)
}

func (u *UTXOSet) update(block *Block) error {
	err := u.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(utxoBucket))
		if err != nil {
			return err
		}

		for _, t := range block.Transactions {
			if !t.IsCoinbase() {
				for _, vin := range t.Vin {
					key := []byte(hex.EncodeToString(vin.Txid))

					outsBytes := b.Get(key)
					if outsBytes == nil {
						continue
					}
					outs, err := DeserializeOutputs(outsBytes)
					if err != nil {
						return err
					}

					delete(outs.Outputs, vin.Vout)

					if len(outs.Outputs) == 0 {
						if err := b.Delete(key); err != nil {
							return err
						}
						continue
					}

					data, err := outs.Serialize()
					if err != nil {
						return err
					}
					if err := b.Put(key, data); err != nil {
						return err
					}
				}
			}

			newOutputs := TXOutputs{Outputs: make(map[int]TXOutput, len(t.Vout))}
			for idx, out := range t.Vout {
				newOutputs.Outputs[idx] = out
			}
			if len(newOutputs.Outputs) == 0 {
				continue
			}

			data, err := newOutputs.Serialize()
			if err != nil {
				return err
			}
			if err := b.Put([]byte(t.IDHex()), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return wrapError(ErrIO, "update utxo set", err)
	}

	return nil
}
