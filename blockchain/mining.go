package blockchain

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"go.etcd.io/bbolt"
)

// outpoint identifies one output of one transaction.
type outpoint struct {
	txid string
	vout int
}

// unspentOutput returns output vout of txid if the index still holds it.
func (u *UTXOSet) unspentOutput(txid string, vout int) (TXOutput, bool, error) {
	var (
		out   TXOutput
		found bool
	)
	err := u.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(utxoBucket))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(txid))
		if data == nil {
			return nil
		}
		outs, err := DeserializeOutputs(data)
		if err != nil {
			return err
		}
		out, found = outs.Outputs[vout]
		return nil
	})
	return out, found, err
}

// ValidateTransaction checks that tx carries valid signatures, spends only
// outputs the index still holds and creates no more value than it spends.
func (u *UTXOSet) ValidateTransaction(tx *Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}

	var in, out int
	for _, vin := range tx.Vin {
		prev, ok, err := u.unspentOutput(hex.EncodeToString(vin.Txid), vin.Vout)
		if err != nil {
			return err
		}
		if !ok {
			return NewError(ErrValidation, fmt.Sprintf("transaction %x spends unknown or spent output %x:%d", tx.ID, vin.Txid, vin.Vout))
		}
		in += prev.Value
	}

	for _, vout := range tx.Vout {
		if vout.Value <= 0 {
			return NewError(ErrValidation, fmt.Sprintf("transaction %x has a non positive output value %d", tx.ID, vout.Value))
		}
		out += vout.Value
	}
	if out > in {
		return NewError(ErrValidation, fmt.Sprintf("transaction %x spends %d but creates %d", tx.ID, in, out))
	}

	if !u.Blockchain.VerifyTransaction(tx) {
		return NewError(ErrValidation, fmt.Sprintf("transaction %x has an invalid signature", tx.ID))
	}

	return nil
}

// MineBlock validates transactions, prepends a coinbase paying
// minerPubKeyHash when one is given, appends the mined block to the chain and
// applies it to the index.
func (u *UTXOSet) MineBlock(transactions []*Transaction, minerPubKeyHash []byte) (*Block, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	spent := make(map[outpoint]bool)

	for _, tx := range transactions {
		if err := u.ValidateTransaction(tx); err != nil {
			return nil, err
		}

		for _, vin := range tx.Vin {
			op := outpoint{txid: hex.EncodeToString(vin.Txid), vout: vin.Vout}
			if spent[op] {
				return nil, NewError(ErrValidation, fmt.Sprintf("output %s:%d spent twice in one block", op.txid, op.vout))
			}
			spent[op] = true
		}
	}

	if len(minerPubKeyHash) > 0 {
		cbtx, err := NewCoinbaseTX(minerPubKeyHash, "")
		if err != nil {
			return nil, err
		}
		transactions = append([]*Transaction{cbtx}, transactions...)
	}

	block, err := u.Blockchain.AddBlock(transactions)
	if err != nil {
		return nil, err
	}

	if err := u.update(block); err != nil {
		return nil, fmt.Errorf("block %s mined but index not updated: %w", block.HashString(), err)
	}

	return block, nil
}

// NewSignedTransaction builds and signs a spend of amount from the owner of
// privKey to toPubKeyHash.
func (u *UTXOSet) NewSignedTransaction(privKey *ecdsa.PrivateKey, toPubKeyHash []byte, amount int) (*Transaction, error) {
	fromPubKey := crypto.FromECDSAPub(&privKey.PublicKey)

	tx, err := NewUTXOTransaction(fromPubKey, toPubKeyHash, amount, u)
	if err != nil {
		return nil, err
	}

	if err := u.Blockchain.SignTransaction(tx, privKey); err != nil {
		return nil, err
	}

	return tx, nil
}

// Send transfers amount from the owner of privKey to toPubKeyHash and mines
// the transaction locally together with a reward to minerPubKeyHash.
func (u *UTXOSet) Send(privKey *ecdsa.PrivateKey, toPubKeyHash []byte, amount int, minerPubKeyHash []byte) (*Block, error) {
	tx, err := u.NewSignedTransaction(privKey, toPubKeyHash, amount)
	if err != nil {
		return nil, err
	}

	return u.MineBlock([]*Transaction{tx}, minerPubKeyHash)
}
