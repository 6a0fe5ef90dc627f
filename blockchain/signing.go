package blockchain

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"mini-ledger/wallet"
)

// TrimmedCopy returns a copy of tx holding only the outpoints of its inputs,
// with signatures and public keys cleared.
func (tx *Transaction) TrimmedCopy() Transaction {
	inputs := make([]TXInput, 0, len(tx.Vin))
	outputs := make([]TXOutput, 0, len(tx.Vout))

	for _, vin := range tx.Vin {
		inputs = append(inputs, TXInput{Txid: vin.Txid, Vout: vin.Vout})
	}
	for _, vout := range tx.Vout {
		outputs = append(outputs, TXOutput{Value: vout.Value, PubKeyHash: vout.PubKeyHash})
	}

	return Transaction{ID: tx.ID, Vin: inputs, Vout: outputs}
}

// signingDigest computes the digest signed for input inID: the trimmed copy
// with that input's public key slot set to the owner hash of the output it
// spends.
func (tx *Transaction) signingDigest(txCopy *Transaction, inID int, prevTXs map[string]Transaction) ([]byte, error) {
	vin := txCopy.Vin[inID]

	prevTx, ok := prevTXs[hex.EncodeToString(vin.Txid)]
	if !ok || len(prevTx.ID) == 0 {
		return nil, NewError(ErrValidation, fmt.Sprintf("previous transaction not found: %x", vin.Txid))
	}
	if vin.Vout < 0 || vin.Vout >= len(prevTx.Vout) {
		return nil, NewError(ErrValidation, fmt.Sprintf("input %d references missing output %d of %x", inID, vin.Vout, vin.Txid))
	}

	txCopy.Vin[inID].Signature = nil
	txCopy.Vin[inID].PubKey = prevTx.Vout[vin.Vout].PubKeyHash
	digest, err := txCopy.Hash()
	txCopy.Vin[inID].PubKey = nil

	return digest, err
}

// Sign signs every input of tx with privKey. prevTXs maps the hex id of every
// referenced transaction to that transaction. Coinbase transactions are left
// untouched.
func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey, prevTXs map[string]Transaction) error {
	if tx.IsCoinbase() {
		return nil
	}

	for _, vin := range tx.Vin {
		if prev, ok := prevTXs[hex.EncodeToString(vin.Txid)]; !ok || len(prev.ID) == 0 {
			return NewError(ErrValidation, fmt.Sprintf("previous transaction not found: %x", vin.Txid))
		}
	}

	txCopy := tx.TrimmedCopy()

	for inID := range txCopy.Vin {
		digest, err := tx.signingDigest(&txCopy, inID, prevTXs)
		if err != nil {
			return err
		}

		signature, err := crypto.Sign(digest, privKey)
		if err != nil {
			return wrapError(ErrValidation, fmt.Sprintf("sign input %d", inID), err)
		}

		tx.Vin[inID].Signature = signature
	}

	return nil
}

// Verify checks every input signature of tx. It fails closed: a missing
// previous transaction, a public key that does not own the referenced output
// or a bad signature all yield false.
func (tx *Transaction) Verify(prevTXs map[string]Transaction) bool {
	if tx.IsCoinbase() {
		return true
	}

	txCopy := tx.TrimmedCopy()

	for inID, vin := range tx.Vin {
		digest, err := tx.signingDigest(&txCopy, inID, prevTXs)
		if err != nil {
			return false
		}

		prevTx := prevTXs[hex.EncodeToString(vin.Txid)]
		if !bytes.Equal(wallet.HashPubKey(vin.PubKey), prevTx.Vout[vin.Vout].PubKeyHash) {
			return false
		}

		if len(vin.Signature) < crypto.RecoveryIDOffset {
			return false
		}
		if !crypto.VerifySignature(vin.PubKey, digest, vin.Signature[:crypto.RecoveryIDOffset]) {
			return false
		}
	}

	return true
}
