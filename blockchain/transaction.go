package blockchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"mini-ledger/wallet"
)

// subsidy is the reward paid by every coinbase transaction.
const subsidy = 100

// TXInput references an output of a previous transaction.
type TXInput struct {
	Txid      []byte // id of the transaction holding the referenced output
	Vout      int    // index of the referenced output, -1 for coinbase
	Signature []byte // signature over the per-input digest
	PubKey    []byte // sender public key, or the memo of a coinbase input
}

// UsesKey checks whether the input was created by the owner of pubKeyHash.
func (in *TXInput) UsesKey(pubKeyHash []byte) bool {
	return bytes.Equal(wallet.HashPubKey(in.PubKey), pubKeyHash)
}

// TXOutput locks a value to a public key hash.
type TXOutput struct {
	Value      int
	PubKeyHash []byte
}

// IsLockedWithKey checks whether the output can be spent by the owner of pubKeyHash.
func (out *TXOutput) IsLockedWithKey(pubKeyHash []byte) bool {
	return bytes.Equal(out.PubKeyHash, pubKeyHash)
}

// NewTXOutput creates an output of value locked to pubKeyHash.
func NewTXOutput(value int, pubKeyHash []byte) TXOutput {
	return TXOutput{Value: value, PubKeyHash: pubKeyHash}
}

// TXOutputs collects the still unspent outputs of one transaction, keyed by
// their index in the transaction's output list.
type TXOutputs struct {
	Outputs map[int]TXOutput
}

// Indexes returns the output indexes in ascending order.
func (outs TXOutputs) Indexes() []int {
	idxs := make([]int, 0, len(outs.Outputs))
	for idx := range outs.Outputs {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// Serialize encodes the outputs with gob.
func (outs TXOutputs) Serialize() ([]byte, error) {
	var res bytes.Buffer
	if err := gob.NewEncoder(&res).Encode(outs); err != nil {
		return nil, wrapError(ErrSerialization, "encode outputs", err)
	}
	return res.Bytes(), nil
}

// DeserializeOutputs decodes outputs produced by Serialize.
func DeserializeOutputs(data []byte) (TXOutputs, error) {
	var outputs TXOutputs
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&outputs); err != nil {
		return TXOutputs{}, wrapError(ErrSerialization, "decode outputs", err)
	}
	if outputs.Outputs == nil {
		outputs.Outputs = make(map[int]TXOutput)
	}
	return outputs, nil
}

// Transaction moves value from previous outputs to new ones.
type Transaction struct {
	ID   []byte
	Vin  []TXInput
	Vout []TXOutput
}

// Hash computes the transaction id. Signatures are excluded so the id stays
// stable once inputs get signed.
func (tx *Transaction) Hash() ([]byte, error) {
	txCopy := Transaction{
		ID:   []byte{},
		Vin:  make([]TXInput, len(tx.Vin)),
		Vout: tx.Vout,
	}
	for i, in := range tx.Vin {
		txCopy.Vin[i] = TXInput{Txid: in.Txid, Vout: in.Vout, PubKey: in.PubKey}
	}

	var res bytes.Buffer
	if err := gob.NewEncoder(&res).Encode(txCopy); err != nil {
		return nil, wrapError(ErrSerialization, "encode transaction for hashing", err)
	}

	hash := sha256.Sum256(res.Bytes())
	return hash[:], nil
}

// IDHex returns the hex form of the id, used as key in stores and maps.
func (tx *Transaction) IDHex() string {
	return hex.EncodeToString(tx.ID)
}

// IsCoinbase reports whether tx has the single sentinel input of a reward.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Vin) == 1 && len(tx.Vin[0].Txid) == 0 && tx.Vin[0].Vout == -1
}

// Serialize encodes the transaction with gob.
func (tx *Transaction) Serialize() ([]byte, error) {
	var res bytes.Buffer
	if err := gob.NewEncoder(&res).Encode(tx); err != nil {
		return nil, wrapError(ErrSerialization, "encode transaction", err)
	}
	return res.Bytes(), nil
}

// DeserializeTransaction decodes a transaction produced by Serialize.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tx); err != nil {
		return nil, wrapError(ErrSerialization, "decode transaction", err)
	}
	return &tx, nil
}

// String renders the transaction for printchain.
func (tx Transaction) String() string {
	var lines []string

	lines = append(lines, fmt.Sprintf("--- Transaction %x:", tx.ID))
	for i, input := range tx.Vin {
		lines = append(lines, fmt.Sprintf("     Input %d:", i))
		lines = append(lines, fmt.Sprintf("       TXID:      %s", hexutil.Encode(input.Txid)))
		lines = append(lines, fmt.Sprintf("       Out:       %d", input.Vout))
		lines = append(lines, fmt.Sprintf("       Signature: %s", hexutil.Encode(input.Signature)))
		lines = append(lines, fmt.Sprintf("       PubKey:    %s", hexutil.Encode(input.PubKey)))
	}
	for i, output := range tx.Vout {
		lines = append(lines, fmt.Sprintf("     Output %d:", i))
		lines = append(lines, fmt.Sprintf("       Value:  %d", output.Value))
		lines = append(lines, fmt.Sprintf("       Script: %s", hexutil.Encode(output.PubKeyHash)))
	}

	return strings.Join(lines, "\n")
}

// NewCoinbaseTX creates the reward transaction paying subsidy to toPubKeyHash.
// An empty memo is replaced by a unique one so that two rewards to the same
// key never share an id.
func NewCoinbaseTX(toPubKeyHash []byte, memo string) (*Transaction, error) {
	if memo == "" {
		memo = fmt.Sprintf("Reward to '%x' %s", toPubKeyHash, uuid.NewString())
	}

	in := TXInput{Txid: []byte{}, Vout: -1, PubKey: []byte(memo)}
	out := NewTXOutput(subsidy, toPubKeyHash)

	tx := Transaction{Vin: []TXInput{in}, Vout: []TXOutput{out}}

	id, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	tx.ID = id

	return &tx, nil
}

// NewUTXOTransaction builds an unsigned spend of amount from the owner of
// fromPubKey to toPubKeyHash, selecting inputs from the UTXO set. A change
// output returns any surplus to the sender.
func NewUTXOTransaction(fromPubKey, toPubKeyHash []byte, amount int, utxoSet *UTXOSet) (*Transaction, error) {
	if amount <= 0 {
		return nil, NewError(ErrValidation, fmt.Sprintf("amount must be positive, got %d", amount))
	}

	fromPubKeyHash := wallet.HashPubKey(fromPubKey)

	acc, validOutputs, err := utxoSet.FindSpendableOutputs(fromPubKeyHash, amount)
	if err != nil {
		return nil, err
	}
	if acc < amount {
		return nil, &InsufficientFundsError{Balance: acc, Amount: amount}
	}

	txids := make([]string, 0, len(validOutputs))
	for txid := range validOutputs {
		txids = append(txids, txid)
	}
	sort.Strings(txids)

	var inputs []TXInput
	for _, txid := range txids {
		txID, err := hex.DecodeString(txid)
		if err != nil {
			return nil, wrapError(ErrSerialization, "decode txid "+txid, err)
		}

		for _, out := range validOutputs[txid] {
			inputs = append(inputs, TXInput{Txid: txID, Vout: out, PubKey: fromPubKey})
		}
	}

	outputs := []TXOutput{NewTXOutput(amount, toPubKeyHash)}
	if acc > amount {
		outputs = append(outputs, NewTXOutput(acc-amount, fromPubKeyHash))
	}

	tx := Transaction{Vin: inputs, Vout: outputs}
	if tx.ID, err = tx.Hash(); err != nil {
		return nil, err
	}

	return &tx, nil
}
