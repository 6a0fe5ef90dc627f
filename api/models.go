package api

import (
	"encoding/hex"

	"mini-ledger/blockchain"
	"mini-ledger/wallet"
)

type status struct {
	Node       string `json:"node"`
	Mining     bool   `json:"mining"`
	Height     int    `json:"height"`
	Tip        string `json:"tip"`
	Difficulty int    `json:"difficulty"`
	Mempool    int    `json:"mempool"`
	Peers      int    `json:"peers"`
	UTXOTxs    int    `json:"utxo_txs"`
	Watchers   int    `json:"event_watchers"`
	Dropped    uint64 `json:"events_dropped"`
}

type balance struct {
	Address string `json:"address"`
	Balance int    `json:"balance"`
}

type input struct {
	TxID string `json:"txid"`
	Vout int    `json:"vout"`
}

type output struct {
	Value   int    `json:"value"`
	Address string `json:"address"`
}

type tx struct {
	ID       string   `json:"id"`
	Coinbase bool     `json:"coinbase"`
	Inputs   []input  `json:"inputs"`
	Outputs  []output `json:"outputs"`
}

func toTx(tran blockchain.Transaction) tx {
	t := tx{
		ID:       tran.IDHex(),
		Coinbase: tran.IsCoinbase(),
		Inputs:   make([]input, 0, len(tran.Vin)),
		Outputs:  make([]output, 0, len(tran.Vout)),
	}

	if !t.Coinbase {
		for _, vin := range tran.Vin {
			t.Inputs = append(t.Inputs, input{TxID: hex.EncodeToString(vin.Txid), Vout: vin.Vout})
		}
	}

	for _, out := range tran.Vout {
		t.Outputs = append(t.Outputs, output{Value: out.Value, Address: wallet.AddressFromPubKeyHash(out.PubKeyHash)})
	}

	return t
}
