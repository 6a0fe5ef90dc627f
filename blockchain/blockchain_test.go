package blockchain_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.etcd.io/bbolt"

	"mini-ledger/blockchain"
	"mini-ledger/wallet"
)

const (
	success = "✓"
	failed  = "✗"
)

var testConfig = blockchain.Config{Difficulty: 1}

func openDB(t *testing.T, name string) *bbolt.DB {
	t.Helper()

	db, err := blockchain.OpenDB(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("opening %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

func newWallet(t *testing.T) *wallet.Wallet {
	t.Helper()

	w, err := wallet.NewWallet()
	if err != nil {
		t.Fatalf("creating wallet: %v", err)
	}
	return w
}

// newLedger creates a chain whose genesis pays reward and an index over it.
func newLedger(t *testing.T, reward *wallet.Wallet) (*blockchain.Blockchain, *blockchain.UTXOSet) {
	t.Helper()

	bc, err := blockchain.CreateBlockchain(openDB(t, "blocks.db"), reward.PubKeyHash(), testConfig)
	if err != nil {
		t.Fatalf("creating ledger: %v", err)
	}

	utxo := blockchain.NewUTXOSet(bc, openDB(t, "chainstate.db"))
	if err := utxo.Reindex(); err != nil {
		t.Fatalf("reindexing: %v", err)
	}

	return bc, utxo
}

func balance(t *testing.T, utxo *blockchain.UTXOSet, w *wallet.Wallet) int {
	t.Helper()

	b, err := utxo.Balance(w.PubKeyHash())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func coinbase(t *testing.T, to *wallet.Wallet) *blockchain.Transaction {
	t.Helper()

	cb, err := blockchain.NewCoinbaseTX(to.PubKeyHash(), "")
	if err != nil {
		t.Fatalf("creating coinbase: %v", err)
	}
	return cb
}

func send(t *testing.T, utxo *blockchain.UTXOSet, from, to, miner *wallet.Wallet, amount int) *blockchain.Block {
	t.Helper()

	block, err := utxo.Send(from.PrivateKey, to.PubKeyHash(), amount, miner.PubKeyHash())
	if err != nil {
		t.Fatalf("sending %d: %v", amount, err)
	}
	return block
}

// chainBlocks returns the blocks of bc from genesis to tip.
func chainBlocks(bc *blockchain.Blockchain) []*blockchain.Block {
	var blocks []*blockchain.Block

	bci := bc.Iterator()
	for block := bci.Next(); block != nil; block = bci.Next() {
		blocks = append([]*blockchain.Block{block}, blocks...)
	}
	return blocks
}

func TestOpenBlockchain(t *testing.T) {
	t.Log("Given the need to open an existing ledger.")
	{
		db := openDB(t, "blocks.db")

		_, err := blockchain.OpenBlockchain(db, testConfig)
		if !errors.Is(err, blockchain.ErrNotFoundKind) {
			t.Fatalf("\t%s\tShould fail with not found on an empty store, got %v.", failed, err)
		}
		t.Logf("\t%s\tShould fail with not found on an empty store.", success)

		w := newWallet(t)
		if _, err := blockchain.CreateBlockchain(db, w.PubKeyHash(), testConfig); err != nil {
			t.Fatalf("\t%s\tShould be able to create a ledger: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to create a ledger.", success)

		bc, err := blockchain.OpenBlockchain(db, testConfig)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to open the created ledger: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to open the created ledger.", success)

		height, err := bc.GetBestHeight()
		if err != nil || height != 0 {
			t.Fatalf("\t%s\tShould be at height 0, got %d: %v", failed, height, err)
		}
		t.Logf("\t%s\tShould be at height 0.", success)
	}
}

func TestCreateBlockchainDiscardsExisting(t *testing.T) {
	a := newWallet(t)
	db := openDB(t, "blocks.db")
	first, err := blockchain.CreateBlockchain(db, a.PubKeyHash(), testConfig)
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	if _, err := first.AddBlock([]*blockchain.Transaction{coinbase(t, a)}); err != nil {
		t.Fatalf("adding block: %v", err)
	}

	second, err := blockchain.CreateBlockchain(db, a.PubKeyHash(), testConfig)
	if err != nil {
		t.Fatalf("recreating: %v", err)
	}
	if n := len(chainBlocks(second)); n != 1 {
		t.Fatalf("got %d blocks after recreate, exp 1", n)
	}
}

func TestIterator(t *testing.T) {
	a := newWallet(t)
	bc, _ := newLedger(t, a)

	for i := 0; i < 4; i++ {
		if _, err := bc.AddBlock([]*blockchain.Transaction{coinbase(t, a)}); err != nil {
			t.Fatalf("adding block %d: %v", i, err)
		}
	}

	t.Log("Given the need to walk the chain from tip to genesis.")
	{
		var blocks []*blockchain.Block
		bci := bc.Iterator()
		for block := bci.Next(); block != nil; block = bci.Next() {
			blocks = append(blocks, block)
		}

		if len(blocks) != 5 {
			t.Fatalf("\t%s\tShould yield 5 blocks, got %d.", failed, len(blocks))
		}
		t.Logf("\t%s\tShould yield 5 blocks.", success)

		for i := 0; i < len(blocks)-1; i++ {
			if !bytes.Equal(blocks[i].PrevBlockHash, blocks[i+1].Hash) {
				t.Fatalf("\t%s\tShould link block %d to block %d.", failed, i, i+1)
			}
			if blocks[i].Height != blocks[i+1].Height+1 {
				t.Fatalf("\t%s\tShould decrease height by one, got %d then %d.", failed, blocks[i].Height, blocks[i+1].Height)
			}
		}
		t.Logf("\t%s\tShould link every block to its predecessor.", success)

		if last := blocks[len(blocks)-1]; !last.IsGenesis() || last.Height != 0 {
			t.Fatalf("\t%s\tShould end at genesis.", failed)
		}
		t.Logf("\t%s\tShould end at genesis.", success)

		if n := len(bc.GetBlockHashes()); n != 5 {
			t.Fatalf("\t%s\tShould restart from the tip on every call, got %d hashes.", failed, n)
		}
		t.Logf("\t%s\tShould restart from the tip on every call.", success)
	}
}

func TestIteratorStopsOnMissingBlock(t *testing.T) {
	a := newWallet(t)
	db := openDB(t, "blocks.db")

	bc, err := blockchain.CreateBlockchain(db, a.PubKeyHash(), testConfig)
	if err != nil {
		t.Fatalf("creating: %v", err)
	}

	var middle *blockchain.Block
	for i := 0; i < 3; i++ {
		block, err := bc.AddBlock([]*blockchain.Transaction{coinbase(t, a)})
		if err != nil {
			t.Fatalf("adding block: %v", err)
		}
		if i == 1 {
			middle = block
		}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("blocks")).Delete([]byte(middle.HashString()))
	})
	if err != nil {
		t.Fatalf("deleting block: %v", err)
	}

	if n := len(bc.GetBlockHashes()); n != 1 {
		t.Fatalf("got %d blocks, exp the walk to end after the tip", n)
	}
}

func TestScenarioCreate(t *testing.T) {
	a := newWallet(t)
	_, utxo := newLedger(t, a)

	if got := balance(t, utxo, a); got != 100 {
		t.Fatalf("got balance %d, exp 100", got)
	}
}

func TestScenarioSend(t *testing.T) {
	t.Log("Given the need to move funds between addresses.")
	{
		t.Log("\tTest 0:\tWhen the reward of the spend block goes to a third address.")
		{
			a, b, miner := newWallet(t), newWallet(t), newWallet(t)
			_, utxo := newLedger(t, a)

			send(t, utxo, a, b, miner, 40)

			if got := balance(t, utxo, a); got != 60 {
				t.Fatalf("\t%s\tShould leave A with 60, got %d.", failed, got)
			}
			if got := balance(t, utxo, b); got != 40 {
				t.Fatalf("\t%s\tShould give B 40, got %d.", failed, got)
			}
			if got := balance(t, utxo, miner); got != 100 {
				t.Fatalf("\t%s\tShould reward the miner 100, got %d.", failed, got)
			}
			t.Logf("\t%s\tShould leave A with 60 and give B 40.", success)
		}

		t.Log("\tTest 1:\tWhen the sender mines its own spend block.")
		{
			a, b := newWallet(t), newWallet(t)
			_, utxo := newLedger(t, a)

			send(t, utxo, a, b, a, 40)

			if got := balance(t, utxo, a); got != 160 {
				t.Fatalf("\t%s\tShould leave A with 160, got %d.", failed, got)
			}
			if got := balance(t, utxo, b); got != 40 {
				t.Fatalf("\t%s\tShould give B 40, got %d.", failed, got)
			}
			t.Logf("\t%s\tShould leave A with 160 and give B 40.", success)
		}
	}
}

func TestInsufficientFunds(t *testing.T) {
	a, b := newWallet(t), newWallet(t)
	_, utxo := newLedger(t, a)

	_, err := utxo.Send(a.PrivateKey, b.PubKeyHash(), 101, a.PubKeyHash())

	var ife *blockchain.InsufficientFundsError
	if !errors.As(err, &ife) {
		t.Fatalf("got %v, exp InsufficientFundsError", err)
	}
	if ife.Balance != 100 || ife.Amount != 101 {
		t.Fatalf("got balance %d amount %d, exp 100 and 101", ife.Balance, ife.Amount)
	}
	if !blockchain.IsCode(err, blockchain.ErrInsufficientFunds) {
		t.Fatal("error should carry the insufficient funds code")
	}

	if _, err := utxo.Send(a.PrivateKey, b.PubKeyHash(), 0, a.PubKeyHash()); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp validation error for a zero amount", err)
	}
}

// busyLedger builds a chain with several spends between three wallets.
func busyLedger(t *testing.T) (*blockchain.Blockchain, *blockchain.UTXOSet, []*wallet.Wallet) {
	t.Helper()

	a, b, c := newWallet(t), newWallet(t), newWallet(t)
	bc, utxo := newLedger(t, a)

	send(t, utxo, a, b, c, 30)
	send(t, utxo, b, c, a, 10)
	send(t, utxo, c, a, b, 105)
	send(t, utxo, a, c, c, 150)
	send(t, utxo, b, a, b, 20)

	return bc, utxo, []*wallet.Wallet{a, b, c}
}

func equalIndexes(t *testing.T, got, exp map[string]blockchain.TXOutputs) {
	t.Helper()

	if len(got) != len(exp) {
		t.Fatalf("got %d entries, exp %d", len(got), len(exp))
	}
	for txid, expOuts := range exp {
		gotOuts, ok := got[txid]
		if !ok {
			t.Fatalf("missing entry %s", txid)
		}
		if len(gotOuts.Outputs) != len(expOuts.Outputs) {
			t.Fatalf("entry %s: got %d outputs, exp %d", txid, len(gotOuts.Outputs), len(expOuts.Outputs))
		}
		for idx, out := range expOuts.Outputs {
			g, ok := gotOuts.Outputs[idx]
			if !ok || g.Value != out.Value || !bytes.Equal(g.PubKeyHash, out.PubKeyHash) {
				t.Fatalf("entry %s output %d: got %+v, exp %+v", txid, idx, g, out)
			}
		}
	}
}

func TestReindexMatchesUpdates(t *testing.T) {
	bc, utxo, _ := busyLedger(t)

	t.Log("Given the need for a rebuilt index to equal the incrementally updated one.")
	{
		incremental, err := utxo.Snapshot()
		if err != nil {
			t.Fatalf("\t%s\tShould snapshot the live index: %v", failed, err)
		}

		folded := blockchain.NewUTXOSet(bc, openDB(t, "folded.db"))
		for _, block := range chainBlocks(bc) {
			if err := folded.Update(block); err != nil {
				t.Fatalf("\t%s\tShould apply block %d: %v", failed, block.Height, err)
			}
		}
		foldedSnap, err := folded.Snapshot()
		if err != nil {
			t.Fatalf("\t%s\tShould snapshot the folded index: %v", failed, err)
		}

		if err := utxo.Reindex(); err != nil {
			t.Fatalf("\t%s\tShould reindex: %v", failed, err)
		}
		reindexed, err := utxo.Snapshot()
		if err != nil {
			t.Fatalf("\t%s\tShould snapshot the reindexed index: %v", failed, err)
		}

		equalIndexes(t, reindexed, foldedSnap)
		equalIndexes(t, reindexed, incremental)
		t.Logf("\t%s\tShould produce the same index either way.", success)

		count, err := utxo.CountTransactions()
		if err != nil || count != len(reindexed) {
			t.Fatalf("\t%s\tShould count %d transactions, got %d: %v", failed, len(reindexed), count, err)
		}
		t.Logf("\t%s\tShould count the indexed transactions.", success)
	}
}

func TestBalanceAgreesWithChainScan(t *testing.T) {
	bc, utxo, wallets := busyLedger(t)

	full := bc.FindUTXO()

	total := 0
	for _, w := range wallets {
		scanned := 0
		for _, outs := range full {
			for _, out := range outs.Outputs {
				if out.IsLockedWithKey(w.PubKeyHash()) {
					scanned += out.Value
				}
			}
		}

		if got := balance(t, utxo, w); got != scanned {
			t.Fatalf("wallet %s: index says %d, chain scan says %d", w.GetAddress(), got, scanned)
		}
		total += scanned
	}

	// Genesis plus one reward per spend block.
	if total != 600 {
		t.Fatalf("got total supply %d, exp 600", total)
	}
}

func TestFindSpendableOutputs(t *testing.T) {
	_, utxo, wallets := busyLedger(t)

	for _, w := range wallets {
		owned := balance(t, utxo, w)

		for amount := 1; amount <= owned; amount++ {
			acc, outs, err := utxo.FindSpendableOutputs(w.PubKeyHash(), amount)
			if err != nil {
				t.Fatalf("finding outputs: %v", err)
			}
			if acc < amount {
				t.Fatalf("amount %d of %d owned: accumulated only %d", amount, owned, acc)
			}
			if len(outs) == 0 {
				t.Fatalf("amount %d: no outputs selected", amount)
			}
		}

		acc, _, err := utxo.FindSpendableOutputs(w.PubKeyHash(), owned+1)
		if err != nil {
			t.Fatalf("finding outputs: %v", err)
		}
		if acc != owned {
			t.Fatalf("over-asking: accumulated %d, exp all %d", acc, owned)
		}
	}
}

func TestFindTransaction(t *testing.T) {
	a, b := newWallet(t), newWallet(t)
	bc, utxo := newLedger(t, a)

	block := send(t, utxo, a, b, a, 10)
	spend := block.Transactions[1]

	got, err := bc.FindTransaction(spend.ID)
	if err != nil {
		t.Fatalf("finding transaction: %v", err)
	}
	if !bytes.Equal(got.ID, spend.ID) {
		t.Fatalf("got %x, exp %x", got.ID, spend.ID)
	}

	if _, err := bc.FindTransaction([]byte("missing")); !errors.Is(err, blockchain.ErrNotFoundKind) {
		t.Fatalf("got %v, exp not found", err)
	}

	if !bc.VerifyTransaction(spend) {
		t.Fatal("mined spend should verify against the chain")
	}
}

func TestImportBlock(t *testing.T) {
	a := newWallet(t)
	src, _ := newLedger(t, a)

	for i := 0; i < 3; i++ {
		if _, err := src.AddBlock([]*blockchain.Transaction{coinbase(t, a)}); err != nil {
			t.Fatalf("adding block: %v", err)
		}
	}
	blocks := chainBlocks(src)

	dst, err := blockchain.CreateBlockchainWithGenesis(openDB(t, "dst.db"), blocks[0], testConfig)
	if err != nil {
		t.Fatalf("creating from genesis: %v", err)
	}

	t.Log("Given the need to import blocks newest first.")
	{
		for i := len(blocks) - 1; i >= 1; i-- {
			added, err := dst.ImportBlock(blocks[i])
			if err != nil || !added {
				t.Fatalf("\t%s\tShould import block %d: added=%v err=%v", failed, i, added, err)
			}
		}
		t.Logf("\t%s\tShould import every block.", success)

		last, err := dst.LastBlock()
		if err != nil || !bytes.Equal(last.Hash, blocks[3].Hash) {
			t.Fatalf("\t%s\tShould keep the highest block as tip: %v", failed, err)
		}
		t.Logf("\t%s\tShould keep the highest block as tip.", success)

		if n := len(chainBlocks(dst)); n != 4 {
			t.Fatalf("\t%s\tShould walk 4 blocks, got %d.", failed, n)
		}
		t.Logf("\t%s\tShould walk the full chain.", success)

		added, err := dst.ImportBlock(blocks[2])
		if err != nil || added {
			t.Fatalf("\t%s\tShould ignore a known block: added=%v err=%v", failed, added, err)
		}
		t.Logf("\t%s\tShould ignore a known block.", success)
	}

	if _, err := blockchain.CreateBlockchainWithGenesis(openDB(t, "bad.db"), blocks[1], testConfig); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp validation error for a non genesis block", err)
	}
}

func TestImportBlockValidation(t *testing.T) {
	a := newWallet(t)
	src, _ := newLedger(t, a)

	block, err := src.AddBlock([]*blockchain.Transaction{coinbase(t, a)})
	if err != nil {
		t.Fatalf("adding block: %v", err)
	}
	genesis := chainBlocks(src)[0]

	cfg := testConfig
	cfg.ValidateImports = true

	dst, err := blockchain.CreateBlockchainWithGenesis(openDB(t, "dst.db"), genesis, cfg)
	if err != nil {
		t.Fatalf("creating from genesis: %v", err)
	}

	forged := *block
	forged.Nonce++
	forged.Hash = bytes.Repeat([]byte{0}, 32)

	if _, err := dst.ImportBlock(&forged); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp validation error", err)
	}
	if _, err := dst.ImportBlock(block); err != nil {
		t.Fatalf("importing a valid block: %v", err)
	}
}

func TestMineBlockRejectsDoubleSpend(t *testing.T) {
	a, b, c := newWallet(t), newWallet(t), newWallet(t)
	_, utxo := newLedger(t, a)

	tx1, err := utxo.NewSignedTransaction(a.PrivateKey, b.PubKeyHash(), 50)
	if err != nil {
		t.Fatalf("building tx1: %v", err)
	}
	tx2, err := utxo.NewSignedTransaction(a.PrivateKey, c.PubKeyHash(), 50)
	if err != nil {
		t.Fatalf("building tx2: %v", err)
	}

	if _, err := utxo.MineBlock([]*blockchain.Transaction{tx1, tx2}, a.PubKeyHash()); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp validation error for a double spend in one block", err)
	}

	if _, err := utxo.MineBlock([]*blockchain.Transaction{tx1}, a.PubKeyHash()); err != nil {
		t.Fatalf("mining tx1: %v", err)
	}

	if err := utxo.ValidateTransaction(tx2); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp validation error for a spent output", err)
	}
}

func TestReindexWhileMining(t *testing.T) {
	a := newWallet(t)
	bc, utxo := newLedger(t, a)

	t.Log("Given the need to rebuild the index while blocks are being mined.")
	{
		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := utxo.Reindex(); err != nil {
					t.Errorf("reindexing: %v", err)
					return
				}
			}
		}()

		for i := 0; i < 30; i++ {
			if _, err := utxo.MineBlock(nil, a.PubKeyHash()); err != nil {
				close(stop)
				wg.Wait()
				t.Fatalf("\t%s\tShould mine block %d: %v", failed, i, err)
			}
		}
		close(stop)
		wg.Wait()
		t.Logf("\t%s\tShould mine while reindexing.", success)

		if got := balance(t, utxo, a); got != 3100 {
			t.Fatalf("\t%s\tShould index every reward, got %d.", failed, got)
		}
		t.Logf("\t%s\tShould index every reward.", success)

		fresh := blockchain.NewUTXOSet(bc, openDB(t, "fresh.db"))
		if err := fresh.Reindex(); err != nil {
			t.Fatalf("reindexing fresh: %v", err)
		}

		got, err := utxo.Snapshot()
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		exp, err := fresh.Snapshot()
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		equalIndexes(t, got, exp)
		t.Logf("\t%s\tShould match a fresh rebuild of the chain.", success)
	}
}

func TestValidateTransactionValue(t *testing.T) {
	a, b := newWallet(t), newWallet(t)
	bc, utxo := newLedger(t, a)

	genesis, err := bc.LastBlock()
	if err != nil {
		t.Fatalf("reading genesis: %v", err)
	}
	cb := genesis.Transactions[0]

	build := func(t *testing.T, values ...int) *blockchain.Transaction {
		t.Helper()

		tx := blockchain.Transaction{
			Vin: []blockchain.TXInput{{Txid: cb.ID, Vout: 0, PubKey: a.PublicKey}},
		}
		for _, v := range values {
			tx.Vout = append(tx.Vout, blockchain.NewTXOutput(v, b.PubKeyHash()))
		}
		if tx.ID, err = tx.Hash(); err != nil {
			t.Fatalf("hashing: %v", err)
		}
		if err := bc.SignTransaction(&tx, a.PrivateKey); err != nil {
			t.Fatalf("signing: %v", err)
		}
		if !bc.VerifyTransaction(&tx) {
			t.Fatalf("signature should verify")
		}
		return &tx
	}

	tests := []struct {
		name   string
		values []int
		valid  bool
	}{
		{"exact", []int{60, 40}, true},
		{"fee", []int{90}, true},
		{"inflated", []int{500}, false},
		{"inflated-split", []int{60, 41}, false},
		{"zero-output", []int{100, 0}, false},
		{"negative-output", []int{150, -50}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := build(t, tt.values...)

			err := utxo.ValidateTransaction(tx)
			if tt.valid && err != nil {
				t.Fatalf("got %v, exp valid", err)
			}
			if !tt.valid && !errors.Is(err, blockchain.ErrValidationKind) {
				t.Fatalf("got %v, exp validation error", err)
			}
		})
	}

	if _, err := utxo.MineBlock([]*blockchain.Transaction{build(t, 500)}, a.PubKeyHash()); !errors.Is(err, blockchain.ErrValidationKind) {
		t.Fatalf("got %v, exp mining to refuse an inflated transaction", err)
	}
	if got := balance(t, utxo, b); got != 0 {
		t.Fatalf("got balance %d, exp 0", got)
	}
}
