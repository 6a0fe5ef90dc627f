package network

import (
	"bytes"
	"encoding/hex"
	"sort"

	"mini-ledger/blockchain"
)

// handleVersion registers the sender and brings the shorter chain up to
// date: a taller peer is asked for its blocks, a shorter one is told our
// height so it asks us. A peer heard from for the first time also gets the
// addresses we know.
func (s *Server) handleVersion(traceID string, m Version) error {
	myBestHeight, err := s.bc.GetBestHeight()
	if err != nil {
		return err
	}

	s.mu.Lock()
	isNew := m.AddrFrom != "" && !s.peers.Has(m.AddrFrom)
	s.peers.Seen(m.AddrFrom, m.Version, m.BestHeight)
	s.mu.Unlock()

	s.log.Infow("network", "traceid", traceID, "status", "version", "peer", m.AddrFrom, "peerHeight", m.BestHeight, "height", myBestHeight, "new", isNew)

	if isNew {
		s.evHandler("network: peer added: %s", m.AddrFrom)
	}

	switch {
	case myBestHeight < m.BestHeight:
		s.SendGetBlocks(m.AddrFrom)
	case myBestHeight > m.BestHeight:
		s.SendVersion(m.AddrFrom)
	}

	if isNew {
		s.SendAddr(m.AddrFrom)
	}

	return nil
}

// handleAddr merges the advertised addresses into the registry and
// introduces the node to the ones it did not know.
func (s *Server) handleAddr(traceID string, m Addr) error {
	var added []string

	s.mu.Lock()
	for _, address := range m.AddrList {
		if address == s.nodeAddress {
			continue
		}
		if s.peers.Add(address) {
			added = append(added, address)
		}
	}
	known := s.peers.Len()
	s.mu.Unlock()

	s.log.Infow("network", "traceid", traceID, "status", "addr", "added", len(added), "known", known)

	for _, address := range added {
		s.evHandler("network: peer added: %s", address)
		s.SendVersion(address)
	}

	return nil
}

// handleGetBlocks replies with the hashes of the whole chain, tip first.
func (s *Server) handleGetBlocks(traceID string, m GetBlocks) error {
	hashes := s.bc.GetBlockHashes()

	s.log.Infow("network", "traceid", traceID, "status", "getblocks", "peer", m.AddrFrom, "hashes", len(hashes))

	s.SendInv(m.AddrFrom, KindBlock, hashes)
	return nil
}

// handleInv requests what the node does not have yet. Blocks are fetched one
// at a time, the rest wait in the transit queue. Hashes announced while a
// download is under way join the end of the queue.
func (s *Server) handleInv(traceID string, m Inv) error {
	s.log.Infow("network", "traceid", traceID, "status", "inv", "peer", m.AddrFrom, "type", m.Type, "items", len(m.Items))

	switch m.Type {
	case KindBlock:
		var missing [][]byte
		for _, hash := range m.Items {
			if _, err := s.bc.GetBlock(hash); err != nil {
				missing = append(missing, hash)
			}
		}
		if len(missing) == 0 {
			return nil
		}

		s.mu.Lock()
		idle := len(s.blocksInTransit) == 0
		if idle {
			s.blocksInTransit = append(s.blocksInTransit, missing[1:]...)
		} else {
			for _, hash := range missing {
				if !queued(s.blocksInTransit, hash) {
					s.blocksInTransit = append(s.blocksInTransit, hash)
				}
			}
		}
		s.mu.Unlock()

		if idle {
			s.SendGetData(m.AddrFrom, KindBlock, missing[0])
		}

	case KindTx:
		for _, id := range m.Items {
			s.mu.Lock()
			_, known := s.mempool[hex.EncodeToString(id)]
			s.mu.Unlock()

			if !known {
				s.SendGetData(m.AddrFrom, KindTx, id)
			}
		}
	}

	return nil
}

// handleGetData serves one block from the chain or one transaction from the
// mempool. Unknown ids are ignored.
func (s *Server) handleGetData(traceID string, m GetData) error {
	switch m.Type {
	case KindBlock:
		block, err := s.bc.GetBlock(m.ID)
		if err != nil {
			s.log.Infow("network", "traceid", traceID, "status", "getdata", "block", hex.EncodeToString(m.ID), "found", false)
			return nil
		}
		s.SendBlock(m.AddrFrom, block)

	case KindTx:
		s.mu.Lock()
		tx, ok := s.mempool[hex.EncodeToString(m.ID)]
		s.mu.Unlock()

		if !ok {
			s.log.Infow("network", "traceid", traceID, "status", "getdata", "tx", hex.EncodeToString(m.ID), "found", false)
			return nil
		}
		s.SendTx(m.AddrFrom, &tx)
	}

	return nil
}

// handleBlock imports a received block and asks for the next one in
// transit. Once the queue drains the index is rebuilt from the chain.
func (s *Server) handleBlock(traceID string, m BlockData) error {
	block, err := blockchain.DeserializeBlock(m.Block)
	if err != nil {
		return err
	}

	added, err := s.bc.ImportBlock(block)
	if err != nil {
		return err
	}

	s.log.Infow("network", "traceid", traceID, "status", "block", "peer", m.AddrFrom, "hash", block.HashString(), "height", block.Height, "added", added)
	if added {
		s.evHandler("network: block imported: height[%d] hash[%s]", block.Height, block.HashString())
	}

	var next []byte

	s.mu.Lock()
	for _, tx := range block.Transactions {
		delete(s.mempool, tx.IDHex())
	}
	if len(s.blocksInTransit) > 0 {
		next = s.blocksInTransit[0]
		s.blocksInTransit = s.blocksInTransit[1:]
	}
	s.mu.Unlock()

	if next != nil {
		s.SendGetData(m.AddrFrom, KindBlock, next)
		return nil
	}

	if err := s.utxo.Reindex(); err != nil {
		return err
	}

	height, err := s.bc.GetBestHeight()
	if err != nil {
		return err
	}

	s.log.Infow("network", "traceid", traceID, "status", "reindexed", "height", height)
	s.evHandler("network: utxo reindexed: height[%d]", height)

	return nil
}

// handleTx adds a transaction to the mempool. A relay node advertises it to
// its other peers, a miner mines once the mempool is large enough.
func (s *Server) handleTx(traceID string, m Tx) error {
	tx, err := blockchain.DeserializeTransaction(m.Transaction)
	if err != nil {
		return err
	}
	id := tx.IDHex()

	s.mu.Lock()
	_, known := s.mempool[id]
	if !known {
		s.mempool[id] = *tx
	}
	pending := len(s.mempool)
	s.mu.Unlock()

	if known {
		return nil
	}

	s.log.Infow("network", "traceid", traceID, "status", "tx", "peer", m.AddrFrom, "id", id, "mempool", pending)
	s.evHandler("network: tx received: %s", id)

	if !s.IsMining() {
		s.mu.Lock()
		peers := s.peers.Addresses(s.nodeAddress, m.AddrFrom)
		s.mu.Unlock()

		for _, address := range peers {
			s.SendInv(address, KindTx, [][]byte{tx.ID})
		}
		return nil
	}

	s.mineMempool(traceID)
	return nil
}

// mineMempool mines blocks while the mempool holds at least the threshold.
// Only one goroutine mines at a time; transactions arriving meanwhile are
// picked up by the next round.
func (s *Server) mineMempool(traceID string) {
	s.mu.Lock()
	if s.mining {
		s.mu.Unlock()
		return
	}
	s.mining = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if len(s.mempool) < s.mineThreshold {
			s.mining = false
			s.mu.Unlock()
			return
		}
		pending := make([]blockchain.Transaction, 0, len(s.mempool))
		for _, tx := range s.mempool {
			pending = append(pending, tx)
		}
		s.mu.Unlock()

		sort.Slice(pending, func(i, j int) bool { return pending[i].IDHex() < pending[j].IDHex() })

		txs, drop := s.selectTransactions(traceID, pending)
		if len(txs) == 0 {
			s.removeFromMempool(drop)
			s.mu.Lock()
			s.mining = false
			s.mu.Unlock()
			return
		}

		block, err := s.utxo.MineBlock(txs, s.minerPubKeyHash)
		if err != nil {
			s.log.Errorw("network", "traceid", traceID, "status", "mine", "ERROR", err)
			s.removeFromMempool(drop)
			s.mu.Lock()
			s.mining = false
			s.mu.Unlock()
			return
		}

		for _, tx := range txs {
			drop = append(drop, tx.IDHex())
		}
		s.removeFromMempool(drop)

		s.log.Infow("network", "traceid", traceID, "status", "mined", "hash", block.HashString(), "height", block.Height, "txs", len(txs))
		s.evHandler("network: block mined: height[%d] hash[%s] txs[%d]", block.Height, block.HashString(), len(txs))

		s.mu.Lock()
		peers := s.peers.Addresses(s.nodeAddress)
		s.mu.Unlock()

		for _, address := range peers {
			s.SendInv(address, KindBlock, [][]byte{block.Hash})
		}
	}
}

// selectTransactions keeps the pending transactions that validate against
// the index and do not spend an output already claimed by an earlier one.
// It returns the ids of the rejected ones.
func (s *Server) selectTransactions(traceID string, pending []blockchain.Transaction) ([]*blockchain.Transaction, []string) {
	type outpoint struct {
		txid string
		vout int
	}

	var txs []*blockchain.Transaction
	var drop []string
	claimed := make(map[outpoint]bool)

Pending:
	for i := range pending {
		tx := &pending[i]

		if err := s.utxo.ValidateTransaction(tx); err != nil {
			s.log.Infow("network", "traceid", traceID, "status", "tx rejected", "id", tx.IDHex(), "ERROR", err)
			drop = append(drop, tx.IDHex())
			continue
		}

		ops := make([]outpoint, 0, len(tx.Vin))
		for _, vin := range tx.Vin {
			op := outpoint{txid: hex.EncodeToString(vin.Txid), vout: vin.Vout}
			if claimed[op] {
				s.log.Infow("network", "traceid", traceID, "status", "tx rejected", "id", tx.IDHex(), "reason", "double spend")
				drop = append(drop, tx.IDHex())
				continue Pending
			}
			ops = append(ops, op)
		}
		for _, op := range ops {
			claimed[op] = true
		}

		txs = append(txs, tx)
	}

	return txs, drop
}

func queued(queue [][]byte, hash []byte) bool {
	for _, h := range queue {
		if bytes.Equal(h, hash) {
			return true
		}
	}
	return false
}

func (s *Server) removeFromMempool(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.mempool, id)
	}
}
