// Package network implements the node to node protocol that keeps ledgers
// in sync: one message per TCP connection, a 12 byte command tag followed by
// a gob payload.
package network

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-ledger/blockchain"
	"mini-ledger/network/peer"
)

const (
	protocol    = "tcp"
	nodeVersion = 1

	defaultMineThreshold = 2
)

// DefaultKnownNodes is the node every other node introduces itself to.
var DefaultKnownNodes = []string{"localhost:3000"}

// EventHandler receives human readable descriptions of what the node does.
type EventHandler func(v string, args ...any)

// Config holds what a Server needs to run.
type Config struct {
	NodeAddress     string
	MinerPubKeyHash []byte // empty for a node that does not mine
	KnownNodes      []string
	MineThreshold   int // mempool size that triggers mining
	DialTimeout     time.Duration
	IOTimeout       time.Duration
	Blockchain      *blockchain.Blockchain
	UTXOSet         *blockchain.UTXOSet
	Log             *zap.SugaredLogger
	EvHandler       EventHandler
}

// Server is a sync node. Peer registry, mempool and blocks in transit are
// guarded by a single mutex that is never held across network I/O or
// mining.
type Server struct {
	nodeAddress     string
	minerPubKeyHash []byte
	mineThreshold   int
	dialTimeout     time.Duration
	ioTimeout       time.Duration
	bc              *blockchain.Blockchain
	utxo            *blockchain.UTXOSet
	log             *zap.SugaredLogger
	evHandler       EventHandler

	mu              sync.Mutex
	peers           *peer.Set
	mempool         map[string]blockchain.Transaction
	blocksInTransit [][]byte
	mining          bool

	listener net.Listener
	wg       sync.WaitGroup
	shut     chan struct{}
}

// NewServer constructs a server. It does not listen until Start.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.NodeAddress == "":
		return nil, errors.New("node address is required")
	case cfg.Blockchain == nil || cfg.UTXOSet == nil:
		return nil, errors.New("blockchain and utxo set are required")
	case cfg.Log == nil:
		return nil, errors.New("logger is required")
	}

	mineThreshold := cfg.MineThreshold
	if mineThreshold <= 0 {
		mineThreshold = defaultMineThreshold
	}

	ev := cfg.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	s := Server{
		nodeAddress:     cfg.NodeAddress,
		minerPubKeyHash: cfg.MinerPubKeyHash,
		mineThreshold:   mineThreshold,
		dialTimeout:     cfg.DialTimeout,
		ioTimeout:       cfg.IOTimeout,
		bc:              cfg.Blockchain,
		utxo:            cfg.UTXOSet,
		log:             cfg.Log,
		evHandler:       ev,
		peers:           peer.NewSet(cfg.KnownNodes...),
		mempool:         make(map[string]blockchain.Transaction),
		shut:            make(chan struct{}),
	}

	return &s, nil
}

// Start listens on the node address, accepts connections in the background
// and introduces the node to its known peers. An address ending in ":0" is
// replaced by the one actually bound.
func (s *Server) Start() error {
	ln, err := net.Listen(protocol, s.nodeAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.nodeAddress, err)
	}
	s.listener = ln

	if strings.HasSuffix(s.nodeAddress, ":0") {
		s.nodeAddress = ln.Addr().String()
	}

	s.log.Infow("network", "status", "listening", "address", s.nodeAddress, "mining", s.IsMining())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.mu.Lock()
	s.peers.Remove(s.nodeAddress)
	known := s.peers.Addresses()
	s.mu.Unlock()

	for _, address := range known {
		s.SendVersion(address)
	}

	return nil
}

// Shutdown stops accepting connections and waits for running handlers.
func (s *Server) Shutdown() error {
	close(s.shut)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()

	s.log.Infow("network", "status", "stopped", "address", s.nodeAddress)
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shut:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Errorw("network", "status", "accept", "ERROR", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection reads one full message and dispatches it.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	traceID := uuid.NewString()

	if s.ioTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.ioTimeout))
	}

	request, err := io.ReadAll(conn)
	if err != nil {
		s.log.Errorw("network", "traceid", traceID, "status", "read", "remote", conn.RemoteAddr().String(), "ERROR", err)
		return
	}

	msg, err := DecodeMessage(request)
	if err != nil {
		s.log.Errorw("network", "traceid", traceID, "status", "decode", "remote", conn.RemoteAddr().String(), "ERROR", err)
		return
	}

	s.log.Infow("network", "traceid", traceID, "status", "received", "command", msg.Command())

	if err := s.dispatch(traceID, msg); err != nil {
		s.log.Errorw("network", "traceid", traceID, "status", "handle", "command", msg.Command(), "ERROR", err)
	}
}

func (s *Server) dispatch(traceID string, msg Message) error {
	switch m := msg.(type) {
	case Version:
		return s.handleVersion(traceID, m)
	case Addr:
		return s.handleAddr(traceID, m)
	case Inv:
		return s.handleInv(traceID, m)
	case GetBlocks:
		return s.handleGetBlocks(traceID, m)
	case GetData:
		return s.handleGetData(traceID, m)
	case Tx:
		return s.handleTx(traceID, m)
	case BlockData:
		return s.handleBlock(traceID, m)
	}

	return &UnknownCommandError{Command: msg.Command()}
}

// =============================================================================

// NodeAddress returns the address the node advertises.
func (s *Server) NodeAddress() string {
	return s.nodeAddress
}

// IsMining reports whether the node mines its mempool.
func (s *Server) IsMining() bool {
	return len(s.minerPubKeyHash) > 0
}

// Peers returns a copy of the peer registry.
func (s *Server) Peers() []peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.peers.Copy()
}

// Mempool returns the pending transactions.
func (s *Server) Mempool() []blockchain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs := make([]blockchain.Transaction, 0, len(s.mempool))
	for _, tx := range s.mempool {
		txs = append(txs, tx)
	}
	return txs
}

// Blockchain returns the ledger served by the node.
func (s *Server) Blockchain() *blockchain.Blockchain {
	return s.bc
}

// UTXOSet returns the index maintained by the node.
func (s *Server) UTXOSet() *blockchain.UTXOSet {
	return s.utxo
}

// =============================================================================

// Send opens a connection to address, writes msg and closes it.
func Send(address string, msg Message, dialTimeout, ioTimeout time.Duration) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}

	var conn net.Conn
	if dialTimeout > 0 {
		conn, err = net.DialTimeout(protocol, address, dialTimeout)
	} else {
		conn, err = net.Dial(protocol, address)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", blockchain.NewError(blockchain.ErrIO, "dial "+address), err)
	}
	defer conn.Close()

	if ioTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	}

	if _, err := io.Copy(conn, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: %v", blockchain.NewError(blockchain.ErrIO, "write "+address), err)
	}

	return nil
}

// send delivers msg to address. Sending to itself is a no-op. A peer that
// cannot be reached is dropped from the registry; the failure goes no
// further than the log.
func (s *Server) send(address string, msg Message) {
	if address == s.nodeAddress || address == "" {
		return
	}

	err := Send(address, msg, s.dialTimeout, s.ioTimeout)
	if err == nil {
		return
	}

	s.mu.Lock()
	removed := s.peers.Remove(address)
	s.mu.Unlock()

	s.log.Infow("network", "status", "peer unreachable", "address", address, "command", msg.Command(), "ERROR", err)
	if removed {
		s.evHandler("network: peer removed: %s", address)
	}
}

// SendVersion announces the local height to address.
func (s *Server) SendVersion(address string) {
	bestHeight, err := s.bc.GetBestHeight()
	if err != nil {
		s.log.Errorw("network", "status", "best height", "ERROR", err)
		return
	}

	s.send(address, Version{Version: nodeVersion, BestHeight: bestHeight, AddrFrom: s.nodeAddress})
}

// SendAddr shares the known peers, the node included, with address.
func (s *Server) SendAddr(address string) {
	s.mu.Lock()
	nodes := append(s.peers.Addresses(address), s.nodeAddress)
	s.mu.Unlock()

	s.send(address, Addr{AddrList: nodes})
}

// SendGetBlocks asks address for its block hashes.
func (s *Server) SendGetBlocks(address string) {
	s.send(address, GetBlocks{AddrFrom: s.nodeAddress})
}

// SendInv advertises items of kind to address.
func (s *Server) SendInv(address, kind string, items [][]byte) {
	s.send(address, Inv{AddrFrom: s.nodeAddress, Type: kind, Items: items})
}

// SendGetData requests one item of kind from address.
func (s *Server) SendGetData(address, kind string, id []byte) {
	s.send(address, GetData{AddrFrom: s.nodeAddress, Type: kind, ID: id})
}

// SendBlock delivers block to address.
func (s *Server) SendBlock(address string, block *blockchain.Block) {
	data, err := block.Serialize()
	if err != nil {
		s.log.Errorw("network", "status", "serialize block", "ERROR", err)
		return
	}

	s.send(address, BlockData{AddrFrom: s.nodeAddress, Block: data})
}

// SendTx delivers tx to address.
func (s *Server) SendTx(address string, tx *blockchain.Transaction) {
	data, err := tx.Serialize()
	if err != nil {
		s.log.Errorw("network", "status", "serialize tx", "ERROR", err)
		return
	}

	s.send(address, Tx{AddrFrom: s.nodeAddress, Transaction: data})
}
