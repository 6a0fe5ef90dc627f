package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mini-ledger/blockchain"
	"mini-ledger/events"
	"mini-ledger/network/peer"
	"mini-ledger/wallet"
)

// State is the view of a running node the handlers read from.
type State interface {
	NodeAddress() string
	IsMining() bool
	Peers() []peer.Peer
	Mempool() []blockchain.Transaction
	Blockchain() *blockchain.Blockchain
	UTXOSet() *blockchain.UTXOSet
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State State
	Evts  *events.Feed
}

// Routes binds all the node routes.
func Routes(cfg Config) *App {
	app := NewApp(
		Logger(cfg.Log),
		Errors(cfg.Log),
		Cors("*"),
	)

	h := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	const version = "v1"

	app.Handle(http.MethodGet, version, "/peers", h.Peers)
	app.Handle(http.MethodGet, version, "/status", h.Status)
	app.Handle(http.MethodGet, version, "/balance/:address", h.Balance)
	app.Handle(http.MethodGet, version, "/mempool", h.Mempool)
	app.Handle(http.MethodGet, version, "/events", h.Events)

	return app
}

// Handlers manages the set of node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State State
	WS    websocket.Upgrader
	Evts  *events.Feed
}

// Peers returns the peer registry.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	peers := h.State.Peers()
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })

	return Respond(ctx, w, peers, http.StatusOK)
}

// Status returns the height and tip of the chain and the node's workload.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	bc := h.State.Blockchain()

	tip, err := bc.LastBlock()
	if err != nil {
		return err
	}

	utxoTxs, err := h.State.UTXOSet().CountTransactions()
	if err != nil {
		return err
	}

	st := status{
		Node:       h.State.NodeAddress(),
		Mining:     h.State.IsMining(),
		Height:     tip.Height,
		Tip:        hexutil.Encode(tip.Hash),
		Difficulty: bc.Difficulty(),
		Mempool:    len(h.State.Mempool()),
		Peers:      len(h.State.Peers()),
		UTXOTxs:    utxoTxs,
		Watchers:   h.Evts.Subscribers(),
		Dropped:    h.Evts.Dropped(),
	}

	return Respond(ctx, w, st, http.StatusOK)
}

// Balance returns the balance of the address in the route.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address := Param(r, "address")

	pubKeyHash, err := wallet.PubKeyHashFromAddress(address)
	if err != nil {
		return NewTrusted(err, http.StatusBadRequest)
	}

	amount, err := h.State.UTXOSet().Balance(pubKeyHash)
	if err != nil {
		return err
	}

	return Respond(ctx, w, balance{Address: address, Balance: amount}, http.StatusOK)
}

// Mempool returns the transactions waiting to be mined.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mempool := h.State.Mempool()

	txs := make([]tx, 0, len(mempool))
	for _, tran := range mempool {
		txs = append(txs, toTx(tran))
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].ID < txs[j].ID })

	return Respond(ctx, w, txs, http.StatusOK)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := GetValues(ctx)
	if err != nil {
		return err
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch, err := h.Evts.Subscribe(v.TraceID)
	if err != nil {
		return err
	}
	defer h.Evts.Unsubscribe(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				h.Log.Infow("events", "traceid", v.TraceID, "status", "client gone", "ERROR", err)
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}
