package network

// Inventory kinds.
const (
	KindBlock = "block"
	KindTx    = "tx"
)

// Version announces the protocol version and chain height of a node.
type Version struct {
	Version    int
	BestHeight int
	AddrFrom   string
}

// GetBlocks asks a node for the hashes of its chain.
type GetBlocks struct {
	AddrFrom string
}

// Inv advertises blocks or transactions by id.
type Inv struct {
	AddrFrom string
	Type     string
	Items    [][]byte
}

// GetData asks for one block or transaction by id.
type GetData struct {
	AddrFrom string
	Type     string
	ID       []byte
}

// BlockData carries one serialized block.
type BlockData struct {
	AddrFrom string
	Block    []byte
}

// Tx carries one serialized transaction.
type Tx struct {
	AddrFrom    string
	Transaction []byte
}

// Addr shares known node addresses.
type Addr struct {
	AddrList []string
}

func (Version) isMessage()   {}
func (GetBlocks) isMessage() {}
func (Inv) isMessage()       {}
func (GetData) isMessage()   {}
func (BlockData) isMessage() {}
func (Tx) isMessage()        {}
func (Addr) isMessage()      {}

// Command returns the wire tag of the message.
func (Version) Command() string   { return "version" }
func (GetBlocks) Command() string { return "getblocks" }
func (Inv) Command() string       { return "inv" }
func (GetData) Command() string   { return "getdata" }
func (BlockData) Command() string { return "block" }
func (Tx) Command() string        { return "tx" }
func (Addr) Command() string      { return "addr" }
