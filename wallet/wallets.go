package wallet

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

const keyExtension = ".ecdsa"

// Wallets is a directory of private key files, one per address, named
// <address>.ecdsa.
type Wallets struct {
	dir     string
	Wallets map[string]*Wallet
}

// NewWallets loads every key file found in dir, creating dir if needed.
func NewWallets(dir string) (*Wallets, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating wallet dir: %w", err)
	}

	ws := Wallets{
		dir:     dir,
		Wallets: make(map[string]*Wallet),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading wallet dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != keyExtension {
			continue
		}

		privateKey, err := crypto.LoadECDSA(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loading key %s: %w", entry.Name(), err)
		}

		w := FromPrivateKey(privateKey)
		ws.Wallets[w.GetAddress()] = w
	}

	return &ws, nil
}

// CreateWallet generates a key, stores it and returns its address.
func (ws *Wallets) CreateWallet() (string, error) {
	w, err := NewWallet()
	if err != nil {
		return "", err
	}

	address := w.GetAddress()
	path := filepath.Join(ws.dir, address+keyExtension)

	if err := crypto.SaveECDSA(path, w.PrivateKey); err != nil {
		return "", fmt.Errorf("saving key: %w", err)
	}

	ws.Wallets[address] = w
	return address, nil
}

// GetAddresses returns the known addresses in sorted order.
func (ws *Wallets) GetAddresses() []string {
	addresses := make([]string, 0, len(ws.Wallets))
	for address := range ws.Wallets {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	return addresses
}

// GetWallet returns the wallet of address.
func (ws *Wallets) GetWallet(address string) (*Wallet, error) {
	w, ok := ws.Wallets[strings.TrimSpace(address)]
	if !ok {
		return nil, fmt.Errorf("no wallet for address %q in %s", address, ws.dir)
	}
	return w, nil
}
