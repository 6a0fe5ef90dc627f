// Package wallet manages secp256k1 key pairs and the Base58Check addresses
// derived from them.
package wallet

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160"
)

const (
	version            = byte(0x00)
	addressChecksumLen = 4
)

// ErrInvalidAddress is returned for addresses that fail decoding or the
// checksum test.
var ErrInvalidAddress = errors.New("invalid address")

// Wallet holds a private key and the uncompressed public key derived from it.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  []byte
}

// NewWallet generates a fresh key pair.
func NewWallet() (*Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	return FromPrivateKey(privateKey), nil
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(privateKey *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  crypto.FromECDSAPub(&privateKey.PublicKey),
	}
}

// GetAddress returns the Base58Check address of the wallet.
func (w *Wallet) GetAddress() string {
	return AddressFromPubKeyHash(HashPubKey(w.PublicKey))
}

// PubKeyHash returns the hash outputs paying this wallet are locked to.
func (w *Wallet) PubKeyHash() []byte {
	return HashPubKey(w.PublicKey)
}

// HashPubKey returns RIPEMD160(SHA256(pubKey)).
func HashPubKey(pubKey []byte) []byte {
	publicSHA256 := sha256.Sum256(pubKey)

	hasher := ripemd160.New()
	hasher.Write(publicSHA256[:])

	return hasher.Sum(nil)
}

// AddressFromPubKeyHash encodes version, hash and checksum in Base58.
func AddressFromPubKeyHash(pubKeyHash []byte) string {
	versionedPayload := append([]byte{version}, pubKeyHash...)
	fullPayload := append(versionedPayload, checksum(versionedPayload)...)

	return string(Base58Encode(fullPayload))
}

// PubKeyHashFromAddress validates address and extracts its public key hash.
func PubKeyHashFromAddress(address string) ([]byte, error) {
	fullPayload, err := Base58Decode([]byte(address))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddress, address, err)
	}
	if len(fullPayload) <= 1+addressChecksumLen {
		return nil, fmt.Errorf("%w %q: too short", ErrInvalidAddress, address)
	}

	split := len(fullPayload) - addressChecksumLen
	versionedPayload, actualChecksum := fullPayload[:split], fullPayload[split:]

	if versionedPayload[0] != version {
		return nil, fmt.Errorf("%w %q: unknown version %d", ErrInvalidAddress, address, versionedPayload[0])
	}
	if !bytes.Equal(actualChecksum, checksum(versionedPayload)) {
		return nil, fmt.Errorf("%w %q: checksum mismatch", ErrInvalidAddress, address)
	}

	return versionedPayload[1:], nil
}

// ValidateAddress reports whether address decodes with a valid checksum.
func ValidateAddress(address string) bool {
	_, err := PubKeyHashFromAddress(address)
	return err == nil
}

// checksum is the first bytes of a double SHA256 of payload.
func checksum(payload []byte) []byte {
	firstSHA := sha256.Sum256(payload)
	secondSHA := sha256.Sum256(firstSHA[:])

	return secondSHA[:addressChecksumLen]
}
