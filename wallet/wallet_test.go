package wallet

import (
	"bytes"
	"errors"
	"testing"
)

const (
	success = "✓"
	failed  = "✗"
)

func TestNewWallet(t *testing.T) {
	t.Log("Given the need to generate wallets.")
	{
		w, err := NewWallet()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a wallet: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to generate a wallet.", success)

		if len(w.PublicKey) != 65 || w.PublicKey[0] != 0x04 {
			t.Fatalf("\t%s\tShould hold an uncompressed public key, got %d bytes.", failed, len(w.PublicKey))
		}
		t.Logf("\t%s\tShould hold an uncompressed public key.", success)

		address := w.GetAddress()
		if !ValidateAddress(address) {
			t.Fatalf("\t%s\tShould produce a valid address: %s", failed, address)
		}
		t.Logf("\t%s\tShould produce a valid address.", success)

		if address != w.GetAddress() {
			t.Fatalf("\t%s\tShould produce a stable address.", failed)
		}
		t.Logf("\t%s\tShould produce a stable address.", success)

		w2, err := NewWallet()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to generate a second wallet: %v", failed, err)
		}
		if w2.GetAddress() == address {
			t.Fatalf("\t%s\tShould produce distinct addresses for distinct keys.", failed)
		}
		t.Logf("\t%s\tShould produce distinct addresses for distinct keys.", success)
	}
}

func TestPubKeyHashFromAddress(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("generating wallet: %v", err)
	}

	pkh, err := PubKeyHashFromAddress(w.GetAddress())
	if err != nil {
		t.Fatalf("decoding own address: %v", err)
	}
	if !bytes.Equal(pkh, w.PubKeyHash()) {
		t.Fatalf("got hash %x, exp %x", pkh, w.PubKeyHash())
	}
	if len(pkh) != 20 {
		t.Fatalf("got hash of %d bytes, exp 20", len(pkh))
	}

	address := w.GetAddress()
	tampered := []byte(address)
	if tampered[len(tampered)-1] == 'z' {
		tampered[len(tampered)-1] = 'y'
	} else {
		tampered[len(tampered)-1] = 'z'
	}

	tests := []struct {
		name    string
		address string
	}{
		{"empty", ""},
		{"short", "1111"},
		{"bad-char", "0OIl"},
		{"bad-checksum", string(tampered)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PubKeyHashFromAddress(tt.address)
			if !errors.Is(err, ErrInvalidAddress) {
				t.Fatalf("got %v, exp ErrInvalidAddress", err)
			}
			if ValidateAddress(tt.address) {
				t.Fatalf("address %q should not validate", tt.address)
			}
		})
	}
}

func TestHashPubKey(t *testing.T) {
	pub := []byte("test_public_key")

	h1 := HashPubKey(pub)
	h2 := HashPubKey(pub)
	if len(h1) != 20 {
		t.Fatalf("got %d bytes, exp 20", len(h1))
	}
	if !bytes.Equal(h1, h2) {
		t.Fatal("same input should produce the same hash")
	}
	if bytes.Equal(h1, HashPubKey([]byte("different_public_key"))) {
		t.Fatal("different inputs should produce different hashes")
	}
}

func TestBase58(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		encoded string
	}{
		{"empty", []byte{}, ""},
		{"hello", []byte("hello world"), "StV1DL6CwTryKyV"},
		{"leading-zeros", []byte{0, 0, 1}, "112"},
		{"single-zero", []byte{0}, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Base58Encode(tt.data)
			if string(got) != tt.encoded {
				t.Fatalf("encode: got %q, exp %q", got, tt.encoded)
			}

			decoded, err := Base58Decode(got)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(decoded, tt.data) {
				t.Fatalf("decode: got %v, exp %v", decoded, tt.data)
			}
		})
	}
}

func TestChecksum(t *testing.T) {
	payload := []byte("test_payload")

	c1 := checksum(payload)
	if len(c1) != addressChecksumLen {
		t.Fatalf("got checksum length %d, exp %d", len(c1), addressChecksumLen)
	}
	if !bytes.Equal(c1, checksum(payload)) {
		t.Fatal("same input should produce the same checksum")
	}
}
