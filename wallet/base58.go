package wallet

import (
	"bytes"
	"fmt"
	"math/big"
)

const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var bigBase = big.NewInt(int64(len(alphabet)))

// Base58Encode encodes input with the Bitcoin alphabet. Leading zero bytes
// become leading '1' characters.
func Base58Encode(input []byte) []byte {
	var result []byte

	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(input)
	mod := new(big.Int)
	for num.Sign() > 0 {
		num.DivMod(num, bigBase, mod)
		result = append(result, alphabet[mod.Int64()])
	}

	for i := 0; i < zeros; i++ {
		result = append(result, alphabet[0])
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

// Base58Decode reverses Base58Encode.
func Base58Decode(input []byte) ([]byte, error) {
	zeros := 0
	for zeros < len(input) && input[zeros] == alphabet[0] {
		zeros++
	}

	result := new(big.Int)
	for _, b := range input[zeros:] {
		charIndex := bytes.IndexByte([]byte(alphabet), b)
		if charIndex < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", b)
		}
		result.Mul(result, bigBase)
		result.Add(result, big.NewInt(int64(charIndex)))
	}

	decoded := result.Bytes()
	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)

	return out, nil
}
