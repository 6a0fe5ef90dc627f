package blockchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

const (
	// MaxDifficulty is the number of hex digits of a sha256 digest.
	MaxDifficulty = 64

	defaultMaxNonce = math.MaxInt64
)

// ProofOfWork searches a nonce that gives the block hash the required number
// of leading zero hex digits.
type ProofOfWork struct {
	block    *Block
	MaxNonce int64
}

// NewProofOfWork returns the proof of work of b.
func NewProofOfWork(b *Block) *ProofOfWork {
	return &ProofOfWork{block: b, MaxNonce: defaultMaxNonce}
}

func validateDifficulty(difficulty int) error {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return NewError(ErrValidation, fmt.Sprintf("difficulty %d out of range 0..%d", difficulty, MaxDifficulty))
	}
	return nil
}

// prepareData joins the hashed fields of the block for a nonce.
func (pow *ProofOfWork) prepareData(txHash []byte, nonce int64) []byte {
	return bytes.Join(
		[][]byte{
			pow.block.PrevBlockHash,
			txHash,
			IntToHex(pow.block.Timestamp),
			IntToHex(int64(pow.block.Difficulty)),
			IntToHex(nonce),
		},
		[]byte{},
	)
}

func meetsTarget(hash []byte, difficulty int) bool {
	return strings.HasPrefix(hex.EncodeToString(hash), strings.Repeat("0", difficulty))
}

// Run performs the nonce search starting from zero.
func (pow *ProofOfWork) Run() (int64, []byte, error) {
	if err := validateDifficulty(pow.block.Difficulty); err != nil {
		return 0, nil, err
	}

	txHash, err := pow.block.HashTransactions()
	if err != nil {
		return 0, nil, err
	}

	for nonce := int64(0); nonce < pow.MaxNonce; nonce++ {
		hash := sha256.Sum256(pow.prepareData(txHash, nonce))
		if meetsTarget(hash[:], pow.block.Difficulty) {
			return nonce, hash[:], nil
		}
	}

	return 0, nil, NewError(ErrValidation, fmt.Sprintf("no nonce below %d satisfies difficulty %d", pow.MaxNonce, pow.block.Difficulty))
}

// Validate recomputes the block hash from its fields and checks both that it
// matches the stored hash and that it meets the difficulty.
func (pow *ProofOfWork) Validate() bool {
	if validateDifficulty(pow.block.Difficulty) != nil {
		return false
	}

	txHash, err := pow.block.HashTransactions()
	if err != nil {
		return false
	}

	hash := sha256.Sum256(pow.prepareData(txHash, pow.block.Nonce))

	return bytes.Equal(hash[:], pow.block.Hash) && meetsTarget(hash[:], pow.block.Difficulty)
}
