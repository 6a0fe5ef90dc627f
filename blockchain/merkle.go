package blockchain

import (
	"crypto/sha256"
)

// MerkleTree is a binary hash tree over the serialized transactions of a block.
type MerkleTree struct {
	RootNode *MerkleNode
}

// MerkleNode is a node of a MerkleTree.
type MerkleNode struct {
	Left  *MerkleNode
	Right *MerkleNode
	Data  []byte
}

// NewMerkleTree builds a tree from data. Odd levels duplicate their last node.
func NewMerkleTree(data [][]byte) *MerkleTree {
	if len(data) == 0 {
		return &MerkleTree{NewMerkleNode(nil, nil, nil)}
	}

	nodes := make([]*MerkleNode, 0, len(data))
	for _, datum := range data {
		nodes = append(nodes, NewMerkleNode(nil, nil, datum))
	}

	for len(nodes) > 1 {
		if len(nodes)%2 != 0 {
			nodes = append(nodes, nodes[len(nodes)-1])
		}

		level := make([]*MerkleNode, 0, len(nodes)/2)
		for i := 0; i < len(nodes); i += 2 {
			level = append(level, NewMerkleNode(nodes[i], nodes[i+1], nil))
		}
		nodes = level
	}

	return &MerkleTree{nodes[0]}
}

// NewMerkleNode hashes data for a leaf, or the concatenated child hashes for
// an inner node.
func NewMerkleNode(left, right *MerkleNode, data []byte) *MerkleNode {
	node := MerkleNode{Left: left, Right: right}

	if left == nil && right == nil {
		hash := sha256.Sum256(data)
		node.Data = hash[:]
		return &node
	}

	prevHashes := make([]byte, 0, len(left.Data)+len(right.Data))
	prevHashes = append(prevHashes, left.Data...)
	prevHashes = append(prevHashes, right.Data...)
	hash := sha256.Sum256(prevHashes)
	node.Data = hash[:]

	return &node
}
