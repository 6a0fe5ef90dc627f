// Package peer maintains the set of known nodes and what was last heard
// from each of them.
package peer

import (
	"sort"
	"time"
)

// Peer is a known node of the network.
type Peer struct {
	Address    string    `json:"address"`
	Version    int       `json:"version,omitempty"`
	BestHeight int       `json:"best_height"`
	LastSeen   time.Time `json:"last_seen,omitzero"`
}

// New constructs a peer that has not been heard from yet.
func New(address string) Peer {
	return Peer{Address: address}
}

// Match reports whether the peer lives at address.
func (p Peer) Match(address string) bool {
	return p.Address == address
}

// =============================================================================

// Set is the registry of known peers keyed by address. It is not safe for
// concurrent use; the owner guards it with its own lock.
type Set struct {
	peers map[string]Peer
}

// NewSet constructs a set seeded with addresses.
func NewSet(addresses ...string) *Set {
	s := Set{peers: make(map[string]Peer)}
	for _, address := range addresses {
		s.Add(address)
	}
	return &s
}

// Add registers address. It reports whether the address was new.
func (s *Set) Add(address string) bool {
	if address == "" {
		return false
	}
	if _, exists := s.peers[address]; exists {
		return false
	}

	s.peers[address] = New(address)
	return true
}

// Seen registers address if needed and records the version and height it
// announced.
func (s *Set) Seen(address string, version, bestHeight int) {
	if address == "" {
		return
	}

	p := s.peers[address]
	p.Address = address
	p.Version = version
	p.BestHeight = bestHeight
	p.LastSeen = time.Now()
	s.peers[address] = p
}

// Remove drops address. It reports whether the address was known.
func (s *Set) Remove(address string) bool {
	if _, exists := s.peers[address]; !exists {
		return false
	}

	delete(s.peers, address)
	return true
}

// Has reports whether address is known.
func (s *Set) Has(address string) bool {
	_, exists := s.peers[address]
	return exists
}

// Len returns the number of known peers.
func (s *Set) Len() int {
	return len(s.peers)
}

// Addresses returns the known addresses in sorted order, leaving out the
// ones listed in exclude.
func (s *Set) Addresses(exclude ...string) []string {
	addresses := make([]string, 0, len(s.peers))

next:
	for address := range s.peers {
		for _, ex := range exclude {
			if address == ex {
				continue next
			}
		}
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	return addresses
}

// Copy returns the known peers sorted by address.
func (s *Set) Copy() []Peer {
	peers := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Address < peers[j].Address })

	return peers
}
