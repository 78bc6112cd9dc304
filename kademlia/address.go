// Package kademlia implements the routing table a peer uses to remember
// other peers, rank them by XOR-style distance to a target identifier, and
// persist that knowledge across restarts.
package kademlia

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/bits"
)

// AddressBits is the identifier bit-width B. Buckets arrays are sized B+1.
const AddressBits = 160

// AddressBytes is B expressed in bytes.
const AddressBytes = AddressBits / 8

// Address is a peer's opaque public identity — a variable-length byte
// string produced by a collaborator outside this package (key generation,
// transport handshake, ...). The routing table only ever hashes it down
// to a KademliaAddress.
type Address []byte

// Equal reports whether two addresses are byte-for-byte identical.
func (a Address) Equal(other Address) bool { return bytes.Equal(a, other) }

// Less gives a stable, total, byte-lexicographic ordering used to break
// distance ties.
func (a Address) Less(other Address) bool { return bytes.Compare(a, other) < 0 }

func (a Address) String() string { return hex.EncodeToString(a) }

// AddressFromHex parses the hex encoding produced by Address.String.
func AddressFromHex(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: InvalidArgument, Err: fmt.Errorf("parse address %q: %w", s, err)}
	}
	return Address(b), nil
}

// KademliaAddress is the fixed-width hashed form of an Address used as the
// element of the XOR metric space. The hash (SHA-1, matching the original
// muddle implementation) must be deterministic across restarts so a
// persisted table deserializes into the same bucket layout.
type KademliaAddress [AddressBytes]byte

// NewKademliaAddress hashes addr into the fixed-width metric space.
func NewKademliaAddress(addr Address) KademliaAddress {
	return KademliaAddress(sha1.Sum(addr))
}

func (k KademliaAddress) xor(other KademliaAddress) KademliaAddress {
	var out KademliaAddress
	for i := range k {
		out[i] = k[i] ^ other[i]
	}
	return out
}

// LogDistance returns the bit position of the most significant set bit of
// (k XOR other), counted from the least significant bit, or 0 when the
// addresses are equal. Range: [0, AddressBits].
func (k KademliaAddress) LogDistance(other KademliaAddress) int {
	d := k.xor(other)
	for i := 0; i < AddressBytes; i++ {
		if d[i] != 0 {
			return AddressBits - (i*8 + bits.LeadingZeros8(d[i]))
		}
	}
	return 0
}

// Hamming returns the popcount of (k XOR other). Range: [0, AddressBits].
func (k KademliaAddress) Hamming(other KademliaAddress) int {
	d := k.xor(other)
	count := 0
	for _, b := range d {
		count += bits.OnesCount8(b)
	}
	return count
}

// Equal is byte equality; KademliaAddress is comparable directly (k == other)
// but this spells out intent at call sites.
func (k KademliaAddress) Equal(other KademliaAddress) bool { return k == other }

// Less is the byte-lexicographic tie-break ordering.
func (k KademliaAddress) Less(other KademliaAddress) bool {
	return bytes.Compare(k[:], other[:]) < 0
}

func (k KademliaAddress) String() string { return hex.EncodeToString(k[:]) }
