package kademlia

import "testing"

func kadFromByte(b byte) KademliaAddress {
	var k KademliaAddress
	k[len(k)-1] = b
	return k
}

func TestLogDistanceOrdering(t *testing.T) {
	own := kadFromByte(0x00)
	p1 := kadFromByte(0x01)
	p2 := kadFromByte(0x02)
	p3 := kadFromByte(0x04)

	d1 := own.LogDistance(p1)
	d2 := own.LogDistance(p2)
	d3 := own.LogDistance(p3)

	if !(d1 < d2 && d2 < d3) {
		t.Fatalf("expected log-distance order d1<d2<d3, got %d %d %d", d1, d2, d3)
	}
}

func TestHammingOrderingWithTieBreak(t *testing.T) {
	target := kadFromByte(0x03)
	p1 := kadFromByte(0x01)
	p2 := kadFromByte(0x02)
	p3 := kadFromByte(0x04)

	h1 := target.Hamming(p1)
	h2 := target.Hamming(p2)
	h3 := target.Hamming(p3)

	if h1 != 1 || h2 != 1 || h3 != 3 {
		t.Fatalf("hamming distances = %d %d %d, want 1 1 3", h1, h2, h3)
	}
	if !p1.Less(p2) {
		t.Fatalf("expected the p1/p2 tie to be broken by byte order with p1 first")
	}
}

func TestKademliaAddressEqual(t *testing.T) {
	a := NewKademliaAddress(Address{1, 2, 3})
	b := NewKademliaAddress(Address{1, 2, 3})
	c := NewKademliaAddress(Address{1, 2, 4})
	if !a.Equal(b) {
		t.Fatalf("expected equal addresses from identical input")
	}
	if a.Equal(c) {
		t.Fatalf("expected different addresses from different input")
	}
}

func TestAddressFromHexRoundTrip(t *testing.T) {
	addr := Address{0xde, 0xad, 0xbe, 0xef}
	parsed, err := AddressFromHex(addr.String())
	if err != nil {
		t.Fatalf("AddressFromHex: %v", err)
	}
	if !addr.Equal(parsed) {
		t.Fatalf("round trip mismatch: got %s, want %s", parsed, addr)
	}
}

func TestAddressFromHexInvalid(t *testing.T) {
	if _, err := AddressFromHex("not-hex"); err == nil {
		t.Fatalf("expected error for invalid hex")
	}
}
