package kademlia

import "testing"

func peer(addrByte byte) *PeerInfo {
	return &PeerInfo{Address: Address{addrByte}}
}

func TestBucketInsertOrdersFreshestFirst(t *testing.T) {
	b := newBucket(3)
	b.insert(peer(1))
	b.insert(peer(2))
	b.insert(peer(3))

	got := b.peersSnapshot()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Address[0] != 3 || got[2].Address[0] != 1 {
		t.Fatalf("expected freshest-first order, got %v %v %v",
			got[0].Address, got[1].Address, got[2].Address)
	}
}

func TestBucketEvictsOldestOnceFull(t *testing.T) {
	b := newBucket(2)
	b.insert(peer(1))
	b.insert(peer(2))
	evicted := b.insert(peer(3))

	if evicted == nil || evicted.Address[0] != 1 {
		t.Fatalf("expected peer 1 evicted, got %v", evicted)
	}
	if b.len() != 2 {
		t.Fatalf("len = %d, want 2", b.len())
	}
	if b.contains(Address{1}) {
		t.Fatalf("evicted peer still present")
	}
}

func TestBucketTouchRefreshesExistingWithoutGrowing(t *testing.T) {
	b := newBucket(2)
	p1 := peer(1)
	b.insert(p1)
	b.insert(peer(2))
	b.touch(p1)

	if b.len() != 2 {
		t.Fatalf("len = %d, want 2", b.len())
	}
	head, ok := b.head()
	if !ok || head.Address[0] != 1 {
		t.Fatalf("expected touched peer at head, got %v", head)
	}
}

func TestBucketRemove(t *testing.T) {
	b := newBucket(2)
	b.insert(peer(1))
	if !b.remove(Address{1}) {
		t.Fatalf("remove reported false for present address")
	}
	if b.remove(Address{1}) {
		t.Fatalf("remove reported true for already-removed address")
	}
	if b.len() != 0 {
		t.Fatalf("len = %d, want 0", b.len())
	}
}
