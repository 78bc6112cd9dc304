package kademlia

// Bucket is an ordered, bounded sequence of PeerInfo references, freshest
// last-heard first. Callers must hold the owning Table's primary mutex —
// Bucket itself does no locking, matching the single-mutex model the
// routing index is built around.
type Bucket struct {
	capacity int
	peers    []*PeerInfo
}

func newBucket(capacity int) *Bucket {
	return &Bucket{capacity: capacity}
}

func (b *Bucket) indexOf(addr Address) int {
	for i, p := range b.peers {
		if p.Address.Equal(addr) {
			return i
		}
	}
	return -1
}

func (b *Bucket) contains(addr Address) bool {
	return b.indexOf(addr) >= 0
}

// touch moves an existing entry to the front and refreshes it in place, or
// inserts it as new. Returns the peer evicted to make room, if any.
func (b *Bucket) touch(info *PeerInfo) *PeerInfo {
	if i := b.indexOf(info.Address); i >= 0 {
		b.peers = append(b.peers[:i], b.peers[i+1:]...)
		b.peers = append([]*PeerInfo{info}, b.peers...)
		return nil
	}
	return b.insert(info)
}

// insert prepends info. When the bucket is already at capacity the tail
// (oldest last-heard) is dropped and returned — eager replacement, per the
// fixed eviction policy; no PING-before-evict path.
func (b *Bucket) insert(info *PeerInfo) *PeerInfo {
	var evicted *PeerInfo
	if len(b.peers) >= b.capacity {
		evicted = b.peers[len(b.peers)-1]
		b.peers = b.peers[:len(b.peers)-1]
	}
	b.peers = append([]*PeerInfo{info}, b.peers...)
	return evicted
}

func (b *Bucket) remove(addr Address) bool {
	i := b.indexOf(addr)
	if i < 0 {
		return false
	}
	b.peers = append(b.peers[:i], b.peers[i+1:]...)
	return true
}

// peersSnapshot returns a defensive copy of the slice of PeerInfo pointers
// (the pointers themselves are still shared-ownership objects owned by the
// registry, per the table's shared-resource policy).
func (b *Bucket) peersSnapshot() []*PeerInfo {
	out := make([]*PeerInfo, len(b.peers))
	copy(out, b.peers)
	return out
}

func (b *Bucket) len() int { return len(b.peers) }

// head returns the freshest entry, if any.
func (b *Bucket) head() (*PeerInfo, bool) {
	if len(b.peers) == 0 {
		return nil, false
	}
	return b.peers[0], true
}
