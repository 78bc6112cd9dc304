package kademlia

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config tunes a Table. Zero-value fields fall back to the defaults used
// throughout this package's tests and the reference implementation this
// was ported from: B=160 address bits, K=20 per-bucket capacity, and a
// liveness threshold of 0.1.
type Config struct {
	BucketSize        int
	LivenessThreshold float64
	Clock             Clock
}

func (c Config) withDefaults() Config {
	if c.BucketSize <= 0 {
		c.BucketSize = 20
	}
	if c.LivenessThreshold <= 0 {
		c.LivenessThreshold = 0.1
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Table is a peer's routing table: a dual, parallel bucket index over
// peers keyed by XOR distance to the table's own address, one array
// ordered by log-distance and one by Hamming distance, plus an overlay of
// "desired" peers the caller wants to stay connected to regardless of
// distance.
//
// All index state (buckets, registry, firstNonEmptyBucket) is guarded by
// mu. The desired overlay is guarded by its own mutex, desiredMu. The
// canonical lock order, when both are needed, is mu first, desiredMu
// second.
type Table struct {
	own    Address
	ownKad KademliaAddress

	bucketSize        int
	livenessThreshold float64
	clock             Clock

	mu                  sync.Mutex
	byLogarithm         []*Bucket
	byHamming           []*Bucket
	reg                 *registry
	firstNonEmptyBucket int

	desiredMu        sync.Mutex
	desiredPeers     map[string]time.Time
	desiredUris      map[string]time.Time
	connectionExpiry time.Duration

	cacheFile     string
	encryptionKey []byte
}

// DefaultDesiredExpiry is the desired-expiry default duration construction
// code may pass to AddDesiredPeer/AddDesiredPeerHint/AddDesiredPeerURI when
// the caller has no more specific lifetime in mind.
const DefaultDesiredExpiry = 24 * time.Hour

// NewTable builds a Table for own, the local peer's address.
func NewTable(own Address, cfg Config) *Table {
	cfg = cfg.withDefaults()
	n := AddressBits + 1
	t := &Table{
		own:                 own,
		ownKad:              NewKademliaAddress(own),
		bucketSize:          cfg.BucketSize,
		livenessThreshold:   cfg.LivenessThreshold,
		clock:               cfg.Clock,
		byLogarithm:         make([]*Bucket, n),
		byHamming:           make([]*Bucket, n),
		reg:                 newRegistry(),
		firstNonEmptyBucket: n - 1,
		desiredPeers:        make(map[string]time.Time),
		desiredUris:         make(map[string]time.Time),
		connectionExpiry:    24 * time.Hour,
	}
	for i := range t.byLogarithm {
		t.byLogarithm[i] = newBucket(cfg.BucketSize)
		t.byHamming[i] = newBucket(cfg.BucketSize)
	}
	return t
}

// ReportExistence records that a peer exists, inserting it into the table
// if new or refreshing its position if already known. It does not mark
// the peer as verified or alive — that is ReportLiveliness's job.
func (t *Table) ReportExistence(addr Address, uri Uri, port int) *PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.reg.get(addr)
	if !ok {
		info = &PeerInfo{
			Address:     append(Address(nil), addr...),
			LastHeard:   t.clock.Now(),
			Liveness:    0.5,
			UptimeStart: t.clock.Now(),
		}
		t.reg.put(info)
	}
	info.LastHeard = t.clock.Now()
	if !uri.IsZero() {
		t.reg.setURI(info, uri)
	}
	if port != 0 {
		info.Ports = appendUniquePort(info.Ports, port)
	}
	t.insertIntoBucketsLocked(info)
	t.refreshFirstNonEmptyLocked()
	return info.clone()
}

// ReportLiveliness marks addr as alive right now, bumping its liveness
// score and moving it to the front of its buckets.
func (t *Table) ReportLiveliness(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.reg.get(addr)
	if !ok {
		return &Error{Kind: NotFound, Err: errPeerNotFound(addr)}
	}
	info.LastHeard = t.clock.Now()
	info.Liveness = 1
	info.Verified = true
	t.insertIntoBucketsLocked(info)
	t.refreshFirstNonEmptyLocked()
	return nil
}

// ReportFailure penalizes addr's liveness score by livenessThreshold. A
// score that reaches zero removes the peer from the table entirely —
// from both bucket arrays and the registry.
func (t *Table) ReportFailure(addr Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.reg.get(addr)
	if !ok {
		return &Error{Kind: NotFound, Err: errPeerNotFound(addr)}
	}
	info.Liveness -= t.livenessThreshold
	if info.Liveness <= 0 {
		info.Liveness = 0
		logger.Info("peer removed after liveness exhausted",
			zap.String("address", addr.String()))
		t.dropEvictedLocked(info)
		t.refreshFirstNonEmptyLocked()
		return nil
	}
	return nil
}

// Ping records the caller's claimed ports against its PeerInfo, creating
// the entry (at the initial liveness score, Unknown→Known) if addr has
// never been reported before, and returns the table's own Address so the
// remote end can confirm it reached the peer it meant to. It does not
// touch bucket membership — that is ReportExistence's job.
func (t *Table) Ping(addr Address, ports []int) Address {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.reg.get(addr)
	if !ok {
		info = &PeerInfo{
			Address:     append(Address(nil), addr...),
			LastHeard:   t.clock.Now(),
			Liveness:    0.5,
			UptimeStart: t.clock.Now(),
		}
		t.reg.put(info)
	}
	for _, p := range ports {
		info.Ports = appendUniquePort(info.Ports, p)
	}
	return append(Address(nil), t.own...)
}

// GetPeerDetails returns everything known about addr.
func (t *Table) GetPeerDetails(addr Address) (*PeerInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.reg.get(addr)
	if !ok {
		return nil, &Error{Kind: NotFound, Err: errPeerNotFound(addr)}
	}
	return info.clone(), nil
}

// HasUri reports whether uri is bound to any known peer.
func (t *Table) HasUri(uri Uri) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.reg.getByURI(uri)
	return ok
}

// GetAddressFromUri resolves uri to the address currently bound to it.
func (t *Table) GetAddressFromUri(uri Uri) (Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.reg.getByURI(uri)
	if !ok {
		return nil, &Error{Kind: NotFound, Err: errURINotFound(uri)}
	}
	return append(Address(nil), info.Address...), nil
}

// GetUri resolves addr to its currently bound URI.
func (t *Table) GetUri(addr Address) (Uri, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.reg.get(addr)
	if !ok || info.URI == nil {
		return Uri{}, &Error{Kind: NotFound, Err: errPeerNotFound(addr)}
	}
	return *info.URI, nil
}

// Size returns the number of peers in the registry. This includes peers
// Ping created that are not in any bucket.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reg.byAddress)
}

// ActiveBuckets returns the number of non-empty log-distance buckets.
func (t *Table) ActiveBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, b := range t.byLogarithm {
		if b.len() > 0 {
			count++
		}
	}
	return count
}

// FirstNonEmptyBucket returns the log-distance index of the closest
// non-empty bucket, i.e. the most useful bucket to query first.
func (t *Table) FirstNonEmptyBucket() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstNonEmptyBucket
}

// ScanOptions controls how FindPeerAt/FindPeerByHammingAt scan outward
// from the starting bucket. The zero value disables both directions, so
// only the starting bucket is scanned; a caller that wants both directions
// enabled must say so explicitly, e.g. via DefaultScanOptions.
type ScanOptions struct {
	// ScanLeft/ScanRight enable scanning toward lower/higher bucket
	// indices than the start index. Disabling one narrows a lookup to a
	// single side of the table, mainly useful for tests that want to
	// pin down which neighboring buckets contributed candidates.
	ScanLeft  bool
	ScanRight bool
	// BucketIndex, when non-nil, replaces the log-distance (or
	// Hamming-distance) index the scan would otherwise compute from the
	// target, so a test can drive the scan from a chosen bucket without
	// constructing an address that happens to hash there.
	BucketIndex *int
}

// DefaultScanOptions scans outward in both directions from the bucket the
// target naturally falls into.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{ScanLeft: true, ScanRight: true}
}

// FindPeer returns up to count peers closest to target by log-distance,
// ordered nearest-first.
func (t *Table) FindPeer(target Address, count int) []*PeerInfo {
	return t.FindPeerAt(NewKademliaAddress(target), count, DefaultScanOptions())
}

// FindPeerAt is FindPeer for a caller that already has the target's
// KademliaAddress (e.g. a value identifier rather than a peer address).
func (t *Table) FindPeerAt(targetKad KademliaAddress, count int, opts ScanOptions) []*PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	startIdx := t.ownKad.LogDistance(targetKad)
	if opts.BucketIndex != nil {
		startIdx = *opts.BucketIndex
	}
	candidates := t.scanBucketsLocked(t.byLogarithm, startIdx, opts.ScanLeft, opts.ScanRight)
	sort.Slice(candidates, func(i, j int) bool {
		di := NewKademliaAddress(candidates[i].Address).LogDistance(targetKad)
		dj := NewKademliaAddress(candidates[j].Address).LogDistance(targetKad)
		if di != dj {
			return di < dj
		}
		return candidates[i].Address.Less(candidates[j].Address)
	})
	return cloneTop(candidates, count)
}

// FindPeerByHamming returns up to count peers closest to target by
// Hamming distance, ordered nearest-first.
func (t *Table) FindPeerByHamming(target Address, count int) []*PeerInfo {
	return t.FindPeerByHammingAt(NewKademliaAddress(target), count, DefaultScanOptions())
}

// FindPeerByHammingAt is FindPeerByHamming for a caller that already has
// the target's KademliaAddress.
func (t *Table) FindPeerByHammingAt(targetKad KademliaAddress, count int, opts ScanOptions) []*PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	startIdx := t.ownKad.Hamming(targetKad)
	if opts.BucketIndex != nil {
		startIdx = *opts.BucketIndex
	}
	candidates := t.scanBucketsLocked(t.byHamming, startIdx, opts.ScanLeft, opts.ScanRight)
	sort.Slice(candidates, func(i, j int) bool {
		di := NewKademliaAddress(candidates[i].Address).Hamming(targetKad)
		dj := NewKademliaAddress(candidates[j].Address).Hamming(targetKad)
		if di != dj {
			return di < dj
		}
		return candidates[i].Address.Less(candidates[j].Address)
	})
	return cloneTop(candidates, count)
}

// scanBucketsLocked gathers peers starting at startIdx and expanding
// outward to neighboring buckets until enough candidates accumulate or
// the whole array has been visited. Either direction can be disabled by
// the caller. mu must be held.
func (t *Table) scanBucketsLocked(buckets []*Bucket, startIdx int, scanLeft, scanRight bool) []*PeerInfo {
	var out []*PeerInfo
	seen := make(map[string]bool)
	add := func(idx int) {
		if idx < 0 || idx >= len(buckets) {
			return
		}
		for _, p := range buckets[idx].peersSnapshot() {
			if !seen[string(p.Address)] {
				seen[string(p.Address)] = true
				out = append(out, p)
			}
		}
	}
	add(startIdx)
	for offset := 1; offset < len(buckets); offset++ {
		leftIdx, rightIdx := startIdx-offset, startIdx+offset
		if !scanLeft {
			leftIdx = -1
		}
		if !scanRight {
			rightIdx = len(buckets)
		}
		if leftIdx < 0 && rightIdx >= len(buckets) {
			break
		}
		add(leftIdx)
		add(rightIdx)
		if len(out) >= t.bucketSize*3 {
			break
		}
	}
	return out
}

func cloneTop(peers []*PeerInfo, count int) []*PeerInfo {
	if count > 0 && count < len(peers) {
		peers = peers[:count]
	}
	out := make([]*PeerInfo, len(peers))
	for i, p := range peers {
		out[i] = p.clone()
	}
	return out
}

// insertIntoBucketsLocked places info into both the log-distance and
// Hamming-distance buckets it belongs in. If either bucket was already at
// capacity, the peer evicted to make room is dropped from the table
// entirely — from the other index and the registry too — since a peer no
// bucket holds is not routable. mu must be held.
func (t *Table) insertIntoBucketsLocked(info *PeerInfo) {
	logIdx := t.ownKad.LogDistance(NewKademliaAddress(info.Address))
	hamIdx := t.ownKad.Hamming(NewKademliaAddress(info.Address))

	logEvicted := t.byLogarithm[logIdx].touch(info)
	hamEvicted := t.byHamming[hamIdx].touch(info)

	t.dropEvictedLocked(logEvicted)
	t.dropEvictedLocked(hamEvicted)
}

// dropEvictedLocked removes an evicted peer from the table entirely: both
// bucket arrays and the registry.
func (t *Table) dropEvictedLocked(evicted *PeerInfo) {
	if evicted == nil {
		return
	}
	evLog := t.ownKad.LogDistance(NewKademliaAddress(evicted.Address))
	evHam := t.ownKad.Hamming(NewKademliaAddress(evicted.Address))
	t.byLogarithm[evLog].remove(evicted.Address)
	t.byHamming[evHam].remove(evicted.Address)
	t.reg.deleteAddress(evicted.Address)
	logger.Debug("peer evicted from routing table", zap.String("address", evicted.Address.String()))
}

// refreshFirstNonEmptyLocked recomputes firstNonEmptyBucket. mu must be
// held.
func (t *Table) refreshFirstNonEmptyLocked() {
	for i, b := range t.byLogarithm {
		if b.len() > 0 {
			t.firstNonEmptyBucket = i
			return
		}
	}
	t.firstNonEmptyBucket = len(t.byLogarithm) - 1
}

// ProposePermanentConnections returns one peer per active bucket, the
// freshest entry in each, as a candidate set worth holding a long-lived
// connection to. The result never contains the same address twice.
func (t *Table) ProposePermanentConnections() []*PeerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool)
	var out []*PeerInfo
	for _, b := range t.byLogarithm {
		head, ok := b.head()
		if !ok || seen[string(head.Address)] {
			continue
		}
		seen[string(head.Address)] = true
		out = append(out, head.clone())
	}
	return out
}

func appendUniquePort(ports []int, port int) []int {
	for _, p := range ports {
		if p == port {
			return ports
		}
	}
	return append(ports, port)
}
