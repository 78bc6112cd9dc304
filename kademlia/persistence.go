package kademlia

import (
	"fmt"
	"os"
	"time"

	eciesgo "github.com/ecies/go/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Persisted tag numbers. These are wire-format constants: changing them
// breaks every cache file written by an earlier version.
const (
	tagByLogarithm     uint8 = 1
	tagByHamming       uint8 = 2
	tagKnownPeers      uint8 = 3
	tagKnownUris       uint8 = 4
	tagConnectionExp   uint8 = 5
	tagDesiredExpiry   uint8 = 6
	tagDesiredPeers    uint8 = 7
	tagDesiredUris     uint8 = 8
)

// peerRecord is the on-disk representation of a PeerInfo. The address
// itself is carried as the map key in tagKnownPeers, not inside the
// record.
type peerRecord struct {
	Ports       []int   `msgpack:"ports"`
	LastHeard   int64   `msgpack:"last_heard"`
	Liveness    float64 `msgpack:"liveness"`
	UptimeStart int64   `msgpack:"uptime_start"`
	Verified    bool    `msgpack:"verified"`
}

// SetCacheFile sets the path Dump writes to and Load reads from.
func (t *Table) SetCacheFile(path string) {
	t.cacheFile = path
}

// SetEncryptionKey sets the secret key Dump/Load use to protect the cache
// file (used as an ECIES private scalar, see encryptPayload). A nil key
// means the cache file is written in the clear.
func (t *Table) SetEncryptionKey(key []byte) {
	t.encryptionKey = key
}

// snapshotLocked builds the tagged map Dump writes to disk. Both mu and
// desiredMu must already be held.
func (t *Table) snapshotLocked() map[uint8]any {
	byLog := make(map[int][]string)
	for i, b := range t.byLogarithm {
		if b.len() == 0 {
			continue
		}
		addrs := make([]string, 0, b.len())
		for _, p := range b.peersSnapshot() {
			addrs = append(addrs, p.Address.String())
		}
		byLog[i] = addrs
	}
	byHam := make(map[int][]string)
	for i, b := range t.byHamming {
		if b.len() == 0 {
			continue
		}
		addrs := make([]string, 0, b.len())
		for _, p := range b.peersSnapshot() {
			addrs = append(addrs, p.Address.String())
		}
		byHam[i] = addrs
	}
	knownPeers := make(map[string]peerRecord, len(t.reg.byAddress))
	knownUris := make(map[string]string)
	for _, p := range t.reg.byAddress {
		knownPeers[p.Address.String()] = peerRecord{
			Ports:       append([]int(nil), p.Ports...),
			LastHeard:   p.LastHeard.Unix(),
			Liveness:    p.Liveness,
			UptimeStart: p.UptimeStart.Unix(),
			Verified:    p.Verified,
		}
		if p.URI != nil {
			knownUris[p.Address.String()] = p.URI.String()
		}
	}

	connectionExpiry := make(map[string]int64, len(t.desiredPeers))
	for addr, exp := range t.desiredPeers {
		connectionExpiry[Address(addr).String()] = exp.Unix()
	}
	desiredExpiry := make(map[string]int64, len(t.desiredUris))
	desiredPeerList := make([]string, 0, len(t.desiredPeers))
	for addr, exp := range t.desiredPeers {
		desiredPeerList = append(desiredPeerList, Address(addr).String())
		_ = exp
	}
	desiredUriList := make([]string, 0, len(t.desiredUris))
	for uri, exp := range t.desiredUris {
		desiredExpiry[uri] = exp.Unix()
		desiredUriList = append(desiredUriList, uri)
	}

	return map[uint8]any{
		tagByLogarithm:   byLog,
		tagByHamming:     byHam,
		tagKnownPeers:    knownPeers,
		tagKnownUris:     knownUris,
		tagConnectionExp: connectionExpiry,
		tagDesiredExpiry: desiredExpiry,
		tagDesiredPeers:  desiredPeerList,
		tagDesiredUris:   desiredUriList,
	}
}

// Dump writes the full table state to the configured cache file.
func (t *Table) Dump() error {
	if t.cacheFile == "" {
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("no cache file configured")}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()

	snap := t.snapshotLocked()
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("encode cache: %w", err)}
	}
	if t.encryptionKey != nil {
		payload, err = encryptPayload(payload, t.encryptionKey)
		if err != nil {
			return &Error{Kind: PersistenceError, Err: fmt.Errorf("encrypt cache: %w", err)}
		}
	}
	if err := os.WriteFile(t.cacheFile, payload, 0o600); err != nil {
		logger.Error("failed to write routing table cache", zap.String("file", t.cacheFile), zap.Error(err))
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("write cache: %w", err)}
	}
	logger.Debug("routing table cache written", zap.String("file", t.cacheFile))
	return nil
}

type decodedSnapshot struct {
	byLogarithm      map[int][]string
	byHamming        map[int][]string
	knownPeers       map[string]peerRecord
	knownUris        map[string]string
	connectionExpiry map[string]int64
	desiredExpiry    map[string]int64
	desiredPeerList  []string
	desiredUriList   []string
}

// Load replaces the table's entire state with what is recorded in the
// cache file. Decoding happens into a temporary structure first; if any
// step fails, the table is left exactly as it was before Load was
// called.
func (t *Table) Load() error {
	if t.cacheFile == "" {
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("no cache file configured")}
	}
	raw, err := os.ReadFile(t.cacheFile)
	if err != nil {
		logger.Warn("failed to read routing table cache", zap.String("file", t.cacheFile), zap.Error(err))
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("read cache: %w", err)}
	}
	if t.encryptionKey != nil {
		raw, err = decryptPayload(raw, t.encryptionKey)
		if err != nil {
			logger.Error("failed to decrypt routing table cache", zap.String("file", t.cacheFile), zap.Error(err))
			return &Error{Kind: PersistenceError, Err: fmt.Errorf("decrypt cache: %w", err)}
		}
	}

	var tagged map[uint8]msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &tagged); err != nil {
		logger.Error("failed to decode routing table cache", zap.String("file", t.cacheFile), zap.Error(err))
		return &Error{Kind: PersistenceError, Err: fmt.Errorf("decode cache: %w", err)}
	}
	decoded, err := decodeTaggedSnapshot(tagged)
	if err != nil {
		logger.Error("malformed routing table cache", zap.String("file", t.cacheFile), zap.Error(err))
		return &Error{Kind: PersistenceError, Err: err}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	t.restoreLocked(decoded)
	logger.Info("routing table cache loaded",
		zap.String("file", t.cacheFile), zap.Int("known_peers", len(decoded.knownPeers)))
	return nil
}

func decodeTaggedSnapshot(tagged map[uint8]msgpack.RawMessage) (*decodedSnapshot, error) {
	for tag := range tagged {
		switch tag {
		case tagByLogarithm, tagByHamming, tagKnownPeers, tagKnownUris,
			tagConnectionExp, tagDesiredExpiry, tagDesiredPeers, tagDesiredUris:
		default:
			return nil, fmt.Errorf("unknown cache tag %d", tag)
		}
	}

	d := &decodedSnapshot{
		byLogarithm:      make(map[int][]string),
		byHamming:        make(map[int][]string),
		knownPeers:       make(map[string]peerRecord),
		knownUris:        make(map[string]string),
		connectionExpiry: make(map[string]int64),
		desiredExpiry:    make(map[string]int64),
	}
	if raw, ok := tagged[tagByLogarithm]; ok {
		if err := msgpack.Unmarshal(raw, &d.byLogarithm); err != nil {
			return nil, fmt.Errorf("decode by_logarithm: %w", err)
		}
	}
	if raw, ok := tagged[tagByHamming]; ok {
		if err := msgpack.Unmarshal(raw, &d.byHamming); err != nil {
			return nil, fmt.Errorf("decode by_hamming: %w", err)
		}
	}
	if raw, ok := tagged[tagKnownPeers]; ok {
		if err := msgpack.Unmarshal(raw, &d.knownPeers); err != nil {
			return nil, fmt.Errorf("decode known_peers: %w", err)
		}
	}
	if raw, ok := tagged[tagKnownUris]; ok {
		if err := msgpack.Unmarshal(raw, &d.knownUris); err != nil {
			return nil, fmt.Errorf("decode known_uris: %w", err)
		}
	}
	if raw, ok := tagged[tagConnectionExp]; ok {
		if err := msgpack.Unmarshal(raw, &d.connectionExpiry); err != nil {
			return nil, fmt.Errorf("decode connection_expiry: %w", err)
		}
	}
	if raw, ok := tagged[tagDesiredExpiry]; ok {
		if err := msgpack.Unmarshal(raw, &d.desiredExpiry); err != nil {
			return nil, fmt.Errorf("decode desired_expiry: %w", err)
		}
	}
	if raw, ok := tagged[tagDesiredPeers]; ok {
		if err := msgpack.Unmarshal(raw, &d.desiredPeerList); err != nil {
			return nil, fmt.Errorf("decode desired_peers: %w", err)
		}
	}
	if raw, ok := tagged[tagDesiredUris]; ok {
		if err := msgpack.Unmarshal(raw, &d.desiredUriList); err != nil {
			return nil, fmt.Errorf("decode desired_uris: %w", err)
		}
	}

	for hexAddr := range d.knownPeers {
		if _, err := AddressFromHex(hexAddr); err != nil {
			return nil, fmt.Errorf("known_peers: %w", err)
		}
	}
	return d, nil
}

// restoreLocked overwrites all table state with d. Both mu and desiredMu
// must already be held, and d must already be fully validated —
// restoreLocked itself does not fail.
func (t *Table) restoreLocked(d *decodedSnapshot) {
	n := len(t.byLogarithm)
	t.byLogarithm = make([]*Bucket, n)
	t.byHamming = make([]*Bucket, n)
	for i := range t.byLogarithm {
		t.byLogarithm[i] = newBucket(t.bucketSize)
		t.byHamming[i] = newBucket(t.bucketSize)
	}
	t.reg = newRegistry()

	for hexAddr, rec := range d.knownPeers {
		addr, err := AddressFromHex(hexAddr)
		if err != nil {
			continue
		}
		info := &PeerInfo{
			Address:     addr,
			Ports:       append([]int(nil), rec.Ports...),
			LastHeard:   time.Unix(rec.LastHeard, 0),
			Liveness:    rec.Liveness,
			UptimeStart: time.Unix(rec.UptimeStart, 0),
			Verified:    rec.Verified,
		}
		t.reg.put(info)
	}
	for hexAddr, uriStr := range d.knownUris {
		addr, err := AddressFromHex(hexAddr)
		if err != nil {
			continue
		}
		info, ok := t.reg.get(addr)
		if !ok {
			continue
		}
		uri, err := ParseUri(uriStr)
		if err != nil {
			continue
		}
		t.reg.setURI(info, uri)
	}
	for idx, addrs := range d.byLogarithm {
		if idx < 0 || idx >= len(t.byLogarithm) {
			continue
		}
		// addrs is stored freshest-first and insert prepends, so walk it
		// backwards to keep that order.
		for j := len(addrs) - 1; j >= 0; j-- {
			addr, err := AddressFromHex(addrs[j])
			if err != nil {
				continue
			}
			info, ok := t.reg.get(addr)
			if !ok {
				continue
			}
			t.byLogarithm[idx].insert(info)
		}
	}
	for idx, addrs := range d.byHamming {
		if idx < 0 || idx >= len(t.byHamming) {
			continue
		}
		// addrs is stored freshest-first and insert prepends, so walk it
		// backwards to keep that order.
		for j := len(addrs) - 1; j >= 0; j-- {
			addr, err := AddressFromHex(addrs[j])
			if err != nil {
				continue
			}
			info, ok := t.reg.get(addr)
			if !ok {
				continue
			}
			t.byHamming[idx].insert(info)
		}
	}
	t.refreshFirstNonEmptyLocked()

	t.desiredPeers = make(map[string]time.Time)
	t.desiredUris = make(map[string]time.Time)
	for hexAddr, unixExp := range d.connectionExpiry {
		addr, err := AddressFromHex(hexAddr)
		if err != nil {
			continue
		}
		t.desiredPeers[string(addr)] = time.Unix(unixExp, 0)
	}
	for uri, unixExp := range d.desiredExpiry {
		t.desiredUris[uri] = time.Unix(unixExp, 0)
	}
}

// encryptPayload protects plain with key using ECIES over the secp256k1
// curve: key is treated as a private scalar and payload is encrypted
// under the corresponding public key, so only a holder of key can
// decrypt it.
func encryptPayload(plain, key []byte) ([]byte, error) {
	priv := eciesgo.NewPrivateKeyFromBytes(key)
	return eciesgo.Encrypt(priv.PublicKey, plain)
}

func decryptPayload(cipher, key []byte) ([]byte, error) {
	priv := eciesgo.NewPrivateKeyFromBytes(key)
	return eciesgo.Decrypt(priv, cipher)
}
