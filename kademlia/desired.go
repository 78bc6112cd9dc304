package kademlia

import "time"

// PeerHint is a caller-provided location to reach a desired peer before
// its identity has been confirmed over the wire.
type PeerHint struct {
	IP   string
	Port int
}

// AddDesiredPeer pins addr as a peer the table should keep trying to stay
// connected to, regardless of its distance from the table's own address.
// The pin expires at now+expiry unless refreshed by another call.
func (t *Table) AddDesiredPeer(addr Address, expiry time.Duration) {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	t.desiredPeers[string(addr)] = t.clock.Now().Add(expiry)
}

// AddDesiredPeerHint pins addr the same way as AddDesiredPeer, and also
// pins hint's dial location as a desired URI, so a connection attempt can
// start from the hint before addr's identity has been confirmed over the
// wire. Both pins share the same expiry.
func (t *Table) AddDesiredPeerHint(addr Address, hint PeerHint, expiry time.Duration) {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	exp := t.clock.Now().Add(expiry)
	t.desiredPeers[string(addr)] = exp
	t.desiredUris[(Uri{Scheme: "tcp", Host: hint.IP, Port: hint.Port}).String()] = exp
}

// AddDesiredPeerURI pins a peer identified only by URI, for the case
// where the caller has a dial target but not yet a confirmed address.
func (t *Table) AddDesiredPeerURI(uri Uri, expiry time.Duration) {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	t.desiredUris[uri.String()] = t.clock.Now().Add(expiry)
}

// RemoveDesiredPeer unpins addr, if it was pinned.
func (t *Table) RemoveDesiredPeer(addr Address) {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	delete(t.desiredPeers, string(addr))
}

// RemoveDesiredPeerURI unpins a URI, if it was pinned.
func (t *Table) RemoveDesiredPeerURI(uri Uri) {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	delete(t.desiredUris, uri.String())
}

// ClearDesired removes every pinned peer and URI.
func (t *Table) ClearDesired() {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	t.desiredPeers = make(map[string]time.Time)
	t.desiredUris = make(map[string]time.Time)
}

// TrimDesiredPeers drops any pinned peer or URI whose expiry has passed.
func (t *Table) TrimDesiredPeers() {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	now := t.clock.Now()
	for k, expiry := range t.desiredPeers {
		if now.After(expiry) {
			delete(t.desiredPeers, k)
		}
	}
	for k, expiry := range t.desiredUris {
		if now.After(expiry) {
			delete(t.desiredUris, k)
		}
	}
}

// DesiredPeers returns a snapshot of currently pinned addresses.
func (t *Table) DesiredPeers() []Address {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	out := make([]Address, 0, len(t.desiredPeers))
	for k := range t.desiredPeers {
		out = append(out, Address(k))
	}
	return out
}

// DesiredUris returns a snapshot of currently pinned URIs.
func (t *Table) DesiredUris() []string {
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	out := make([]string, 0, len(t.desiredUris))
	for k := range t.desiredUris {
		out = append(out, k)
	}
	return out
}

// IsDesired reports whether addr is currently pinned, directly or through
// a URI the registry has since resolved to it.
func (t *Table) IsDesired(addr Address) bool {
	t.mu.Lock()
	info, ok := t.reg.get(addr)
	t.mu.Unlock()

	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()
	if _, ok := t.desiredPeers[string(addr)]; ok {
		return true
	}
	if ok && info.URI != nil {
		_, ok := t.desiredUris[info.URI.String()]
		return ok
	}
	return false
}

// ConvertDesiredUrisToAddresses resolves any pinned URI that the registry
// can now map to a confirmed address, replacing the URI pin with an
// address pin. Locks the primary index before the desired overlay, per
// the canonical lock order.
func (t *Table) ConvertDesiredUrisToAddresses() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.desiredMu.Lock()
	defer t.desiredMu.Unlock()

	for uriStr, expiry := range t.desiredUris {
		uri, err := ParseUri(uriStr)
		if err != nil {
			continue
		}
		info, ok := t.reg.getByURI(uri)
		if !ok {
			continue
		}
		delete(t.desiredUris, uriStr)
		t.desiredPeers[string(info.Address)] = expiry
	}
}
