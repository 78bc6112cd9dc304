package kademlia

import "time"

// PeerInfo aggregates everything the table knows about one peer. A
// PeerInfo referenced by any bucket is always also reachable through the
// Address map and, if its URI is known, the URI map — buckets hold
// shared, non-owning references into the registry below.
type PeerInfo struct {
	Address     Address
	URI         *Uri
	Ports       []int
	LastHeard   time.Time
	Liveness    float64
	UptimeStart time.Time
	Verified    bool
}

// clone copies the record so a caller can use it after the table's mutex
// is released without risking a data race on later mutation.
func (p *PeerInfo) clone() *PeerInfo {
	c := *p
	c.Ports = append([]int(nil), p.Ports...)
	if p.URI != nil {
		u := *p.URI
		c.URI = &u
	}
	return &c
}

// registry is the sole owner of PeerInfo records. Buckets and the URI
// index hold shared references into it. The Table's reporting and Load
// paths create records and store them with put; a record leaves through
// deleteAddress, or when Load replaces the whole registry.
type registry struct {
	byAddress map[string]*PeerInfo
	byURI     map[string]*PeerInfo
}

func newRegistry() *registry {
	return &registry{
		byAddress: make(map[string]*PeerInfo),
		byURI:     make(map[string]*PeerInfo),
	}
}

func (r *registry) get(addr Address) (*PeerInfo, bool) {
	p, ok := r.byAddress[string(addr)]
	return p, ok
}

func (r *registry) getByURI(u Uri) (*PeerInfo, bool) {
	p, ok := r.byURI[u.String()]
	return p, ok
}

func (r *registry) put(p *PeerInfo) {
	r.byAddress[string(p.Address)] = p
	if p.URI != nil {
		r.byURI[p.URI.String()] = p
	}
}

// setURI binds u to p, taking over from whichever PeerInfo previously
// owned it. The previous owner keeps its registry entry but loses the URI
// reference, per the "most recent binding wins" rule.
func (r *registry) setURI(p *PeerInfo, u Uri) {
	key := u.String()
	if existing, ok := r.byURI[key]; ok && existing != p {
		existing.URI = nil
	}
	uriCopy := u
	p.URI = &uriCopy
	r.byURI[key] = p
}

func (r *registry) deleteAddress(addr Address) {
	p, ok := r.byAddress[string(addr)]
	if !ok {
		return
	}
	if p.URI != nil {
		if cur, ok := r.byURI[p.URI.String()]; ok && cur == p {
			delete(r.byURI, p.URI.String())
		}
	}
	delete(r.byAddress, string(addr))
}
