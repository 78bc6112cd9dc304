package kademlia

import (
	"testing"
	"time"
)

func TestTrimDesiredPeersExpiresOnSchedule(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	table := NewTable(Address{0x00}, Config{Clock: clock})

	addr := Address{0x01}
	table.AddDesiredPeer(addr, 60*time.Second)

	clock.Advance(30 * time.Second)
	table.TrimDesiredPeers()
	if got := table.DesiredPeers(); len(got) != 1 {
		t.Fatalf("desired peers after 30s = %v, want [%v]", got, addr)
	}

	clock.Advance(40 * time.Second)
	table.TrimDesiredPeers()
	if got := table.DesiredPeers(); len(got) != 0 {
		t.Fatalf("desired peers after 70s total = %v, want none", got)
	}
}

func TestClearDesiredRemovesEverything(t *testing.T) {
	table := NewTable(Address{0x00}, Config{})
	table.AddDesiredPeer(Address{0x01}, DefaultDesiredExpiry)
	table.AddDesiredPeerURI(Uri{Scheme: "tcp", Host: "10.0.0.1", Port: 9000}, DefaultDesiredExpiry)

	table.ClearDesired()

	if len(table.DesiredPeers()) != 0 || len(table.DesiredUris()) != 0 {
		t.Fatalf("expected both desired sets empty after ClearDesired")
	}
}

func TestConvertDesiredUrisToAddressesResolvesKnownPeer(t *testing.T) {
	table := NewTable(Address{0x00}, Config{})
	uri := Uri{Scheme: "tcp", Host: "10.0.0.2", Port: 9001}
	addr := Address{0x02}

	table.AddDesiredPeerURI(uri, DefaultDesiredExpiry)
	table.ReportExistence(addr, uri, 9001)
	table.ConvertDesiredUrisToAddresses()

	if len(table.DesiredUris()) != 0 {
		t.Fatalf("expected desired URI to be converted away")
	}
	found := false
	for _, a := range table.DesiredPeers() {
		if a.Equal(addr) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected desired peers to now contain the resolved address")
	}
}

func TestAddDesiredPeerHintPinsBothAddressAndUri(t *testing.T) {
	table := NewTable(Address{0x00}, Config{})
	addr := Address{0x04}
	hint := PeerHint{IP: "10.0.0.9", Port: 9100}

	table.AddDesiredPeerHint(addr, hint, DefaultDesiredExpiry)

	found := false
	for _, a := range table.DesiredPeers() {
		if a.Equal(addr) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hinted address to be pinned")
	}
	if len(table.DesiredUris()) != 1 {
		t.Fatalf("expected hint's dial location to be pinned as a desired URI too")
	}
}

func TestRemoveDesiredPeer(t *testing.T) {
	table := NewTable(Address{0x00}, Config{})
	addr := Address{0x03}
	table.AddDesiredPeer(addr, DefaultDesiredExpiry)
	table.RemoveDesiredPeer(addr)
	if len(table.DesiredPeers()) != 0 {
		t.Fatalf("expected desired peer removed")
	}
}
