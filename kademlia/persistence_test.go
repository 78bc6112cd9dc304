package kademlia

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func readTaggedFile(path string) (map[uint8]msgpack.RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tagged map[uint8]msgpack.RawMessage
	if err := msgpack.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}
	return tagged, nil
}

func writeTaggedFile(path string, tagged map[uint8]msgpack.RawMessage) error {
	raw, err := msgpack.Marshal(tagged)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func buildPopulatedTable(t *testing.T, cacheFile string) *Table {
	t.Helper()
	table := NewTable(Address{0x00}, Config{BucketSize: 4})
	table.SetCacheFile(cacheFile)
	for i := byte(1); i < 10; i++ {
		uri := Uri{Scheme: "tcp", Host: "10.0.0.1", Port: int(i)}
		table.ReportExistence(Address{i}, uri, int(i))
	}
	table.AddDesiredPeer(Address{0x01}, DefaultDesiredExpiry)
	table.AddDesiredPeerURI(Uri{Scheme: "tcp", Host: "10.0.0.9", Port: 9}, DefaultDesiredExpiry)
	return table
}

func TestDumpLoadRoundTripPlaintext(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "table.cache")
	source := buildPopulatedTable(t, cacheFile)

	if err := source.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	dest := NewTable(Address{0x00}, Config{BucketSize: 4})
	dest.SetCacheFile(cacheFile)
	if err := dest.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if dest.Size() != source.Size() {
		t.Fatalf("Size() = %d, want %d", dest.Size(), source.Size())
	}
	for i := byte(1); i < 10; i++ {
		addr := Address{i}
		want, wantErr := source.GetPeerDetails(addr)
		got, err := dest.GetPeerDetails(addr)
		if wantErr != nil {
			// Evicted from a full bucket of the source; must stay absent.
			if err == nil {
				t.Fatalf("GetPeerDetails(%v) found a peer the source had evicted", addr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("GetPeerDetails(%v): %v", addr, err)
		}
		if got.URI == nil || want.URI == nil || *got.URI != *want.URI {
			t.Fatalf("URI mismatch for %v: got %v, want %v", addr, got.URI, want.URI)
		}
	}
	if len(dest.DesiredPeers()) != len(source.DesiredPeers()) {
		t.Fatalf("desired peers count mismatch after round trip")
	}
}

func TestDumpLoadRoundTripEncrypted(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "table.cache")
	source := buildPopulatedTable(t, cacheFile)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	source.SetEncryptionKey(key)

	if err := source.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	dest := NewTable(Address{0x00}, Config{BucketSize: 4})
	dest.SetCacheFile(cacheFile)
	dest.SetEncryptionKey(key)
	if err := dest.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if dest.Size() != source.Size() {
		t.Fatalf("Size() = %d, want %d", dest.Size(), source.Size())
	}
}

func TestLoadMissingCacheFile(t *testing.T) {
	table := NewTable(Address{0x00}, Config{})
	table.SetCacheFile(filepath.Join(t.TempDir(), "missing.cache"))
	if err := table.Load(); err == nil {
		t.Fatalf("expected error loading a missing cache file")
	}
}

func TestLoadRejectsUnknownTag(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "table.cache")
	table := buildPopulatedTable(t, cacheFile)
	if err := table.Dump(); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	tagged, err := readTaggedFile(cacheFile)
	if err != nil {
		t.Fatalf("readTaggedFile: %v", err)
	}
	tagged[99] = tagged[tagKnownPeers]
	if err := writeTaggedFile(cacheFile, tagged); err != nil {
		t.Fatalf("writeTaggedFile: %v", err)
	}

	dest := NewTable(Address{0x00}, Config{})
	dest.SetCacheFile(cacheFile)
	if err := dest.Load(); err == nil {
		t.Fatalf("expected Load to reject an unknown tag")
	}
	if dest.Size() != 0 {
		t.Fatalf("expected table left untouched after a failed Load")
	}
}
