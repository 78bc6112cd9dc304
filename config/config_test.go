package config

import "testing"

func TestDerivedEncryptionKeyEmptyPassphrase(t *testing.T) {
	c := &Config{}
	if key := c.DerivedEncryptionKey(); key != nil {
		t.Fatalf("expected nil key for empty passphrase, got %x", key)
	}
}

func TestDerivedEncryptionKeyDeterministic(t *testing.T) {
	c := &Config{StorageEncryptionKey: "correct horse battery staple"}
	k1 := c.DerivedEncryptionKey()
	k2 := c.DerivedEncryptionKey()
	if len(k1) != pbkdf2KeyLength {
		t.Fatalf("key length = %d, want %d", len(k1), pbkdf2KeyLength)
	}
	for i := range k1 {
		if k1[i] != k2[i] {
			t.Fatalf("derived key is not deterministic for the same passphrase")
		}
	}
}

func TestDerivedEncryptionKeyDependsOnPassphrase(t *testing.T) {
	a := &Config{StorageEncryptionKey: "first"}
	b := &Config{StorageEncryptionKey: "second"}
	if string(a.DerivedEncryptionKey()) == string(b.DerivedEncryptionKey()) {
		t.Fatalf("different passphrases produced the same derived key")
	}
}
