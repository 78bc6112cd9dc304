// Package config loads runtime configuration for a kademlia node from
// the environment, deriving the cache-file encryption key from a
// passphrase the way the rest of this module expects it.
package config

import (
	"os"
	"sync"

	ecies "github.com/ecies/go/v2"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLength  = 32
)

// Config is a simple in-memory for runtime configuration (private keys,
// context, derived keys from env, etc).
type Config struct {
	privateKey           *ecies.PrivateKey
	StorageEncryptionKey string
	CacheFile            string
}

var (
	config     *Config
	configOnce sync.Once
)

func Init() *Config {
	configOnce.Do(func() {

		godotenv.Load()
		storageEncryptionKey := os.Getenv("KADEMLIA_STORAGE_KEY")
		cacheFile := os.Getenv("KADEMLIA_CACHE_FILE")

		config = &Config{
			privateKey:           nil,
			StorageEncryptionKey: storageEncryptionKey,
			CacheFile:            cacheFile,
		}
	})
	return config
}

func GetConfig() *Config {
	if config == nil {
		return Init()
	}
	return config
}

func (c *Config) SetPrivateKey(key *ecies.PrivateKey) {
	c.privateKey = key
}

func (c *Config) GetPrivateKey() *ecies.PrivateKey {
	return c.privateKey
}

func (c *Config) HasPrivateKey() bool {
	return c.privateKey != nil
}

func (c *Config) GetStorageEncryptionKey() string {
	return c.StorageEncryptionKey
}

// DerivedEncryptionKey turns StorageEncryptionKey into a 32-byte
// secret key via PBKDF2. Returns nil, meaning "no encryption", when no
// passphrase is configured.
func (c *Config) DerivedEncryptionKey() []byte {
	if c.StorageEncryptionKey == "" {
		return nil
	}
	salt := sha3.Sum256([]byte("kademlia-cache"))
	return pbkdf2.Key([]byte(c.StorageEncryptionKey), salt[:], pbkdf2Iterations, pbkdf2KeyLength, sha3.New256)
}
