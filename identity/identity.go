// Package identity derives a peer's routing address from a secp256k1
// keypair, the same curve and address derivation go-ethereum accounts
// use, and signs/verifies short messages with it.
package identity

import (
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Identity is a peer's keypair and its derived routing address.
type Identity struct {
	PrivateKey *secp256k1.PrivateKey
	Address    []byte
}

// Generate creates a new identity from a fresh secp256k1 keypair. The
// address is the last 20 bytes of Keccak256(uncompressed public key),
// the same derivation Ethereum uses for account addresses.
func Generate() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	return &Identity{
		PrivateKey: priv,
		Address:    addressFromPublicKey(priv.PubKey()),
	}, nil
}

func addressFromPublicKey(pub *secp256k1.PublicKey) []byte {
	ecdsaPub, err := ethcrypto.UnmarshalPubkey(pub.SerializeUncompressed())
	if err != nil {
		// SerializeUncompressed always produces a valid secp256k1 point.
		panic(err)
	}
	return ethcrypto.PubkeyToAddress(*ecdsaPub).Bytes()
}

// Save writes the raw 32-byte private scalar to path.
func Save(id *Identity, path string) error {
	return os.WriteFile(path, id.PrivateKey.Serialize(), 0o600)
}

// Load reads a private scalar from path and rebuilds the identity it
// derives.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	return &Identity{
		PrivateKey: priv,
		Address:    addressFromPublicKey(priv.PubKey()),
	}, nil
}

// Sign produces a recoverable signature over the Keccak256 hash of msg.
func Sign(id *Identity, msg []byte) ([]byte, error) {
	hash := ethcrypto.Keccak256(msg)
	ecdsaPriv, err := ethcrypto.ToECDSA(id.PrivateKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig, err := ethcrypto.Sign(hash, ecdsaPriv)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify checks that sig is a valid signature over msg by the peer at
// address, recovering the signer's address from sig itself.
func Verify(address []byte, msg, sig []byte) (bool, error) {
	hash := ethcrypto.Keccak256(msg)
	pubKey, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return false, fmt.Errorf("recover signer: %w", err)
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey).Bytes()
	if len(recovered) != len(address) {
		return false, nil
	}
	for i := range recovered {
		if recovered[i] != address[i] {
			return false, nil
		}
	}
	return true, nil
}
