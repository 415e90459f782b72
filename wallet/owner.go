package wallet

import (
	"crypto/ecdsa"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OwnerKey is the secp256k1 key that controls a smart account. It signs
// UserOperation hashes, not chain transactions.
type OwnerKey struct {
	key *ecdsa.PrivateKey
}

// GenerateOwnerKey creates a fresh secp256k1 owner key.
func GenerateOwnerKey() (*OwnerKey, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &OwnerKey{key: key}, nil
}

// LoadOwnerKey reads a hex-encoded secp256k1 key from path.
func LoadOwnerKey(path string) (*OwnerKey, error) {
	key, err := ethcrypto.LoadECDSA(path)
	if err != nil {
		return nil, err
	}
	return &OwnerKey{key: key}, nil
}

// Save writes the key to path in hex form with owner-only permissions.
func (o *OwnerKey) Save(path string) error {
	return ethcrypto.SaveECDSA(path, o.key)
}

// Key returns the raw ECDSA key for signing operations.
func (o *OwnerKey) Key() *ecdsa.PrivateKey {
	return o.key
}

// Address returns the checksummed 0x address of the key.
func (o *OwnerKey) Address() string {
	return ethcrypto.PubkeyToAddress(o.key.PublicKey).Hex()
}
