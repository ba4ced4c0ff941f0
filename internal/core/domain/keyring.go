package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// KeyRing holds the local signing key used for contract signatures.
type KeyRing struct {
	priv *secp256k1.PrivateKey
}

// NewKeyRing generates a fresh signing key.
func NewKeyRing() (*KeyRing, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &KeyRing{priv: priv}, nil
}

// KeyRingFromBytes restores a key ring from a serialized private key.
func KeyRingFromBytes(buf []byte) *KeyRing {
	return &KeyRing{priv: secp256k1.PrivKeyFromBytes(buf)}
}

// Serialize returns the private key bytes for persistence.
func (k *KeyRing) Serialize() []byte {
	return k.priv.Serialize()
}

// PubKeyHex returns the compressed public key as hex.
func (k *KeyRing) PubKeyHex() string {
	return hex.EncodeToString(k.priv.PubKey().SerializeCompressed())
}

// SignContract signs the sha256 of the canonical contract serialization and
// returns the DER signature as hex.
func (k *KeyRing) SignContract(contractAsJson string) string {
	hash := sha256.Sum256([]byte(contractAsJson))
	sig := ecdsa.Sign(k.priv, hash[:])
	return hex.EncodeToString(sig.Serialize())
}

// VerifyContractSignature checks a hex DER signature over the contract
// against a compressed public key in hex.
func VerifyContractSignature(contractAsJson, sigHex, pubKeyHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("decoding public key: %w", err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("parsing public key: %w", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parsing signature: %w", err)
	}
	hash := sha256.Sum256([]byte(contractAsJson))
	return sig.Verify(hash[:], pub), nil
}
