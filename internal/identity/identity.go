// Package identity derives a node's 160-bit Kademlia ID from a secp256k1
// keypair and persists that keypair across restarts, the way the teacher's
// id_tools package derives and persists an ECDSA-backed PeerID.
package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/kutluhann/kadnet/internal/id"
)

// DefaultKeyFile is the filename used to persist the node's private key
// inside its data directory.
const DefaultKeyFile = "node_key"

// Identity binds a secp256k1 keypair to the 160-bit peer ID derived from it.
type Identity struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
	ID         id.ID
}

// DeriveID computes the 160-bit peer ID for a public key: the low 20 bytes
// of the Keccak256 hash of its uncompressed encoding, exactly the way an
// Ethereum address is derived from a public key. B_ID = 160 happens to be
// the width of an Ethereum address, so no further truncation heuristic is
// needed.
func DeriveID(pub *secp256k1.PublicKey) id.ID {
	uncompressed := pub.SerializeUncompressed()
	// SerializeUncompressed leads with the 0x04 prefix byte; the hash is
	// taken over the raw 64-byte (X||Y) point, matching Ethereum's scheme.
	hash := gethcrypto.Keccak256(uncompressed[1:])

	var out id.ID
	copy(out[:], hash[len(hash)-id.Size:])
	return out
}

// Generate creates a fresh keypair and derives its peer ID.
func Generate() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	pub := priv.PubKey()
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		ID:         DeriveID(pub),
	}, nil
}

// FromPrivateKeyBytes reconstructs an Identity from a raw 32-byte secp256k1
// scalar, as read back from disk.
func FromPrivateKeyBytes(raw []byte) (*Identity, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("identity: private key must be 32 bytes, got %d", len(raw))
	}
	priv := secp256k1.PrivKeyFromBytes(raw)
	pub := priv.PubKey()
	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		ID:         DeriveID(pub),
	}, nil
}

// Save writes the raw private key scalar to path, creating parent
// directories as needed.
func (i *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("identity: create key directory: %w", err)
	}
	return os.WriteFile(path, i.PrivateKey.Serialize(), 0o600)
}

// Load reads a persisted identity from path, or generates and saves a new
// one if the file does not exist — the same "load or generate" flow as the
// teacher's main.go.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ident, genErr := Generate()
			if genErr != nil {
				return nil, genErr
			}
			if saveErr := ident.Save(path); saveErr != nil {
				return nil, saveErr
			}
			return ident, nil
		}
		return nil, fmt.Errorf("identity: read key file: %w", err)
	}
	return FromPrivateKeyBytes(raw)
}

// Sign produces an ECDSA signature over the Keccak256 hash of message.
func (i *Identity) Sign(message []byte) ([]byte, error) {
	hash := gethcrypto.Keccak256(message)
	sig, err := gethcrypto.Sign(hash, i.PrivateKey.ToECDSA())
	if err != nil {
		return nil, fmt.Errorf("identity: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a signature produced by Sign against pub and re-derives the
// expected peer ID, failing closed if either check fails. This mirrors the
// teacher's VerifyIdentity round-trip (derive ID from key, sign, verify).
func Verify(pub *secp256k1.PublicKey, message, sig []byte, expected id.ID) bool {
	if DeriveID(pub) != expected {
		return false
	}
	hash := gethcrypto.Keccak256(message)
	if len(sig) == 65 {
		sig = sig[:64] // drop recovery byte before VerifySignature
	}
	return gethcrypto.VerifySignature(pub.SerializeUncompressed(), hash, sig)
}

// SelfVerify runs Sign/Verify against a fresh random challenge and confirms
// the result is internally consistent, the same integrity check the teacher
// runs once at startup before trusting a freshly loaded identity.
func (i *Identity) SelfVerify() bool {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return false
	}
	sig, err := i.Sign(challenge)
	if err != nil {
		return false
	}
	return Verify(i.PublicKey, challenge, sig, i.ID)
}
