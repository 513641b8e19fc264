package transport

import (
	"fmt"
	"sync"

	ecies "github.com/ecies/go/v2"
	"github.com/kutluhann/kadnet/internal/id"
)

// EncryptValue encrypts plaintext for pub using ECIES. It is a standalone
// helper: no package in this module calls it, and neither TCP, Subnet nor
// the dht package consults config.Config.EncryptTransport, so STORE values
// always travel as plaintext. Transport itself stays oblivious to whether a
// Value it carries is ciphertext or not.
func EncryptValue(pub *ecies.PublicKey, plaintext []byte) ([]byte, error) {
	out, err := ecies.Encrypt(pub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("transport: ecies encrypt: %w", err)
	}
	return out, nil
}

// DecryptValue reverses EncryptValue using the local node's private key.
func DecryptValue(priv *ecies.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := ecies.Decrypt(priv, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("transport: ecies decrypt: %w", err)
	}
	return out, nil
}

// PeerKeyStore tracks the ECIES public key each known peer advertised, so a
// STORE directed at them can be encrypted. Keys arrive out of band (a peer's
// FIND_NODE/FIND_VALUE responses are not a safe channel for key material).
// Nothing in this module creates or populates a PeerKeyStore; callers fill
// it through Learn.
type PeerKeyStore struct {
	mu   sync.RWMutex
	keys map[id.ID]*ecies.PublicKey
}

func NewPeerKeyStore() *PeerKeyStore {
	return &PeerKeyStore{keys: make(map[id.ID]*ecies.PublicKey)}
}

func (s *PeerKeyStore) Learn(peer id.ID, pub *ecies.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[peer] = pub
}

func (s *PeerKeyStore) Lookup(peer id.ID) (*ecies.PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub, ok := s.keys[peer]
	return pub, ok
}
