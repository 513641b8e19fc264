package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateDerivesIDFromKey(t *testing.T) {
	ident, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if DeriveID(ident.PublicKey) != ident.ID {
		t.Fatalf("stored ID does not match derivation from public key")
	}
}

func TestSelfVerify(t *testing.T) {
	ident, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !ident.SelfVerify() {
		t.Fatalf("expected a freshly generated identity to self-verify")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node_key")

	first, err := Load(path)
	if err != nil {
		t.Fatalf("Load (create): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected key file to be created: %v", err)
	}

	second, err := Load(path)
	if err != nil {
		t.Fatalf("Load (reload): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("reloaded identity has a different ID: %v != %v", first.ID, second.ID)
	}
}

func TestVerifyRejectsMismatchedID(t *testing.T) {
	ident, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	other, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	msg := []byte("challenge")
	sig, err := ident.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if Verify(ident.PublicKey, msg, sig, other.ID) {
		t.Fatalf("expected Verify to fail against the wrong expected ID")
	}
}
