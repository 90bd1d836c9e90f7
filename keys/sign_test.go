package keys

import (
	"crypto/ed25519"
	"errors"
	"io"
	"testing"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
)

type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func TestSignEd25519_Verifies(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(rootSeed())
	digest := cidutil.Keccak256([]byte("manifest"))

	sig := SignEd25519(digest, priv)
	if err := Verify(sig, digest); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	signer, err := sig.Signer()
	if err != nil || signer != AddressFromSeed(rootSeed()) {
		t.Fatalf("Signer: %s, %v", signer, err)
	}

	other := cidutil.Keccak256([]byte("other manifest"))
	if err := Verify(sig, other); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("wrong digest: got %v", err)
	}
}

func TestSignDilithium3_Verifies(t *testing.T) {
	pk, sk, err := GenerateDilithium3Keypair(io.Reader(&deterministicReader{}))
	if err != nil {
		t.Fatalf("GenerateDilithium3Keypair: %v", err)
	}
	digest := cidutil.Keccak256([]byte("pq manifest"))
	sig, err := SignDilithium3(digest, pk, sk)
	if err != nil {
		t.Fatalf("SignDilithium3: %v", err)
	}
	if sig.Algorithm != AlgDilithium3 {
		t.Fatalf("algorithm: %s", sig.Algorithm)
	}
	if err := Verify(sig, digest); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	digest[0] ^= 1
	if err := Verify(sig, digest); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("tampered digest: got %v", err)
	}
}

func TestVerify_UnknownAlgorithm(t *testing.T) {
	sig := Signature{Algorithm: "rsa", PublicKey: "", Value: ""}
	if err := Verify(sig, model.Hash{}); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("got %v", err)
	}
}
