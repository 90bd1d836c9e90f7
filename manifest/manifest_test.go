package manifest

import (
	"crypto/ed25519"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/model"
)

func seed(b byte) []byte {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = b
	}
	return s
}

func routes(n int, tag byte) []model.RouteEntry {
	out := make([]model.RouteEntry, n)
	for i := range out {
		out[i] = model.RouteEntry{
			Selector:       model.Selector{tag, 0, 0, byte(i)},
			Implementation: model.Address{0: tag, 19: byte(i + 1)},
			CodeHash:       model.Hash{0: tag, 31: byte(i)},
		}
	}
	return out
}

func build(t *testing.T, epoch uint64, prev model.Hash, n int) *Manifest {
	t.Helper()
	m, err := New(Header{
		Version:   "v1.2.3",
		Timestamp: 1_700_000_000,
		Deployer:  keys.AddressFromSeed(seed(7)),
		Network:   "net-a",
		Epoch:     epoch,
		Previous:  prev,
	}, routes(n, byte(epoch)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNew_ValidatesAndRoundTrips(t *testing.T) {
	m := build(t, 1, model.Hash{}, 5)
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.Header.VersionDigest != VersionDigest("v1.2.3") {
		t.Fatalf("version digest not filled")
	}
	c := m.Commitment()
	if c.Root != m.Root || c.Epoch != 1 || c.Entries != 5 {
		t.Fatalf("commitment: %+v", c)
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := back.Validate(); err != nil {
		t.Fatalf("Validate after load: %v", err)
	}
	d1, _ := m.Digest()
	d2, _ := back.Digest()
	if d1 != d2 {
		t.Fatalf("digest changed across save/load")
	}
}

func TestValidate_DetectsTampering(t *testing.T) {
	m := build(t, 1, model.Hash{}, 4)
	m.Routes[2].CodeHash[3] ^= 0xff
	if err := m.Validate(); !errors.Is(err, model.ErrRootMismatch) {
		t.Fatalf("tampered route: got %v", err)
	}

	m = build(t, 1, model.Hash{}, 4)
	m.Routes[1].Positions = "00"
	if err := m.Validate(); err == nil {
		t.Fatalf("tampered proof accepted")
	}

	m = build(t, 1, model.Hash{}, 4)
	m.Header.Version = "v9"
	if err := m.Validate(); !errors.Is(err, model.ErrRootMismatch) {
		t.Fatalf("version drift: got %v", err)
	}
}

func TestProofFor_ComputesMissingProofs(t *testing.T) {
	m := build(t, 1, model.Hash{}, 3)
	for i := range m.Routes {
		m.Routes[i].Proof = nil
		m.Routes[i].Positions = ""
	}
	p, err := m.ProofFor(2)
	if err != nil {
		t.Fatalf("ProofFor: %v", err)
	}
	if err := p.VerifyEntry(m.Routes[2].Entry(), m.Root); err != nil {
		t.Fatalf("computed proof rejected: %v", err)
	}
	if _, err := m.ProofFor(3); model.CodeOf(err) != model.CodeIndexOutOfRange {
		t.Fatalf("out of range: got %v", err)
	}
}

func TestVerifyChain(t *testing.T) {
	first := build(t, 1, model.Hash{}, 2)
	d, _ := first.Digest()
	second := build(t, 2, d, 3)
	if err := VerifyChain(first, second); err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}

	stale := build(t, 1, d, 3)
	if err := VerifyChain(first, stale); !errors.Is(err, model.ErrChainBroken) {
		t.Fatalf("non-increasing epoch: got %v", err)
	}
	forked := build(t, 3, model.Hash{1}, 3)
	if err := VerifyChain(first, forked); !errors.Is(err, model.ErrChainBroken) {
		t.Fatalf("wrong previous: got %v", err)
	}
}

func TestSignature_Ed25519(t *testing.T) {
	m := build(t, 1, model.Hash{}, 2)
	before, _ := m.Digest()
	if err := m.SignEd25519(ed25519.NewKeyFromSeed(seed(7))); err != nil {
		t.Fatalf("SignEd25519: %v", err)
	}
	after, _ := m.Digest()
	if before != after {
		t.Fatalf("signature must not change the digest")
	}
	if err := m.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}

	if err := m.SignEd25519(ed25519.NewKeyFromSeed(seed(8))); err != nil {
		t.Fatalf("SignEd25519: %v", err)
	}
	if err := m.VerifySignature(); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("non-deployer signer: got %v", err)
	}
}

type counter struct{ b byte }

func (c *counter) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = c.b
		c.b++
	}
	return len(p), nil
}

func TestSignature_Dilithium3(t *testing.T) {
	pk, sk, err := keys.GenerateDilithium3Keypair(io.Reader(&counter{}))
	if err != nil {
		t.Fatalf("GenerateDilithium3Keypair: %v", err)
	}
	m := build(t, 1, model.Hash{}, 2)
	if err := m.SignDilithium3(pk, sk); err != nil {
		t.Fatalf("SignDilithium3: %v", err)
	}
	signer, err := m.Signature.Signer()
	if err != nil {
		t.Fatalf("Signer: %v", err)
	}
	m.Header.Deployer = signer
	// The header changed, so the old signature must no longer verify.
	if err := m.VerifySignature(); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("stale signature: got %v", err)
	}
	if err := m.SignDilithium3(pk, sk); err != nil {
		t.Fatalf("SignDilithium3: %v", err)
	}
	if err := m.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := Parse([]byte(`{"header":{},"root":"0x00","routes":[]}`)); model.CodeOf(err) == "" {
		t.Fatalf("expected structured error")
	}
	if _, err := Parse([]byte(`{"header":{},"routes":[],"extra":1}`)); model.CodeOf(err) != model.CodeInvalidEncoding {
		t.Fatalf("unknown field: got %v", err)
	}
}
