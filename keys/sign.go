package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/routeplane/model"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

// Signature is a detached signature over a 32-byte manifest digest. Key and
// Value are base64.
type Signature struct {
	Algorithm string `json:"algorithm"`
	PublicKey string `json:"publicKey"`
	Value     string `json:"value"`
}

// Signer returns the actor address of the signing key.
func (s Signature) Signer() (model.Address, error) {
	pub, err := base64.StdEncoding.DecodeString(s.PublicKey)
	if err != nil {
		return model.Address{}, model.Wrap(model.CodeInvalidEncoding, err, "signature public key")
	}
	return AddressFromPublicKey(pub), nil
}

// SignEd25519 signs digest with priv.
func SignEd25519(digest model.Hash, priv ed25519.PrivateKey) Signature {
	pub := priv.Public().(ed25519.PublicKey)
	sig := ed25519.Sign(priv, digest[:])
	return Signature{
		Algorithm: AlgEd25519,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Value:     base64.StdEncoding.EncodeToString(sig),
	}
}

// SignDilithium3 signs digest with a Dilithium3 key.
func SignDilithium3(digest model.Hash, pk *mode3.PublicKey, sk *mode3.PrivateKey) (Signature, error) {
	if pk == nil || sk == nil {
		return Signature{}, model.Errorf(model.CodeInvalidConfig, "missing dilithium3 key")
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(sk, digest[:], sig)
	pub, err := pk.MarshalBinary()
	if err != nil {
		return Signature{}, model.Wrap(model.CodeInternal, err, "encode dilithium3 public key")
	}
	return Signature{
		Algorithm: AlgDilithium3,
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Value:     base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// Verify checks s over digest. Any failure is SignatureInvalid.
func Verify(s Signature, digest model.Hash) error {
	pub, err := base64.StdEncoding.DecodeString(s.PublicKey)
	if err != nil {
		return model.Wrap(model.CodeSignatureInvalid, err, "public key is not base64")
	}
	sig, err := base64.StdEncoding.DecodeString(s.Value)
	if err != nil {
		return model.Wrap(model.CodeSignatureInvalid, err, "signature is not base64")
	}
	switch s.Algorithm {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return model.Errorf(model.CodeSignatureInvalid, "ed25519 public key must be %d bytes", ed25519.PublicKeySize)
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return model.Errorf(model.CodeSignatureInvalid, "ed25519 signature does not verify")
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return model.Wrap(model.CodeSignatureInvalid, err, "dilithium3 public key")
		}
		if !mode3.Verify(&pk, digest[:], sig) {
			return model.Errorf(model.CodeSignatureInvalid, "dilithium3 signature does not verify")
		}
	default:
		return model.Errorf(model.CodeSignatureInvalid, "unsupported signature algorithm %q", s.Algorithm)
	}
	return nil
}
