package manifest

import (
	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/model"
)

// SignEd25519 signs the manifest digest, replacing any previous signature.
func (m *Manifest) SignEd25519(priv ed25519.PrivateKey) error {
	d, err := m.Digest()
	if err != nil {
		return err
	}
	sig := keys.SignEd25519(d, priv)
	m.Signature = &sig
	return nil
}

// SignDilithium3 signs the manifest digest with a post-quantum key.
func (m *Manifest) SignDilithium3(pk *mode3.PublicKey, sk *mode3.PrivateKey) error {
	d, err := m.Digest()
	if err != nil {
		return err
	}
	sig, err := keys.SignDilithium3(d, pk, sk)
	if err != nil {
		return err
	}
	m.Signature = &sig
	return nil
}

// VerifySignature checks the signature and that the signer is the header's
// deployer.
func (m *Manifest) VerifySignature() error {
	if m.Signature == nil {
		return model.Errorf(model.CodeSignatureInvalid, "manifest is not signed")
	}
	d, err := m.Digest()
	if err != nil {
		return err
	}
	if err := keys.Verify(*m.Signature, d); err != nil {
		return err
	}
	signer, err := m.Signature.Signer()
	if err != nil {
		return err
	}
	if signer != m.Header.Deployer {
		return model.Errorf(model.CodeSignatureInvalid, "signed by %s, deployer is %s", signer, m.Header.Deployer)
	}
	return nil
}
