package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// PublicKeyString encodes an Ed25519 public key as "ed25519:" + base64(pub).
func PublicKeyString(pub ed25519.PublicKey) (string, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return "", fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return "ed25519:" + base64.StdEncoding.EncodeToString(pub), nil
}

// PublicKeyStringFromSeed is PublicKeyString for the key derived from seed.
func PublicKeyStringFromSeed(seed []byte) string {
	priv := ed25519.NewKeyFromSeed(seed)
	s, _ := PublicKeyString(priv.Public().(ed25519.PublicKey))
	return s
}

// ParsePublicKeyString reverses PublicKeyString.
func ParsePublicKeyString(s string) (ed25519.PublicKey, error) {
	b64, ok := strings.CutPrefix(strings.TrimSpace(s), "ed25519:")
	if !ok {
		return nil, fmt.Errorf("public key must start with ed25519:")
	}
	pub, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return ed25519.PublicKey(pub), nil
}
