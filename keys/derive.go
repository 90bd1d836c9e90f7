package keys

import (
	"crypto/ed25519"
	"fmt"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
)

const deriveDomain = "routeplane-operator-keys-v1"

// OperatorRoles are the role keys an operator usually derives.
var OperatorRoles = []string{"admin", "committer", "applier", "emergency"}

// DeriveRoleSeed derives the seed of one role key from a root seed:
// keccak256(domain ‖ 0x00 ‖ rootSeed ‖ 0x00 ‖ role).
func DeriveRoleSeed(rootSeed []byte, role string) ([]byte, error) {
	if len(rootSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes", ed25519.SeedSize)
	}
	if err := CheckRole(role); err != nil {
		return nil, err
	}
	h := cidutil.Keccak256([]byte(deriveDomain), []byte{0}, rootSeed, []byte{0}, []byte(role))
	return h[:ed25519.SeedSize], nil
}

// AddressFromPublicKey maps a public key to its actor address:
// keccak256(pub)[12:].
func AddressFromPublicKey(pub []byte) model.Address {
	h := cidutil.Keccak256(pub)
	var out model.Address
	copy(out[:], h[model.HashSize-model.AddressSize:])
	return out
}

// AddressFromSeed returns the actor address of the Ed25519 key for seed.
func AddressFromSeed(seed []byte) model.Address {
	priv := ed25519.NewKeyFromSeed(seed)
	return AddressFromPublicKey(priv.Public().(ed25519.PublicKey))
}
