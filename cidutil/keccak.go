package cidutil

import (
	"golang.org/x/crypto/sha3"

	"xdao.co/routeplane/model"
)

// Keccak256 returns the legacy Keccak-256 digest of the concatenated parts.
func Keccak256(parts ...[]byte) model.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out model.Hash
	h.Sum(out[:0])
	return out
}
