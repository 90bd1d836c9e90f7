package deploy

import (
	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/model"
)

// SaltDomain prefixes every salt so chunk addresses cannot collide with
// addresses derived for other purposes from the same identity.
const SaltDomain = "routeplane/chunk/v1"

const createPrefix byte = 0xff

// Salt derives the deployment salt from a content digest.
func Salt(digest model.Hash) model.Hash {
	return cidutil.Keccak256([]byte(SaltDomain), digest[:])
}

// PredictAddress returns the address content will occupy when staged by the
// store whose identity is given:
//
//	keccak256(0xff ‖ identity ‖ salt ‖ keccak256(content))[12:]
//
// It depends on nothing but its arguments.
func PredictAddress(identity model.Address, content []byte) model.Address {
	salt := Salt(cidutil.ContentDigest(content))
	payload := cidutil.Keccak256(content)
	h := cidutil.Keccak256([]byte{createPrefix}, identity[:], salt[:], payload[:])
	var out model.Address
	copy(out[:], h[model.HashSize-model.AddressSize:])
	return out
}
