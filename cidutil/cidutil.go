// Package cidutil derives content identifiers and digests for deployed code.
//
// Code is identified by a CIDv1 using the "raw" multicodec and a sha2-256
// multihash. The 32-byte sha2-256 digest inside that multihash is the code
// digest carried by route entries and chunk records, so a CID and a digest can
// always be converted into each other without re-reading the bytes.
package cidutil

import (
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/routeplane/model"
)

// CIDv1RawSHA256 returns a CIDv1 string using the "raw" multicodec
// and a sha2-256 multihash.
func CIDv1RawSHA256(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1 length,
		// this should be unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// ContentDigest returns the sha2-256 digest of data.
func ContentDigest(data []byte) model.Hash {
	return model.Hash(sha256.Sum256(data))
}

// CIDFromDigest rebuilds the raw CIDv1 for a sha2-256 content digest.
func CIDFromDigest(digest model.Hash) (cid.Cid, error) {
	mh, err := multihash.Encode(digest[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// DigestFromCID extracts the sha2-256 content digest from a raw CIDv1.
func DigestFromCID(id cid.Cid) (model.Hash, error) {
	if !id.Defined() {
		return model.Hash{}, model.Errorf(model.CodeInvalidEncoding, "undefined cid")
	}
	dec, err := multihash.Decode(id.Hash())
	if err != nil {
		return model.Hash{}, model.Wrap(model.CodeInvalidEncoding, err, "decode multihash")
	}
	if dec.Code != multihash.SHA2_256 {
		return model.Hash{}, model.Errorf(model.CodeInvalidEncoding, "unsupported multihash %s", dec.Name)
	}
	return model.HashFromBytes(dec.Digest)
}

// ParseDigest accepts either a CID string or a 0x-prefixed hex digest.
func ParseDigest(s string) (model.Hash, error) {
	if h, err := model.ParseHash(s); err == nil {
		return h, nil
	}
	id, err := cid.Decode(s)
	if err != nil {
		return model.Hash{}, model.Wrap(model.CodeInvalidEncoding, err, "%q is neither a hex digest nor a cid", s)
	}
	return DigestFromCID(id)
}

// MustCID is CIDv1RawSHA256 for callers that also need the digest.
func MustCID(data []byte) (model.Hash, string) {
	d := ContentDigest(data)
	id, err := CIDFromDigest(d)
	if err != nil {
		panic(fmt.Sprintf("cidutil: encode sha2-256 digest: %v", err))
	}
	return d, id.String()
}
