package cidutil

import (
	"encoding/hex"
	"testing"

	"github.com/ipfs/go-cid"
)

func TestDigestCIDRoundTrip(t *testing.T) {
	data := []byte("chunk bytes")
	d := ContentDigest(data)

	id, err := CIDFromDigest(d)
	if err != nil {
		t.Fatalf("CIDFromDigest: %v", err)
	}
	if id.String() != CIDv1RawSHA256(data) {
		t.Fatalf("CID mismatch: %s vs %s", id, CIDv1RawSHA256(data))
	}
	back, err := DigestFromCID(id)
	if err != nil {
		t.Fatalf("DigestFromCID: %v", err)
	}
	if back != d {
		t.Fatalf("digest mismatch")
	}

	gotD, gotCID := MustCID(data)
	if gotD != d || gotCID != id.String() {
		t.Fatalf("MustCID mismatch")
	}
}

func TestParseDigest_AcceptsHexAndCID(t *testing.T) {
	data := []byte("x")
	d := ContentDigest(data)

	fromHex, err := ParseDigest(d.String())
	if err != nil || fromHex != d {
		t.Fatalf("hex: %v %v", fromHex, err)
	}
	fromCID, err := ParseDigest(CIDv1RawSHA256(data))
	if err != nil || fromCID != d {
		t.Fatalf("cid: %v %v", fromCID, err)
	}
	if _, err := ParseDigest("not-a-digest"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDigestFromCID_RejectsUndef(t *testing.T) {
	if _, err := DigestFromCID(cid.Undef); err == nil {
		t.Fatalf("expected error for undefined cid")
	}
}

func TestKeccak256_KnownVector(t *testing.T) {
	// Keccak-256 of the empty string.
	const want = "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	got := Keccak256()
	if hex.EncodeToString(got[:]) != want {
		t.Fatalf("keccak(\"\") = %x", got)
	}
	if Keccak256([]byte("ab")) != Keccak256([]byte("a"), []byte("b")) {
		t.Fatalf("parts must be concatenated")
	}
}
