package grpcnet

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/routeplane/cidutil"
	"xdao.co/routeplane/keys"
	"xdao.co/routeplane/model"
)

const rpcDomain = "routeplane/rpc/v1"

// DefaultMaxSkew bounds the distance between a signed request's issue time
// and the server clock.
const DefaultMaxSkew = 5 * time.Minute

// signedRequest carries StageBatch, Commit, Apply and Activate requests.
// When Signature is set it is an Ed25519 signature by the acting address over
// requestDigest(method, IssuedAt, Payload).
type signedRequest struct {
	Payload   json.RawMessage `json:"payload"`
	IssuedAt  int64           `json:"issuedAt,omitempty"`
	Signature *keys.Signature `json:"signature,omitempty"`
}

func requestDigest(method string, issuedAt int64, payload []byte) model.Hash {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(issuedAt))
	return cidutil.Keccak256([]byte(rpcDomain), []byte{0}, []byte(method), []byte{0}, ts[:], payload)
}

// seal wraps the JSON encoding of req. With a signer, the signer's address
// must be actor.
func seal(method string, actor model.Address, req any, signer ed25519.PrivateKey, now time.Time) (signedRequest, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return signedRequest{}, model.Wrap(model.CodeInvalidEncoding, err, "encode %s request", method)
	}
	out := signedRequest{Payload: payload}
	if signer == nil {
		return out, nil
	}
	if addr := keys.AddressFromPublicKey(signer.Public().(ed25519.PublicKey)); addr != actor {
		return signedRequest{}, model.Errorf(model.CodeUnauthorized, "%s: signing key is %s, request acts as %s", method, addr, actor)
	}
	out.IssuedAt = now.UnixNano()
	sig := keys.SignEd25519(requestDigest(method, out.IssuedAt, payload), signer)
	out.Signature = &sig
	return out, nil
}

// unseal decodes a signed request and its payload into v.
func unseal(in *wrapperspb.BytesValue, v any) (signedRequest, error) {
	var req signedRequest
	if err := decodeRequest(in, &req); err != nil {
		return req, err
	}
	if err := decodeRequest(wrapperspb.Bytes(req.Payload), v); err != nil {
		return req, err
	}
	return req, nil
}

// replayCache remembers accepted request digests until they fall out of the
// skew window.
type replayCache struct {
	mu   sync.Mutex
	seen map[model.Hash]time.Time
}

// admit records digest and reports false if it was already seen.
func (c *replayCache) admit(digest model.Hash, expires, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[model.Hash]time.Time)
	}
	for d, exp := range c.seen {
		if now.After(exp) {
			delete(c.seen, d)
		}
	}
	if _, ok := c.seen[digest]; ok {
		return false
	}
	c.seen[digest] = expires
	return true
}

// authenticate checks req against actor. A present signature is always
// verified; a missing one is rejected only when signatures are required.
func (s *Server) authenticate(method string, req signedRequest, actor model.Address) error {
	if req.Signature == nil {
		if s.RequireSignatures {
			return model.Errorf(model.CodeUnauthorized, "%s: unsigned request acting as %s", method, actor)
		}
		return nil
	}
	digest := requestDigest(method, req.IssuedAt, req.Payload)
	if err := keys.Verify(*req.Signature, digest); err != nil {
		return err
	}
	signer, err := req.Signature.Signer()
	if err != nil {
		return err
	}
	if signer != actor {
		return model.Errorf(model.CodeUnauthorized, "%s: signed by %s, request acts as %s", method, signer, actor)
	}

	skew := s.MaxSkew
	if skew <= 0 {
		skew = DefaultMaxSkew
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	issued := time.Unix(0, req.IssuedAt)
	if d := now.Sub(issued); d > skew || d < -skew {
		return model.Errorf(model.CodeUnauthorized, "%s: request issued at %s is outside the accepted window", method, issued.UTC().Format(time.RFC3339))
	}
	if !s.replays.admit(digest, issued.Add(skew), now) {
		return model.Errorf(model.CodeUnauthorized, "%s: request was already accepted", method)
	}
	return nil
}
