package grpcnet

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/routeplane/network"
)

// Server exposes a network.Network over the Network gRPC service.
//
// StageBatch, Commit, Apply and Activate name an acting address. A request
// signed by that address is verified, replays are refused, and an unsigned
// request is accepted only while RequireSignatures is false.
type Server struct {
	UnimplementedNetworkServer
	Network network.Network
	Log     zerolog.Logger

	RequireSignatures bool
	// MaxSkew defaults to DefaultMaxSkew.
	MaxSkew time.Duration
	Now     func() time.Time

	replays replayCache
}

func (s *Server) ready() error {
	if s == nil || s.Network == nil {
		return status.Error(codes.FailedPrecondition, "missing network")
	}
	return nil
}

func (s *Server) fail(method string, err error) error {
	s.Log.Debug().Err(err).Str("method", method).Msg("rpc rejected")
	return toStatus(err)
}

func (s *Server) Info(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	info, err := s.Network.Info(ctx)
	if err != nil {
		return nil, s.fail("Info", err)
	}
	return encodeReply(info)
}

func (s *Server) Predict(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req contentRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	addr, err := s.Network.Predict(ctx, req.Content)
	if err != nil {
		return nil, s.fail("Predict", err)
	}
	return encodeReply(addressMsg{Address: addr})
}

func (s *Server) StageBatch(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req stageRequest
	sealed, err := unseal(in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.authenticate("StageBatch", sealed, req.Caller); err != nil {
		return nil, s.fail("StageBatch", err)
	}
	chunks, err := s.Network.StageBatch(ctx, callOf(req), req.Contents)
	if err != nil {
		return nil, s.fail("StageBatch", err)
	}
	return encodeReply(chunksReply{Chunks: chunks})
}

func (s *Server) CodeHash(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req addressMsg
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	h, err := s.Network.CodeHash(ctx, req.Address)
	if err != nil {
		return nil, s.fail("CodeHash", err)
	}
	return encodeReply(hashMsg{Hash: h})
}

func (s *Server) ChunkAt(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req addressMsg
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	c, err := s.Network.ChunkAt(ctx, req.Address)
	if err != nil {
		return nil, s.fail("ChunkAt", err)
	}
	return encodeReply(c)
}

func (s *Server) Commit(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req commitRequest
	sealed, err := unseal(in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.authenticate("Commit", sealed, req.Actor); err != nil {
		return nil, s.fail("Commit", err)
	}
	if err := s.Network.Commit(ctx, req.Actor, req.Commitment); err != nil {
		return nil, s.fail("Commit", err)
	}
	return encodeReply(empty{})
}

func (s *Server) Apply(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req applyRequest
	sealed, err := unseal(in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.authenticate("Apply", sealed, req.Actor); err != nil {
		return nil, s.fail("Apply", err)
	}
	if err := s.Network.Apply(ctx, req.Actor, req.Entry, req.Proof); err != nil {
		return nil, s.fail("Apply", err)
	}
	return encodeReply(empty{})
}

func (s *Server) Activate(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req actorRequest
	sealed, err := unseal(in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.authenticate("Activate", sealed, req.Actor); err != nil {
		return nil, s.fail("Activate", err)
	}
	if err := s.Network.Activate(ctx, req.Actor); err != nil {
		return nil, s.fail("Activate", err)
	}
	return encodeReply(empty{})
}

func (s *Server) Status(ctx context.Context, _ *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	st, err := s.Network.Status(ctx)
	if err != nil {
		return nil, s.fail("Status", err)
	}
	return encodeReply(st)
}

func (s *Server) Lookup(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var req selectorRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, err
	}
	e, err := s.Network.Lookup(ctx, req.Selector)
	if err != nil {
		return nil, s.fail("Lookup", err)
	}
	return encodeReply(e)
}
