package grpcnet

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/routeplane/model"
	"xdao.co/routeplane/prooftree"
)

type empty struct{}

type contentRequest struct {
	Content []byte `json:"content"`
}

type stageRequest struct {
	Caller   model.Address `json:"caller"`
	Value    uint64        `json:"value"`
	Contents [][]byte      `json:"contents"`
}

type chunksReply struct {
	Chunks []model.Chunk `json:"chunks"`
}

type addressMsg struct {
	Address model.Address `json:"address"`
}

type hashMsg struct {
	Hash model.Hash `json:"hash"`
}

type commitRequest struct {
	Actor      model.Address    `json:"actor"`
	Commitment model.Commitment `json:"commitment"`
}

type applyRequest struct {
	Actor model.Address    `json:"actor"`
	Entry model.RouteEntry `json:"entry"`
	Proof prooftree.Proof  `json:"proof"`
}

type actorRequest struct {
	Actor model.Address `json:"actor"`
}

type selectorRequest struct {
	Selector model.Selector `json:"selector"`
}

func encode(v any) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(b), nil
}

// decodeRequest unmarshals a server-side payload; bad JSON is InvalidArgument.
func decodeRequest(in *wrapperspb.BytesValue, v any) error {
	if err := json.Unmarshal(in.GetValue(), v); err != nil {
		return status.Errorf(codes.InvalidArgument, "%s: malformed request: %v", model.CodeInvalidEncoding, err)
	}
	return nil
}

func encodeReply(v any) (*wrapperspb.BytesValue, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%s: encode reply: %v", model.CodeInternal, err)
	}
	return out, nil
}

func callOf(r stageRequest) model.Call {
	return model.Call{Caller: r.Caller, Value: r.Value}
}
