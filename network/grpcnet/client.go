package grpcnet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
	"xdao.co/routeplane/prooftree"
)

// Client implements network.Network over the Network gRPC service.
type Client struct {
	id     string
	cc     *grpc.ClientConn
	client NetworkClient
	signer ed25519.PrivateKey

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ network.Network = (*Client)(nil)

type DialOptions struct {
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Signer, when set, signs StageBatch, Commit, Apply and Activate. Those
	// calls must then act as the signer's address.
	Signer ed25519.PrivateKey

	// Extra options, e.g. a context dialer in tests.
	Extra []grpc.DialOption
}

// Dial creates a client for the network id served at target. The connection
// is established lazily on the first RPC.
func Dial(id, target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{id: id, cc: cc, client: NewNetworkClient(cc), signer: opts.Signer}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ID() string { return c.id }

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func (c *Client) call(ctx context.Context, method string, req, reply any) error {
	in, err := encode(req)
	if err != nil {
		return model.Wrap(model.CodeInvalidEncoding, err, "encode %s request", method)
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	out, err := c.client.Call(ctx, method, in)
	if err != nil {
		return fromRPC(err)
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(out.GetValue(), reply); err != nil {
		return model.Wrap(model.CodeInvalidEncoding, err, "decode %s reply", method)
	}
	return nil
}

func (c *Client) signedCall(ctx context.Context, method string, actor model.Address, req, reply any) error {
	sealed, err := seal(method, actor, req, c.signer, time.Now())
	if err != nil {
		return err
	}
	return c.call(ctx, method, sealed, reply)
}

func (c *Client) Info(ctx context.Context) (model.StoreInfo, error) {
	var info model.StoreInfo
	err := c.call(ctx, "Info", empty{}, &info)
	return info, err
}

func (c *Client) Predict(ctx context.Context, content []byte) (model.Address, error) {
	var reply addressMsg
	err := c.call(ctx, "Predict", contentRequest{Content: content}, &reply)
	return reply.Address, err
}

func (c *Client) StageBatch(ctx context.Context, call model.Call, contents [][]byte) ([]model.Chunk, error) {
	var reply chunksReply
	err := c.signedCall(ctx, "StageBatch", call.Caller, stageRequest{Caller: call.Caller, Value: call.Value, Contents: contents}, &reply)
	if err != nil {
		return nil, err
	}
	if len(reply.Chunks) != len(contents) {
		return nil, model.Errorf(model.CodeInternal, "staged %d item(s), got %d chunk(s) back", len(contents), len(reply.Chunks))
	}
	return reply.Chunks, nil
}

func (c *Client) CodeHash(ctx context.Context, addr model.Address) (model.Hash, error) {
	var reply hashMsg
	err := c.call(ctx, "CodeHash", addressMsg{Address: addr}, &reply)
	return reply.Hash, err
}

func (c *Client) ChunkAt(ctx context.Context, addr model.Address) (model.Chunk, error) {
	var chunk model.Chunk
	err := c.call(ctx, "ChunkAt", addressMsg{Address: addr}, &chunk)
	return chunk, err
}

func (c *Client) Commit(ctx context.Context, actor model.Address, commitment model.Commitment) error {
	return c.signedCall(ctx, "Commit", actor, commitRequest{Actor: actor, Commitment: commitment}, nil)
}

func (c *Client) Apply(ctx context.Context, actor model.Address, entry model.RouteEntry, proof prooftree.Proof) error {
	return c.signedCall(ctx, "Apply", actor, applyRequest{Actor: actor, Entry: entry, Proof: proof}, nil)
}

func (c *Client) Activate(ctx context.Context, actor model.Address) error {
	return c.signedCall(ctx, "Activate", actor, actorRequest{Actor: actor}, nil)
}

func (c *Client) Status(ctx context.Context) (model.DispatcherStatus, error) {
	var st model.DispatcherStatus
	err := c.call(ctx, "Status", empty{}, &st)
	return st, err
}

func (c *Client) Lookup(ctx context.Context, sel model.Selector) (model.RouteEntry, error) {
	var e model.RouteEntry
	err := c.call(ctx, "Lookup", selectorRequest{Selector: sel}, &e)
	return e, err
}
