package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/routeplane/chaintime"
	"xdao.co/routeplane/deploy"
	"xdao.co/routeplane/dispatch"
	"xdao.co/routeplane/model"
	"xdao.co/routeplane/network"
)

func spec(id, backend string) Spec {
	return Spec{
		ID:       id,
		Backend:  backend,
		Store:    deploy.Config{Identity: model.Address{19: 0x11}},
		Dispatch: dispatch.Config{Admin: model.Address{19: 0xad}, ActivationDelay: 60},
		Clock:    chaintime.NewManual(10),
	}
}

func TestBuiltinsRegistered(t *testing.T) {
	require.Equal(t, []string{"badger", "memory"}, Names(UsageDaemon))
	require.Contains(t, Names(UsageCLI), "memory")
}

func TestRegister_Rejects(t *testing.T) {
	require.Error(t, Register(Backend{}))
	require.Error(t, Register(Backend{Name: "x", Usage: UsageCLI}))
	require.Error(t, Register(Backend{Name: "memory", Usage: UsageCLI, Open: func(context.Context, Spec) (network.Network, func() error, error) { return nil, nil, nil }}))
}

func TestOpen_Memory(t *testing.T) {
	ctx := context.Background()
	n, closeFn, err := Open(ctx, spec("mem-1", "memory"), UsageCLI)
	require.NoError(t, err)
	defer closeFn()

	require.Equal(t, "mem-1", n.ID())
	info, err := n.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, deploy.DefaultMaxChunkSize, info.MaxChunkSize)

	st, err := n.Status(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 60, st.ActivationDelay)
	require.EqualValues(t, 10, st.Now)
}

func TestOpen_BadgerPersists(t *testing.T) {
	ctx := context.Background()
	s := spec("disk-1", "badger")
	s.Path = t.TempDir()

	n, closeFn, err := Open(ctx, s, UsageDaemon)
	require.NoError(t, err)
	chunks, err := n.StageBatch(ctx, model.Call{}, [][]byte{[]byte("persisted module")})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	n, closeFn, err = Open(ctx, s, UsageDaemon)
	require.NoError(t, err)
	defer closeFn()
	got, err := n.ChunkAt(ctx, chunks[0].Address)
	require.NoError(t, err)
	require.Equal(t, chunks[0], got)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	_, _, err := Open(ctx, spec("x", "nope"), UsageCLI)
	require.Error(t, err)

	_, _, err = Open(ctx, spec("", "memory"), UsageCLI)
	require.Error(t, err)

	_, _, err = Open(ctx, spec("x", "badger"), UsageCLI)
	require.ErrorContains(t, err, "requires a path")
}
