package grpcnet

import (
	"context"
	"fmt"
	"strings"

	"xdao.co/routeplane/network"
	"xdao.co/routeplane/network/registry"
)

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "grpc",
		Description: "remote network served by routeplaned",
		Usage:       registry.UsageCLI,
		Open: func(_ context.Context, spec registry.Spec) (network.Network, func() error, error) {
			target := strings.TrimSpace(spec.Target)
			if target == "" {
				return nil, nil, fmt.Errorf("network %s: grpc backend requires a target", spec.ID)
			}
			client, err := Dial(spec.ID, target, DialOptions{MaxMsgBytes: spec.MaxMsgBytes, Signer: spec.Signer})
			if err != nil {
				return nil, nil, err
			}
			client.Timeout = spec.Timeout
			return client, client.Close, nil
		},
	})
}
