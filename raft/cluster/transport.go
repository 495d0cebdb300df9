package cluster

import (
	"context"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/grpccache"
	"github.com/pkg/errors"
)

// GRPCTransport reaches members over gRPC, sharing one connection per
// endpoint.
type GRPCTransport struct {
	cache *grpccache.Cache
}

func NewGRPCTransport(ctx context.Context) *GRPCTransport {
	return &GRPCTransport{
		cache: grpccache.NewCache(ctx),
	}
}

func (t *GRPCTransport) Client(ctx context.Context, member raft.Member) (raft.RaftClient, error) {
	conn, err := t.cache.GetConnection(ctx, member.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "Couldn't get connection to %v", member.ID)
	}
	return raft.NewRaftClient(conn), nil
}
