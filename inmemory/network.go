package inmemory

import (
	"context"
	"sync"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

// Network connects nodes living in one process. A disconnected node can
// neither send nor receive, and while a partition is in place only nodes of
// the same group reach each other. Calls crossing a partition hang until their
// context expires, the way a dead link would.
type Network struct {
	servers      map[raft.NodeID]raft.RaftServer
	disconnected map[raft.NodeID]bool
	// Group of each node while partitioned, nil otherwise.
	groups map[raft.NodeID]int

	mutex sync.RWMutex
}

func NewNetwork() *Network {
	return &Network{
		servers:      make(map[raft.NodeID]raft.RaftServer),
		disconnected: make(map[raft.NodeID]bool),
	}
}

// Register makes server reachable as id, replacing any earlier server, so a
// restarted node can take over its predecessor's address.
func (n *Network) Register(id raft.NodeID, server raft.RaftServer) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.servers[id] = server
}

func (n *Network) Unregister(id raft.NodeID) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	delete(n.servers, id)
}

func (n *Network) Disconnect(id raft.NodeID) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.disconnected[id] = true
}

func (n *Network) Connect(id raft.NodeID) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	delete(n.disconnected, id)
}

// Partition splits the network into the given groups. Nodes not named in any
// group form one more group of their own.
func (n *Network) Partition(groups ...[]raft.NodeID) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.groups = make(map[raft.NodeID]int)
	for i, group := range groups {
		for _, id := range group {
			n.groups[id] = i + 1
		}
	}
}

// Heal removes the partition and reconnects every disconnected node.
func (n *Network) Heal() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.groups = nil
	n.disconnected = make(map[raft.NodeID]bool)
}

func (n *Network) reachable(from, to raft.NodeID) bool {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	if n.disconnected[from] || n.disconnected[to] {
		return false
	}
	return n.groups == nil || n.groups[from] == n.groups[to]
}

func (n *Network) server(id raft.NodeID) (raft.RaftServer, bool) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	server, ok := n.servers[id]
	return server, ok
}

// Transport returns the transport used by the node identified by from.
func (n *Network) Transport(from raft.NodeID) raft.Transport {
	return &transport{
		network: n,
		from:    from,
	}
}

type transport struct {
	network *Network
	from    raft.NodeID
}

func (t *transport) Client(ctx context.Context, member raft.Member) (raft.RaftClient, error) {
	return &client{
		network: t.network,
		from:    t.from,
		to:      member.ID,
	}, nil
}

type client struct {
	network  *Network
	from, to raft.NodeID
}

// route waits out a partition and returns the destination server.
func (c *client) route(ctx context.Context) (raft.RaftServer, error) {
	if !c.network.reachable(c.from, c.to) {
		<-ctx.Done()
		return nil, errors.Wrapf(ctx.Err(), "%s -> %s partitioned", c.from, c.to)
	}
	server, ok := c.network.server(c.to)
	if !ok {
		return nil, errors.Wrapf(raft.ErrUnreachable, "%s isn't registered", c.to)
	}
	return server, nil
}

// deliver drops replies that would have to cross a partition created while
// the request was being handled.
func (c *client) deliver(ctx context.Context) error {
	if !c.network.reachable(c.from, c.to) {
		<-ctx.Done()
		return errors.Wrapf(ctx.Err(), "%s -> %s partitioned", c.to, c.from)
	}
	return nil
}

func (c *client) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	server, err := c.route(ctx)
	if err != nil {
		return nil, err
	}
	res, err := server.RequestVote(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.deliver(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *client) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	server, err := c.route(ctx)
	if err != nil {
		return nil, err
	}
	copied := *req
	copied.Entries = append([]raft.Entry(nil), req.Entries...)
	res, err := server.AppendEntries(ctx, &copied)
	if err != nil {
		return nil, err
	}
	if err := c.deliver(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *client) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	server, err := c.route(ctx)
	if err != nil {
		return nil, err
	}
	res, err := server.InstallSnapshot(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.deliver(ctx); err != nil {
		return nil, err
	}
	return res, nil
}
