package cluster

import (
	"sort"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

// Cluster is the fixed membership of a run: this node plus its peers, known
// at construction and never changed.
type Cluster struct {
	self    raft.Member
	members map[raft.NodeID]raft.Member
}

// NewCluster builds the membership from all members, self included.
func NewCluster(self raft.NodeID, members []raft.Member) (*Cluster, error) {
	c := &Cluster{
		members: make(map[raft.NodeID]raft.Member, len(members)),
	}
	for _, member := range members {
		if member.ID == "" {
			return nil, errors.New("Member without an id")
		}
		if _, ok := c.members[member.ID]; ok {
			return nil, errors.Errorf("Duplicate member: %v", member.ID)
		}
		c.members[member.ID] = member
	}

	me, ok := c.members[self]
	if !ok {
		return nil, errors.Errorf("Local node %v isn't a cluster member", self)
	}
	c.self = me

	return c, nil
}

func (c *Cluster) Self() raft.Member {
	return c.self
}

func (c *Cluster) NumMembers() int {
	return len(c.members)
}

// QuorumSize is the smallest majority of the full member set.
func (c *Cluster) QuorumSize() int {
	return len(c.members)/2 + 1
}

// OtherMembers returns the peers sorted by id.
func (c *Cluster) OtherMembers() []raft.Member {
	out := make([]raft.Member, 0, len(c.members)-1)
	for id, member := range c.members {
		if id != c.self.ID {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
