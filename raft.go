package raft

import "context"

type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	}
	return "unknown"
}

// Applyable is the replicated state machine. Apply is called with committed
// entries in index order, exactly once each.
type Applyable interface {
	Apply(entry *Entry) error
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

type Raft interface {
	RaftServer

	Run() error
	Stop()
	AppendLog(ctx context.Context, data []byte) (*AppendResult, error)
	Status() NodeStatus
	GetDebugData() []Entry
}

// AppendResult is what a client gets back for a submitted command. Success is
// false when the node does not believe itself to be the leader.
type AppendResult struct {
	Success bool  `json:"success"`
	Index   int64 `json:"index"`
}

type NodeStatus struct {
	NodeID      NodeID `json:"nodeId"`
	Role        Role   `json:"-"`
	RoleName    string `json:"role"`
	Term        int64  `json:"term"`
	Leader      NodeID `json:"leader,omitempty"`
	CommitIndex int64  `json:"commitIndex"`
	LastApplied int64  `json:"lastApplied"`
	LastIndex   int64  `json:"lastIndex"`
	// Index covered by the latest snapshot, 0 if the log was never compacted.
	SnapshotIndex int64 `json:"snapshotIndex"`
}
