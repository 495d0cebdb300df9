package raft

// HardState is the part of the node state that has to hit disk before the
// node answers an RPC.
type HardState struct {
	Term     int64  `json:"term"`
	VotedFor NodeID `json:"voted_for"`
	// Last known commit index. Only used to replay the log on restart.
	CommitIndex int64 `json:"commit_index"`
}

type Snapshot struct {
	LastIncludedIndex int64  `json:"last_included_index"`
	LastIncludedTerm  int64  `json:"last_included_term"`
	Data              []byte `json:"data"`
}

// Storage is the durable backing of a single node. All writes must be
// durable when the call returns.
type Storage interface {
	LoadHardState() (HardState, error)
	SaveHardState(HardState) error

	// LoadEntries returns every live entry in index order.
	LoadEntries() ([]Entry, error)
	AppendEntries(entries []Entry) error
	// TruncateFrom deletes every entry with an index >= index.
	TruncateFrom(index int64) error

	// LoadSnapshot returns nil if no snapshot was ever saved.
	LoadSnapshot() (*Snapshot, error)
	// SaveSnapshot stores the snapshot and deletes every entry it covers.
	SaveSnapshot(snapshot *Snapshot) error

	Close() error
}
