package raft

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	DefaultElectionTimeoutMin = 150 * time.Millisecond
	DefaultElectionTimeoutMax = 300 * time.Millisecond
	DefaultHeartbeatInterval  = 50 * time.Millisecond
	DefaultRPCTimeout         = 100 * time.Millisecond
	DefaultSnapshotThreshold  = 1024
	DefaultMaxAppendEntries   = 64
)

type Option func(*Raft)

func WithLogger(logger hclog.Logger) Option {
	return func(r *Raft) {
		r.logger = logger
	}
}

// WithElectionTimeout sets the window the randomized election deadline is
// drawn from.
func WithElectionTimeout(min, max time.Duration) Option {
	return func(r *Raft) {
		r.electionTimeoutMin = min
		r.electionTimeoutMax = max
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(r *Raft) {
		r.heartbeatInterval = interval
	}
}

// WithRPCTimeout bounds every RequestVote and AppendEntries call. Snapshot
// transfers get ten times as long.
func WithRPCTimeout(timeout time.Duration) Option {
	return func(r *Raft) {
		r.rpcTimeout = timeout
	}
}

// WithSnapshotThreshold sets how many live entries the log may hold before
// applied entries get compacted into a snapshot.
func WithSnapshotThreshold(n int) Option {
	return func(r *Raft) {
		r.snapshotThreshold = n
	}
}

func WithMaxAppendEntries(n int) Option {
	return func(r *Raft) {
		r.maxAppendEntries = n
	}
}
