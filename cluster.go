package raft

import "context"

type NodeID string

func (n NodeID) String() string {
	return string(n)
}

// Member is a fixed cluster member: a stable id and the address its RPC
// server listens on.
type Member struct {
	ID       NodeID `json:"id"`
	Endpoint string `json:"endpoint"`
}

// Transport hands out clients bound to a single remote member.
type Transport interface {
	Client(ctx context.Context, member Member) (RaftClient, error)
}

type RaftClient interface {
	RequestVote(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

type RaftServer interface {
	RequestVote(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error)
	AppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

type RequestVoteRequest struct {
	RequestID string `json:"request_id"`

	Term        int64  `json:"term"`
	CandidateID NodeID `json:"candidate_id"`

	LastLogIndex int64 `json:"last_log_index"`
	LastLogTerm  int64 `json:"last_log_term"`
}

type RequestVoteResponse struct {
	Term        int64 `json:"term"`
	VoteGranted bool  `json:"vote_granted"`
}

type AppendEntriesRequest struct {
	RequestID string `json:"request_id"`

	Term     int64  `json:"term"`
	LeaderID NodeID `json:"leader_id"`

	PrevLogIndex int64 `json:"prev_log_index"`
	PrevLogTerm  int64 `json:"prev_log_term"`

	Entries      []Entry `json:"entries"`
	LeaderCommit int64   `json:"leader_commit"`
}

// AppendEntriesResponse carries a conflict hint on rejection. ConflictIndex
// and ConflictTerm are 0 when absent.
type AppendEntriesResponse struct {
	Term    int64 `json:"term"`
	Success bool  `json:"success"`

	ConflictIndex int64 `json:"conflict_index,omitempty"`
	ConflictTerm  int64 `json:"conflict_term,omitempty"`
}

type InstallSnapshotRequest struct {
	RequestID string `json:"request_id"`

	Term     int64  `json:"term"`
	LeaderID NodeID `json:"leader_id"`

	LastIncludedIndex int64  `json:"last_included_index"`
	LastIncludedTerm  int64  `json:"last_included_term"`
	Data              []byte `json:"data"`
}

type InstallSnapshotResponse struct {
	Term int64 `json:"term"`
}
