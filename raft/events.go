package raft

import (
	"context"

	"github.com/cube2222/raftkv"
)

// Everything that touches node state arrives at the node loop as one of
// these.
type event interface{}

type requestVoteEvent struct {
	req      *raft.RequestVoteRequest
	response chan<- *raft.RequestVoteResponse
}

type appendEntriesEvent struct {
	req      *raft.AppendEntriesRequest
	response chan<- *raft.AppendEntriesResponse
}

type installSnapshotEvent struct {
	req      *raft.InstallSnapshotRequest
	response chan<- *raft.InstallSnapshotResponse
}

type proposalEvent struct {
	data     []byte
	response chan<- *raft.AppendResult
}

// Results of outgoing calls. term is the term the call was issued in.
type voteResult struct {
	peer raft.NodeID
	term int64
	req  *raft.RequestVoteRequest
	res  *raft.RequestVoteResponse
	err  error
}

type appendResult struct {
	peer raft.NodeID
	term int64
	req  *raft.AppendEntriesRequest
	res  *raft.AppendEntriesResponse
	err  error
}

type snapshotResult struct {
	peer raft.NodeID
	term int64
	req  *raft.InstallSnapshotRequest
	res  *raft.InstallSnapshotResponse
	err  error
}

func (r *Raft) submit(ctx context.Context, ev event) error {
	select {
	case r.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return raft.ErrNodeStopped
	}
}

// deliver hands a call result back to the node loop, dropping it once the
// node is stopping.
func (r *Raft) deliver(ev event) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

func await[T any](ctx context.Context, done <-chan struct{}, response <-chan T) (T, error) {
	var zero T
	select {
	case res := <-response:
		return res, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-done:
		select {
		case res := <-response:
			return res, nil
		default:
			return zero, raft.ErrNodeStopped
		}
	}
}
