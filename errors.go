package raft

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrStaleTerm        = errors.New("stale term")
	ErrLogInconsistency = errors.New("log inconsistency")
	ErrCompacted        = errors.New("entry compacted into snapshot")
	ErrNoSuchEntry      = errors.New("no such entry")
	ErrRPCTimeout       = errors.New("rpc timed out")
	ErrPersistence      = errors.New("couldn't persist raft state")
	ErrNotLeader        = errors.New("not the leader")
	ErrNodeStopped      = errors.New("node stopped")
	ErrUnreachable      = errors.New("member unreachable")
)

// IsSoftFailure tells whether an RPC error is expected during normal
// operation and only means the peer is skipped this round.
func IsSoftFailure(err error) bool {
	cause := errors.Cause(err)
	switch cause {
	case ErrRPCTimeout, ErrUnreachable, ErrNodeStopped, context.Canceled, context.DeadlineExceeded:
		return true
	}
	switch status.Code(cause) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}
