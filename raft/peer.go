package raft

import (
	"context"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// peer is the leader side view of one other member. Its fields are owned by
// the node loop; calls run on their own goroutines and report back through
// deliver.
type peer struct {
	member          raft.Member
	transport       raft.Transport
	timeout         time.Duration
	snapshotTimeout time.Duration
	deliver         func(event)
	logger          hclog.Logger

	nextIndex        int64
	matchIndex       int64
	snapshotInFlight bool

	failures int
	retryAt  time.Time
}

func newPeer(member raft.Member, transport raft.Transport, timeout time.Duration, deliver func(event), logger hclog.Logger) *peer {
	return &peer{
		member:          member,
		transport:       transport,
		timeout:         timeout,
		snapshotTimeout: timeout * 10,
		deliver:         deliver,
		logger:          logger.Named("peer").With("peer", member.ID),
		nextIndex:       1,
	}
}

// reset is called on winning an election.
func (p *peer) reset(nextIndex int64) {
	p.nextIndex = nextIndex
	p.matchIndex = 0
	p.snapshotInFlight = false
	p.failures = 0
	p.retryAt = time.Time{}
}

func (p *peer) acknowledge(match int64) {
	if match > p.matchIndex {
		p.matchIndex = match
	}
	if p.nextIndex < match+1 {
		p.nextIndex = match + 1
	}
}

// noteFailure backs the peer off for up to two heartbeat intervals after
// consecutive failed calls.
func (p *peer) noteFailure(now time.Time, interval time.Duration) {
	p.failures++
	if p.failures < 2 {
		return
	}
	backoff := interval * time.Duration(p.failures-1)
	if backoff > 2*interval {
		backoff = 2 * interval
	}
	p.retryAt = now.Add(backoff)
}

// logFailure reports a failed call. Timeouts and unreachable members are
// routine while a node is down or partitioned and only show up at debug level.
func (p *peer) logFailure(call, requestID string, err error) {
	if raft.IsSoftFailure(err) {
		p.logger.Debug("call failed", "call", call, "request_id", requestID, "failures", p.failures, "error", err)
		return
	}
	p.logger.Warn("call failed", "call", call, "request_id", requestID, "failures", p.failures, "error", err)
}

func (p *peer) noteSuccess() {
	p.failures = 0
	p.retryAt = time.Time{}
}

func (p *peer) backingOff(now time.Time) bool {
	return now.Before(p.retryAt)
}

func (p *peer) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, client raft.RaftClient) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := p.transport.Client(ctx, p.member)
	if err == nil {
		err = fn(ctx, client)
	}
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return errors.Wrapf(raft.ErrRPCTimeout, "%v didn't answer within %v", p.member.ID, timeout)
	}
	return err
}

func (p *peer) requestVote(ctx context.Context, req raft.RequestVoteRequest) {
	req.RequestID = uuid.New().String()
	go func() {
		var res *raft.RequestVoteResponse
		err := p.call(ctx, p.timeout, func(ctx context.Context, client raft.RaftClient) (err error) {
			res, err = client.RequestVote(ctx, &req)
			return err
		})
		p.deliver(&voteResult{peer: p.member.ID, term: req.Term, req: &req, res: res, err: err})
	}()
}

func (p *peer) appendEntries(ctx context.Context, req raft.AppendEntriesRequest) {
	req.RequestID = uuid.New().String()
	go func() {
		var res *raft.AppendEntriesResponse
		err := p.call(ctx, p.timeout, func(ctx context.Context, client raft.RaftClient) (err error) {
			res, err = client.AppendEntries(ctx, &req)
			return err
		})
		p.deliver(&appendResult{peer: p.member.ID, term: req.Term, req: &req, res: res, err: err})
	}()
}

func (p *peer) installSnapshot(ctx context.Context, req raft.InstallSnapshotRequest) {
	req.RequestID = uuid.New().String()
	p.snapshotInFlight = true
	go func() {
		var res *raft.InstallSnapshotResponse
		err := p.call(ctx, p.snapshotTimeout, func(ctx context.Context, client raft.RaftClient) (err error) {
			res, err = client.InstallSnapshot(ctx, &req)
			return err
		})
		p.deliver(&snapshotResult{peer: p.member.ID, term: req.Term, req: &req, res: res, err: err})
	}()
}
