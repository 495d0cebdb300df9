package raft

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/raft/cluster"
	"github.com/cube2222/raftkv/raft/entrylog"
	"github.com/cube2222/raftkv/raft/termdata"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

var _ raft.Raft = &Raft{}

// Raft is a single consensus node. All of its state is owned by the
// goroutine executing Run; inbound RPCs, client proposals, timers and the
// results of outgoing calls are all turned into events handled there one at
// a time.
type Raft struct {
	cluster   *cluster.Cluster
	transport raft.Transport
	applyable raft.Applyable
	logger    hclog.Logger

	electionTimeoutMin time.Duration
	electionTimeoutMax time.Duration
	heartbeatInterval  time.Duration
	rpcTimeout         time.Duration
	snapshotThreshold  int
	maxAppendEntries   int

	// On all servers, persistent
	// Term specific
	termData *termdata.TermData

	log *entrylog.EntryLog

	// On all servers, volatile
	commitIndex int64
	lastApplied int64

	// On leader, reinitialized after election
	peers map[raft.NodeID]*peer

	// On candidate
	votes map[raft.NodeID]bool

	electionTimer *time.Timer
	heartbeat     *time.Ticker
	random        *rand.Rand

	events  chan event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	fatal   error

	status atomic.Pointer[raft.NodeStatus]
}

// NewRaft loads the persisted state of the node from storage, restores the
// latest snapshot into applyable and replays every entry known to be
// committed. The node does nothing until Run is called.
func NewRaft(ctx context.Context, cluster *cluster.Cluster, transport raft.Transport, storage raft.Storage, applyable raft.Applyable, opts ...Option) (*Raft, error) {
	entryLog, err := entrylog.NewEntryLog(storage)
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't load entry log")
	}

	termData, err := termdata.NewTermData(cluster.Self().ID, storage)
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't load term data")
	}

	ctx, cancel := context.WithCancel(ctx)

	r := &Raft{
		cluster:   cluster,
		transport: transport,
		applyable: applyable,
		logger:    hclog.NewNullLogger(),

		electionTimeoutMin: DefaultElectionTimeoutMin,
		electionTimeoutMax: DefaultElectionTimeoutMax,
		heartbeatInterval:  DefaultHeartbeatInterval,
		rpcTimeout:         DefaultRPCTimeout,
		snapshotThreshold:  DefaultSnapshotThreshold,
		maxAppendEntries:   DefaultMaxAppendEntries,

		termData: termData,
		log:      entryLog,

		peers: make(map[raft.NodeID]*peer),

		events: make(chan event, 1024),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}
	if err := r.validate(); err != nil {
		cancel()
		return nil, err
	}
	r.logger = r.logger.Named("raft").With("node", cluster.Self().ID)

	seed := fnv.New64a()
	seed.Write([]byte(cluster.Self().ID))
	r.random = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(seed.Sum64())))

	for _, member := range cluster.OtherMembers() {
		r.peers[member.ID] = newPeer(member, transport, r.rpcTimeout, r.deliver, r.logger)
	}

	if err := r.recover(); err != nil {
		cancel()
		return nil, err
	}
	r.publishStatus()

	return r, nil
}

func (r *Raft) validate() error {
	switch {
	case r.electionTimeoutMin <= 0 || r.electionTimeoutMax < r.electionTimeoutMin:
		return errors.Errorf("Invalid election timeout range [%v, %v]", r.electionTimeoutMin, r.electionTimeoutMax)
	case r.heartbeatInterval <= 0 || r.heartbeatInterval >= r.electionTimeoutMin:
		return errors.Errorf("Heartbeat interval %v has to be positive and below the election timeout", r.heartbeatInterval)
	case r.rpcTimeout <= 0:
		return errors.Errorf("Invalid rpc timeout %v", r.rpcTimeout)
	case r.snapshotThreshold <= 0:
		return errors.Errorf("Invalid snapshot threshold %d", r.snapshotThreshold)
	case r.maxAppendEntries <= 0:
		return errors.Errorf("Invalid max append entries %d", r.maxAppendEntries)
	}
	return nil
}

func (r *Raft) recover() error {
	if snapshot := r.log.Snapshot(); snapshot != nil {
		if err := r.applyable.Restore(snapshot.Data); err != nil {
			return errors.Wrap(err, "Couldn't restore snapshot")
		}
		r.lastApplied = snapshot.LastIncludedIndex
		r.commitIndex = snapshot.LastIncludedIndex
	}

	commitIndex := r.termData.GetCommitIndex()
	if last := r.log.LastIndex(); commitIndex > last {
		r.logger.Warn("persisted commit index beyond the log", "commit_index", commitIndex, "last_index", last)
		commitIndex = last
	}
	if commitIndex > r.commitIndex {
		r.commitIndex = commitIndex
	}

	r.applyCommitted()
	if r.fatal != nil {
		return r.fatal
	}
	if r.lastApplied > 0 {
		r.logger.Info("recovered state", "term", r.termData.GetTerm(), "last_applied", r.lastApplied, "last_index", r.log.LastIndex())
	}
	return nil
}

// Run executes the node until Stop is called or the node hits an
// unrecoverable persistence failure, which is returned.
func (r *Raft) Run() error {
	if r.started.Swap(true) {
		return errors.New("Raft node is already running")
	}
	defer close(r.done)

	r.electionTimer = time.NewTimer(r.randomElectionTimeout())
	defer r.electionTimer.Stop()
	defer r.stopHeartbeat()

	r.logger.Info("starting", "term", r.termData.GetTerm(), "last_index", r.log.LastIndex(), "members", r.cluster.NumMembers())

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("stopping")
			return nil
		case <-r.electionTimer.C:
			r.onElectionTimeout()
		case <-r.heartbeatC():
			r.onHeartbeat()
		case ev := <-r.events:
			r.handle(ev)
		}

		if r.fatal != nil {
			r.logger.Error("halting node", "error", r.fatal)
			r.cancel()
			return r.fatal
		}
		r.publishStatus()
	}
}

// Stop halts the node and waits for Run to return. Pending calls fail with
// ErrNodeStopped.
func (r *Raft) Stop() {
	r.cancel()
	if r.started.Load() {
		<-r.done
	}
}

func (r *Raft) handle(ev event) {
	switch ev := ev.(type) {
	case *requestVoteEvent:
		ev.response <- r.handleRequestVote(ev.req)
	case *appendEntriesEvent:
		ev.response <- r.handleAppendEntries(ev.req)
	case *installSnapshotEvent:
		ev.response <- r.handleInstallSnapshot(ev.req)
	case *proposalEvent:
		ev.response <- r.handleProposal(ev.data)
	case *voteResult:
		r.onVoteResult(ev)
	case *appendResult:
		r.onAppendResult(ev)
	case *snapshotResult:
		r.onSnapshotResult(ev)
	default:
		r.logger.Error("unknown event", "type", hclog.Fmt("%T", ev))
	}
}

func (r *Raft) fail(err error) {
	if r.fatal == nil {
		r.fatal = err
	}
}

func (r *Raft) randomElectionTimeout() time.Duration {
	spread := int64(r.electionTimeoutMax - r.electionTimeoutMin)
	return r.electionTimeoutMin + time.Duration(r.random.Int63n(spread+1))
}

func (r *Raft) stopElectionTimer() {
	if !r.electionTimer.Stop() {
		select {
		case <-r.electionTimer.C:
		default:
		}
	}
}

func (r *Raft) resetElectionTimer() {
	r.stopElectionTimer()
	r.electionTimer.Reset(r.randomElectionTimeout())
}

func (r *Raft) heartbeatC() <-chan time.Time {
	if r.heartbeat == nil {
		return nil
	}
	return r.heartbeat.C
}

func (r *Raft) startHeartbeat() {
	r.stopHeartbeat()
	r.heartbeat = time.NewTicker(r.heartbeatInterval)
}

func (r *Raft) stopHeartbeat() {
	if r.heartbeat != nil {
		r.heartbeat.Stop()
		r.heartbeat = nil
	}
}

func (r *Raft) hasQuorum(n int) bool {
	return n >= r.cluster.QuorumSize()
}

func (r *Raft) onElectionTimeout() {
	if r.termData.GetRole() == raft.Leader {
		return
	}
	r.startElection()
}

func (r *Raft) startElection() {
	term, err := r.termData.InitiateElection()
	if err != nil {
		r.fail(err)
		return
	}
	r.logger.Info("starting election", "term", term)
	r.resetElectionTimer()

	r.votes = map[raft.NodeID]bool{r.cluster.Self().ID: true}
	if r.hasQuorum(len(r.votes)) {
		r.becomeLeader(term)
		return
	}

	req := raft.RequestVoteRequest{
		Term:         term,
		CandidateID:  r.cluster.Self().ID,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	}
	for _, p := range r.peers {
		p.requestVote(r.ctx, req)
	}
}

func (r *Raft) onVoteResult(ev *voteResult) {
	if ev.err != nil {
		if p, ok := r.peers[ev.peer]; ok {
			p.logFailure("request_vote", ev.req.RequestID, ev.err)
		}
		return
	}
	if ev.res.Term > r.termData.GetTerm() {
		r.stepDown(ev.res.Term)
		return
	}
	if r.termData.GetRole() != raft.Candidate || ev.term != r.termData.GetTerm() || !ev.res.VoteGranted {
		return
	}

	r.votes[ev.peer] = true
	r.logger.Debug("received vote", "peer", ev.peer, "term", ev.term, "votes", len(r.votes))
	if r.hasQuorum(len(r.votes)) {
		r.becomeLeader(ev.term)
	}
}

// stepDown makes the node a follower, moving to term first if it is newer.
func (r *Raft) stepDown(term int64) {
	wasLeader := r.termData.GetRole() == raft.Leader
	if term > r.termData.GetTerm() {
		if err := r.termData.OverrideTerm(term); err != nil {
			r.fail(err)
			return
		}
	} else {
		r.termData.BecomeFollower()
	}
	r.votes = nil

	if wasLeader {
		r.logger.Info("stepping down", "term", term)
		r.stopHeartbeat()
		r.resetElectionTimer()
	}
}

func (r *Raft) becomeLeader(term int64) {
	if !r.termData.BecomeLeader(term) {
		return
	}
	r.logger.Info("became leader", "term", term)
	r.votes = nil
	r.stopElectionTimer()

	last := r.log.LastIndex()
	for _, p := range r.peers {
		p.reset(last + 1)
	}

	// An entry of the new term lets earlier entries commit.
	noop := raft.Entry{
		Index: last + 1,
		Term:  term,
		Type:  raft.EntryNoop,
		ID:    uuid.New().String(),
	}
	if err := r.log.Append(noop); err != nil {
		r.fail(err)
		return
	}

	r.startHeartbeat()
	r.advanceCommitIndex()
	r.broadcastAppendEntries()
}

func (r *Raft) onHeartbeat() {
	if r.termData.GetRole() != raft.Leader {
		r.stopHeartbeat()
		return
	}
	r.broadcastAppendEntries()
}

func (r *Raft) broadcastAppendEntries() {
	now := time.Now()
	for _, p := range r.peers {
		if p.backingOff(now) {
			continue
		}
		r.replicate(p)
	}
}

// replicate sends p whatever it is missing, or a bare heartbeat when it is up
// to date.
func (r *Raft) replicate(p *peer) {
	if r.fatal != nil {
		return
	}
	term := r.termData.GetTerm()

	if p.nextIndex <= r.log.SnapshotIndex() {
		r.sendSnapshot(p, term)
		return
	}
	if last := r.log.LastIndex(); p.nextIndex > last+1 {
		p.nextIndex = last + 1
	}

	prevIndex := p.nextIndex - 1
	prevTerm, err := r.log.Term(prevIndex)
	if err != nil {
		r.logger.Error("couldn't read previous log term", "peer", p.member.ID, "index", prevIndex, "error", err)
		return
	}
	entries, err := r.log.From(p.nextIndex, r.maxAppendEntries)
	if err != nil {
		r.logger.Error("couldn't read log entries", "peer", p.member.ID, "index", p.nextIndex, "error", err)
		return
	}

	p.appendEntries(r.ctx, raft.AppendEntriesRequest{
		Term:         term,
		LeaderID:     r.cluster.Self().ID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: r.commitIndex,
	})
}

func (r *Raft) sendSnapshot(p *peer, term int64) {
	snapshot := r.log.Snapshot()
	if snapshot == nil {
		return
	}
	if p.snapshotInFlight {
		// Keep the follower from timing out while the transfer runs. It
		// can't match the snapshot boundary unless it already holds it, and
		// the rejection is dropped in onAppendResult since nextIndex is
		// still at or below the boundary.
		p.appendEntries(r.ctx, raft.AppendEntriesRequest{
			Term:         term,
			LeaderID:     r.cluster.Self().ID,
			PrevLogIndex: snapshot.LastIncludedIndex,
			PrevLogTerm:  snapshot.LastIncludedTerm,
			LeaderCommit: r.commitIndex,
		})
		return
	}
	r.logger.Info("sending snapshot", "peer", p.member.ID, "snapshot_index", snapshot.LastIncludedIndex)
	p.installSnapshot(r.ctx, raft.InstallSnapshotRequest{
		Term:              term,
		LeaderID:          r.cluster.Self().ID,
		LastIncludedIndex: snapshot.LastIncludedIndex,
		LastIncludedTerm:  snapshot.LastIncludedTerm,
		Data:              snapshot.Data,
	})
}

func (r *Raft) onAppendResult(ev *appendResult) {
	p, ok := r.peers[ev.peer]
	if !ok {
		return
	}
	if ev.err != nil {
		p.noteFailure(time.Now(), r.heartbeatInterval)
		p.logFailure("append_entries", ev.req.RequestID, ev.err)
		return
	}
	p.noteSuccess()

	if ev.res.Term > r.termData.GetTerm() {
		r.stepDown(ev.res.Term)
		return
	}
	if r.termData.GetRole() != raft.Leader || ev.term != r.termData.GetTerm() {
		return
	}

	if ev.res.Success {
		p.acknowledge(ev.req.PrevLogIndex + int64(len(ev.req.Entries)))
		r.advanceCommitIndex()
		if p.nextIndex <= r.log.LastIndex() {
			r.replicate(p)
		}
		return
	}

	if ev.req.PrevLogIndex+1 != p.nextIndex {
		// Answer to an older request, nextIndex already moved.
		return
	}
	p.nextIndex = r.rewind(p, ev.res)
	r.logger.Debug("log mismatch", "peer", ev.peer, "conflict_index", ev.res.ConflictIndex, "conflict_term", ev.res.ConflictTerm, "next_index", p.nextIndex)
	r.replicate(p)
}

// rewind picks the next index to try after a rejected AppendEntries. With a
// conflicting term, the leader skips to just after its own last entry of that
// term, or to the first index the follower holds of it.
func (r *Raft) rewind(p *peer, res *raft.AppendEntriesResponse) int64 {
	next := p.nextIndex - 1
	if res.ConflictIndex > 0 {
		next = res.ConflictIndex
	}
	if res.ConflictTerm > 0 {
		if last, ok := r.log.LastIndexOfTerm(res.ConflictTerm); ok {
			next = last + 1
		}
	}

	if next <= p.matchIndex {
		next = p.matchIndex + 1
	}
	if next < 1 {
		next = 1
	}
	if last := r.log.LastIndex(); next > last+1 {
		next = last + 1
	}
	return next
}

func (r *Raft) onSnapshotResult(ev *snapshotResult) {
	p, ok := r.peers[ev.peer]
	if !ok {
		return
	}
	p.snapshotInFlight = false
	if ev.err != nil {
		p.noteFailure(time.Now(), r.heartbeatInterval)
		p.logFailure("install_snapshot", ev.req.RequestID, ev.err)
		return
	}
	p.noteSuccess()

	if ev.res.Term > r.termData.GetTerm() {
		r.stepDown(ev.res.Term)
		return
	}
	if r.termData.GetRole() != raft.Leader || ev.term != r.termData.GetTerm() {
		return
	}

	p.acknowledge(ev.req.LastIncludedIndex)
	r.advanceCommitIndex()
	r.replicate(p)
}

// advanceCommitIndex commits the highest index stored on a majority, as long
// as it belongs to the current term.
func (r *Raft) advanceCommitIndex() {
	if r.termData.GetRole() != raft.Leader {
		return
	}

	matches := make([]int64, 0, len(r.peers)+1)
	matches = append(matches, r.log.LastIndex())
	for _, p := range r.peers {
		matches = append(matches, p.matchIndex)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i] > matches[j]
	})

	candidate := matches[r.cluster.QuorumSize()-1]
	if candidate <= r.commitIndex {
		return
	}
	term, err := r.log.Term(candidate)
	if err != nil || term != r.termData.GetTerm() {
		return
	}
	r.setCommitIndex(candidate)
}

func (r *Raft) setCommitIndex(index int64) {
	if index <= r.commitIndex {
		return
	}
	r.commitIndex = index
	if err := r.termData.SetCommitIndex(index); err != nil {
		r.fail(err)
		return
	}
	r.applyCommitted()
}

func (r *Raft) applyCommitted() {
	for r.lastApplied < r.commitIndex {
		entry, err := r.log.Get(r.lastApplied + 1)
		if err != nil {
			r.fail(errors.Wrap(err, "Committed entry is missing"))
			return
		}
		if entry.Type == raft.EntryCommand {
			if err := r.applyable.Apply(entry); err != nil {
				r.logger.Warn("couldn't apply entry", "index", entry.Index, "id", entry.ID, "error", err)
			}
		}
		r.lastApplied = entry.Index
	}

	r.maybeCompact()
}

func (r *Raft) maybeCompact() {
	if r.log.Len() <= r.snapshotThreshold || r.lastApplied <= r.log.SnapshotIndex() {
		return
	}

	data, err := r.applyable.Snapshot()
	if err != nil {
		r.logger.Error("couldn't snapshot state machine", "error", err)
		return
	}
	if err := r.log.Compact(r.lastApplied, data); err != nil {
		r.fail(err)
		return
	}
	r.logger.Info("compacted log", "snapshot_index", r.lastApplied, "live_entries", r.log.Len())
}

func (r *Raft) handleRequestVote(req *raft.RequestVoteRequest) *raft.RequestVoteResponse {
	term := r.termData.GetTerm()
	if req.Term < term {
		return &raft.RequestVoteResponse{Term: term}
	}
	if req.Term > term {
		r.stepDown(req.Term)
		if r.fatal != nil {
			return nil
		}
		term = req.Term
	}

	lastIndex, lastTerm := r.log.LastIndex(), r.log.LastTerm()
	upToDate := req.LastLogTerm > lastTerm || (req.LastLogTerm == lastTerm && req.LastLogIndex >= lastIndex)
	if !upToDate {
		r.logger.Debug("refusing vote, candidate log is behind", "candidate", req.CandidateID, "term", term)
		return &raft.RequestVoteResponse{Term: term}
	}

	granted, err := r.termData.VoteFor(req.CandidateID)
	if err != nil {
		r.fail(err)
		return nil
	}
	if granted {
		r.logger.Info("granted vote", "candidate", req.CandidateID, "term", term)
		r.resetElectionTimer()
	}
	return &raft.RequestVoteResponse{Term: term, VoteGranted: granted}
}

// acceptLeader handles the term and role bookkeeping shared by AppendEntries
// and InstallSnapshot. It returns false if the request is stale.
func (r *Raft) acceptLeader(term int64, leader raft.NodeID) bool {
	current := r.termData.GetTerm()
	if term < current {
		return false
	}
	if term > current || r.termData.GetRole() != raft.Follower {
		if term == current && r.termData.GetRole() == raft.Leader {
			r.logger.Error("another leader in my term", "leader", leader, "term", term)
		}
		r.stepDown(term)
		if r.fatal != nil {
			return false
		}
	}
	r.termData.SetLeader(leader)
	r.resetElectionTimer()
	return true
}

func (r *Raft) handleAppendEntries(req *raft.AppendEntriesRequest) *raft.AppendEntriesResponse {
	if !r.acceptLeader(req.Term, req.LeaderID) {
		if r.fatal != nil {
			return nil
		}
		return &raft.AppendEntriesResponse{Term: r.termData.GetTerm()}
	}
	term := req.Term

	if snapshotIndex := r.log.SnapshotIndex(); req.PrevLogIndex < snapshotIndex {
		return &raft.AppendEntriesResponse{Term: term, ConflictIndex: snapshotIndex + 1}
	}
	if last := r.log.LastIndex(); req.PrevLogIndex > last {
		return &raft.AppendEntriesResponse{Term: term, ConflictIndex: last + 1}
	}
	if prevTerm, _ := r.log.Term(req.PrevLogIndex); prevTerm != req.PrevLogTerm {
		return &raft.AppendEntriesResponse{
			Term:          term,
			ConflictTerm:  prevTerm,
			ConflictIndex: r.log.FirstIndexOfTerm(req.PrevLogIndex),
		}
	}

	lastNew, err := r.log.AppendAfter(req.PrevLogIndex, req.Entries)
	if err != nil {
		if errors.Cause(err) == raft.ErrPersistence {
			r.fail(err)
			return nil
		}
		r.logger.Error("couldn't append entries", "leader", req.LeaderID, "error", err)
		return &raft.AppendEntriesResponse{Term: term}
	}

	if req.LeaderCommit > r.commitIndex {
		commit := req.LeaderCommit
		if lastNew < commit {
			commit = lastNew
		}
		r.setCommitIndex(commit)
		if r.fatal != nil {
			return nil
		}
	}

	return &raft.AppendEntriesResponse{Term: term, Success: true}
}

func (r *Raft) handleInstallSnapshot(req *raft.InstallSnapshotRequest) *raft.InstallSnapshotResponse {
	if !r.acceptLeader(req.Term, req.LeaderID) {
		if r.fatal != nil {
			return nil
		}
		return &raft.InstallSnapshotResponse{Term: r.termData.GetTerm()}
	}
	res := &raft.InstallSnapshotResponse{Term: req.Term}

	if req.LastIncludedIndex <= r.log.SnapshotIndex() || req.LastIncludedIndex <= r.lastApplied {
		return res
	}

	err := r.log.InstallSnapshot(&raft.Snapshot{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		Data:              req.Data,
	})
	if err != nil {
		r.fail(err)
		return nil
	}
	if err := r.applyable.Restore(req.Data); err != nil {
		r.fail(errors.Wrap(err, "Couldn't restore snapshot"))
		return nil
	}
	r.logger.Info("installed snapshot", "leader", req.LeaderID, "snapshot_index", req.LastIncludedIndex)

	r.lastApplied = req.LastIncludedIndex
	if req.LastIncludedIndex > r.commitIndex {
		r.commitIndex = req.LastIncludedIndex
		if err := r.termData.SetCommitIndex(req.LastIncludedIndex); err != nil {
			r.fail(err)
			return nil
		}
	}
	r.applyCommitted()
	if r.fatal != nil {
		return nil
	}
	return res
}

func (r *Raft) handleProposal(data []byte) *raft.AppendResult {
	if r.termData.GetRole() != raft.Leader {
		return &raft.AppendResult{}
	}

	entry := raft.Entry{
		Index: r.log.LastIndex() + 1,
		Term:  r.termData.GetTerm(),
		Type:  raft.EntryCommand,
		ID:    uuid.New().String(),
		Data:  data,
	}
	if err := r.log.Append(entry); err != nil {
		r.fail(err)
		return nil
	}
	r.logger.Debug("appended entry", "index", entry.Index, "id", entry.ID)

	r.advanceCommitIndex()
	r.broadcastAppendEntries()
	return &raft.AppendResult{Success: true, Index: entry.Index}
}

func (r *Raft) publishStatus() {
	td := r.termData.GetSnapshot()
	r.status.Store(&raft.NodeStatus{
		NodeID:        r.cluster.Self().ID,
		Role:          td.Role,
		RoleName:      td.Role.String(),
		Term:          td.Term,
		Leader:        td.Leader,
		CommitIndex:   r.commitIndex,
		LastApplied:   r.lastApplied,
		LastIndex:     r.log.LastIndex(),
		SnapshotIndex: r.log.SnapshotIndex(),
	})
}

// Status returns the state published after the last handled event.
func (r *Raft) Status() raft.NodeStatus {
	return *r.status.Load()
}

// GetDebugData returns a copy of the live log entries.
func (r *Raft) GetDebugData() []raft.Entry {
	return r.log.DebugData()
}

// AppendLog proposes data as a new command. It returns as soon as the entry
// is in the leader's log; Success is false on any node that isn't leader.
func (r *Raft) AppendLog(ctx context.Context, data []byte) (*raft.AppendResult, error) {
	response := make(chan *raft.AppendResult, 1)
	if err := r.submit(ctx, &proposalEvent{data: data, response: response}); err != nil {
		return nil, err
	}
	return nonNil(await[*raft.AppendResult](ctx, r.done, response))
}

func (r *Raft) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	response := make(chan *raft.RequestVoteResponse, 1)
	if err := r.submit(ctx, &requestVoteEvent{req: req, response: response}); err != nil {
		return nil, err
	}
	return nonNil(await[*raft.RequestVoteResponse](ctx, r.done, response))
}

func (r *Raft) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	response := make(chan *raft.AppendEntriesResponse, 1)
	if err := r.submit(ctx, &appendEntriesEvent{req: req, response: response}); err != nil {
		return nil, err
	}
	return nonNil(await[*raft.AppendEntriesResponse](ctx, r.done, response))
}

func (r *Raft) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	response := make(chan *raft.InstallSnapshotResponse, 1)
	if err := r.submit(ctx, &installSnapshotEvent{req: req, response: response}); err != nil {
		return nil, err
	}
	return nonNil(await[*raft.InstallSnapshotResponse](ctx, r.done, response))
}

// nonNil turns the nil answer of a node that failed while handling a request
// into ErrNodeStopped.
func nonNil[T any](res *T, err error) (*T, error) {
	if err == nil && res == nil {
		return nil, raft.ErrNodeStopped
	}
	return res, err
}
