package raft

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/db"
	"github.com/cube2222/raftkv/db/query"
	"github.com/cube2222/raftkv/inmemory"
	"github.com/cube2222/raftkv/raft/cluster"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// countingStore records how often state was replaced wholesale.
type countingStore struct {
	db.QueryHandler
	restores atomic.Int64
}

func (s *countingStore) Restore(data []byte) error {
	s.restores.Inc()
	return s.QueryHandler.Restore(data)
}

type testNode struct {
	id      raft.NodeID
	node    *Raft
	storage *inmemory.Storage
	store   *countingStore
	runErr  chan error
}

// leaderTip is the last entry a leader was seen holding in its term.
type leaderTip struct {
	term      int64
	index     int64
	entryTerm int64
}

// committedEntry is the term of an entry seen committed, and the term of the
// node reporting it. The entry was committed in that term or earlier.
type committedEntry struct {
	term     int64
	observed int64
}

// TestCluster runs nodes in one process over an in-memory network. It
// samples the nodes in the background and fails the test on two leaders in
// one term, a leader losing entries of its own term, or a new leader missing
// an entry committed before its term.
type TestCluster struct {
	t       *testing.T
	network *inmemory.Network
	members []raft.Member
	opts    []Option

	mutex   sync.Mutex
	nodes   map[raft.NodeID]*testNode
	leaders map[int64]raft.NodeID

	// Owned by the monitor goroutine.
	tips          map[raft.NodeID]leaderTip
	committed     map[int64]committedEntry
	committedUpTo int64

	stopMonitor chan struct{}
	monitorDone chan struct{}
}

func NewTestCluster(t *testing.T, n int, opts ...Option) *TestCluster {
	t.Helper()
	c := &TestCluster{
		t:           t,
		network:     inmemory.NewNetwork(),
		opts:        opts,
		nodes:       make(map[raft.NodeID]*testNode),
		leaders:     make(map[int64]raft.NodeID),
		tips:        make(map[raft.NodeID]leaderTip),
		committed:   make(map[int64]committedEntry),
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	for i := 0; i < n; i++ {
		id := raft.NodeID(fmt.Sprintf("node-%d", i))
		c.members = append(c.members, raft.Member{ID: id, Endpoint: string(id)})
	}
	for _, member := range c.members {
		c.start(member.ID, inmemory.NewStorage())
	}
	go c.monitor()
	t.Cleanup(c.Shutdown)
	return c
}

func (c *TestCluster) start(id raft.NodeID, storage *inmemory.Storage) *testNode {
	c.t.Helper()
	membership, err := cluster.NewCluster(id, c.members)
	if err != nil {
		c.t.Fatal(err)
	}
	store := &countingStore{QueryHandler: query.NewQueryHandler(hclog.NewNullLogger())}
	opts := append([]Option{WithLogger(hclog.NewNullLogger())}, c.opts...)
	node, err := NewRaft(context.Background(), membership, c.network.Transport(id), storage, store, opts...)
	if err != nil {
		c.t.Fatal(err)
	}

	tn := &testNode{
		id:      id,
		node:    node,
		storage: storage,
		store:   store,
		runErr:  make(chan error, 1),
	}
	c.network.Register(id, node)
	go func() {
		tn.runErr <- node.Run()
	}()

	c.mutex.Lock()
	c.nodes[id] = tn
	c.mutex.Unlock()
	return tn
}

func (c *TestCluster) Node(id raft.NodeID) *testNode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.nodes[id]
}

func (c *TestCluster) Nodes() []*testNode {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]*testNode, 0, len(c.nodes))
	for _, member := range c.members {
		if tn, ok := c.nodes[member.ID]; ok {
			out = append(out, tn)
		}
	}
	return out
}

// StopNode crashes a node. Its storage is kept for Restart.
func (c *TestCluster) StopNode(id raft.NodeID) {
	c.mutex.Lock()
	tn, ok := c.nodes[id]
	delete(c.nodes, id)
	c.mutex.Unlock()
	if !ok {
		return
	}
	c.network.Unregister(id)
	tn.node.Stop()
}

// Restart brings a stopped node back from its persisted state, or from an
// empty one when fresh is set.
func (c *TestCluster) Restart(id raft.NodeID, storage *inmemory.Storage, fresh bool) *testNode {
	c.StopNode(id)
	if fresh {
		storage = inmemory.NewStorage()
	}
	return c.start(id, storage)
}

func (c *TestCluster) Disconnect(id raft.NodeID) {
	c.network.Disconnect(id)
}

func (c *TestCluster) Connect(id raft.NodeID) {
	c.network.Connect(id)
}

func (c *TestCluster) Partition(groups ...[]raft.NodeID) {
	c.network.Partition(groups...)
}

func (c *TestCluster) Heal() {
	c.network.Heal()
}

func (c *TestCluster) Shutdown() {
	select {
	case <-c.stopMonitor:
		return
	default:
	}
	close(c.stopMonitor)
	<-c.monitorDone
	for _, tn := range c.Nodes() {
		c.StopNode(tn.id)
	}
}

func (c *TestCluster) monitor() {
	defer close(c.monitorDone)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopMonitor:
			return
		case <-ticker.C:
		}
		for _, tn := range c.Nodes() {
			c.checkElectionSafety(tn)
			c.recordCommitted(tn)
			c.checkLeaderLog(tn)
		}
	}
}

func (c *TestCluster) checkElectionSafety(tn *testNode) {
	status := tn.node.Status()
	if status.Role != raft.Leader {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if other, ok := c.leaders[status.Term]; ok && other != status.NodeID {
		c.t.Errorf("two leaders in term %d: %v and %v", status.Term, other, status.NodeID)
	}
	c.leaders[status.Term] = status.NodeID
}

// recordCommitted notes the terms of entries the node has newly committed.
// Entries never leave a log once committed, short of compaction.
func (c *TestCluster) recordCommitted(tn *testNode) {
	status := tn.node.Status()
	if seen, ok := c.committed[status.CommitIndex]; ok {
		if term, err := tn.node.log.Term(status.CommitIndex); err == nil && term != seen.term {
			c.t.Errorf("%v committed term %d at index %d, others committed term %d", tn.id, term, status.CommitIndex, seen.term)
		}
	}
	for i := c.committedUpTo + 1; i <= status.CommitIndex; i++ {
		term, err := tn.node.log.Term(i)
		if err != nil {
			continue
		}
		c.committed[i] = committedEntry{term: term, observed: status.Term}
	}
	if status.CommitIndex > c.committedUpTo {
		c.committedUpTo = status.CommitIndex
	}
}

// checkLeaderLog verifies that a leader never drops entries during its term
// and that a leader holds everything committed before its term. The log is
// read between two looks at the term data, and only judged if the node was
// leader of the same term throughout.
func (c *TestCluster) checkLeaderLog(tn *testNode) {
	before := tn.node.termData.GetSnapshot()
	if before.Role != raft.Leader {
		return
	}

	last := tn.node.log.LastIndex()
	lastTerm, lastErr := tn.node.log.Term(last)

	tip, known := c.tips[tn.id]
	known = known && tip.term == before.Term
	var tipTerm int64
	var tipErr error
	if known {
		tipTerm, tipErr = tn.node.log.Term(tip.index)
	}

	var missing []int64
	if !known {
		for index, entry := range c.committed {
			if entry.observed >= before.Term {
				continue
			}
			term, err := tn.node.log.Term(index)
			if errors.Cause(err) == raft.ErrCompacted {
				continue
			}
			if err != nil || term != entry.term {
				missing = append(missing, index)
			}
		}
	}

	after := tn.node.termData.GetSnapshot()
	if after.Role != raft.Leader || after.Term != before.Term {
		return
	}

	if known {
		if last < tip.index {
			c.t.Errorf("leader %v shrank its log in term %d: last index %d, was %d", tn.id, before.Term, last, tip.index)
		}
		if errors.Cause(tipErr) != raft.ErrCompacted && (tipErr != nil || tipTerm != tip.entryTerm) {
			c.t.Errorf("leader %v replaced entry %d in term %d", tn.id, tip.index, before.Term)
		}
	}
	if len(missing) > 0 {
		c.t.Errorf("leader %v of term %d lacks committed entries %v", tn.id, before.Term, missing)
	}
	if lastErr == nil {
		c.tips[tn.id] = leaderTip{term: before.Term, index: last, entryTerm: lastTerm}
	}
}

// WaitForLeader returns the leader of the highest term among the given
// nodes, or all running nodes, once a majority of them agree on it.
func (c *TestCluster) WaitForLeader(timeout time.Duration, among ...raft.NodeID) *testNode {
	c.t.Helper()
	var leader *testNode
	c.Eventually(timeout, func() bool {
		leader = c.currentLeader(among)
		return leader != nil
	})
	return leader
}

// among returns the running nodes with the given ids, or every running node.
func (c *TestCluster) among(ids []raft.NodeID) []*testNode {
	if len(ids) == 0 {
		return c.Nodes()
	}
	var out []*testNode
	for _, id := range ids {
		if tn := c.Node(id); tn != nil {
			out = append(out, tn)
		}
	}
	return out
}

func (c *TestCluster) currentLeader(among []raft.NodeID) *testNode {
	candidates := c.among(among)

	var leader *testNode
	var term int64
	for _, tn := range candidates {
		status := tn.node.Status()
		if status.Role == raft.Leader && status.Term > term {
			leader, term = tn, status.Term
		}
	}
	if leader == nil {
		return nil
	}

	agree := 0
	for _, tn := range candidates {
		status := tn.node.Status()
		if status.Term == term && status.Leader == leader.id {
			agree++
		}
	}
	if agree < len(candidates)/2+1 {
		return nil
	}
	return leader
}

// Eventually polls cond until it holds or the timeout passes.
func (c *TestCluster) Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// Propose submits a put through the current leader, retrying across
// elections.
func (c *TestCluster) Propose(key, value string) int64 {
	c.t.Helper()
	data, err := db.EncodePut(key, value)
	if err != nil {
		c.t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		leader := c.WaitForLeader(2 * time.Second)
		if leader == nil {
			continue
		}
		res, err := leader.node.AppendLog(context.Background(), data)
		if err == nil && res.Success {
			return res.Index
		}
		time.Sleep(20 * time.Millisecond)
	}
	c.t.Fatalf("couldn't propose %s=%s", key, value)
	return 0
}

// WaitForCommit waits until the given nodes, or every running node, have
// committed and applied index.
func (c *TestCluster) WaitForCommit(index int64, timeout time.Duration, among ...raft.NodeID) bool {
	return c.Eventually(timeout, func() bool {
		for _, tn := range c.among(among) {
			status := tn.node.Status()
			if status.CommitIndex < index || status.LastApplied < index {
				return false
			}
		}
		return true
	})
}
