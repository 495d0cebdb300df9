package termdata

import (
	"sync"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

// TermData holds the term specific state of a node. Term, vote and the last
// known commit index are persisted before a mutating call returns; role and
// leader are volatile.
type TermData struct {
	nodeID  raft.NodeID
	storage raft.Storage

	leader      raft.NodeID
	role        raft.Role
	term        int64
	votedFor    raft.NodeID
	commitIndex int64

	mutex sync.RWMutex
}

func NewTermData(nodeID raft.NodeID, storage raft.Storage) (*TermData, error) {
	hardState, err := storage.LoadHardState()
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't load term data")
	}

	return &TermData{
		nodeID:      nodeID,
		storage:     storage,
		role:        raft.Follower,
		term:        hardState.Term,
		votedFor:    hardState.VotedFor,
		commitIndex: hardState.CommitIndex,
	}, nil
}

func (td *TermData) persist() error {
	err := td.storage.SaveHardState(raft.HardState{
		Term:        td.term,
		VotedFor:    td.votedFor,
		CommitIndex: td.commitIndex,
	})
	if err != nil {
		return errors.Wrap(raft.ErrPersistence, err.Error())
	}
	return nil
}

// OverrideTerm moves to a higher term as a follower, forgetting the vote.
func (td *TermData) OverrideTerm(term int64) error {
	td.mutex.Lock()
	defer td.mutex.Unlock()

	if term <= td.term {
		return errors.Wrapf(raft.ErrStaleTerm, "Term %d isn't newer than %d", term, td.term)
	}

	td.role = raft.Follower
	td.term = term
	td.votedFor = ""
	td.leader = ""

	return td.persist()
}

// InitiateElection starts a new term as a candidate voting for itself.
func (td *TermData) InitiateElection() (int64, error) {
	td.mutex.Lock()
	defer td.mutex.Unlock()

	td.role = raft.Candidate
	td.term = td.term + 1
	td.votedFor = td.nodeID
	td.leader = ""

	if err := td.persist(); err != nil {
		return 0, errors.Wrap(err, "Couldn't persist new term")
	}
	return td.term, nil
}

// VoteFor records a vote in the current term. It returns false when a vote
// for somebody else was already cast.
func (td *TermData) VoteFor(candidate raft.NodeID) (bool, error) {
	td.mutex.Lock()
	defer td.mutex.Unlock()

	if td.votedFor == candidate {
		return true, nil
	}
	if td.votedFor != "" {
		return false, nil
	}
	td.votedFor = candidate
	if err := td.persist(); err != nil {
		return false, errors.Wrap(err, "Couldn't persist vote")
	}
	return true, nil
}

func (td *TermData) BecomeLeader(term int64) bool {
	td.mutex.Lock()
	defer td.mutex.Unlock()
	if td.term != term || td.role != raft.Candidate {
		return false
	}

	td.role = raft.Leader
	td.leader = td.nodeID
	return true
}

// BecomeFollower steps down within the current term.
func (td *TermData) BecomeFollower() {
	td.mutex.Lock()
	defer td.mutex.Unlock()
	td.role = raft.Follower
}

func (td *TermData) SetLeader(leader raft.NodeID) {
	td.mutex.Lock()
	defer td.mutex.Unlock()
	td.leader = leader
}

// SetCommitIndex records a higher commit index. Lower values are ignored.
func (td *TermData) SetCommitIndex(index int64) error {
	td.mutex.Lock()
	defer td.mutex.Unlock()

	if index <= td.commitIndex {
		return nil
	}
	td.commitIndex = index
	return td.persist()
}

func (td *TermData) GetRole() raft.Role {
	td.mutex.RLock()
	defer td.mutex.RUnlock()
	return td.role
}

func (td *TermData) GetTerm() int64 {
	td.mutex.RLock()
	defer td.mutex.RUnlock()
	return td.term
}

func (td *TermData) GetLeader() raft.NodeID {
	td.mutex.RLock()
	defer td.mutex.RUnlock()
	return td.leader
}

func (td *TermData) GetVotedFor() raft.NodeID {
	td.mutex.RLock()
	defer td.mutex.RUnlock()
	return td.votedFor
}

func (td *TermData) GetCommitIndex() int64 {
	td.mutex.RLock()
	defer td.mutex.RUnlock()
	return td.commitIndex
}

type TermDataSnapshot struct {
	Leader      raft.NodeID
	Role        raft.Role
	Term        int64
	VotedFor    raft.NodeID
	CommitIndex int64
}

func (td *TermData) GetSnapshot() *TermDataSnapshot {
	td.mutex.RLock()
	defer td.mutex.RUnlock()

	return &TermDataSnapshot{
		Leader:      td.leader,
		Role:        td.role,
		Term:        td.term,
		VotedFor:    td.votedFor,
		CommitIndex: td.commitIndex,
	}
}
