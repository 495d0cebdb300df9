package inmemory

import (
	"sync"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

// Storage keeps the durable node state in memory. It survives a node
// restart as long as the same instance is passed to the new node.
type Storage struct {
	hardState raft.HardState
	entries   []raft.Entry
	snapshot  *raft.Snapshot

	// failWrites makes every write fail, to simulate a broken disk.
	failWrites bool

	mutex sync.Mutex
}

var ErrWriteFailed = errors.New("in-memory write failure")

func NewStorage() *Storage {
	return &Storage{}
}

func (s *Storage) SetFailWrites(fail bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failWrites = fail
}

func (s *Storage) LoadHardState() (raft.HardState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.hardState, nil
}

func (s *Storage) SaveHardState(hs raft.HardState) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failWrites {
		return ErrWriteFailed
	}
	s.hardState = hs
	return nil
}

func (s *Storage) LoadEntries() ([]raft.Entry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]raft.Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *Storage) AppendEntries(entries []raft.Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failWrites {
		return ErrWriteFailed
	}
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *Storage) TruncateFrom(index int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failWrites {
		return ErrWriteFailed
	}
	for i, entry := range s.entries {
		if entry.Index >= index {
			s.entries = s.entries[:i]
			break
		}
	}
	return nil
}

func (s *Storage) LoadSnapshot() (*raft.Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.snapshot == nil {
		return nil, nil
	}
	snapshot := *s.snapshot
	return &snapshot, nil
}

func (s *Storage) SaveSnapshot(snapshot *raft.Snapshot) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failWrites {
		return ErrWriteFailed
	}
	saved := *snapshot
	s.snapshot = &saved

	remaining := make([]raft.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.Index > snapshot.LastIncludedIndex {
			remaining = append(remaining, entry)
		}
	}
	s.entries = remaining
	return nil
}

func (s *Storage) Close() error {
	return nil
}
