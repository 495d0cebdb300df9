package entrylog

import (
	"sync"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

// EntryLog is the index addressed log of a node. Indexes start at 1; index 0
// is a sentinel with term 0 that stands in for an empty snapshot. Entries up
// to and including the snapshot index only exist inside the snapshot.
//
// Every mutation is written through to storage before it becomes visible.
type EntryLog struct {
	storage raft.Storage

	snapshot raft.Snapshot
	// log[0].Index == snapshot.LastIncludedIndex+1 when non-empty.
	log   []raft.Entry
	mutex sync.RWMutex
}

func NewEntryLog(storage raft.Storage) (*EntryLog, error) {
	l := &EntryLog{
		storage: storage,
		log:     make([]raft.Entry, 0),
	}

	snapshot, err := storage.LoadSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't load persisted snapshot")
	}
	if snapshot != nil {
		l.snapshot = *snapshot
	}

	entries, err := storage.LoadEntries()
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't load persisted commit log")
	}
	expected := l.snapshot.LastIncludedIndex + 1
	for _, entry := range entries {
		if entry.Index <= l.snapshot.LastIncludedIndex {
			continue
		}
		if entry.Index != expected {
			return nil, errors.Errorf("Commit log corrupted, expected index %d, got %d", expected, entry.Index)
		}
		l.log = append(l.log, entry)
		expected++
	}

	return l, nil
}

// offset returns the position of index in l.log. Callers hold the mutex.
func (l *EntryLog) offset(index int64) int {
	return int(index - l.snapshot.LastIncludedIndex - 1)
}

func (l *EntryLog) lastIndex() int64 {
	return l.snapshot.LastIncludedIndex + int64(len(l.log))
}

func (l *EntryLog) term(index int64) (int64, error) {
	switch {
	case index < l.snapshot.LastIncludedIndex:
		return 0, raft.ErrCompacted
	case index == l.snapshot.LastIncludedIndex:
		return l.snapshot.LastIncludedTerm, nil
	case index > l.lastIndex():
		return 0, raft.ErrNoSuchEntry
	}
	return l.log[l.offset(index)].Term, nil
}

func (l *EntryLog) LastIndex() int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.lastIndex()
}

func (l *EntryLog) LastTerm() int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if len(l.log) == 0 {
		return l.snapshot.LastIncludedTerm
	}
	return l.log[len(l.log)-1].Term
}

// Term returns the term of the entry at index, including the snapshot
// boundary itself.
func (l *EntryLog) Term(index int64) (int64, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.term(index)
}

func (l *EntryLog) Get(index int64) (*raft.Entry, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if index <= l.snapshot.LastIncludedIndex {
		return nil, errors.Wrapf(raft.ErrCompacted, "index %d, snapshot index %d", index, l.snapshot.LastIncludedIndex)
	}
	if index > l.lastIndex() {
		return nil, errors.Wrapf(raft.ErrNoSuchEntry, "index %d, last index %d", index, l.lastIndex())
	}
	entry := l.log[l.offset(index)]
	return &entry, nil
}

// From returns up to max entries starting at index. The returned slice is a
// copy.
func (l *EntryLog) From(index int64, max int) ([]raft.Entry, error) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if index <= l.snapshot.LastIncludedIndex {
		return nil, errors.Wrapf(raft.ErrCompacted, "index %d, snapshot index %d", index, l.snapshot.LastIncludedIndex)
	}
	if index > l.lastIndex() {
		return nil, nil
	}
	start := l.offset(index)
	end := len(l.log)
	if max > 0 && end-start > max {
		end = start + max
	}
	out := make([]raft.Entry, end-start)
	copy(out, l.log[start:end])
	return out, nil
}

// Append adds entries to the end of the log. Their indexes have to continue
// the log.
func (l *EntryLog) Append(entries ...raft.Entry) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return l.append(entries)
}

func (l *EntryLog) append(entries []raft.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	expected := l.lastIndex() + 1
	for _, entry := range entries {
		if entry.Index != expected {
			return errors.Errorf("Entry index %d doesn't continue the log, expected %d", entry.Index, expected)
		}
		expected++
	}

	if err := l.storage.AppendEntries(entries); err != nil {
		return errors.Wrap(raft.ErrPersistence, err.Error())
	}
	l.log = append(l.log, entries...)
	return nil
}

// AppendAfter stores entries that follow prevIndex, the way a follower does
// it. Entries already present with a matching term are left alone; the
// suffix starting at the first conflicting index is truncated. It returns
// the index of the last entry covered by the request.
func (l *EntryLog) AppendAfter(prevIndex int64, entries []raft.Entry) (int64, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if prevIndex < l.snapshot.LastIncludedIndex {
		return 0, errors.Wrapf(raft.ErrCompacted, "prev index %d, snapshot index %d", prevIndex, l.snapshot.LastIncludedIndex)
	}
	if prevIndex > l.lastIndex() {
		return 0, errors.Wrapf(raft.ErrLogInconsistency, "prev index %d beyond last index %d", prevIndex, l.lastIndex())
	}

	for i, entry := range entries {
		index := prevIndex + 1 + int64(i)
		if index > l.lastIndex() {
			return prevIndex + int64(len(entries)), l.append(entries[i:])
		}
		if l.log[l.offset(index)].Term == entry.Term {
			continue
		}
		if err := l.truncateFrom(index); err != nil {
			return 0, err
		}
		return prevIndex + int64(len(entries)), l.append(entries[i:])
	}

	return prevIndex + int64(len(entries)), nil
}

// truncateFrom deletes the entry at index and everything after it.
func (l *EntryLog) truncateFrom(index int64) error {
	if index <= l.snapshot.LastIncludedIndex {
		return errors.Wrapf(raft.ErrCompacted, "Can't truncate from %d", index)
	}
	if index > l.lastIndex() {
		return nil
	}

	if err := l.storage.TruncateFrom(index); err != nil {
		return errors.Wrap(raft.ErrPersistence, err.Error())
	}
	l.log = l.log[:l.offset(index)]
	return nil
}

// FirstIndexOfTerm returns the first index at or before index which still
// belongs to the same term as the entry at index. The scan stops at the
// snapshot boundary.
func (l *EntryLog) FirstIndexOfTerm(index int64) int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	term, err := l.term(index)
	if err != nil {
		return index
	}
	first := index
	for i := index - 1; i > l.snapshot.LastIncludedIndex; i-- {
		if l.log[l.offset(i)].Term != term {
			break
		}
		first = i
	}
	return first
}

// LastIndexOfTerm returns the highest live index holding an entry of term.
func (l *EntryLog) LastIndexOfTerm(term int64) (int64, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for i := len(l.log) - 1; i >= 0; i-- {
		switch {
		case l.log[i].Term == term:
			return l.log[i].Index, true
		case l.log[i].Term < term:
			return 0, false
		}
	}
	if l.snapshot.LastIncludedTerm == term && l.snapshot.LastIncludedIndex > 0 {
		return l.snapshot.LastIncludedIndex, true
	}
	return 0, false
}

// Len is the number of live, not yet compacted, entries.
func (l *EntryLog) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return len(l.log)
}

func (l *EntryLog) SnapshotIndex() int64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.snapshot.LastIncludedIndex
}

// Snapshot returns the latest snapshot, nil if the log was never compacted.
func (l *EntryLog) Snapshot() *raft.Snapshot {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if l.snapshot.LastIncludedIndex == 0 {
		return nil
	}
	snapshot := l.snapshot
	return &snapshot
}

// Compact replaces every entry up to and including index with a snapshot
// holding data. index has to be a live entry.
func (l *EntryLog) Compact(index int64, data []byte) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if index <= l.snapshot.LastIncludedIndex {
		return nil
	}
	term, err := l.term(index)
	if err != nil {
		return errors.Wrapf(err, "Can't compact up to %d", index)
	}

	snapshot := raft.Snapshot{
		LastIncludedIndex: index,
		LastIncludedTerm:  term,
		Data:              data,
	}
	if err := l.storage.SaveSnapshot(&snapshot); err != nil {
		return errors.Wrap(raft.ErrPersistence, err.Error())
	}

	remaining := make([]raft.Entry, len(l.log)-l.offset(index)-1)
	copy(remaining, l.log[l.offset(index)+1:])
	l.log = remaining
	l.snapshot = snapshot
	return nil
}

// InstallSnapshot replaces the log prefix with a snapshot received from the
// leader. If the log holds the snapshot's last entry with the same term the
// suffix after it is retained, otherwise the whole log is discarded.
func (l *EntryLog) InstallSnapshot(snapshot *raft.Snapshot) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if snapshot.LastIncludedIndex <= l.snapshot.LastIncludedIndex {
		return nil
	}

	var remaining []raft.Entry
	if t, err := l.term(snapshot.LastIncludedIndex); err == nil && t == snapshot.LastIncludedTerm {
		rest := l.log[l.offset(snapshot.LastIncludedIndex)+1:]
		remaining = make([]raft.Entry, len(rest))
		copy(remaining, rest)
	} else if len(l.log) > 0 {
		if err := l.storage.TruncateFrom(l.log[0].Index); err != nil {
			return errors.Wrap(raft.ErrPersistence, err.Error())
		}
	}

	if err := l.storage.SaveSnapshot(snapshot); err != nil {
		return errors.Wrap(raft.ErrPersistence, err.Error())
	}
	l.snapshot = *snapshot
	l.log = remaining
	if l.log == nil {
		l.log = make([]raft.Entry, 0)
	}
	return nil
}

func (l *EntryLog) DebugData() []raft.Entry {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	dest := make([]raft.Entry, len(l.log))
	copy(dest, l.log)

	return dest
}
