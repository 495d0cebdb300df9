package persist

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	hardStateKey = []byte("hardstate")
	snapshotKey  = []byte("snapshot")
	entryPrefix  = []byte("entry/")
)

// LevelDB is a raft.Storage kept in a goleveldb database. Entries are keyed
// by their big-endian index, so iteration order is log order. Every write is
// synced.
type LevelDB struct {
	db   *leveldb.DB
	sync *opt.WriteOptions
}

func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "Couldn't open leveldb at %s", path)
	}

	return &LevelDB{
		db:   db,
		sync: &opt.WriteOptions{Sync: true},
	}, nil
}

func entryKey(index int64) []byte {
	key := make([]byte, len(entryPrefix)+8)
	copy(key, entryPrefix)
	binary.BigEndian.PutUint64(key[len(entryPrefix):], uint64(index))
	return key
}

func (l *LevelDB) LoadHardState() (raft.HardState, error) {
	var hs raft.HardState
	data, err := l.db.Get(hardStateKey, nil)
	if err == leveldb.ErrNotFound {
		return hs, nil
	}
	if err != nil {
		return hs, errors.Wrap(err, "Couldn't read hard state")
	}
	if err := json.Unmarshal(data, &hs); err != nil {
		return hs, errors.Wrap(err, "Couldn't decode hard state, data corrupted")
	}
	return hs, nil
}

func (l *LevelDB) SaveHardState(hs raft.HardState) error {
	data, err := json.Marshal(&hs)
	if err != nil {
		return errors.Wrap(err, "Couldn't encode hard state")
	}
	return errors.Wrap(l.db.Put(hardStateKey, data, l.sync), "Couldn't write hard state")
}

func (l *LevelDB) LoadEntries() ([]raft.Entry, error) {
	iter := l.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer iter.Release()

	entries := make([]raft.Entry, 0)
	for iter.Next() {
		var entry raft.Entry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, errors.Wrap(err, "Couldn't decode log entry, data corrupted")
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "Couldn't iterate log entries")
	}
	return entries, nil
}

func (l *LevelDB) AppendEntries(entries []raft.Entry) error {
	batch := new(leveldb.Batch)
	for i := range entries {
		data, err := json.Marshal(&entries[i])
		if err != nil {
			return errors.Wrapf(err, "Couldn't encode log entry %d", entries[i].Index)
		}
		batch.Put(entryKey(entries[i].Index), data)
	}
	return errors.Wrap(l.db.Write(batch, l.sync), "Couldn't write log entries")
}

func (l *LevelDB) deleteRange(batch *leveldb.Batch, r *util.Range) error {
	iter := l.db.NewIterator(r, nil)
	defer iter.Release()

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	return errors.Wrap(iter.Error(), "Couldn't iterate log entries")
}

func (l *LevelDB) TruncateFrom(index int64) error {
	batch := new(leveldb.Batch)
	limit := util.BytesPrefix(entryPrefix).Limit
	if err := l.deleteRange(batch, &util.Range{Start: entryKey(index), Limit: limit}); err != nil {
		return err
	}
	return errors.Wrap(l.db.Write(batch, l.sync), "Couldn't truncate log")
}

func (l *LevelDB) LoadSnapshot() (*raft.Snapshot, error) {
	data, err := l.db.Get(snapshotKey, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't read snapshot")
	}
	var snapshot raft.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.Wrap(err, "Couldn't decode snapshot, data corrupted")
	}
	return &snapshot, nil
}

// SaveSnapshot writes the snapshot and drops the entries it covers in one
// atomic batch.
func (l *LevelDB) SaveSnapshot(snapshot *raft.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(err, "Couldn't encode snapshot")
	}

	batch := new(leveldb.Batch)
	batch.Put(snapshotKey, data)
	covered := &util.Range{Start: entryKey(0), Limit: entryKey(snapshot.LastIncludedIndex + 1)}
	if err := l.deleteRange(batch, covered); err != nil {
		return err
	}
	return errors.Wrap(l.db.Write(batch, l.sync), "Couldn't write snapshot")
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
