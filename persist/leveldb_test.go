package persist

import (
	"testing"

	"github.com/cube2222/raftkv"
)

func open(t *testing.T, dir string) *LevelDB {
	t.Helper()
	db, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestHardStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db := open(t, dir)

	hs, err := db.LoadHardState()
	if err != nil {
		t.Fatal(err)
	}
	if hs != (raft.HardState{}) {
		t.Errorf("fresh database has hard state %+v", hs)
	}

	want := raft.HardState{Term: 4, VotedFor: "b", CommitIndex: 9}
	if err := db.SaveHardState(want); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db = open(t, dir)
	defer db.Close()
	if hs, _ := db.LoadHardState(); hs != want {
		t.Errorf("reopened hard state %+v, want %+v", hs, want)
	}
}

func TestEntriesKeepLogOrder(t *testing.T) {
	db := open(t, t.TempDir())
	defer db.Close()

	// 256 and 1 would sort wrong as decimal strings.
	var entries []raft.Entry
	for i := int64(1); i <= 300; i++ {
		entries = append(entries, raft.Entry{Index: i, Term: 1 + i/100, Data: []byte("x")})
	}
	if err := db.AppendEntries(entries); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.LoadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 300 {
		t.Fatalf("loaded %d entries", len(loaded))
	}
	for i, entry := range loaded {
		if entry.Index != int64(i+1) {
			t.Fatalf("entry %d has index %d", i, entry.Index)
		}
	}
}

func TestTruncateAndSnapshot(t *testing.T) {
	db := open(t, t.TempDir())
	defer db.Close()

	var entries []raft.Entry
	for i := int64(1); i <= 10; i++ {
		entries = append(entries, raft.Entry{Index: i, Term: 1})
	}
	if err := db.AppendEntries(entries); err != nil {
		t.Fatal(err)
	}
	if err := db.TruncateFrom(8); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveSnapshot(&raft.Snapshot{LastIncludedIndex: 4, LastIncludedTerm: 1, Data: []byte(`{"a":"1"}`)}); err != nil {
		t.Fatal(err)
	}

	loaded, err := db.LoadEntries()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 || loaded[0].Index != 5 || loaded[2].Index != 7 {
		t.Errorf("remaining entries %+v", loaded)
	}

	snapshot, err := db.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snapshot == nil || snapshot.LastIncludedIndex != 4 || string(snapshot.Data) != `{"a":"1"}` {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestNoSnapshot(t *testing.T) {
	db := open(t, t.TempDir())
	defer db.Close()

	snapshot, err := db.LoadSnapshot()
	if err != nil || snapshot != nil {
		t.Errorf("fresh database snapshot %+v, %v", snapshot, err)
	}
}
