package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/pkg/errors"
)

type echoServer struct {
	id    raft.NodeID
	calls int
}

func (s *echoServer) RequestVote(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	s.calls++
	return &raft.RequestVoteResponse{Term: req.Term, VoteGranted: true}, nil
}

func (s *echoServer) AppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	s.calls++
	if len(req.Entries) > 0 {
		req.Entries[0].Term = -1
	}
	return &raft.AppendEntriesResponse{Term: req.Term, Success: true}, nil
}

func (s *echoServer) InstallSnapshot(ctx context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	s.calls++
	return &raft.InstallSnapshotResponse{Term: req.Term}, nil
}

func TestNetworkRoutesCalls(t *testing.T) {
	network := NewNetwork()
	server := &echoServer{id: "b"}
	network.Register("b", server)

	client, err := network.Transport("a").Client(context.Background(), raft.Member{ID: "b"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := client.RequestVote(context.Background(), &raft.RequestVoteRequest{Term: 3})
	if err != nil {
		t.Fatal(err)
	}
	if res.Term != 3 || !res.VoteGranted {
		t.Errorf("unexpected response %+v", res)
	}

	req := &raft.AppendEntriesRequest{Term: 3, Entries: []raft.Entry{{Index: 1, Term: 3}}}
	if _, err := client.AppendEntries(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if req.Entries[0].Term != 3 {
		t.Error("server mutated the caller's entries")
	}
	if server.calls != 2 {
		t.Errorf("calls = %d", server.calls)
	}
}

func TestNetworkPartition(t *testing.T) {
	network := NewNetwork()
	server := &echoServer{id: "b"}
	network.Register("b", server)
	network.Disconnect("b")

	client, _ := network.Transport("a").Client(context.Background(), raft.Member{ID: "b"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.RequestVote(ctx, &raft.RequestVoteRequest{Term: 1}); errors.Cause(err) != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if server.calls != 0 {
		t.Error("partitioned server was called")
	}

	network.Connect("b")
	if _, err := client.RequestVote(context.Background(), &raft.RequestVoteRequest{Term: 1}); err != nil {
		t.Errorf("healed partition still fails: %v", err)
	}
}

func TestNetworkGroupPartition(t *testing.T) {
	network := NewNetwork()
	servers := make(map[raft.NodeID]*echoServer)
	for _, id := range []raft.NodeID{"a", "b", "c", "d", "e"} {
		servers[id] = &echoServer{id: id}
		network.Register(id, servers[id])
	}
	network.Partition([]raft.NodeID{"a", "b"}, []raft.NodeID{"c", "d"})

	tests := []struct {
		from, to raft.NodeID
		ok       bool
	}{
		{"a", "b", true},
		{"c", "d", true},
		{"a", "c", false},
		{"d", "b", false},
		{"e", "a", false},
		{"c", "e", false},
	}
	for _, tt := range tests {
		client, _ := network.Transport(tt.from).Client(context.Background(), raft.Member{ID: tt.to})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := client.AppendEntries(ctx, &raft.AppendEntriesRequest{Term: 1})
		cancel()
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v, want reachable %v", tt.from, tt.to, err, tt.ok)
		}
	}

	network.Disconnect("a")
	network.Heal()
	client, _ := network.Transport("a").Client(context.Background(), raft.Member{ID: "e"})
	if _, err := client.RequestVote(context.Background(), &raft.RequestVoteRequest{Term: 1}); err != nil {
		t.Errorf("healed network still fails: %v", err)
	}
}

func TestNetworkUnregistered(t *testing.T) {
	network := NewNetwork()
	client, _ := network.Transport("a").Client(context.Background(), raft.Member{ID: "z"})

	_, err := client.InstallSnapshot(context.Background(), &raft.InstallSnapshotRequest{})
	if errors.Cause(err) != raft.ErrUnreachable {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
	if !raft.IsSoftFailure(err) {
		t.Error("unreachable member should be a soft failure")
	}
}

func TestStorageTruncateAndSnapshot(t *testing.T) {
	s := NewStorage()
	if err := s.AppendEntries([]raft.Entry{{Index: 1, Term: 1}, {Index: 2, Term: 1}, {Index: 3, Term: 2}}); err != nil {
		t.Fatal(err)
	}
	if err := s.TruncateFrom(3); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSnapshot(&raft.Snapshot{LastIncludedIndex: 1, LastIncludedTerm: 1}); err != nil {
		t.Fatal(err)
	}

	entries, _ := s.LoadEntries()
	if len(entries) != 1 || entries[0].Index != 2 {
		t.Errorf("entries = %+v", entries)
	}
	snapshot, _ := s.LoadSnapshot()
	if snapshot == nil || snapshot.LastIncludedIndex != 1 {
		t.Errorf("snapshot = %+v", snapshot)
	}

	s.SetFailWrites(true)
	if err := s.SaveHardState(raft.HardState{Term: 1}); err != ErrWriteFailed {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
}
