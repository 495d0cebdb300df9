package raft

type EntryType int

const (
	EntryCommand EntryType = iota
	// EntryNoop is appended by a new leader as the commit barrier of its term.
	EntryNoop
)

type Entry struct {
	Index int64     `json:"index"`
	Term  int64     `json:"term"`
	Type  EntryType `json:"type"`
	ID    string    `json:"id,omitempty"`
	Data  []byte    `json:"data,omitempty"`
}
