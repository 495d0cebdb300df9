package command

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/db"
	"github.com/cube2222/raftkv/gossip"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
)

// MemberLister reports gossip liveness. It is optional.
type MemberLister interface {
	Members() []gossip.MemberHealth
}

type commandHandler struct {
	raft    raft.Raft
	members MemberLister
	logger  hclog.Logger
}

func NewCommandHandler(raft raft.Raft, members MemberLister, logger hclog.Logger) db.CommandHandler {
	return &commandHandler{
		raft:    raft,
		members: members,
		logger:  logger.Named("http"),
	}
}

func (handler *commandHandler) Register(router *mux.Router) {
	router.HandleFunc("/command", handler.command).Methods(http.MethodPost)
	router.HandleFunc("/kv/{key}", handler.putValue).Methods(http.MethodPut)
	router.HandleFunc("/kv/{key}", handler.deleteValue).Methods(http.MethodDelete)
	router.HandleFunc("/status", handler.status).Methods(http.MethodGet)
	router.HandleFunc("/debug", handler.DebugInfo).Methods(http.MethodGet)
}

type commandRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type commandResponse struct {
	Success bool        `json:"success"`
	Index   int64       `json:"index"`
	Leader  raft.NodeID `json:"leader,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// command is the JSON client entry point: it always answers 200 with
// success false when this node isn't the leader.
func (handler *commandHandler) command(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Bad json body: %v", err)
		return
	}
	if req.Key == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "Missing key.")
		return
	}

	data, err := db.EncodePut(req.Key, req.Value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Couldn't encode operation: %v", err)
		return
	}

	res, ok := handler.appendLog(w, r, data)
	if !ok {
		return
	}
	handler.writeJSON(w, http.StatusOK, res)
}

func (handler *commandHandler) putValue(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Couldn't read body: %v", err)
		return
	}

	data, err := db.EncodePut(key, string(value))
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Couldn't encode operation: %v", err)
		return
	}
	handler.submit(w, r, data)
}

func (handler *commandHandler) deleteValue(w http.ResponseWriter, r *http.Request) {
	data, err := db.EncodeDelete(mux.Vars(r)["key"])
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Couldn't encode operation: %v", err)
		return
	}
	handler.submit(w, r, data)
}

// submit answers 503 with the known leader when this node can't take writes.
func (handler *commandHandler) submit(w http.ResponseWriter, r *http.Request, data []byte) {
	res, ok := handler.appendLog(w, r, data)
	if !ok {
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusServiceUnavailable
	}
	handler.writeJSON(w, status, res)
}

func (handler *commandHandler) appendLog(w http.ResponseWriter, r *http.Request, data []byte) (*commandResponse, bool) {
	res, err := handler.raft.AppendLog(r.Context(), data)
	if err != nil {
		handler.logger.Warn("couldn't append log entry", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Couldn't create new commit log entry: %v", err)
		return nil, false
	}

	out := &commandResponse{
		Success: res.Success,
		Index:   res.Index,
	}
	if !res.Success {
		out.Leader = handler.raft.Status().Leader
		out.Error = raft.ErrNotLeader.Error()
	}
	return out, true
}

type statusResponse struct {
	raft.NodeStatus
	Members []gossip.MemberHealth `json:"members,omitempty"`
}

func (handler *commandHandler) status(w http.ResponseWriter, r *http.Request) {
	res := statusResponse{NodeStatus: handler.raft.Status()}
	if handler.members != nil {
		res.Members = handler.members.Members()
	}
	handler.writeJSON(w, http.StatusOK, &res)
}

func (handler *commandHandler) DebugInfo(w http.ResponseWriter, r *http.Request) {
	entries := handler.raft.GetDebugData()
	for _, entry := range entries {
		fmt.Fprintf(w, "Index: %d\n ID: %s\n Term: %v\n Data:\n%s\n", entry.Index, entry.ID, entry.Term, entry.Data)
	}
}

func (handler *commandHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		handler.logger.Warn("couldn't encode response", "error", err)
	}
}
