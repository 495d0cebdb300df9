package db

import (
	"encoding/json"

	"github.com/cube2222/raftkv"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// QueryHandler is the replicated key-value state machine, serving reads from
// the locally applied state.
type QueryHandler interface {
	raft.Applyable
	Get(key string) (string, bool)
	Data() map[string]string
	Register(router *mux.Router)
}

type CommandHandler interface {
	Register(router *mux.Router)
}

// Operation is what gets stored in a command entry. Operation holds a Put or
// a Delete depending on Type.
type Operation struct {
	Type      string      `json:"type"`
	Operation interface{} `json:"operation"`
}

type Put struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

const PutOperation = "put"

type Delete struct {
	Key string `json:"key"`
}

const DeleteOperation = "delete"

func EncodePut(key, value string) ([]byte, error) {
	return encode(Operation{
		Type:      PutOperation,
		Operation: Put{Key: key, Value: value},
	})
}

func EncodeDelete(key string) ([]byte, error) {
	return encode(Operation{
		Type:      DeleteOperation,
		Operation: Delete{Key: key},
	})
}

func encode(op Operation) ([]byte, error) {
	data, err := json.Marshal(&op)
	if err != nil {
		return nil, errors.Wrapf(err, "Couldn't encode %s operation", op.Type)
	}
	return data, nil
}
