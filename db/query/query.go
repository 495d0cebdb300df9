package query

import (
	"encoding/json"
	"sync"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/db"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type queryHandler struct {
	storageMutex sync.RWMutex
	storage      map[string]string

	logger hclog.Logger
}

func NewQueryHandler(logger hclog.Logger) db.QueryHandler {
	return &queryHandler{
		storage: make(map[string]string),
		logger:  logger.Named("query"),
	}
}

// Apply executes a committed put or delete. Entries that don't decode to a
// known operation are rejected without touching the map.
func (handler *queryHandler) Apply(entry *raft.Entry) error {
	var operation db.Operation
	if err := json.Unmarshal(entry.Data, &operation); err != nil {
		return errors.Wrapf(err, "Couldn't decode entry %d", entry.Index)
	}

	handler.storageMutex.Lock()
	defer handler.storageMutex.Unlock()
	switch operation.Type {
	case db.PutOperation:
		var put db.Put
		if err := mapstructure.Decode(operation.Operation, &put); err != nil {
			return errors.Wrap(err, "Couldn't decode put operation")
		}
		if put.Key == "" {
			return errors.Errorf("Put in entry %d has an empty key", entry.Index)
		}
		handler.storage[put.Key] = put.Value

	case db.DeleteOperation:
		var del db.Delete
		if err := mapstructure.Decode(operation.Operation, &del); err != nil {
			return errors.Wrap(err, "Couldn't decode delete operation")
		}
		delete(handler.storage, del.Key)

	default:
		return errors.Errorf("Unknown operation type %q in entry %d", operation.Type, entry.Index)
	}

	handler.logger.Trace("applied", "index", entry.Index, "type", operation.Type)
	return nil
}

func (handler *queryHandler) Snapshot() ([]byte, error) {
	handler.storageMutex.RLock()
	defer handler.storageMutex.RUnlock()

	data, err := json.Marshal(handler.storage)
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't encode key-value snapshot")
	}
	return data, nil
}

// Restore replaces the whole map with the snapshot contents.
func (handler *queryHandler) Restore(data []byte) error {
	storage := make(map[string]string)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &storage); err != nil {
			return errors.Wrap(err, "Couldn't decode key-value snapshot")
		}
	}

	handler.storageMutex.Lock()
	defer handler.storageMutex.Unlock()
	handler.storage = storage
	return nil
}

func (handler *queryHandler) Get(key string) (string, bool) {
	handler.storageMutex.RLock()
	defer handler.storageMutex.RUnlock()

	value, ok := handler.storage[key]
	return value, ok
}

// Data returns a copy of the applied state.
func (handler *queryHandler) Data() map[string]string {
	handler.storageMutex.RLock()
	defer handler.storageMutex.RUnlock()

	out := make(map[string]string, len(handler.storage))
	for k, v := range handler.storage {
		out[k] = v
	}
	return out
}
