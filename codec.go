package raft

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Codec is the gRPC wire codec for the Raft service. Messages are plain Go
// structs, so they travel as JSON instead of protobuf.
type Codec struct{}

const codecName = "raftjson"

func (Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "Couldn't marshal %T", v)
	}
	return data, nil
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "Couldn't unmarshal %T", v)
	}
	return nil
}

func (Codec) Name() string {
	return codecName
}
