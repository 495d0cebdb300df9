package main

import (
	"strings"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

type Config struct {
	NodeID string `envconfig:"NODE_ID" required:"true"`
	// Every member including this node, as id=host:port.
	Members  []string `required:"true"`
	RPCAddr  string   `envconfig:"RPC_ADDR" default:":8001"`
	HTTPAddr string   `envconfig:"HTTP_ADDR" default:":8002"`
	DataDir  string   `envconfig:"DATA_DIR" default:"data"`

	ElectionTimeoutMin time.Duration `envconfig:"ELECTION_TIMEOUT_MIN" default:"150ms"`
	ElectionTimeoutMax time.Duration `envconfig:"ELECTION_TIMEOUT_MAX" default:"300ms"`
	HeartbeatInterval  time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"50ms"`
	RPCTimeout         time.Duration `envconfig:"RPC_TIMEOUT" default:"100ms"`
	SnapshotThreshold  int           `envconfig:"SNAPSHOT_THRESHOLD" default:"1024"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON"`

	// Gossip is disabled when GossipBind is empty.
	GossipBind string   `envconfig:"GOSSIP_BIND"`
	GossipPort int      `envconfig:"GOSSIP_PORT" default:"7946"`
	GossipJoin []string `envconfig:"GOSSIP_JOIN"`
}

func LoadConfig() (*Config, error) {
	conf := Config{}
	if err := envconfig.Process("raft", &conf); err != nil {
		return nil, errors.Wrap(err, "Couldn't load config")
	}

	return &conf, nil
}

func (c *Config) ParseMembers() ([]raft.Member, error) {
	members := make([]raft.Member, 0, len(c.Members))
	for _, member := range c.Members {
		parts := strings.SplitN(strings.TrimSpace(member), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("Invalid member %q, expected id=host:port", member)
		}
		members = append(members, raft.Member{
			ID:       raft.NodeID(parts[0]),
			Endpoint: parts[1],
		})
	}
	return members, nil
}
