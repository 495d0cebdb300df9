package gossip

import (
	"sort"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/serf/serf"
	"github.com/pkg/errors"
)

// Gossip keeps a serf view of which nodes are alive. It is only reported in
// the node status; the raft peer set stays the static member list.
type Gossip struct {
	cluster *serf.Serf
	logger  hclog.Logger
}

type MemberHealth struct {
	Name   string `json:"name"`
	Addr   string `json:"addr"`
	Port   uint16 `json:"port"`
	Status string `json:"status"`
}

// New starts a serf agent named nodeName and tries to join the given
// addresses. Failing to join is not an error; the node starts its own gossip
// cluster then.
func New(nodeName, bindAddr string, bindPort int, join []string, logger hclog.Logger) (*Gossip, error) {
	logger = logger.Named("gossip")

	conf := serf.DefaultConfig()
	conf.Init()
	conf.NodeName = nodeName
	conf.MemberlistConfig.BindAddr = bindAddr
	conf.MemberlistConfig.BindPort = bindPort
	conf.MemberlistConfig.AdvertisePort = bindPort

	std := logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	conf.Logger = std
	conf.MemberlistConfig.Logger = std

	cluster, err := serf.Create(conf)
	if err != nil {
		return nil, errors.Wrap(err, "Couldn't create gossip cluster")
	}

	if len(join) > 0 {
		if _, err := cluster.Join(join, true); err != nil {
			logger.Warn("couldn't join cluster, starting own", "error", err)
		}
	}

	return &Gossip{
		cluster: cluster,
		logger:  logger,
	}, nil
}

// Members lists every known node, sorted by name.
func (g *Gossip) Members() []MemberHealth {
	members := g.cluster.Members()
	out := make([]MemberHealth, 0, len(members))
	for _, member := range members {
		out = append(out, MemberHealth{
			Name:   member.Name,
			Addr:   member.Addr.String(),
			Port:   member.Port,
			Status: member.Status.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Leave announces the departure and shuts the agent down.
func (g *Gossip) Leave() error {
	if err := g.cluster.Leave(); err != nil {
		g.logger.Warn("couldn't leave cluster gracefully", "error", err)
	}
	return errors.Wrap(g.cluster.Shutdown(), "Couldn't shut down gossip")
}
