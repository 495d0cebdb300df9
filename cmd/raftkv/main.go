package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cube2222/raftkv"
	"github.com/cube2222/raftkv/db/command"
	"github.com/cube2222/raftkv/db/query"
	"github.com/cube2222/raftkv/gossip"
	"github.com/cube2222/raftkv/persist"
	raftimpl "github.com/cube2222/raftkv/raft"
	"github.com/cube2222/raftkv/raft/cluster"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		hclog.Default().Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "raftkv",
		Level:      hclog.LevelFromString(config.LogLevel),
		JSONFormat: config.LogJSON,
	})

	if err := run(config, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger hclog.Logger) error {
	members, err := config.ParseMembers()
	if err != nil {
		return err
	}
	raftCluster, err := cluster.NewCluster(raft.NodeID(config.NodeID), members)
	if err != nil {
		return err
	}

	storage, err := persist.Open(filepath.Join(config.DataDir, config.NodeID))
	if err != nil {
		return err
	}
	defer storage.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store := query.NewQueryHandler(logger)
	node, err := raftimpl.NewRaft(
		ctx,
		raftCluster,
		cluster.NewGRPCTransport(ctx),
		storage,
		store,
		raftimpl.WithLogger(logger),
		raftimpl.WithElectionTimeout(config.ElectionTimeoutMin, config.ElectionTimeoutMax),
		raftimpl.WithHeartbeatInterval(config.HeartbeatInterval),
		raftimpl.WithRPCTimeout(config.RPCTimeout),
		raftimpl.WithSnapshotThreshold(config.SnapshotThreshold),
	)
	if err != nil {
		return errors.Wrap(err, "Couldn't create raft node")
	}

	var lister command.MemberLister
	if config.GossipBind != "" {
		g, err := gossip.New(config.NodeID, config.GossipBind, config.GossipPort, config.GossipJoin, logger)
		if err != nil {
			return err
		}
		defer g.Leave()
		lister = g
	}

	lis, err := net.Listen("tcp", config.RPCAddr)
	if err != nil {
		return errors.Wrapf(err, "Couldn't listen on %s", config.RPCAddr)
	}
	s := grpc.NewServer(raft.ServerOptions()...)
	raft.RegisterRaftServer(s, node)

	router := mux.NewRouter()
	store.Register(router)
	command.NewCommandHandler(node, lister, logger).Register(router)
	httpServer := &http.Server{
		Addr:    config.HTTPAddr,
		Handler: router,
	}

	errs := make(chan error, 3)
	go func() {
		errs <- errors.Wrap(node.Run(), "Raft node failed")
	}()
	go func() {
		errs <- errors.Wrap(s.Serve(lis), "gRPC server failed")
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errs <- errors.Wrap(err, "HTTP server failed")
		}
	}()
	logger.Info("serving", "node", config.NodeID, "rpc", config.RPCAddr, "http", config.HTTPAddr)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errs:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("couldn't shut down HTTP server", "error", err)
	}
	s.Stop()
	node.Stop()

	return runErr
}
