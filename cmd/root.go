// SPDX-License-Identifier: AGPL-3.0-or-later
// DMRHub - Run a DMR network server in a single binary
// Copyright (C) 2023-2026 Jacob McSwain
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/fluxbroker/fluxmq>

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/fluxbroker/fluxmq/internal/config"
	"github.com/fluxbroker/fluxmq/internal/db"
	"github.com/fluxbroker/fluxmq/internal/delivery"
	"github.com/fluxbroker/fluxmq/internal/federation"
	internalhttp "github.com/fluxbroker/fluxmq/internal/http"
	"github.com/fluxbroker/fluxmq/internal/kv"
	"github.com/fluxbroker/fluxmq/internal/listener"
	"github.com/fluxbroker/fluxmq/internal/logging"
	"github.com/fluxbroker/fluxmq/internal/metrics"
	"github.com/fluxbroker/fluxmq/internal/noderegistry"
	"github.com/fluxbroker/fluxmq/internal/ownership"
	"github.com/fluxbroker/fluxmq/internal/persistence"
	"github.com/fluxbroker/fluxmq/internal/pprof"
	"github.com/fluxbroker/fluxmq/internal/pubsub"
	"github.com/fluxbroker/fluxmq/internal/router"
	"github.com/fluxbroker/fluxmq/internal/scheduler"
	"github.com/fluxbroker/fluxmq/internal/subscription"
	"github.com/fluxbroker/fluxmq/internal/tracing"
	"github.com/fluxbroker/fluxmq/internal/wire"
	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/ztrue/shutdown"
)

// consumeFlushInterval bounds how far a subscriber's in-memory consume
// pointer may drift from the persisted value before SubscriptionManager
// flushes it, trading a bounded redelivery window for far fewer metadata
// store writes.
const consumeFlushInterval = 100

func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fluxmqd",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		RunE:              runRoot,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(newBenchCommand())
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	fmt.Printf("fluxmqd - %s (%s)\n", cmd.Annotations["version"], cmd.Annotations["commit"])

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	logging.Setup(cfg.LogLevel)

	cleanupTracing, err := tracing.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup tracing: %w", err)
	}

	nodeID := cfg.Node.ID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	slog.Info("starting fluxmqd", "node_id", nodeID, "version", cmd.Annotations["version"])

	go func() {
		if err := metrics.CreateMetricsServer(cfg); err != nil {
			slog.Error("metrics server stopped", "error", err)
		}
	}()
	go func() {
		if err := pprof.CreatePProfServer(cfg); err != nil {
			slog.Error("pprof server stopped", "error", err)
		}
	}()

	database, err := db.MakeDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	kvStore, err := kv.MakeKV(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to metadata store: %w", err)
	}

	bus, err := pubsub.MakePubSub(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to pubsub: %w", err)
	}

	m := metrics.NewMetrics()
	gateway := persistence.New(database, m)

	var archiver *persistence.Archiver
	if cfg.Database.ArchiveCompaction {
		archiver, err = persistence.NewArchiver(cfg.Database.ArchiveDir)
		if err != nil {
			return fmt.Errorf("failed to open archive directory: %w", err)
		}
	}

	var fed *federation.Federator
	subListeners := subscription.Listeners{}
	if cfg.Federation.Enabled {
		fed = federation.New(cfg.Federation, nodeID, gateway, bus, m)
		subListeners = fed.Listeners()
	}

	ownershipRegistry := ownership.New(kvStore, m, cfg.Node, ownership.Listeners{})
	ownershipRegistry.Start(ctx)

	subMgr := subscription.New(kvStore, gateway, m, cfg.Federation.HubSubscriberIDPrefix, consumeFlushInterval, subListeners)
	deliveryMgr := delivery.New(gateway, bus, m)
	rt := router.New(ownershipRegistry, gateway, subMgr, deliveryMgr, bus, m)

	nodeAddr := fmt.Sprintf("%s:%d:%d", cfg.Node.AdvertiseHost, cfg.Node.Port, cfg.Node.TLSPort)
	nodes := noderegistry.New(ctx, kvStore, nodeID, nodeAddr)

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if err := scheduleJobs(sched, cfg, subMgr, gateway, archiver); err != nil {
		return err
	}
	sched.Start()

	listeners, err := startListeners(ctx, cfg, rt)
	if err != nil {
		return err
	}

	go func() {
		if err := internalhttp.CreateAdminServer(cfg, subMgr, nodes, bus); err != nil {
			slog.Error("admin HTTP server stopped", "error", err)
		}
	}()

	slog.Info("fluxmqd ready to accept traffic")

	stop := func(sig os.Signal) {
		slog.Warn("shutting down due to signal", "signal", sig)
		shutdownEverything(ctx, sched, ownershipRegistry, nodes, listeners, kvStore, bus, cleanupTracing)
	}
	defer stop(syscall.SIGTERM)
	shutdown.AddWithParam(stop)
	shutdown.Listen(syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	return nil
}

// loadConfig loads the configuration from context.
func loadConfig(ctx context.Context) (*config.Config, error) {
	c, err := configulator.FromContext[config.Config](ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get config from context: %w", err)
	}

	cfg, err := c.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// scheduleJobs wires the GC-hint sweep and the compaction sweep, using an
// archiving compactor when cold storage is configured.
func scheduleJobs(sched gocron.Scheduler, cfg *config.Config, subMgr *subscription.Manager, gateway *persistence.Gateway, archiver *persistence.Archiver) error {
	const gcHintInterval = 10 * time.Second
	if err := scheduler.ScheduleGCHints(sched, gcHintInterval, subMgr, gateway); err != nil {
		return err
	}

	compactionInterval := time.Duration(cfg.Database.CompactionIntervalSeconds) * time.Second
	var compactor compactorFunc = gateway.Compact
	if archiver != nil {
		compactor = func() (int64, error) { return gateway.CompactWithArchive(archiver) }
	}
	if err := scheduler.ScheduleCompaction(sched, compactionInterval, compactor); err != nil {
		return err
	}
	return nil
}

// compactorFunc adapts a plain function to the scheduler.Compactor interface.
type compactorFunc func() (int64, error)

func (f compactorFunc) Compact() (int64, error) { return f() }

// listenerSet holds every net.Listener fluxmqd accepts connections on, so
// shutdown can stop accepting new work before draining held topics.
type listenerSet struct {
	plain      net.Listener
	tls        net.Listener
	federation net.Listener
}

func (s *listenerSet) closeAll() {
	for _, ln := range []net.Listener{s.plain, s.tls, s.federation} {
		if ln == nil {
			continue
		}
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Warn("failed to close listener", "error", err)
		}
	}
}

// startListeners opens and serves the plaintext, TLS (if configured), and
// federation (if enabled) wire protocol listeners.
func startListeners(ctx context.Context, cfg *config.Config, rt *router.Router) (*listenerSet, error) {
	set := &listenerSet{}

	plainAddr := fmt.Sprintf("%s:%d", cfg.Node.Bind, cfg.Node.Port)
	ln, err := listener.ListenTCP(plainAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start plaintext listener: %w", err)
	}
	set.plain = ln
	go serveListener(ctx, ln, adaptRouterHandle(rt.Handle), "plaintext")

	if cfg.Node.TLSPort != 0 {
		tlsAddr := fmt.Sprintf("%s:%d", cfg.Node.Bind, cfg.Node.TLSPort)
		tlsLn, err := listener.ListenTLS(tlsAddr, cfg.Node.TLSCertFile, cfg.Node.TLSKeyFile)
		if err != nil {
			set.closeAll()
			return nil, fmt.Errorf("failed to start TLS listener: %w", err)
		}
		set.tls = tlsLn
		go serveListener(ctx, tlsLn, adaptRouterHandle(rt.Handle), "tls")
	}

	if cfg.Federation.Enabled {
		fedAddr := fmt.Sprintf("%s:%d", cfg.Federation.ListenBind, cfg.Federation.ListenPort)
		fedLn, err := listener.ListenTCP(fedAddr)
		if err != nil {
			set.closeAll()
			return nil, fmt.Errorf("failed to start federation listener: %w", err)
		}
		set.federation = fedLn
		go serveListener(ctx, fedLn, adaptRouterHandle(rt.HandleFederated), "federation")
	}

	return set, nil
}

// adaptRouterHandle lifts a Router method value to listener.Handler. The two
// types are structurally identical (both take a Conn satisfying
// WriteMessage/WriteResponse/Close) but router.Conn and listener.Conn are
// distinct named types, so the method value doesn't satisfy listener.Handler
// on its own.
func adaptRouterHandle(h func(context.Context, router.Conn, *wire.PubSubRequest) (*wire.PubSubResponse, bool)) listener.Handler {
	return func(ctx context.Context, c listener.Conn, req *wire.PubSubRequest) (*wire.PubSubResponse, bool) {
		return h(ctx, c, req)
	}
}

func serveListener(ctx context.Context, ln net.Listener, handle listener.Handler, name string) {
	if err := listener.Serve(ctx, ln, handle); err != nil {
		slog.Error("listener stopped", "listener", name, "error", err)
	}
}

// shutdownEverything performs an orderly shutdown: stop accepting new
// connections, release held topics so peers can reclaim them promptly,
// then tear down the ambient stack.
func shutdownEverything(ctx context.Context, sched gocron.Scheduler, ownershipRegistry *ownership.Registry, nodes *noderegistry.Registry, listeners *listenerSet, kvStore kv.KV, bus pubsub.PubSub, cleanupTracing func(context.Context) error) {
	listeners.closeAll()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.StopJobs(); err != nil {
			slog.Error("failed to stop scheduler jobs", "error", err)
		}
		if err := sched.Shutdown(); err != nil {
			slog.Error("failed to shut down scheduler", "error", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, topic := range ownershipRegistry.HeldTopics() {
			if err := ownershipRegistry.Release(ctx, topic); err != nil {
				slog.Error("failed to release topic on shutdown", "topic", topic, "error", err)
			}
		}
		ownershipRegistry.Stop()
		nodes.Stop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		const timeout = 5 * time.Second
		shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := cleanupTracing(shutdownCtx); err != nil {
			slog.Error("failed to shut down tracer", "error", err)
		}
	}()

	const timeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-time.After(timeout):
		slog.Error("shutdown timed out, forcing exit")
	}

	if err := bus.Close(); err != nil {
		slog.Error("failed to close pubsub", "error", err)
	}
	if err := kvStore.Close(); err != nil {
		slog.Error("failed to close metadata store", "error", err)
	}
	os.Exit(0)
}
