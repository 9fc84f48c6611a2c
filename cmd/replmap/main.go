// Command replmap runs a member of a replicated map and reads commands for it from the console.
//
// The process is configured through the environment:
//
//	REPLMAP_ADDR            the gRPC listen address (default 127.0.0.1:7600)
//	REPLMAP_GROUP           the name of the group to join (default replmap)
//	REPLMAP_ETCD_ENDPOINTS  comma separated etcd endpoints used to discover members
//	REPLMAP_PEERS           comma separated static members, when etcd is not used;
//	                        every member must list all the others
//	REPLMAP_METRICS_ADDR    serves prometheus metrics on /metrics when set
//	REPLMAP_LOG_LEVEL       debug, info, warn, or error (default info)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jmsadair/replmap"
	"github.com/jmsadair/replmap/internal/discovery"
	"github.com/jmsadair/replmap/internal/errors"
	"github.com/jmsadair/replmap/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replmap: %s\n", err.Error())
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, err := replmap.NewGRPCGroup(cfg.addr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The members must be known before the map is created so that the
	// initial state can be fetched from one of them. With etcd the member
	// registers first: the group already serves calls, answering that it is
	// not connected until the map joins, and members that see it early look
	// it up again on their next resync. Static peers must list every member.
	peers := cfg.peers
	var registry *discovery.Registry
	if len(cfg.etcdEndpoints) > 0 {
		client, err := discovery.NewClient(cfg.etcdEndpoints)
		if err != nil {
			group.Close()
			return err
		}
		defer client.Close()

		registry, err = discovery.New(client, cfg.group)
		if err != nil {
			group.Close()
			return err
		}
		if err := registry.Register(ctx, string(group.LocalAddress())); err != nil {
			group.Close()
			return err
		}
		defer func() {
			deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := registry.Deregister(deregisterCtx); err != nil {
				logger.Warnf("could not deregister: %s", err.Error())
			}
		}()

		peers, err = registry.Members(ctx)
		if err != nil {
			group.Close()
			return err
		}
	}

	members := newMembership(group, logger, peers)
	if err := members.resync(ctx); err != nil {
		group.Close()
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m, err := replmap.New(group, cfg.group, replmap.WithLogger(logger), replmap.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warnf("could not leave group: %s", err.Error())
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return members.run(gctx, resyncInterval)
	})

	if registry != nil {
		g.Go(func() error {
			return registry.Watch(gctx, func(discovered []string) {
				logger.Debugf("discovered members: %v", discovered)
				members.update(gctx, discovered)
			})
		})
	}

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler(reg))
		server := &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Infof("serving metrics on %s", cfg.metricsAddr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.WrapError(err, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Infof("member %s of group %q, type help for a list of commands", m.Address(), cfg.group)

	// The console blocks on standard input, so it is not part of the group
	// and is abandoned if the process is interrupted.
	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- newConsole(m, os.Stdin, os.Stdout).run()
	}()

	select {
	case err = <-consoleDone:
	case <-gctx.Done():
	}
	cancel()

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) && err == nil {
		err = waitErr
	}

	return err
}

func newLogger(level zapcore.Level) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true

	logger, err := cfg.Build()
	if err != nil {
		return nil, errors.WrapError(err, "could not build logger")
	}
	return logger.Sugar(), nil
}
