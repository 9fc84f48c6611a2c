package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

const (
	defaultAddr  = "127.0.0.1:7600"
	defaultGroup = "replmap"
)

// config is the configuration of a replmap process, read from the environment.
type config struct {
	// The address the gRPC server listens on.
	addr string

	// The name of the group to join.
	group string

	// The etcd endpoints used for discovery. Empty when discovery is disabled.
	etcdEndpoints []string

	// The static members of the group, used when etcd is not.
	peers []string

	// Where metrics are served. Empty when metrics are disabled.
	metricsAddr string

	logLevel zapcore.Level
}

// loadConfig reads the configuration using getenv, which is usually os.Getenv.
func loadConfig(getenv func(string) string) (config, error) {
	cfg := config{
		addr:          valueOr(getenv("REPLMAP_ADDR"), defaultAddr),
		group:         valueOr(getenv("REPLMAP_GROUP"), defaultGroup),
		etcdEndpoints: splitList(getenv("REPLMAP_ETCD_ENDPOINTS")),
		peers:         splitList(getenv("REPLMAP_PEERS")),
		metricsAddr:   strings.TrimSpace(getenv("REPLMAP_METRICS_ADDR")),
		logLevel:      zapcore.InfoLevel,
	}

	if level := strings.TrimSpace(getenv("REPLMAP_LOG_LEVEL")); level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return config{}, fmt.Errorf("invalid REPLMAP_LOG_LEVEL: %w", err)
		}
		cfg.logLevel = parsed
	}

	if len(cfg.etcdEndpoints) > 0 && len(cfg.peers) > 0 {
		return config{}, fmt.Errorf("REPLMAP_ETCD_ENDPOINTS and REPLMAP_PEERS are mutually exclusive")
	}
	if strings.Contains(cfg.group, "/") {
		return config{}, fmt.Errorf("invalid REPLMAP_GROUP: %q", cfg.group)
	}

	return cfg, nil
}

func valueOr(value, fallback string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return fallback
}

// splitList splits a comma separated list, dropping empty elements.
func splitList(value string) []string {
	var list []string
	for _, element := range strings.Split(value, ",") {
		if element = strings.TrimSpace(element); element != "" {
			list = append(list, element)
		}
	}
	return list
}
