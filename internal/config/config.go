package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Transport selects how peers are asked for their snapshot.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportGRPC Transport = "grpc"
)

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr"`
}

// Config holds the node configuration.
type Config struct {
	NodeID string `yaml:"node_id"`
	// Name is a human readable label, e.g. "NODE 1 - Rosario".
	Name     string `yaml:"name"`
	HTTPAddr string `yaml:"http_addr"`
	// GRPCAddr enables the replica gRPC service when set.
	GRPCAddr  string    `yaml:"grpc_addr"`
	Peers     []Peer    `yaml:"peers"`
	Transport Transport `yaml:"transport"`

	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	RetryBound      int           `yaml:"retry_bound"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	SyncParallelism int           `yaml:"sync_parallelism"`
}

// Default returns a configuration with the stock policy values.
func Default() Config {
	return Config{
		HTTPAddr:        "127.0.0.1:5001",
		Transport:       TransportHTTP,
		FetchTimeout:    3 * time.Second,
		RetryBound:      2,
		SyncParallelism: 1,
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node id cannot be empty")
	}
	if c.HTTPAddr == "" {
		return errors.New("http address cannot be empty")
	}
	switch c.Transport {
	case TransportHTTP:
	case TransportGRPC:
		if c.GRPCAddr == "" {
			return errors.New("grpc transport requires a grpc address")
		}
	default:
		return errors.Newf("unknown transport %q", c.Transport)
	}
	if c.FetchTimeout <= 0 {
		return errors.Newf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.RetryBound < 0 {
		return errors.Newf("retry bound cannot be negative, got %d", c.RetryBound)
	}
	if c.SyncInterval < 0 {
		return errors.Newf("sync interval cannot be negative, got %s", c.SyncInterval)
	}

	seen := make(map[string]bool)
	for _, p := range c.Peers {
		if p.ID == "" || p.Addr == "" {
			return errors.Newf("peer ID and address cannot be empty: %+v", p)
		}
		if seen[p.ID] {
			return errors.Newf("duplicate peer %s", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// PeerAddrs returns the peer addresses in configured order, excluding
// this node itself.
func (c *Config) PeerAddrs() []string {
	addrs := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == c.NodeID || p.Addr == c.HTTPAddr || (c.GRPCAddr != "" && p.Addr == c.GRPCAddr) {
			continue
		}
		addrs = append(addrs, p.Addr)
	}
	return addrs
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, errors.Newf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, errors.Newf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}
