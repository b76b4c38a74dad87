package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"catalogkv/internal/config"
	"catalogkv/internal/node"
)

// Cluster is a set of in-process nodes talking over real loopback
// sockets.
type Cluster struct {
	mu    sync.Mutex
	nodes []*Member
}

// Member is one running node of the cluster.
type Member struct {
	ID      string
	HTTP    string
	GRPC    string
	Node    *node.Node
	Client  *Client
	stopped bool
}

// Options tune how the cluster is started.
type Options struct {
	Size         int
	Transport    config.Transport
	SyncInterval time.Duration
	FetchTimeout time.Duration
}

// StartCluster opens all listeners first so every node can be configured
// with the full peer list, then starts serving.
func StartCluster(opts Options) (*Cluster, error) {
	if opts.Size <= 0 {
		opts.Size = 3
	}
	if opts.Transport == "" {
		opts.Transport = config.TransportHTTP
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = time.Second
	}

	type listeners struct {
		http, grpc net.Listener
	}
	lis := make([]listeners, opts.Size)
	closeAll := func() {
		for _, l := range lis {
			if l.http != nil {
				l.http.Close()
			}
			if l.grpc != nil {
				l.grpc.Close()
			}
		}
	}

	peers := make([]config.Peer, 0, opts.Size)
	for i := range lis {
		h, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open http listener: %w", err)
		}
		lis[i].http = h
		g, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to open grpc listener: %w", err)
		}
		lis[i].grpc = g

		addr := h.Addr().String()
		if opts.Transport == config.TransportGRPC {
			addr = g.Addr().String()
		}
		peers = append(peers, config.Peer{ID: fmt.Sprintf("n%d", i+1), Addr: addr})
	}

	c := &Cluster{}
	for i, l := range lis {
		cfg := config.Default()
		cfg.NodeID = fmt.Sprintf("n%d", i+1)
		cfg.Name = fmt.Sprintf("NODE %d", i+1)
		cfg.HTTPAddr = l.http.Addr().String()
		cfg.GRPCAddr = l.grpc.Addr().String()
		cfg.Peers = peers
		cfg.Transport = opts.Transport
		cfg.FetchTimeout = opts.FetchTimeout
		cfg.SyncInterval = opts.SyncInterval
		if err := cfg.Validate(); err != nil {
			closeAll()
			return nil, fmt.Errorf("invalid config for %s: %w", cfg.NodeID, err)
		}

		n := node.NewNode(cfg)
		n.Serve(l.http, l.grpc)
		c.nodes = append(c.nodes, &Member{
			ID:     cfg.NodeID,
			HTTP:   cfg.HTTPAddr,
			GRPC:   cfg.GRPCAddr,
			Node:   n,
			Client: NewClient("http://"+cfg.HTTPAddr, nil),
		})
	}
	return c, nil
}

// Get returns the member with the given id, or nil.
func (c *Cluster) Get(id string) *Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.nodes {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// StopNode stops one member, simulating an unreachable peer.
func (c *Cluster) StopNode(id string) error {
	m := c.Get(id)
	if m == nil {
		return fmt.Errorf("unknown node %s", id)
	}
	return c.stop(m)
}

// Stop stops all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	members := append([]*Member(nil), c.nodes...)
	c.mu.Unlock()

	for _, m := range members {
		_ = c.stop(m)
	}
}

func (c *Cluster) stop(m *Member) error {
	c.mu.Lock()
	if m.stopped {
		c.mu.Unlock()
		return nil
	}
	m.stopped = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Node.Stop(ctx)
}
