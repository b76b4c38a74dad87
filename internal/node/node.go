package node

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"catalogkv/internal/clock"
	"catalogkv/internal/config"
	"catalogkv/internal/metrics"
	"catalogkv/internal/oplog"
	"catalogkv/internal/repair"
	"catalogkv/internal/session"
	"catalogkv/internal/storage"
)

// AnonymousSession is used for operations that carry no session id.
const AnonymousSession = "anon"

// ReadResult is the outcome of a session read.
type ReadResult struct {
	Record    storage.Record
	Found     bool
	Guarantee session.Guarantee
}

// WriteResult is the outcome of a session write.
type WriteResult struct {
	Record    storage.Record
	Guarantee session.Guarantee
}

// Option customizes a Node.
type Option func(*Node)

// WithClock replaces the wall clock used to stamp writes.
func WithClock(c clock.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithFetcher replaces the peer snapshot fetcher selected by the config.
func WithFetcher(f repair.Fetcher) Option {
	return func(n *Node) { n.fetcher = f }
}

// WithDialOptions adds gRPC dial options for peer connections.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(n *Node) { n.dialOpts = append(n.dialOpts, opts...) }
}

// Node owns everything one replica needs: the version store, the session
// table and the operation log, plus the machinery that keeps them in sync
// with the peers.
type Node struct {
	cfg      config.Config
	nodeID   string
	clock    clock.Clock
	store    storage.Store
	merger   *repair.Merger
	puller   *repair.Puller
	sessions *session.Tracker
	ops      *oplog.Log
	metrics  *metrics.Metrics

	fetcher   repair.Fetcher
	dialOpts  []grpc.DialOption
	clientMgr *ClientManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
}

// NewNode creates a node from cfg. The config is assumed to be validated.
func NewNode(cfg config.Config, opts ...Option) *Node {
	n := &Node{
		cfg:    cfg,
		nodeID: cfg.NodeID,
		clock:  clock.System{},
		store:  storage.NewInMemoryStore(),
		ops:    oplog.New(),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.clientMgr = NewClientManager(n.dialOpts...)
	if n.fetcher == nil {
		switch cfg.Transport {
		case config.TransportGRPC:
			n.fetcher = NewGRPCFetcher(n.clientMgr)
		default:
			n.fetcher = NewHTTPFetcher(nil)
		}
	}

	n.metrics = metrics.New(n.nodeID, n.store.Len)
	n.merger = repair.NewMerger(n.store)
	n.puller = repair.NewPuller(n.nodeID, cfg.PeerAddrs(), n.fetcher, n.merger, cfg.FetchTimeout)
	n.puller.SetParallelism(cfg.SyncParallelism)
	n.puller.SetObserver(n.metrics)
	n.sessions = session.NewTracker(n.nodeID, n.store, n.puller, cfg.RetryBound)

	return n
}

// ID returns the node id.
func (n *Node) ID() string {
	return n.nodeID
}

// Name returns the display name, falling back to the id.
func (n *Node) Name() string {
	if n.cfg.Name != "" {
		return n.cfg.Name
	}
	return n.nodeID
}

// Read serves a session read of key. A missing key is a valid result.
func (n *Node) Read(sessionID, key string) ReadResult {
	sessionID = normalizeSession(sessionID)

	g := n.sessions.GuaranteeRead(sessionID, key)
	rec, found := n.store.Get(key)
	if found {
		n.sessions.Observe(sessionID, key, rec.Version)
	}

	n.ops.Append(oplog.Entry{
		Type:      oplog.Read,
		Key:       key,
		Version:   rec.Version,
		Timestamp: n.clock.Now(),
		SessionID: sessionID,
	})
	n.metrics.Operation(string(oplog.Read), !g.Satisfied)

	log.Printf("[%s] [%s] READ %s -> v%d found=%t", n.nodeID, sessionID, key, rec.Version, found)
	return ReadResult{Record: rec, Found: found, Guarantee: g}
}

// Write serves a session write of key. The new record gets the next
// version, the current time and this node as origin. An existing record
// without a version counts as version 1, as ExportAll reports it.
func (n *Node) Write(sessionID, key string, product storage.Product) WriteResult {
	sessionID = normalizeSession(sessionID)

	g := n.sessions.GuaranteeWrite(sessionID, key)
	rec, _ := n.store.Apply(key, func(local storage.Record, ok bool) (storage.Record, bool) {
		return storage.Record{
			Product:   product,
			Version:   exportedVersion(local, ok) + 1,
			UpdatedAt: n.clock.Now(),
			Origin:    n.nodeID,
		}, true
	})
	n.sessions.Observe(sessionID, key, rec.Version)

	n.ops.Append(oplog.Entry{
		Type:      oplog.Write,
		Key:       key,
		Value:     &rec,
		Version:   rec.Version,
		Timestamp: rec.UpdatedAt,
		SessionID: sessionID,
	})
	n.metrics.Operation(string(oplog.Write), !g.Satisfied)

	log.Printf("[%s] [%s] WRITE %s -> v%d", n.nodeID, sessionID, key, rec.Version)
	return WriteResult{Record: rec, Guarantee: g}
}

// ExportAll returns a point-in-time copy of the replica. Records without
// a version are reported as version 1.
func (n *Node) ExportAll() map[string]storage.Record {
	snap := n.store.Snapshot()
	for k, rec := range snap {
		if rec.Version == 0 {
			rec.Version = 1
			snap[k] = rec
		}
	}
	return snap
}

// Keys lists the keys of the local replica in sorted order.
func (n *Node) Keys() []string {
	return n.store.Keys()
}

func exportedVersion(rec storage.Record, ok bool) uint64 {
	if ok && rec.Version == 0 {
		return 1
	}
	return rec.Version
}

// ExportOps returns the operation log in insertion order.
func (n *Node) ExportOps() []oplog.Entry {
	return n.ops.Snapshot()
}

// Sync runs one anti-entropy sweep over all peers.
func (n *Node) Sync() repair.SweepResult {
	return n.puller.PullAll()
}

// Merge applies a remote record to the local replica.
func (n *Node) Merge(key string, rec storage.Record) bool {
	return n.merger.Merge(key, rec)
}

// Token returns a copy of a session's token.
func (n *Node) Token(sessionID string) (session.Token, bool) {
	return n.sessions.Token(normalizeSession(sessionID))
}

// Sessions lists the known session ids.
func (n *Node) Sessions() []string {
	return n.sessions.Sessions()
}

// Start begins listening on the configured HTTP (and optional gRPC)
// addresses and starts the background anti-entropy loop. It returns once
// the listeners are open.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.HTTPAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", n.cfg.HTTPAddr)
	}

	var glis net.Listener
	if n.cfg.GRPCAddr != "" {
		glis, err = net.Listen("tcp", n.cfg.GRPCAddr)
		if err != nil {
			_ = lis.Close()
			return errors.Wrapf(err, "failed to listen on %s", n.cfg.GRPCAddr)
		}
	}

	n.Serve(lis, glis)
	return nil
}

// Serve serves the HTTP API on lis and, when glis is non-nil, the replica
// gRPC service on glis. Both run in the background.
func (n *Node) Serve(lis, glis net.Listener) {
	n.httpListener = lis
	n.httpServer = &http.Server{
		Handler:           NewHTTPHandler(n),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if glis != nil {
		n.grpcListener = glis
		n.grpcServer = grpc.NewServer()
		RegisterReplicaServer(n.grpcServer, NewReplicaServer(n))

		healthServer := health.NewServer()
		healthServer.SetServingStatus(replicaServiceName, healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(n.grpcServer, healthServer)

		// Enable gRPC reflection for grpcurl
		reflection.Register(n.grpcServer)

		go func() {
			log.Printf("[%s] Serving replica gRPC on %s", n.nodeID, glis.Addr())
			if err := n.grpcServer.Serve(glis); err != nil {
				log.Printf("[%s] gRPC server stopped: %v", n.nodeID, err)
			}
		}()
	}

	go func() {
		log.Printf("[%s] Starting node %q on %s with peers %v", n.nodeID, n.Name(), lis.Addr(), n.puller.Peers())
		if err := n.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[%s] HTTP server stopped: %v", n.nodeID, err)
		}
	}()

	n.puller.Start(n.cfg.SyncInterval)
}

// HTTPAddr returns the bound HTTP address once started.
func (n *Node) HTTPAddr() string {
	if n.httpListener == nil {
		return n.cfg.HTTPAddr
	}
	return n.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address once started.
func (n *Node) GRPCAddr() string {
	if n.grpcListener == nil {
		return n.cfg.GRPCAddr
	}
	return n.grpcListener.Addr().String()
}

// Stop gracefully stops the node.
func (n *Node) Stop(ctx context.Context) error {
	log.Printf("[%s] Stopping node", n.nodeID)
	n.puller.Stop()

	var err error
	if n.httpServer != nil {
		err = n.httpServer.Shutdown(ctx)
	}
	if n.grpcServer != nil {
		n.grpcServer.GracefulStop()
	}
	n.clientMgr.Close()
	return err
}

func normalizeSession(sessionID string) string {
	if sessionID == "" {
		return AnonymousSession
	}
	return sessionID
}
