package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"catalogkv/internal/repair"
	"catalogkv/internal/storage"
)

// maxSnapshotBytes caps how much of a peer's /api response is read.
const maxSnapshotBytes = 64 << 20

// ClientManager manages gRPC connections to peer nodes.
type ClientManager struct {
	mu       sync.RWMutex
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

// NewClientManager creates a new client manager. Extra dial options are
// appended after the default insecure credentials.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	return &ClientManager{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: append(dialOpts, opts...),
	}
}

// GetConn returns a gRPC connection for the given node address.
// Creates a new connection if one doesn't exist.
func (cm *ClientManager) GetConn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr, cm.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create client for %s", addr)
	}
	cm.conns[addr] = conn
	return conn, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for addr, conn := range cm.conns {
		_ = conn.Close()
		delete(cm.conns, addr)
	}
}

// GRPCFetcher fetches peer snapshots over the catalog.v1.Replica service.
type GRPCFetcher struct {
	clientMgr *ClientManager
}

// NewGRPCFetcher creates a fetcher using clientMgr for connections.
func NewGRPCFetcher(clientMgr *ClientManager) *GRPCFetcher {
	return &GRPCFetcher{clientMgr: clientMgr}
}

// FetchSnapshot calls Snapshot on the peer at addr.
func (f *GRPCFetcher) FetchSnapshot(ctx context.Context, addr string) (map[string]storage.Record, error) {
	conn, err := f.clientMgr.GetConn(addr)
	if err != nil {
		return nil, errors.Mark(err, repair.ErrPeerUnreachable)
	}

	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, replicaSnapshotMethod, &emptypb.Empty{}, out); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "snapshot rpc"), repair.ErrPeerUnreachable)
	}

	snap, err := protoToSnapshot(out)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "malformed snapshot"), repair.ErrPeerUnreachable)
	}
	return snap, nil
}

// HTTPFetcher fetches peer snapshots from their /api route.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher. A nil client means http.DefaultClient;
// the per-fetch deadline comes from the context.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// FetchSnapshot GETs <peer>/api and decodes the snapshot.
func (f *HTTPFetcher) FetchSnapshot(ctx context.Context, peer string) (map[string]storage.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerURL(peer)+"/api", nil)
	if err != nil {
		return nil, errors.Mark(err, repair.ErrPeerUnreachable)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Mark(err, repair.ErrPeerUnreachable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Mark(errors.Newf("unexpected status %s", resp.Status), repair.ErrPeerUnreachable)
	}

	var body map[string]wireRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSnapshotBytes)).Decode(&body); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "malformed snapshot"), repair.ErrPeerUnreachable)
	}
	snap, err := wireToSnapshot(body)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "malformed snapshot"), repair.ErrPeerUnreachable)
	}
	return snap, nil
}

// peerURL turns "host:port" into "http://host:port"; full URLs are kept.
func peerURL(peer string) string {
	peer = strings.TrimRight(peer, "/")
	if strings.HasPrefix(peer, "http://") || strings.HasPrefix(peer, "https://") {
		return peer
	}
	return "http://" + peer
}
