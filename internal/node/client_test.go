package node

import (
	"context"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"catalogkv/internal/config"
	"catalogkv/internal/repair"
	"catalogkv/internal/storage"
)

func sampleRecord() storage.Record {
	return storage.Record{
		Product: storage.Product{
			Name:     "widget",
			Stock:    7,
			Price:    3.25,
			Location: "rosario",
			Extra:    map[string]string{"color": "green"},
		},
		Version:   4,
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC),
		Origin:    "n2",
	}
}

func TestHTTPFetcher_FetchSnapshot(t *testing.T) {
	n, srv := newTestServer(t)
	n.store.Put("K1", sampleRecord())

	f := NewHTTPFetcher(nil)
	snap, err := f.FetchSnapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if diff := cmp.Diff(sampleRecord(), snap["K1"]); diff != "" {
		t.Errorf("Record changed over HTTP (-want +got):\n%s", diff)
	}
}

func TestHTTPFetcher_LegacyPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"P1":{"name":"mate","stock":2,"price":1.5,"location":"x","last_updated":1714564800.5,"version":2}}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPFetcher(nil).FetchSnapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	rec := snap["P1"]
	if rec.Version != 2 || rec.Stock != 2 {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if want := time.Unix(1714564800, 500000000); !rec.UpdatedAt.Equal(want) {
		t.Errorf("Expected timestamp %v, got %v", want, rec.UpdatedAt)
	}
}

func TestHTTPFetcher_MissingVersionDecodesAsOne(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"P1":{"name":"mate","stock":2,"price":1.5,"location":"x","last_updated":1714564800}}`))
	}))
	defer srv.Close()

	snap, err := NewHTTPFetcher(nil).FetchSnapshot(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchSnapshot failed: %v", err)
	}
	if snap["P1"].Version != 1 {
		t.Errorf("Expected version 1, got %d", snap["P1"].Version)
	}
}

func TestHTTPFetcher_Failures(t *testing.T) {
	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"P1":{"stock":"many"}}`))
	}))
	defer malformed.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	f := NewHTTPFetcher(nil)
	for _, peer := range []string{malformed.URL, broken.URL, closedURL} {
		_, err := f.FetchSnapshot(context.Background(), peer)
		if err == nil {
			t.Errorf("%s: expected error", peer)
			continue
		}
		if !errors.Is(err, repair.ErrPeerUnreachable) {
			t.Errorf("%s: expected peer unreachable, got %v", peer, err)
		}
	}
}

func TestPeerURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:5001":         "http://127.0.0.1:5001",
		"http://127.0.0.1:5002/": "http://127.0.0.1:5002",
		"https://node3":          "https://node3",
	}
	for in, want := range tests {
		if got := peerURL(in); got != want {
			t.Errorf("peerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGRPCFetcher_FetchSnapshot(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()

	cfg := config.Default()
	cfg.NodeID = "n2"
	peer := NewNode(cfg, WithFetcher(newDirectFetcher()))
	peer.store.Put("K1", sampleRecord())
	RegisterReplicaServer(server, NewReplicaServer(peer))

	go func() { _ = server.Serve(lis) }()
	defer server.Stop()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	clientCfg := config.Default()
	clientCfg.NodeID = "n1"
	clientCfg.Transport = config.TransportGRPC
	clientCfg.Peers = []config.Peer{{ID: "n2", Addr: "passthrough:///bufnet"}}
	n := NewNode(clientCfg, WithDialOptions(dialer))
	defer n.clientMgr.Close()

	result := n.Sync()
	if result.Merged != 1 || len(result.Failed) != 0 {
		t.Fatalf("Expected one merge over gRPC, got %+v", result)
	}
	got, ok := n.store.Get("K1")
	if !ok {
		t.Fatal("Expected K1 after gRPC sync")
	}
	if diff := cmp.Diff(sampleRecord(), got); diff != "" {
		t.Errorf("Record changed over gRPC (-want +got):\n%s", diff)
	}
}

func TestProtoToRecord_RejectsWrongKinds(t *testing.T) {
	pb, err := structpb.NewStruct(map[string]any{"version": "three"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := protoToRecord(pb); err == nil {
		t.Error("Expected error for string version")
	}

	snap := &structpb.Struct{Fields: map[string]*structpb.Value{
		"K1": structpb.NewStringValue("not a record"),
	}}
	if _, err := protoToSnapshot(snap); err == nil {
		t.Error("Expected error for non-object entry")
	}
}

func TestProtoToRecord_RejectsMalformedNumbers(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value float64
	}{
		{"fractional version", "version", 2.7},
		{"NaN version", "version", math.NaN()},
		{"infinite version", "version", math.Inf(1)},
		{"huge version", "version", 1e30},
		{"negative version", "version", -1},
		{"version beyond exact range", "version", 1<<53 + 2},
		{"fractional stock", "stock", 1.5},
		{"infinite stock", "stock", math.Inf(-1)},
		{"stock out of range", "stock", 1e19},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := recordToProto(sampleRecord())
			pb.Fields[tt.field] = structpb.NewNumberValue(tt.value)
			if rec, err := protoToRecord(pb); err == nil {
				t.Errorf("Expected error for %s=%v, got %+v", tt.field, tt.value, rec)
			}
		})
	}
}

func TestProtoToRecord_MissingVersionDecodesAsOne(t *testing.T) {
	pb := recordToProto(sampleRecord())
	delete(pb.Fields, "version")

	rec, err := protoToRecord(pb)
	if err != nil {
		t.Fatalf("protoToRecord failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("Expected version 1, got %d", rec.Version)
	}
	if rec.Stock != 7 {
		t.Errorf("Expected stock 7, got %d", rec.Stock)
	}
}
