package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Peer
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  []Peer{},
		},
		{
			name:  "single peer",
			input: "n1=127.0.0.1:50051",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
			},
		},
		{
			name:  "multiple peers",
			input: "n1=127.0.0.1:50051,n2=127.0.0.1:50052,n3=127.0.0.1:50053",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
				{ID: "n3", Addr: "127.0.0.1:50053"},
			},
		},
		{
			name:  "with spaces",
			input: "n1 = 127.0.0.1:50051 , n2 = 127.0.0.1:50052",
			want: []Peer{
				{ID: "n1", Addr: "127.0.0.1:50051"},
				{ID: "n2", Addr: "127.0.0.1:50052"},
			},
		},
		{
			name:    "invalid format - no equals",
			input:   "n1:127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty ID",
			input:   "=127.0.0.1:50051",
			wantErr: true,
		},
		{
			name:    "invalid format - empty addr",
			input:   "n1=",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePeers(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePeers() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if len(got) != len(tt.want) {
					t.Errorf("ParsePeers() length = %d, want %d", len(got), len(tt.want))
					return
				}
				for i := range got {
					if got[i].ID != tt.want[i].ID || got[i].Addr != tt.want[i].Addr {
						t.Errorf("ParsePeers()[%d] = %v, want %v", i, got[i], tt.want[i])
					}
				}
			}
		})
	}
}

func TestConfig_PeerAddrs(t *testing.T) {
	cfg := &Config{
		NodeID:   "n1",
		HTTPAddr: "127.0.0.1:5001",
		Peers: []Peer{
			{ID: "n1", Addr: "127.0.0.1:5001"},
			{ID: "n3", Addr: "127.0.0.1:5003"},
			{ID: "n2", Addr: "127.0.0.1:5002"},
		},
	}

	addrs := cfg.PeerAddrs()
	if len(addrs) != 2 {
		t.Fatalf("Expected 2 peers, got %d", len(addrs))
	}
	// Configured order is preserved; self is dropped.
	if addrs[0] != "127.0.0.1:5003" || addrs[1] != "127.0.0.1:5002" {
		t.Errorf("Unexpected peer order: %v", addrs)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.NodeID = "n1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty node id", mutate: func(c *Config) { c.NodeID = "" }, wantErr: true},
		{name: "unknown transport", mutate: func(c *Config) { c.Transport = "udp" }, wantErr: true},
		{name: "grpc without address", mutate: func(c *Config) { c.Transport = TransportGRPC }, wantErr: true},
		{name: "grpc with address", mutate: func(c *Config) {
			c.Transport = TransportGRPC
			c.GRPCAddr = "127.0.0.1:6001"
		}},
		{name: "negative retry bound", mutate: func(c *Config) { c.RetryBound = -1 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.FetchTimeout = 0 }, wantErr: true},
		{name: "duplicate peer", mutate: func(c *Config) {
			c.Peers = []Peer{{ID: "n2", Addr: "a"}, {ID: "n2", Addr: "b"}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	data := `node_id: n2
name: NODE 2 - Cordoba
http_addr: 127.0.0.1:5002
fetch_timeout: 1500ms
sync_interval: 10s
peers:
  - id: n1
    addr: 127.0.0.1:5001
  - id: n3
    addr: 127.0.0.1:5003
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NodeID != "n2" || cfg.Name != "NODE 2 - Cordoba" {
		t.Errorf("Unexpected identity: %+v", cfg)
	}
	if cfg.FetchTimeout != 1500*time.Millisecond || cfg.SyncInterval != 10*time.Second {
		t.Errorf("Unexpected durations: timeout=%s interval=%s", cfg.FetchTimeout, cfg.SyncInterval)
	}
	// Unset fields keep their defaults.
	if cfg.RetryBound != 2 || cfg.Transport != TransportHTTP {
		t.Errorf("Expected defaults for retry bound and transport, got %d %q", cfg.RetryBound, cfg.Transport)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[1].ID != "n3" {
		t.Errorf("Unexpected peers: %v", cfg.Peers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
