package node

import (
	"context"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	replicaServiceName    = "catalog.v1.Replica"
	replicaSnapshotMethod = "/" + replicaServiceName + "/Snapshot"
)

// ReplicaServiceServer is the server API for the catalog.v1.Replica service.
// Snapshots travel as a google.protobuf.Struct keyed by record key, so the
// service needs no generated message types.
type ReplicaServiceServer interface {
	Snapshot(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterReplicaServer registers srv on s.
func RegisterReplicaServer(s grpc.ServiceRegistrar, srv ReplicaServiceServer) {
	s.RegisterService(&replicaServiceDesc, srv)
}

func replicaSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicaServiceServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: replicaSnapshotMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicaServiceServer).Snapshot(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var replicaServiceDesc = grpc.ServiceDesc{
	ServiceName: replicaServiceName,
	HandlerType: (*ReplicaServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Snapshot",
			Handler:    replicaSnapshotHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/v1/replica.proto",
}

// ReplicaServer serves this node's full snapshot to peers.
type ReplicaServer struct {
	node *Node
}

// NewReplicaServer creates a replica server for n.
func NewReplicaServer(n *Node) *ReplicaServer {
	return &ReplicaServer{node: n}
}

// Snapshot handles Snapshot requests from peers running anti-entropy.
func (s *ReplicaServer) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	snap := s.node.ExportAll()
	log.Printf("[%s] Snapshot request: %d keys", s.node.nodeID, len(snap))
	return snapshotToProto(snap), nil
}
