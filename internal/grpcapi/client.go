package grpcapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// JoinCluster dials leaderAddr and invokes the leader's JoinCluster RPC,
// the client-side half of manager.go's client.JoinCluster(nodeID, bindAddr,
// token) — a plain grpc.ClientConn.Invoke since there's no generated stub
// for this hand-built service.
func JoinCluster(ctx context.Context, leaderAddr string, req JoinClusterRequest) error {
	conn, err := grpc.NewClient(leaderAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return fmt.Errorf("grpcapi: dial leader %s: %w", leaderAddr, err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resp JoinClusterResponse
	if err := conn.Invoke(callCtx, "/"+serviceName+"/JoinCluster", &req, &resp); err != nil {
		return fmt.Errorf("grpcapi: JoinCluster to %s: %w", leaderAddr, err)
	}
	return nil
}
