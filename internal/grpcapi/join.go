package grpcapi

import (
	"context"
	"crypto/subtle"

	"github.com/cuemby/strata/internal/apierr"
)

// JoinClusterRequest is the one RPC outside the resource-registry command
// surface: a joining node asks the current leader to add it as a Raft
// voter, the same shape manager.go's client.JoinCluster(nodeID, bindAddr,
// token) sends over its own gRPC client.
type JoinClusterRequest struct {
	NodeID string
	Addr   string
	Token  string
}

type JoinClusterResponse struct{}

// joinCluster validates the presented join token (constant-time, since it's
// a shared secret) and adds the caller as a Raft voter through the already
// wired Transport. Token comparison, not per-node authz, is the gate here —
// cluster membership predates any principal existing to authorize against.
func (s *Server) joinCluster(ctx context.Context, req *JoinClusterRequest) (*JoinClusterResponse, error) {
	if s.transport == nil {
		return nil, toStatus(apierr.Unavailable("grpcapi: this node does not accept join requests"))
	}
	if s.joinToken == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.joinToken)) != 1 {
		return nil, toStatus(apierr.Unauthenticated("grpcapi: invalid join token"))
	}
	if err := s.transport.AddVoter(req.NodeID, req.Addr); err != nil {
		return nil, toStatus(err)
	}
	return &JoinClusterResponse{}, nil
}
