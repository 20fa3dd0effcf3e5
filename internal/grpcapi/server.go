package grpcapi

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/strata/internal/command"
	"github.com/cuemby/strata/internal/consensus"
	"github.com/cuemby/strata/internal/log"
	"github.com/cuemby/strata/internal/metrics"
	"github.com/cuemby/strata/internal/types"
)

const serviceName = "strata.Dispatcher"

// Server exposes an internal/command.Dispatcher over gRPC. One Server runs
// per node (cmd/strata), wrapping whatever Dispatcher implementation is
// wired in (internal/dispatch.Service in production, a fake in tests).
// transport and joinToken back the cluster-membership JoinCluster method
// only; they're nil/empty in tests that never call it.
type Server struct {
	dispatcher command.Dispatcher
	transport  *consensus.Transport
	joinToken  string
	grpc       *grpc.Server
}

// NewServer builds the gRPC server, grounded on cuemby-warren's
// pkg/api.NewServer: mTLS when tlsConfig is non-nil (RequestClientCert, the
// same posture server.go uses so unauthenticated dial attempts can still
// reach methods that don't require a client cert), plain TCP otherwise —
// tokens, not client certs, carry the principal in this spec (§4.E), so
// mTLS here is optional transport hardening rather than the auth mechanism
// itself. transport and joinToken wire JoinCluster, the one RPC outside the
// command surface (cluster membership isn't a resource-registry operation
// per spec §1's scope); pass a nil transport to disable it.
func NewServer(dispatcher command.Dispatcher, transport *consensus.Transport, joinToken string, tlsConfig *tls.Config) *Server {
	opts := []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(observabilityInterceptor()),
	}
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	grpcServer := grpc.NewServer(opts...)
	s := &Server{dispatcher: dispatcher, transport: transport, joinToken: joinToken, grpc: grpcServer}
	grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Start listens on addr and serves until the server is stopped or the
// listener fails, mirroring server.go's Start(addr).
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpcapi: listen %s: %w", addr, err)
	}
	log.WithComponent("grpcapi").Info().Str("addr", addr).Msg("listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully shuts the server down, waiting for in-flight RPCs.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

// observabilityInterceptor records per-method request counts/durations and
// logs failures, the gRPC-side counterpart to interceptor.go's method-based
// gating — here there's nothing to gate (every command already declares its
// own required authz contexts down in internal/dispatch), so this
// interceptor only observes.
func observabilityInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		name := methodName(info.FullMethod)
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			log.WithComponent("grpcapi").Debug().Err(err).Str("method", name).Msg("request failed")
		}
		metrics.APIRequestsTotal.WithLabelValues(name, outcome).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, name)
		return resp, err
	}
}

func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// method builds one grpc.MethodDesc from a typed (*Server, context.Context,
// *Req) -> (Resp, error) call, so the 28-entry service table below reads
// like a plain list rather than 28 copies of grpc-go's decode/interceptor
// boilerplate. This is the one place generics stand in for what a .proto
// codegen step would otherwise emit by hand per method.
func method[Req any, Resp any](name string, call func(s *Server, ctx context.Context, req *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, wrapped)
		},
	}
}

// emptyResponse marshals to "{}", the wire response for every write command
// whose Writer method returns only an error.
type emptyResponse struct{}

// resolveAuth lets an incoming gRPC metadata bearer token override whatever
// the request body carried, the same precedence a reverse proxy terminating
// TLS and forwarding a header would expect.
func (s *Server) resolveAuth(ctx context.Context, auth *command.Auth) {
	if tok := bearerTokenFromContext(ctx); tok != "" {
		auth.BearerToken = tok
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		method("GetResource", (*Server).getResource),
		method("GetProject", (*Server).getProject),
		method("GetGroup", (*Server).getGroup),
		method("GetRealm", (*Server).getRealm),
		method("GetUser", (*Server).getUser),
		method("GetRelations", (*Server).getRelations),
		method("GetEvents", (*Server).getEvents),
		method("Search", (*Server).search),
		method("GetStats", (*Server).getStats),
		method("GetEndpointByNameOrID", (*Server).getEndpointByNameOrID),

		method("CreateProject", (*Server).createProject),
		method("CreateResource", (*Server).createResource),
		method("CreateResourceBatch", (*Server).createResourceBatch),
		method("UpdateResourceName", (*Server).updateResourceName),
		method("UpdateResourceTitle", (*Server).updateResourceTitle),
		method("CreateRealm", (*Server).createRealm),
		method("CreateGroup", (*Server).createGroup),
		method("AddGroupToRealm", (*Server).addGroupToRealm),
		method("RegisterUser", (*Server).registerUser),
		method("CreateToken", (*Server).createToken),
		method("CreateRelation", (*Server).createRelation),
		method("CreateRelationVariant", (*Server).createRelationVariant),
		method("CreateComponent", (*Server).createComponent),
		method("AddComponentToRealm", (*Server).addComponentToRealm),
		method("RegisterData", (*Server).registerData),
		method("CreateRule", (*Server).createRule),
		method("AddRuleBinding", (*Server).addRuleBinding),

		method("JoinCluster", (*Server).joinCluster),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/grpcapi/server.go",
}

// --- Reads ---

func (s *Server) getResource(ctx context.Context, req *command.GetResourceRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetResource(ctx, *req)
	return n, toStatus(err)
}

func (s *Server) getProject(ctx context.Context, req *command.GetResourceRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetProject(ctx, *req)
	return n, toStatus(err)
}

func (s *Server) getGroup(ctx context.Context, req *command.GetResourceRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetGroup(ctx, *req)
	return n, toStatus(err)
}

func (s *Server) getRealm(ctx context.Context, req *command.GetResourceRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetRealm(ctx, *req)
	return n, toStatus(err)
}

func (s *Server) getUser(ctx context.Context, req *command.GetResourceRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetUser(ctx, *req)
	return n, toStatus(err)
}

func (s *Server) getRelations(ctx context.Context, req *command.GetRelationsRequest) (command.RelationsResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	resp, err := s.dispatcher.GetRelations(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) getEvents(ctx context.Context, req *command.GetEventsRequest) (command.EventsResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	resp, err := s.dispatcher.GetEvents(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) search(ctx context.Context, req *command.SearchRequest) (command.SearchResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	resp, err := s.dispatcher.Search(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) getStats(ctx context.Context, auth *command.Auth) (command.StatsResponse, error) {
	s.resolveAuth(ctx, auth)
	resp, err := s.dispatcher.GetStats(ctx, *auth)
	return resp, toStatus(err)
}

func (s *Server) getEndpointByNameOrID(ctx context.Context, req *command.GetEndpointRequest) (*types.Node, error) {
	s.resolveAuth(ctx, &req.Auth)
	n, err := s.dispatcher.GetEndpointByNameOrID(ctx, *req)
	return n, toStatus(err)
}

// --- Writes ---

func (s *Server) createProject(ctx context.Context, req *command.CreateProjectRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateProject(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) createResource(ctx context.Context, req *command.CreateResourceRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateResource(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) createResourceBatch(ctx context.Context, req *command.CreateResourceBatchRequest) ([]types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	ids, err := s.dispatcher.CreateResourceBatch(ctx, *req)
	return ids, toStatus(err)
}

func (s *Server) updateResourceName(ctx context.Context, req *command.UpdateResourceNameRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.UpdateResourceName(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) updateResourceTitle(ctx context.Context, req *command.UpdateResourceTitleRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.UpdateResourceTitle(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) createRealm(ctx context.Context, req *command.CreateRealmRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateRealm(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) createGroup(ctx context.Context, req *command.CreateGroupRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateGroup(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) addGroupToRealm(ctx context.Context, req *command.AddGroupToRealmRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.AddGroupToRealm(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) registerUser(ctx context.Context, req *command.RegisterUserRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.RegisterUser(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) createToken(ctx context.Context, req *command.CreateTokenRequest) (command.CreateTokenResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	resp, err := s.dispatcher.CreateToken(ctx, *req)
	return resp, toStatus(err)
}

func (s *Server) createRelation(ctx context.Context, req *command.CreateRelationRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.CreateRelation(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) createRelationVariant(ctx context.Context, req *command.CreateRelationVariantRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.CreateRelationVariant(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) createComponent(ctx context.Context, req *command.CreateComponentRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateComponent(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) addComponentToRealm(ctx context.Context, req *command.AddComponentToRealmRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.AddComponentToRealm(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}

func (s *Server) registerData(ctx context.Context, req *command.RegisterDataRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.RegisterData(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) createRule(ctx context.Context, req *command.CreateRuleRequest) (types.ID, error) {
	s.resolveAuth(ctx, &req.Auth)
	id, err := s.dispatcher.CreateRule(ctx, *req)
	return id, toStatus(err)
}

func (s *Server) addRuleBinding(ctx context.Context, req *command.AddRuleBindingRequest) (*emptyResponse, error) {
	s.resolveAuth(ctx, &req.Auth)
	err := s.dispatcher.AddRuleBinding(ctx, *req)
	return &emptyResponse{}, toStatus(err)
}
