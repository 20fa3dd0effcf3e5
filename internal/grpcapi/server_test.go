package grpcapi

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/command"
	"github.com/cuemby/strata/internal/types"
)

// stubDispatcher implements command.Dispatcher, recording the last request
// it saw and returning whatever's configured — enough to exercise the
// decode/auth-stamp/error-map path in server.go without a real registry or
// a listening socket, the same direct-call style scenario_test.go uses for
// internal/dispatch.
type stubDispatcher struct {
	lastAuth command.Auth
	err      error
	node     *types.Node
}

func (s *stubDispatcher) GetResource(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	s.lastAuth = req.Auth
	return s.node, s.err
}
func (s *stubDispatcher) GetProject(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.GetResource(ctx, req)
}
func (s *stubDispatcher) GetGroup(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.GetResource(ctx, req)
}
func (s *stubDispatcher) GetRealm(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.GetResource(ctx, req)
}
func (s *stubDispatcher) GetUser(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.GetResource(ctx, req)
}
func (s *stubDispatcher) GetRelations(ctx context.Context, req command.GetRelationsRequest) (command.RelationsResponse, error) {
	s.lastAuth = req.Auth
	return command.RelationsResponse{}, s.err
}
func (s *stubDispatcher) GetEvents(ctx context.Context, req command.GetEventsRequest) (command.EventsResponse, error) {
	s.lastAuth = req.Auth
	return command.EventsResponse{}, s.err
}
func (s *stubDispatcher) Search(ctx context.Context, req command.SearchRequest) (command.SearchResponse, error) {
	s.lastAuth = req.Auth
	return command.SearchResponse{}, s.err
}
func (s *stubDispatcher) GetStats(ctx context.Context, auth command.Auth) (command.StatsResponse, error) {
	s.lastAuth = auth
	return command.StatsResponse{}, s.err
}
func (s *stubDispatcher) GetEndpointByNameOrID(ctx context.Context, req command.GetEndpointRequest) (*types.Node, error) {
	s.lastAuth = req.Auth
	return s.node, s.err
}
func (s *stubDispatcher) CreateProject(ctx context.Context, req command.CreateProjectRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) CreateResource(ctx context.Context, req command.CreateResourceRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) CreateResourceBatch(ctx context.Context, req command.CreateResourceBatchRequest) ([]types.ID, error) {
	s.lastAuth = req.Auth
	return nil, s.err
}
func (s *stubDispatcher) UpdateResourceName(ctx context.Context, req command.UpdateResourceNameRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) UpdateResourceTitle(ctx context.Context, req command.UpdateResourceTitleRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) CreateRealm(ctx context.Context, req command.CreateRealmRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) CreateGroup(ctx context.Context, req command.CreateGroupRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) AddGroupToRealm(ctx context.Context, req command.AddGroupToRealmRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) RegisterUser(ctx context.Context, req command.RegisterUserRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) CreateToken(ctx context.Context, req command.CreateTokenRequest) (command.CreateTokenResponse, error) {
	s.lastAuth = req.Auth
	return command.CreateTokenResponse{}, s.err
}
func (s *stubDispatcher) CreateRelation(ctx context.Context, req command.CreateRelationRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) CreateRelationVariant(ctx context.Context, req command.CreateRelationVariantRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) CreateComponent(ctx context.Context, req command.CreateComponentRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) AddComponentToRealm(ctx context.Context, req command.AddComponentToRealmRequest) error {
	s.lastAuth = req.Auth
	return s.err
}
func (s *stubDispatcher) RegisterData(ctx context.Context, req command.RegisterDataRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) CreateRule(ctx context.Context, req command.CreateRuleRequest) (types.ID, error) {
	s.lastAuth = req.Auth
	return types.ID{}, s.err
}
func (s *stubDispatcher) AddRuleBinding(ctx context.Context, req command.AddRuleBindingRequest) error {
	s.lastAuth = req.Auth
	return s.err
}

var _ command.Dispatcher = (*stubDispatcher)(nil)

func findMethod(t *testing.T, name string) grpc.MethodDesc {
	t.Helper()
	for _, m := range serviceDesc.Methods {
		if m.MethodName == name {
			return m
		}
	}
	t.Fatalf("no method named %q in serviceDesc", name)
	return grpc.MethodDesc{}
}

func decodeFrom(body []byte) func(interface{}) error {
	return func(v interface{}) error { return json.Unmarshal(body, v) }
}

func TestServerGetResourceStampsMetadataBearerToken(t *testing.T) {
	stub := &stubDispatcher{node: &types.Node{Kind: types.KindProject}}
	srv := &Server{dispatcher: stub}

	req := command.GetResourceRequest{Auth: command.Auth{BearerToken: "body-token"}}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	md := metadata.New(map[string]string{"authorization": "Bearer header-token"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	m := findMethod(t, "GetResource")
	resp, err := m.Handler(srv, ctx, decodeFrom(body), nil)
	require.NoError(t, err)
	require.Equal(t, stub.node, resp)
	require.Equal(t, "header-token", stub.lastAuth.BearerToken)
}

func TestServerGetResourceFallsBackToBodyToken(t *testing.T) {
	stub := &stubDispatcher{node: &types.Node{Kind: types.KindProject}}
	srv := &Server{dispatcher: stub}

	req := command.GetResourceRequest{Auth: command.Auth{BearerToken: "body-token"}}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	m := findMethod(t, "GetResource")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.NoError(t, err)
	require.Equal(t, "body-token", stub.lastAuth.BearerToken)
}

func TestServerMapsApierrKindToGRPCCode(t *testing.T) {
	stub := &stubDispatcher{err: apierr.NotFound("no such project")}
	srv := &Server{dispatcher: stub}

	body, err := json.Marshal(command.GetResourceRequest{})
	require.NoError(t, err)

	m := findMethod(t, "GetResource")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
}

func TestServerVoidWritesReturnEmptyResponse(t *testing.T) {
	stub := &stubDispatcher{}
	srv := &Server{dispatcher: stub}

	body, err := json.Marshal(command.AddRuleBindingRequest{Rule: types.ID{}, Project: types.ID{}})
	require.NoError(t, err)

	m := findMethod(t, "AddRuleBinding")
	resp, err := m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.NoError(t, err)
	require.IsType(t, &emptyResponse{}, resp)
}

func TestServerInterceptorIsInvoked(t *testing.T) {
	stub := &stubDispatcher{node: &types.Node{Kind: types.KindProject}}
	srv := &Server{dispatcher: stub}

	body, err := json.Marshal(command.GetResourceRequest{})
	require.NoError(t, err)

	var sawFullMethod string
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		sawFullMethod = info.FullMethod
		return handler(ctx, req)
	}

	m := findMethod(t, "GetResource")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), interceptor)
	require.NoError(t, err)
	require.Equal(t, "/"+serviceName+"/GetResource", sawFullMethod)
}

func TestToStatusNilIsNil(t *testing.T) {
	require.NoError(t, toStatus(nil))
}

func TestBearerTokenFromContextStripsPrefix(t *testing.T) {
	md := metadata.New(map[string]string{"authorization": "Bearer abc123"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	require.Equal(t, "abc123", bearerTokenFromContext(ctx))
}

func TestBearerTokenFromContextNoMetadata(t *testing.T) {
	require.Equal(t, "", bearerTokenFromContext(context.Background()))
}

func TestCreateTokenRequestRoundTrip(t *testing.T) {
	stub := &stubDispatcher{}
	srv := &Server{dispatcher: stub}

	req := command.CreateTokenRequest{
		User:      types.ID{1},
		Scope:     types.ID{2},
		Level:     types.LevelWrite,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	m := findMethod(t, "CreateToken")
	_, err = m.Handler(srv, context.Background(), decodeFrom(body), nil)
	require.NoError(t, err)
}
