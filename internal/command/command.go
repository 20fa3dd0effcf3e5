// Package command defines the stable command surface spec §6 describes as
// "consumed by transports; wire shape is the transport's problem": plain
// Go request/response types and a Dispatcher interface implemented by
// internal/dispatch.Service. internal/grpcapi (and any future transport)
// only ever calls through this interface.
package command

import (
	"context"
	"time"

	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/types"
)

// Auth carries the optional bearer token every command may present, per
// spec §6: "Each command carries an optional bearer token; the ingress
// validates the token via §4.E and stamps the transaction with the
// resolved requester before proposal."
type Auth struct {
	BearerToken string
}

// SetBearerToken lets a transport stamp the resolved bearer token onto any
// request type without a type switch over all 22 of them — every request
// embeds Auth by value, so the pointer-receiver method promotes through.
func (a *Auth) SetBearerToken(tok string) { a.BearerToken = tok }

// --- Reads ---

// GetResourceRequest resolves any resource/realm/group/user/etc. node by
// its stable ID; GetProject/GetGroup/GetRealm/GetUser below are typed
// conveniences over the same read path that also check the node's kind.
type GetResourceRequest struct {
	Auth
	ID types.ID
}

// GetRelationsRequest returns the edges touching a node, separated by
// direction so a caller doesn't have to infer belongs_to vs. permission
// semantics from a combined list.
type GetRelationsRequest struct {
	Auth
	ID types.ID
}

type RelationsResponse struct {
	Out []types.Edge
	In  []types.Edge
}

// GetEventsRequest implements spec §6's GetEvents(subscriber, ack_from?).
type GetEventsRequest struct {
	Auth
	Subscriber types.ID
	AckFrom    *uint64
}

type EventsResponse struct {
	Events []EventRecord
}

type EventRecord struct {
	EventID uint64
	Failed  bool
	TxBytes []byte
}

// SearchRequest implements spec §6's Search(query, filter?, offset?, limit?).
type SearchRequest struct {
	Auth
	Query   string
	Filters []search.Filter
	Offset  int
	Limit   int
}

type SearchResponse struct {
	ExpectedHits int
	IDs          []types.ID
}

type StatsResponse struct {
	NodeCounts map[string]int
	IsLeader   bool
	LeaderAddr string
	RaftPeers  int
	LastEvent  uint64
}

type GetEndpointRequest struct {
	Auth
	NameOrID string
}

// Reader is the read half of the command surface; every call runs directly
// against F (authorization) then C/D (graph/search), never through
// consensus, per spec §2's data-flow description.
type Reader interface {
	GetResource(ctx context.Context, req GetResourceRequest) (*types.Node, error)
	GetProject(ctx context.Context, req GetResourceRequest) (*types.Node, error)
	GetGroup(ctx context.Context, req GetResourceRequest) (*types.Node, error)
	GetRealm(ctx context.Context, req GetResourceRequest) (*types.Node, error)
	GetUser(ctx context.Context, req GetResourceRequest) (*types.Node, error)
	GetRelations(ctx context.Context, req GetRelationsRequest) (RelationsResponse, error)
	GetEvents(ctx context.Context, req GetEventsRequest) (EventsResponse, error)
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
	GetStats(ctx context.Context, auth Auth) (StatsResponse, error)
	GetEndpointByNameOrID(ctx context.Context, req GetEndpointRequest) (*types.Node, error)
}

// --- Writes ---

type CreateProjectRequest struct {
	Auth
	Name        string
	Description string
	Public      bool
}

type CreateResourceRequest struct {
	Auth
	Parent      types.ID
	Kind        types.NodeKind // Collection, Dataset, or Object
	Name        string
	Description string
	Tags        []string
	Public      bool
}

type CreateResourceBatchRequest struct {
	Auth
	Resources []CreateResourceRequest
}

type UpdateResourceNameRequest struct {
	Auth
	ID   types.ID
	Name string
}

type UpdateResourceTitleRequest struct {
	Auth
	ID    types.ID
	Title string
}

type CreateRealmRequest struct {
	Auth
	Name   string
	Public bool
}

type CreateGroupRequest struct {
	Auth
	Name        string
	Description string
}

type AddGroupToRealmRequest struct {
	Auth
	Group types.ID
	Realm types.ID
}

type RegisterUserRequest struct {
	Auth
	DisplayName     string
	Email           string
	ExternalSubject string
}

type CreateTokenRequest struct {
	Auth
	User      types.ID
	Scope     types.ID
	Level     types.PermissionLevel
	ExpiresAt time.Time // zero means spec §4.E's 10-year default
}

type CreateTokenResponse struct {
	TokenID   types.ID
	AccessKey string
	JWT       string
}

type CreateRelationRequest struct {
	Auth
	From  types.ID
	To    types.ID
	Kind  types.EdgeKind
	Level types.PermissionLevel
	Name  string // meaningful only for EdgeNamedRelation
}

type CreateRelationVariantRequest struct {
	Auth
	Name string
}

type CreateComponentRequest struct {
	Auth
	Name       string
	Variant    types.EndpointVariant
	HostConfig string
	Public     bool
	PublicKey  string // PEM, registered alongside the endpoint
}

type AddComponentToRealmRequest struct {
	Auth
	Component types.ID
	Realm     types.ID
}

type RegisterDataRequest struct {
	Auth
	Parent      types.ID
	Name        string
	ContentHash string
	ContentLen  uint64
	Location    string
}

type CreateRuleRequest struct {
	Auth
	Project types.ID
	Source  string
}

type AddRuleBindingRequest struct {
	Auth
	Rule    types.ID
	Project types.ID
}

// Writer is the write half of the command surface; every call wraps its
// request as a transaction and proposes it through consensus (§4.H),
// returning once the local replica has applied and committed it.
type Writer interface {
	CreateProject(ctx context.Context, req CreateProjectRequest) (types.ID, error)
	CreateResource(ctx context.Context, req CreateResourceRequest) (types.ID, error)
	CreateResourceBatch(ctx context.Context, req CreateResourceBatchRequest) ([]types.ID, error)
	UpdateResourceName(ctx context.Context, req UpdateResourceNameRequest) error
	UpdateResourceTitle(ctx context.Context, req UpdateResourceTitleRequest) error
	CreateRealm(ctx context.Context, req CreateRealmRequest) (types.ID, error)
	CreateGroup(ctx context.Context, req CreateGroupRequest) (types.ID, error)
	AddGroupToRealm(ctx context.Context, req AddGroupToRealmRequest) error
	RegisterUser(ctx context.Context, req RegisterUserRequest) (types.ID, error)
	CreateToken(ctx context.Context, req CreateTokenRequest) (CreateTokenResponse, error)
	CreateRelation(ctx context.Context, req CreateRelationRequest) error
	CreateRelationVariant(ctx context.Context, req CreateRelationVariantRequest) error
	CreateComponent(ctx context.Context, req CreateComponentRequest) (types.ID, error)
	AddComponentToRealm(ctx context.Context, req AddComponentToRealmRequest) error
	RegisterData(ctx context.Context, req RegisterDataRequest) (types.ID, error)
	CreateRule(ctx context.Context, req CreateRuleRequest) (types.ID, error)
	AddRuleBinding(ctx context.Context, req AddRuleBindingRequest) error
}

// Dispatcher is the full command surface a transport calls into.
type Dispatcher interface {
	Reader
	Writer
}
