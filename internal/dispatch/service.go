package dispatch

import (
	"context"
	"strconv"
	"strings"

	roaring "github.com/RoaringBitmap/roaring/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/authz"
	"github.com/cuemby/strata/internal/codec"
	"github.com/cuemby/strata/internal/command"
	"github.com/cuemby/strata/internal/consensus"
	"github.com/cuemby/strata/internal/eventlog"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/identity"
	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

// Service implements command.Dispatcher: reads run directly against the
// graph and search index under F's authorization kernel (spec §2's
// "reads never touch consensus"); writes are framed as dispatch envelopes
// and proposed through internal/consensus, returning once this replica has
// applied them.
type Service struct {
	transport *consensus.Transport
	env       *store.Env
	search    *search.Index
	issuer    *identity.Issuer
	broker    *eventlog.Broker
}

// NewService wires a Service over an already-running Transport (whose FSM
// wraps a Registry built with the same env/search/issuer/broker handles).
func NewService(transport *consensus.Transport, env *store.Env, searchIndex *search.Index, issuer *identity.Issuer, broker *eventlog.Broker) *Service {
	return &Service{transport: transport, env: env, search: searchIndex, issuer: issuer, broker: broker}
}

// validateLiveToken verifies raw's signature, audience, and expiry via the
// issuer, then checks that (sub, token-idx) still names a live token per
// spec §4.E — a JWT alone only proves it was once issued, not that it
// hasn't since been withdrawn.
func (s *Service) validateLiveToken(tx *bolt.Tx, raw string) (*identity.Claims, error) {
	claims, err := s.issuer.Validate(raw)
	if err != nil {
		return nil, err
	}
	// claims.TokenIndex is the token's 1-based position among its user's
	// tokens (see nextUserTokenIndex), so resolve it to the node's index.
	userIdx := types.Index(claims.UserIndex)
	tokenNode, seen := types.Index(0), uint32(0)
	for idx := types.Index(0); ; idx++ {
		n, gerr := graph.GetNodeByIndex(tx, idx)
		if gerr != nil {
			return nil, apierr.Unauthenticated("user %d has no token %d", userIdx, claims.TokenIndex)
		}
		if n.Kind == types.KindToken && n.Token != nil && n.Token.UserIndex == userIdx {
			if seen++; seen == claims.TokenIndex {
				tokenNode = idx
				break
			}
		}
	}
	if err := authz.CheckTokenLive(tx, userIdx, tokenNode); err != nil {
		return nil, err
	}
	return claims, nil
}

// principalFor resolves a Principal from a bearer token, or the zero
// Principal (Public) if auth carries none — used both for reads, which
// authorize directly, and to stamp a write envelope's requester index.
func (s *Service) principalFor(tx *bolt.Tx, auth command.Auth) (authz.Principal, error) {
	if auth.BearerToken == "" {
		return authz.Principal{}, nil
	}
	claims, err := s.validateLiveToken(tx, auth.BearerToken)
	if err != nil {
		return authz.Principal{}, err
	}
	return authz.LoadPrincipal(tx, types.Index(claims.UserIndex))
}

// requesterIndex resolves the user index a write should be attributed to.
// It runs outside any caller-held transaction (propose/proposeRaw call it
// before anything touches consensus), so it opens its own read view to run
// the same live-token check principalFor runs for reads.
func (s *Service) requesterIndex(auth command.Auth) (types.Index, error) {
	if auth.BearerToken == "" {
		return 0, nil
	}
	var idx types.Index
	err := s.env.View(func(tx *bolt.Tx) error {
		claims, err := s.validateLiveToken(tx, auth.BearerToken)
		if err != nil {
			return err
		}
		idx = types.Index(claims.UserIndex)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// propose frames tag+body as an envelope, stamps the resolved requester,
// and blocks on consensus until this replica has applied the result.
func (s *Service) propose(ctx context.Context, auth command.Auth, tag Tag, enc *codec.Encoder) (uint64, []byte, error) {
	requester, err := s.requesterIndex(auth)
	if err != nil {
		return 0, nil, err
	}
	payload := encodeEnvelope(envelope{tag: tag, requester: requester, body: enc.Encode()})
	return s.transport.Propose(ctx, payload)
}

// --- Reads ---

// readResource loads idx under a LevelRead check, short-circuiting for
// nodes marked Public the way the Public universe bitmap does for search,
// since a Public resource should be legible without any grant.
func readResource(tx *bolt.Tx, principal authz.Principal, idx types.Index) (*types.Node, error) {
	n, err := graph.GetNodeByIndex(tx, idx)
	if err != nil {
		return nil, err
	}
	if n.Public {
		return n, nil
	}
	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(idx, types.LevelRead)}); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) getByKind(ctx context.Context, req command.GetResourceRequest, want types.NodeKind) (*types.Node, error) {
	var result *types.Node
	err := s.env.View(func(tx *bolt.Tx) error {
		principal, perr := s.principalFor(tx, req.Auth)
		if perr != nil {
			return perr
		}
		idx, ierr := graph.GetIndexByID(tx, req.ID)
		if ierr != nil {
			return ierr
		}
		n, rerr := readResource(tx, principal, idx)
		if rerr != nil {
			return rerr
		}
		if want != types.KindUnknown && n.Kind != want {
			return apierr.InvalidArgument("node %s is not a %s", req.ID, want)
		}
		result = n
		return nil
	})
	return result, err
}

func (s *Service) GetResource(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.getByKind(ctx, req, types.KindUnknown)
}

func (s *Service) GetProject(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.getByKind(ctx, req, types.KindProject)
}

func (s *Service) GetGroup(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.getByKind(ctx, req, types.KindGroup)
}

func (s *Service) GetRealm(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.getByKind(ctx, req, types.KindRealm)
}

func (s *Service) GetUser(ctx context.Context, req command.GetResourceRequest) (*types.Node, error) {
	return s.getByKind(ctx, req, types.KindUser)
}

func (s *Service) GetRelations(ctx context.Context, req command.GetRelationsRequest) (command.RelationsResponse, error) {
	var resp command.RelationsResponse
	err := s.env.View(func(tx *bolt.Tx) error {
		principal, perr := s.principalFor(tx, req.Auth)
		if perr != nil {
			return perr
		}
		idx, ierr := graph.GetIndexByID(tx, req.ID)
		if ierr != nil {
			return ierr
		}
		if _, rerr := readResource(tx, principal, idx); rerr != nil {
			return rerr
		}
		for kind := types.EdgeBelongsTo; kind <= types.EdgeRuleBinding; kind++ {
			targets, levels := graph.OutEdges(tx, idx, kind)
			for i, t := range targets {
				resp.Out = append(resp.Out, types.Edge{From: idx, Kind: kind, To: t, Level: levels[i]})
			}
			sources, inLevels := graph.InEdges(tx, idx, kind)
			for i, f := range sources {
				resp.In = append(resp.In, types.Edge{From: f, Kind: kind, To: idx, Level: inLevels[i]})
			}
		}
		return nil
	})
	return resp, err
}

func (s *Service) GetEvents(ctx context.Context, req command.GetEventsRequest) (command.EventsResponse, error) {
	var resp command.EventsResponse
	err := s.env.Update(func(tx *bolt.Tx) error {
		principal, perr := s.principalFor(tx, req.Auth)
		if perr != nil {
			return perr
		}
		subIdx, ierr := graph.GetIndexByID(tx, req.Subscriber)
		if ierr != nil {
			return ierr
		}
		if aerr := eventlog.RequireSubscriberAccess(tx, principal, subIdx); aerr != nil {
			return aerr
		}
		ids, perr2 := eventlog.Poll(tx, subIdx, req.AckFrom)
		if perr2 != nil {
			return perr2
		}
		for _, id := range ids {
			txBytes, gerr := eventlog.Get(tx, id)
			if gerr != nil {
				return gerr
			}
			failed, payload := UnwrapEvent(txBytes)
			resp.Events = append(resp.Events, command.EventRecord{EventID: id, Failed: failed, TxBytes: payload})
		}
		return nil
	})
	return resp, err
}

func (s *Service) Search(ctx context.Context, req command.SearchRequest) (command.SearchResponse, error) {
	var resp command.SearchResponse
	err := s.env.View(func(tx *bolt.Tx) error {
		principal, perr := s.principalFor(tx, req.Auth)
		if perr != nil {
			return perr
		}
		var universe *roaring.Bitmap
		if !principal.Admin {
			pub, uerr := graph.PublicUniverse(tx)
			if uerr != nil {
				return uerr
			}
			grp, gerr := graph.UniverseForGroups(tx, principal.Groups)
			if gerr != nil {
				return gerr
			}
			pub.Or(grp)
			owned, _ := graph.OutEdges(tx, principal.UserIndex, types.EdgeOwns)
			for _, idx := range owned {
				pub.Add(uint32(idx))
			}
			universe = pub
		}
		hits, ids, qerr := s.search.Query(req.Query, req.Filters, req.Offset, req.Limit, universe)
		if qerr != nil {
			return qerr
		}
		resp.ExpectedHits = hits
		resp.IDs = ids
		return nil
	})
	return resp, err
}

func (s *Service) GetStats(ctx context.Context, auth command.Auth) (command.StatsResponse, error) {
	var resp command.StatsResponse
	err := s.env.View(func(tx *bolt.Tx) error {
		resp.NodeCounts = graph.NodeCounts(tx)
		return nil
	})
	if err != nil {
		return resp, err
	}
	resp.IsLeader = s.transport.IsLeader()
	resp.LeaderAddr = s.transport.LeaderAddr()
	stats := s.transport.Stats()
	if n, perr := strconv.Atoi(stats["num_peers"]); perr == nil {
		resp.RaftPeers = n + 1 // num_peers excludes self
	}
	if n, perr := strconv.ParseUint(stats["applied_index"], 10, 64); perr == nil {
		resp.LastEvent = n
	}
	return resp, nil
}

func (s *Service) GetEndpointByNameOrID(ctx context.Context, req command.GetEndpointRequest) (*types.Node, error) {
	var result *types.Node
	err := s.env.View(func(tx *bolt.Tx) error {
		principal, perr := s.principalFor(tx, req.Auth)
		if perr != nil {
			return perr
		}
		if id, ierr := types.IDFromBytes([]byte(req.NameOrID)); ierr == nil {
			idx, gerr := graph.GetIndexByID(tx, id)
			if gerr == nil {
				n, rerr := readResource(tx, principal, idx)
				if rerr != nil {
					return rerr
				}
				if n.Kind == types.KindEndpoint {
					result = n
					return nil
				}
			}
		}
		idx, found := findEndpointByName(tx, req.NameOrID)
		if !found {
			return apierr.NotFound("endpoint %q not found", req.NameOrID)
		}
		n, rerr := readResource(tx, principal, idx)
		if rerr != nil {
			return rerr
		}
		result = n
		return nil
	})
	return result, err
}

// findEndpointByName linearly scans for an Endpoint node with the given
// name. A dedicated name index isn't worth a bucket for a node kind whose
// count is small relative to the resource graph.
func findEndpointByName(tx *bolt.Tx, name string) (types.Index, bool) {
	for idx := types.Index(1); ; idx++ {
		n, err := graph.GetNodeByIndex(tx, idx)
		if err != nil {
			break
		}
		if n.Kind == types.KindEndpoint && n.Name == name {
			return idx, true
		}
	}
	return 0, false
}

// --- Writes ---

func (s *Service) CreateProject(ctx context.Context, req command.CreateProjectRequest) (types.ID, error) {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutString(fDescription, req.Description)
	if req.Public {
		enc.PutUint64(fPublic, 1)
	}
	_, result, err := s.propose(ctx, req.Auth, TagCreateProject, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

// resolveIndex looks up the dense Index a stable ID currently maps to.
// CreateResourceRequest and friends carry IDs (the stable, replicated
// identity), but the wire envelope and its handler address nodes by Index —
// resolution happens once here, against a read-only snapshot, right before
// the request is proposed.
func (s *Service) resolveIndex(id types.ID) (types.Index, error) {
	var idx types.Index
	err := s.env.View(func(tx *bolt.Tx) error {
		i, err := graph.GetIndexByID(tx, id)
		if err != nil {
			return err
		}
		idx = i
		return nil
	})
	return idx, err
}

func (s *Service) CreateResource(ctx context.Context, req command.CreateResourceRequest) (types.ID, error) {
	parentIdx, err := s.resolveIndex(req.Parent)
	if err != nil {
		return types.ID{}, err
	}
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutString(fDescription, req.Description)
	enc.PutUint64(fVariant, uint64(req.Kind))
	enc.PutString(fTags, strings.Join(req.Tags, ","))
	enc.PutUint64(fParentID, uint64(parentIdx))
	if req.Public {
		enc.PutUint64(fPublic, 1)
	}
	_, result, err := s.propose(ctx, req.Auth, TagCreateResource, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) CreateResourceBatch(ctx context.Context, req command.CreateResourceBatchRequest) ([]types.ID, error) {
	items := make([][]byte, 0, len(req.Resources))
	for _, res := range req.Resources {
		parentIdx, err := s.resolveIndex(res.Parent)
		if err != nil {
			return nil, err
		}
		items = append(items, encodeResourceItem(parentIdx, res.Kind, res.Name, res.Description, res.Tags, res.Public))
	}
	_, result, err := s.proposeRaw(ctx, req.Auth, TagCreateResourceBatch, encodeRepeated(items))
	if err != nil {
		return nil, err
	}
	rawIDs, err := decodeRepeated(result)
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, ierr := types.IDFromBytes(raw)
		if ierr != nil {
			return nil, ierr
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func encodeResourceItem(parent types.Index, kind types.NodeKind, name, description string, tags []string, public bool) []byte {
	enc := codec.NewEncoder()
	enc.PutString(fName, name)
	enc.PutString(fDescription, description)
	enc.PutUint64(fVariant, uint64(kind))
	enc.PutString(fTags, strings.Join(tags, ","))
	enc.PutUint64(fParentID, uint64(parent))
	if public {
		enc.PutUint64(fPublic, 1)
	}
	return enc.Encode()
}

func (s *Service) proposeRaw(ctx context.Context, auth command.Auth, tag Tag, body []byte) (uint64, []byte, error) {
	requester, err := s.requesterIndex(auth)
	if err != nil {
		return 0, nil, err
	}
	payload := encodeEnvelope(envelope{tag: tag, requester: requester, body: body})
	return s.transport.Propose(ctx, payload)
}

func (s *Service) UpdateResourceName(ctx context.Context, req command.UpdateResourceNameRequest) error {
	enc := codec.NewEncoder()
	enc.PutBytes(fID, req.ID.Bytes())
	enc.PutString(fName, req.Name)
	_, _, err := s.propose(ctx, req.Auth, TagUpdateResourceName, enc)
	return err
}

func (s *Service) UpdateResourceTitle(ctx context.Context, req command.UpdateResourceTitleRequest) error {
	enc := codec.NewEncoder()
	enc.PutBytes(fID, req.ID.Bytes())
	enc.PutString(fDescription, req.Title)
	_, _, err := s.propose(ctx, req.Auth, TagUpdateResourceTitle, enc)
	return err
}

func (s *Service) CreateRealm(ctx context.Context, req command.CreateRealmRequest) (types.ID, error) {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	if req.Public {
		enc.PutUint64(fPublic, 1)
	}
	_, result, err := s.propose(ctx, req.Auth, TagCreateRealm, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) CreateGroup(ctx context.Context, req command.CreateGroupRequest) (types.ID, error) {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutString(fDescription, req.Description)
	_, result, err := s.propose(ctx, req.Auth, TagCreateGroup, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) AddGroupToRealm(ctx context.Context, req command.AddGroupToRealmRequest) error {
	groupIdx, err := s.resolveIndex(req.Group)
	if err != nil {
		return err
	}
	realmIdx, err := s.resolveIndex(req.Realm)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder()
	enc.PutUint64(fRealmID, uint64(realmIdx))
	enc.PutUint64(fGroupID, uint64(groupIdx))
	_, _, err = s.propose(ctx, req.Auth, TagAddGroupToRealm, enc)
	return err
}

func (s *Service) RegisterUser(ctx context.Context, req command.RegisterUserRequest) (types.ID, error) {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.DisplayName)
	enc.PutString(fEmail, req.Email)
	enc.PutString(fExternalSub, req.ExternalSubject)
	_, result, err := s.propose(ctx, req.Auth, TagRegisterUser, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) CreateToken(ctx context.Context, req command.CreateTokenRequest) (command.CreateTokenResponse, error) {
	userIdx, err := s.resolveIndex(req.User)
	if err != nil {
		return command.CreateTokenResponse{}, err
	}
	scopeIdx, err := s.resolveIndex(req.Scope)
	if err != nil {
		return command.CreateTokenResponse{}, err
	}
	enc := codec.NewEncoder()
	enc.PutUint64(fOwnerID, uint64(userIdx))
	enc.PutUint64(fLevel, uint64(req.Level))
	if !req.ExpiresAt.IsZero() {
		enc.PutTime(fExpiresAt, req.ExpiresAt)
	}
	enc.PutUint64(fScopeID, uint64(scopeIdx))
	_, result, err := s.propose(ctx, req.Auth, TagCreateToken, enc)
	if err != nil {
		return command.CreateTokenResponse{}, err
	}
	id, accessKey, _, jwtStr, derr := decodeTokenResult(result)
	if derr != nil {
		return command.CreateTokenResponse{}, derr
	}
	return command.CreateTokenResponse{TokenID: id, AccessKey: accessKey, JWT: jwtStr}, nil
}

func (s *Service) CreateRelation(ctx context.Context, req command.CreateRelationRequest) error {
	fromIdx, err := s.resolveIndex(req.From)
	if err != nil {
		return err
	}
	toIdx, err := s.resolveIndex(req.To)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutUint64(fVariant, uint64(req.Kind))
	enc.PutUint64(fLevel, uint64(req.Level))
	enc.PutUint64(fFromID, uint64(fromIdx))
	enc.PutUint64(fToID, uint64(toIdx))
	_, _, err = s.propose(ctx, req.Auth, TagCreateRelation, enc)
	return err
}

func (s *Service) CreateRelationVariant(ctx context.Context, req command.CreateRelationVariantRequest) error {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	_, _, err := s.propose(ctx, req.Auth, TagCreateRelationVariant, enc)
	return err
}

func (s *Service) CreateComponent(ctx context.Context, req command.CreateComponentRequest) (types.ID, error) {
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutUint64(fVariant, uint64(req.Variant))
	enc.PutString(fPublicKey, req.PublicKey)
	enc.PutString(fEndpointCfg, req.HostConfig)
	if req.Public {
		enc.PutUint64(fPublic, 1)
	}
	_, result, err := s.propose(ctx, req.Auth, TagCreateComponent, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) AddComponentToRealm(ctx context.Context, req command.AddComponentToRealmRequest) error {
	componentIdx, err := s.resolveIndex(req.Component)
	if err != nil {
		return err
	}
	realmIdx, err := s.resolveIndex(req.Realm)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder()
	enc.PutUint64(fOwnerID, uint64(componentIdx))
	enc.PutUint64(fRealmID, uint64(realmIdx))
	_, _, err = s.propose(ctx, req.Auth, TagAddComponentToRealm, enc)
	return err
}

func (s *Service) RegisterData(ctx context.Context, req command.RegisterDataRequest) (types.ID, error) {
	parentIdx, err := s.resolveIndex(req.Parent)
	if err != nil {
		return types.ID{}, err
	}
	enc := codec.NewEncoder()
	enc.PutString(fName, req.Name)
	enc.PutUint64(fParentID, uint64(parentIdx))
	enc.PutString(fContentHash, req.ContentHash)
	enc.PutUint64(fContentLen, req.ContentLen)
	enc.PutString(fLocation, req.Location)
	_, result, err := s.propose(ctx, req.Auth, TagRegisterData, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) CreateRule(ctx context.Context, req command.CreateRuleRequest) (types.ID, error) {
	projectIdx, err := s.resolveIndex(req.Project)
	if err != nil {
		return types.ID{}, err
	}
	enc := codec.NewEncoder()
	enc.PutString(fRuleExpr, req.Source)
	enc.PutUint64(fProjectID, uint64(projectIdx))
	_, result, err := s.propose(ctx, req.Auth, TagCreateRule, enc)
	if err != nil {
		return types.ID{}, err
	}
	return types.IDFromBytes(result)
}

func (s *Service) AddRuleBinding(ctx context.Context, req command.AddRuleBindingRequest) error {
	projectIdx, err := s.resolveIndex(req.Project)
	if err != nil {
		return err
	}
	ruleIdx, err := s.resolveIndex(req.Rule)
	if err != nil {
		return err
	}
	enc := codec.NewEncoder()
	enc.PutUint64(fProjectID, uint64(projectIdx))
	enc.PutUint64(fRuleID, uint64(ruleIdx))
	_, _, err = s.propose(ctx, req.Auth, TagAddRuleBinding, enc)
	return err
}


var _ command.Dispatcher = (*Service)(nil)
