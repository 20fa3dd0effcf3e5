package dispatch

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/authz"
	"github.com/cuemby/strata/internal/codec"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/metrics"
	"github.com/cuemby/strata/internal/rules"
	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/types"
)

func mustField(name string) codec.FieldID {
	id, ok := codec.FieldByName(name)
	if !ok {
		panic("dispatch: unknown field " + name)
	}
	return id
}

var (
	fName        = mustField("name")
	fDescription = mustField("description")
	fVariant     = mustField("variant")
	fTags        = mustField("tags")
	fParentID    = mustField("parent_id")
	fOwnerID     = mustField("owner_id")
	fRealmID     = mustField("realm_id")
	fGroupID     = mustField("group_id")
	fContentHash = mustField("content_hash")
	fContentLen  = mustField("content_len")
	fLocation    = mustField("location")
	fLevel       = mustField("level")
	fExpiresAt   = mustField("expires_at")
	fRuleExpr    = mustField("rule_expr")
	fEndpointCfg = mustField("endpoint_addr")
	fPublicKey   = mustField("public_key")
	fID          = mustField("id")
	fPublic      = mustField("public")
	fEmail       = mustField("email")
	fExternalSub = mustField("external_subject")
	fScopeID     = mustField("scope_id")
	fFromID      = mustField("from_id")
	fToID        = mustField("to_id")
	fProjectID   = mustField("project_id")
	fRuleID      = mustField("rule_id")
)

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// --- Resources (Project, Collection, Dataset, Object) ---

// createResourceNode implements the constraint + rule-engine + mutation
// steps spec §4.I shares across CreateResource and RegisterData: check the
// parent exists and the name is free among siblings (or globally, for a
// parentless Project), evaluate any rule bound to the owning project,
// persist the node, link it to its parent, and ingest it into search.
func createResourceNode(tx *bolt.Tx, r *Registry, principal authz.Principal, kind types.NodeKind, parent types.Index, hasParent bool, name, description string, tags []string, public bool, contentHash string, contentLen uint64, location string) (*types.Node, error) {
	if hasParent {
		if err := graph.CheckParentExists(tx, parent); err != nil {
			return nil, err
		}
		if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(parent, types.LevelAppend)}); err != nil {
			return nil, err
		}
		if err := graph.CheckSiblingNameUnique(tx, parent, name); err != nil {
			return nil, err
		}
	} else {
		if err := authz.Authorize(tx, principal, []authz.Context{authz.Activated()}); err != nil {
			return nil, err
		}
		if err := graph.CheckProjectNameUnique(tx, name); err != nil {
			return nil, err
		}
	}

	if projectIdx, ok := owningProject(tx, parent, hasParent, kind); ok && r.rules.HasRule(projectIdx) {
		parentName := ""
		if hasParent {
			if pn, err := graph.GetNodeByIndex(tx, parent); err == nil {
				parentName = pn.Name
			}
		}
		candidate := rules.Candidate{
			Name: name, Kind: kind.String(), Description: description,
			Tags: tags, Public: public, ParentName: parentName,
		}
		if !r.rules.Eval(projectIdx, candidate) {
			metrics.RuleEvalTotal.WithLabelValues("denied").Inc()
			return nil, apierr.PermissionDenied("rule bound to project %d denied this resource", projectIdx)
		}
		metrics.RuleEvalTotal.WithLabelValues("allowed").Inc()
	}

	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate resource id")
	}
	node := &types.Node{
		ID: id, Kind: kind, Name: name, CreatedAt: now, UpdatedAt: now, Public: public,
		Resource: &types.ResourceData{Description: description, Tags: tags, ContentHash: contentHash, ContentLen: contentLen, Location: location},
	}
	idx, err := graph.AddNode(tx, node)
	if err != nil {
		return nil, err
	}
	if hasParent {
		if err := graph.AddEdge(tx, idx, types.EdgeBelongsTo, parent, types.LevelNone, ""); err != nil {
			return nil, err
		}
	}

	var parentID types.ID
	if hasParent {
		if pn, err := graph.GetNodeByIndex(tx, parent); err == nil {
			parentID = pn.ID
		}
	}
	if err := r.search.Ingest(search.DocumentFor(node, parentID, hasParent)); err != nil {
		return nil, err
	}
	metrics.SearchDocsIndexedTotal.Inc()
	metrics.NodesTotal.WithLabelValues(kind.String()).Inc()
	return node, nil
}

// owningProject walks up from parent (or treats idx itself as the project,
// when kind is already Project) to find the project a rule would be bound
// to, mirroring rule.rs's rule lookup being keyed by the nearest project
// ancestor.
func owningProject(tx *bolt.Tx, parent types.Index, hasParent bool, kind types.NodeKind) (types.Index, bool) {
	if kind == types.KindProject {
		return 0, false // a project has no owning project of its own
	}
	if !hasParent {
		return 0, false
	}
	cur := parent
	for {
		n, err := graph.GetNodeByIndex(tx, cur)
		if err != nil {
			return 0, false
		}
		if n.Kind == types.KindProject {
			return cur, true
		}
		next, ok := graph.Parent(tx, cur)
		if !ok {
			return 0, false
		}
		cur = next
	}
}

func handleCreateProject(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateProject: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	description := dec.String(fDescription)
	public := dec.Uint64(fPublic) == 1

	node, err := createResourceNode(tx, r, principal, types.KindProject, 0, false, name, description, nil, public, "", 0, "")
	if err != nil {
		return nil, err
	}
	if err := graph.AddEdge(tx, principal.UserIndex, types.EdgeOwns, node.Index, types.LevelNone, ""); err != nil {
		return nil, err
	}
	return node.ID.Bytes(), nil
}

// decodeCreateResourceBody reads fields in ascending FieldID order — name(2),
// description(3), variant(4), tags(5), parent_id(8), public(27) — since
// Decoder.Field only matches the next unconsumed pair against what the
// registry's ordering put there.
func decodeCreateResourceBody(body []byte) (parent types.Index, kind types.NodeKind, name, description string, tags []string, public bool, err error) {
	dec, derr := codec.NewDecoder(body)
	if derr != nil {
		return 0, 0, "", "", nil, false, apierr.InvalidArgument("decode CreateResource: %v", derr)
	}
	name, err = dec.RequiredString(fName)
	if err != nil {
		return 0, 0, "", "", nil, false, apierr.InvalidArgument("%v", err)
	}
	description = dec.String(fDescription)
	kind = types.NodeKind(dec.Uint64(fVariant))
	tags = splitCSV(dec.String(fTags))
	parent = types.Index(dec.Uint64(fParentID))
	public = dec.Uint64(fPublic) == 1
	return parent, kind, name, description, tags, public, nil
}

func handleCreateResource(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	parent, kind, name, description, tags, public, err := decodeCreateResourceBody(body)
	if err != nil {
		return nil, err
	}
	if kind != types.KindCollection && kind != types.KindDataset && kind != types.KindObject {
		return nil, apierr.InvalidArgument("CreateResource: invalid kind %d", kind)
	}
	node, err := createResourceNode(tx, r, principal, kind, parent, true, name, description, tags, public, "", 0, "")
	if err != nil {
		return nil, err
	}
	return node.ID.Bytes(), nil
}

func handleCreateResourceBatch(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	items, err := decodeRepeated(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateResourceBatch: %v", err)
	}
	ids := make([][]byte, 0, len(items))
	for i, item := range items {
		parent, kind, name, description, tags, public, derr := decodeCreateResourceBody(item)
		if derr != nil {
			return nil, apierr.InvalidArgument("batch item %d: %v", i, derr)
		}
		node, cerr := createResourceNode(tx, r, principal, kind, parent, true, name, description, tags, public, "", 0, "")
		if cerr != nil {
			return nil, apierr.Wrap(apierr.KindOf(cerr), cerr, "batch item %d", i)
		}
		ids = append(ids, node.ID.Bytes())
	}
	return encodeRepeated(ids), nil
}

func handleUpdateResourceName(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode UpdateResourceName: %v", err)
	}
	rawID, err := dec.RequiredField(fID)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	id, err := types.IDFromBytes(rawID)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}

	idx, err := graph.GetIndexByID(tx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(idx, types.LevelWrite)}); err != nil {
		return nil, err
	}
	node, err := graph.GetNodeByIndex(tx, idx)
	if err != nil {
		return nil, err
	}
	if node.Resource == nil {
		return nil, apierr.InvalidArgument("index %d is not a resource", idx)
	}

	var parentID types.ID
	parentIdx, hasParent := graph.Parent(tx, idx)
	if hasParent {
		if err := graph.CheckSiblingNameUniqueExcept(tx, parentIdx, name, idx); err != nil {
			return nil, err
		}
		if pn, perr := graph.GetNodeByIndex(tx, parentIdx); perr == nil {
			parentID = pn.ID
		}
	} else {
		if err := graph.CheckProjectNameUniqueExcept(tx, name, idx); err != nil {
			return nil, err
		}
	}

	node.Name = name
	node.UpdatedAt = time.Now().UTC()
	if err := graph.UpdateNode(tx, node); err != nil {
		return nil, err
	}
	if err := r.search.Ingest(search.DocumentFor(node, parentID, hasParent)); err != nil {
		return nil, err
	}
	return nil, nil
}

func handleUpdateResourceTitle(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode UpdateResourceTitle: %v", err)
	}
	rawID, err := dec.RequiredField(fID)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	id, err := types.IDFromBytes(rawID)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	title := dec.String(fDescription)

	idx, err := graph.GetIndexByID(tx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(idx, types.LevelWrite)}); err != nil {
		return nil, err
	}
	node, err := graph.GetNodeByIndex(tx, idx)
	if err != nil {
		return nil, err
	}
	if node.Resource == nil {
		return nil, apierr.InvalidArgument("index %d is not a resource", idx)
	}
	node.Resource.Description = title
	node.UpdatedAt = time.Now().UTC()
	if err := graph.UpdateNode(tx, node); err != nil {
		return nil, err
	}

	var parentID types.ID
	parentIdx, hasParent := graph.Parent(tx, idx)
	if hasParent {
		if pn, perr := graph.GetNodeByIndex(tx, parentIdx); perr == nil {
			parentID = pn.ID
		}
	}
	if err := r.search.Ingest(search.DocumentFor(node, parentID, hasParent)); err != nil {
		return nil, err
	}
	return nil, nil
}

// --- Realms, groups, users ---

func handleCreateRealm(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateRealm: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	public := dec.Uint64(fPublic) == 1

	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate realm id")
	}
	node := &types.Node{ID: id, Kind: types.KindRealm, Name: name, CreatedAt: now, UpdatedAt: now, Public: public, Realm: &types.RealmData{}}
	if _, err := graph.AddNode(tx, node); err != nil {
		return nil, err
	}
	if err := r.search.Ingest(search.DocumentFor(node, types.ID{}, false)); err != nil {
		return nil, err
	}
	metrics.NodesTotal.WithLabelValues(types.KindRealm.String()).Inc()
	return node.ID.Bytes(), nil
}

func handleCreateGroup(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateGroup: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	description := dec.String(fDescription)

	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate group id")
	}
	node := &types.Node{ID: id, Kind: types.KindGroup, Name: name, CreatedAt: now, UpdatedAt: now, Group: &types.GroupData{Description: description}}
	if _, err := graph.AddNode(tx, node); err != nil {
		return nil, err
	}
	if err := r.search.Ingest(search.DocumentFor(node, types.ID{}, false)); err != nil {
		return nil, err
	}
	metrics.NodesTotal.WithLabelValues(types.KindGroup.String()).Inc()
	return node.ID.Bytes(), nil
}

func handleAddGroupToRealm(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode AddGroupToRealm: %v", err)
	}
	realm := types.Index(dec.Uint64(fRealmID))
	group := types.Index(dec.Uint64(fGroupID))

	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(tx, group, types.EdgeBelongsTo, realm, types.LevelNone, ""); err != nil {
		return nil, err
	}
	metrics.EdgesTotal.WithLabelValues(types.EdgeBelongsTo.String()).Inc()
	return nil, nil
}

func handleRegisterUser(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode RegisterUser: %v", err)
	}
	displayName, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	email := dec.String(fEmail)
	externalSubject := dec.String(fExternalSub)

	bootstrap := !graph.AnyNodeOfKind(tx, types.KindUser)
	if !bootstrap {
		if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate user id")
	}
	node := &types.Node{
		ID: id, Kind: types.KindUser, Name: displayName, CreatedAt: now, UpdatedAt: now,
		User: &types.UserData{DisplayName: displayName, Email: email, ExternalSubject: externalSubject, Admin: bootstrap, Active: true},
	}
	if _, err := graph.AddNode(tx, node); err != nil {
		return nil, err
	}
	metrics.NodesTotal.WithLabelValues(types.KindUser.String()).Inc()
	return node.ID.Bytes(), nil
}

// --- Tokens ---

// nextUserTokenIndex scans for the count of Token nodes already owned by
// userIdx and returns the next 1-based index, the same linear-scan
// tradeoff findEndpointByName makes in internal/dispatch/service.go: a
// dedicated per-user counter bucket isn't worth it for a node kind whose
// per-user count stays small.
func nextUserTokenIndex(tx *bolt.Tx, userIdx types.Index) uint32 {
	var count uint32
	for idx := types.Index(1); ; idx++ {
		n, err := graph.GetNodeByIndex(tx, idx)
		if err != nil {
			break
		}
		if n.Kind == types.KindToken && n.Token != nil && n.Token.UserIndex == userIdx {
			count++
		}
	}
	return count + 1
}

func handleCreateToken(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateToken: %v", err)
	}
	user := types.Index(dec.Uint64(fOwnerID))
	level := types.PermissionLevel(dec.Uint64(fLevel))
	expiresAt := dec.Time(fExpiresAt)
	scope := types.Index(dec.Uint64(fScopeID))
	if expiresAt.IsZero() {
		expiresAt = time.Now().AddDate(10, 0, 0).UTC()
	}

	if principal.UserIndex != user && !principal.Admin {
		return nil, apierr.PermissionDenied("principal may only create tokens for itself")
	}
	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(scope, level)}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate token id")
	}

	secretRaw := make([]byte, 32)
	if _, err := rand.Read(secretRaw); err != nil {
		return nil, apierr.Fatal(err, "generate token secret")
	}
	secretHex := hex.EncodeToString(secretRaw)
	hash := sha256.Sum256(secretRaw)

	ownerNode, err := graph.GetNodeByIndex(tx, user)
	if err != nil {
		return nil, err
	}
	// tokenIdx is the token's position within its owning user's token table
	// (spec §3: "Token (index within a user, ...)"), distinct from the
	// node's own dense graph index — the access-key and JWT "info" claim
	// both address a token this way, per spec §4.E/§6's "<user-id>.<token-
	// index>" format, so a caller never needs to know the underlying index.
	tokenIdx := nextUserTokenIndex(tx, user)

	node := &types.Node{
		ID: id, Kind: types.KindToken, Name: "token", CreatedAt: now, UpdatedAt: now,
		Token: &types.TokenData{UserIndex: user, Scope: scope, Level: level, ExpiresAt: expiresAt, SecretHash: hex.EncodeToString(hash[:])},
	}
	idx, err := graph.AddNode(tx, node)
	if err != nil {
		return nil, err
	}

	accessKey := fmt.Sprintf("%s.%d", ownerNode.ID.String(), tokenIdx)
	jwtStr := ""
	if r.issuer != nil {
		jwtStr, err = r.issuer.Issue(user, types.Index(tokenIdx), scope, level, expiresAt)
		if err != nil {
			return nil, apierr.Fatal(err, "issue jwt for token %d", idx)
		}
	}
	metrics.NodesTotal.WithLabelValues(types.KindToken.String()).Inc()
	return encodeTokenResult(id, accessKey, secretHex, jwtStr), nil
}

// --- Relations ---

func handleCreateRelation(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateRelation: %v", err)
	}
	name := dec.String(fName)
	kind := types.EdgeKind(dec.Uint64(fVariant))
	level := types.PermissionLevel(dec.Uint64(fLevel))
	from := types.Index(dec.Uint64(fFromID))
	to := types.Index(dec.Uint64(fToID))

	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(to, types.LevelAdmin)}); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(tx, from, kind, to, level, name); err != nil {
		return nil, err
	}
	metrics.EdgesTotal.WithLabelValues(kind.String()).Inc()
	return nil, nil
}

func handleCreateRelationVariant(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateRelationVariant: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}
	// A named-relation variant is registered by being replayable from the
	// event log alone: there is no separate catalog bucket, since
	// EdgeNamedRelation.Name is already freeform at the graph layer.
	// Validating and recording the name here (rather than in CreateRelation
	// itself) gives subscribers a single event to watch for new variants.
	if strings.TrimSpace(name) == "" {
		return nil, apierr.InvalidArgument("relation variant name must not be blank")
	}
	return nil, nil
}

// --- Components (endpoints) ---

func handleCreateComponent(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateComponent: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	variant := types.EndpointVariant(dec.Uint64(fVariant))
	pubKeyPEM := dec.String(fPublicKey)
	hostConfig := dec.String(fEndpointCfg)
	public := dec.Uint64(fPublic) == 1

	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate endpoint id")
	}
	node := &types.Node{
		ID: id, Kind: types.KindEndpoint, Name: name, CreatedAt: now, UpdatedAt: now, Public: public,
		Endpoint: &types.EndpointData{Variant: variant, HostConfig: hostConfig, Status: types.EndpointStatusAvailable},
	}
	idx, err := graph.AddNode(tx, node)
	if err != nil {
		return nil, err
	}

	if pubKeyPEM != "" {
		keyID, kerr := types.NewID(now)
		if kerr != nil {
			return nil, apierr.Fatal(kerr, "generate public key id")
		}
		keyNode := &types.Node{
			ID: keyID, Kind: types.KindPublicKey, Name: name + "-key", CreatedAt: now, UpdatedAt: now,
			PublicKey: &types.PublicKeyData{Serial: keyID.String(), PEM: pubKeyPEM, OwningEndpoint: idx, HasEndpoint: true},
		}
		if _, err := graph.AddNode(tx, keyNode); err != nil {
			return nil, err
		}
		metrics.NodesTotal.WithLabelValues(types.KindPublicKey.String()).Inc()
	}

	if err := r.search.Ingest(search.DocumentFor(node, types.ID{}, false)); err != nil {
		return nil, err
	}
	metrics.NodesTotal.WithLabelValues(types.KindEndpoint.String()).Inc()
	return node.ID.Bytes(), nil
}

func handleAddComponentToRealm(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode AddComponentToRealm: %v", err)
	}
	component := types.Index(dec.Uint64(fOwnerID))
	realm := types.Index(dec.Uint64(fRealmID))

	if err := authz.Authorize(tx, principal, []authz.Context{authz.GlobalAdmin()}); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(tx, component, types.EdgeBelongsTo, realm, types.LevelNone, ""); err != nil {
		return nil, err
	}
	metrics.EdgesTotal.WithLabelValues(types.EdgeBelongsTo.String()).Inc()
	return nil, nil
}

// --- Data registration ---

func handleRegisterData(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode RegisterData: %v", err)
	}
	name, err := dec.RequiredString(fName)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	parent := types.Index(dec.Uint64(fParentID))
	contentHash := dec.String(fContentHash)
	contentLen := dec.Uint64(fContentLen)
	location := dec.String(fLocation)

	node, err := createResourceNode(tx, r, principal, types.KindObject, parent, true, name, "", nil, false, contentHash, contentLen, location)
	if err != nil {
		return nil, err
	}
	return node.ID.Bytes(), nil
}

// --- Rules ---

func handleCreateRule(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode CreateRule: %v", err)
	}
	source, err := dec.RequiredString(fRuleExpr)
	if err != nil {
		return nil, apierr.InvalidArgument("%v", err)
	}
	project := types.Index(dec.Uint64(fProjectID))

	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(project, types.LevelAdmin)}); err != nil {
		return nil, err
	}
	if err := r.rules.AddRule(project, source); err != nil {
		return nil, apierr.InvalidArgument("compile rule: %v", err)
	}

	now := time.Now().UTC()
	id, err := types.NewID(now)
	if err != nil {
		return nil, apierr.Fatal(err, "generate rule id")
	}
	node := &types.Node{
		ID: id, Kind: types.KindRule, Name: "rule", CreatedAt: now, UpdatedAt: now,
		Rule: &types.RuleData{OwnerProject: project, Source: source},
	}
	if _, err := graph.AddNode(tx, node); err != nil {
		return nil, err
	}
	metrics.NodesTotal.WithLabelValues(types.KindRule.String()).Inc()
	return node.ID.Bytes(), nil
}

func handleAddRuleBinding(tx *bolt.Tx, r *Registry, principal authz.Principal, body []byte) ([]byte, error) {
	dec, err := codec.NewDecoder(body)
	if err != nil {
		return nil, apierr.InvalidArgument("decode AddRuleBinding: %v", err)
	}
	project := types.Index(dec.Uint64(fProjectID))
	ruleIdx := types.Index(dec.Uint64(fRuleID))

	if err := authz.Authorize(tx, principal, []authz.Context{authz.Resource(project, types.LevelAdmin)}); err != nil {
		return nil, err
	}
	ruleNode, err := graph.GetNodeByIndex(tx, ruleIdx)
	if err != nil {
		return nil, err
	}
	if ruleNode.Kind != types.KindRule || ruleNode.Rule == nil {
		return nil, apierr.InvalidArgument("index %d is not a rule", ruleIdx)
	}
	if err := r.rules.AddRule(project, ruleNode.Rule.Source); err != nil {
		return nil, apierr.InvalidArgument("compile rule for binding: %v", err)
	}
	if err := graph.AddEdge(tx, ruleIdx, types.EdgeRuleBinding, project, types.LevelNone, ""); err != nil {
		return nil, err
	}
	metrics.EdgesTotal.WithLabelValues(types.EdgeRuleBinding.String()).Inc()
	return nil, nil
}
