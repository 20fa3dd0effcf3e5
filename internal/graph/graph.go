// Package graph implements the typed resource graph: nodes addressed by a
// stable 128-bit ID and a dense 32-bit index, and typed directed edges
// between indices, plus the permission-universe bitmaps built over them.
//
// Grounded on cuemby-warren's pkg/storage/boltdb.go for the bucket-per-kind,
// transaction-passthrough storage shape, generalized from warren's
// JSON-per-record values to internal/codec's field-tagged records; on
// aruna-server's transactions/constraint.rs for the ParentExists/UniqueName
// constraint checks; and on transactions/search.rs for the permission-
// universe construction (union of group-granted indices, widened by
// belongs_to descent, plus the public universe).
package graph

import (
	"encoding/binary"

	roaring "github.com/RoaringBitmap/roaring/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/codec"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

var (
	bucketNodes    = []byte("graph_nodes")
	bucketIDMap    = []byte("graph_id_map")
	bucketOutEdges = []byte("graph_out_edges")
	bucketInEdges  = []byte("graph_in_edges")
	bucketMeta     = []byte("graph_meta")

	keyNextIndex = []byte("next_index")
)

// Buckets returns the bucket names graph.Open requires store.Open to have
// pre-created.
func Buckets() [][]byte {
	return [][]byte{bucketNodes, bucketIDMap, bucketOutEdges, bucketInEdges, bucketMeta}
}

// Graph is a thin handle over the shared store.Env; it holds no state of
// its own beyond the bucket layout, matching warren's BoltStore, which also
// carries only the *bolt.DB handle and reads/writes through it on every
// call rather than caching records in memory.
type Graph struct {
	env *store.Env
}

// Open wraps env. The caller must have opened env with Buckets() included.
func Open(env *store.Env) *Graph {
	return &Graph{env: env}
}

func idxKey(idx types.Index) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(idx))
	return b[:]
}

func indexFromKey(b []byte) types.Index {
	return types.Index(binary.BigEndian.Uint32(b))
}

// nextIndex allocates the next dense index, must be called inside an
// Update transaction.
func nextIndex(tx *bolt.Tx) (types.Index, error) {
	meta := tx.Bucket(bucketMeta)
	raw := meta.Get(keyNextIndex)
	var cur uint32
	if raw != nil {
		cur = binary.BigEndian.Uint32(raw)
	}
	var next [4]byte
	binary.BigEndian.PutUint32(next[:], cur+1)
	if err := meta.Put(keyNextIndex, next[:]); err != nil {
		return 0, err
	}
	return types.Index(cur), nil
}

func encodeNode(n *types.Node) []byte {
	enc := codec.NewEncoder()
	idField, _ := codec.FieldByName("id")
	kindField, _ := codec.FieldByName("kind")
	nameField, _ := codec.FieldByName("name")
	createdField, _ := codec.FieldByName("created_at")
	updatedField, _ := codec.FieldByName("updated_at")

	enc.PutBytes(idField, n.ID.Bytes())
	enc.PutUint64(kindField, uint64(n.Kind))
	enc.PutString(nameField, n.Name)
	enc.PutTime(createdField, n.CreatedAt)
	enc.PutTime(updatedField, n.UpdatedAt)

	publicByte := uint64(0)
	if n.Public {
		publicByte = 1
	}
	metadataField, _ := codec.FieldByName("metadata")
	enc.PutUint64(metadataField, publicByte)

	encodeKindData(enc, n)
	return enc.Encode()
}

// encodeKindData writes the fields specific to n.Kind. Every kind shares the
// same field registry; only the fields relevant to a given kind are set, so
// decoding a node of a different kind never misreads another kind's bytes
// for the same field id (e.g. ResourceData.Location and EndpointData.Status
// never coexist on the same record).
func encodeKindData(enc *codec.Encoder, n *types.Node) {
	descField, _ := codec.FieldByName("description")
	tagsField, _ := codec.FieldByName("tags")
	variantField, _ := codec.FieldByName("variant")
	hashField, _ := codec.FieldByName("content_hash")
	lenField, _ := codec.FieldByName("content_len")
	locField, _ := codec.FieldByName("location")
	ownerField, _ := codec.FieldByName("owner_id")
	levelField, _ := codec.FieldByName("level")
	expiresField, _ := codec.FieldByName("expires_at")
	keyIDField, _ := codec.FieldByName("key_id")
	pubKeyField, _ := codec.FieldByName("public_key")
	endpointAddrField, _ := codec.FieldByName("endpoint_addr")
	subscriberCursorField, _ := codec.FieldByName("subscriber_cursor")
	ruleExprField, _ := codec.FieldByName("rule_expr")
	realmIDField, _ := codec.FieldByName("realm_id")
	secretField, _ := codec.FieldByName("secret_key_cipher")

	switch n.Kind {
	case types.KindGroup:
		if n.Group != nil {
			enc.PutString(descField, n.Group.Description)
		}
	case types.KindUser:
		if n.User != nil {
			enc.PutString(descField, n.User.Email)
			active := uint64(0)
			if n.User.Active {
				active = 1
			}
			admin := uint64(0)
			if n.User.Admin {
				admin = 1
			}
			enc.PutUint64(levelField, admin<<1|active)
			enc.PutString(endpointAddrField, n.User.ExternalSubject)
		}
	case types.KindProject, types.KindCollection, types.KindDataset, types.KindObject:
		if n.Resource != nil {
			enc.PutString(descField, n.Resource.Description)
			enc.PutString(tagsField, joinTags(n.Resource.Tags))
			enc.PutString(hashField, n.Resource.ContentHash)
			enc.PutUint64(lenField, n.Resource.ContentLen)
			enc.PutString(locField, n.Resource.Location)
		}
	case types.KindToken:
		if n.Token != nil {
			// Withdrawn rides in the otherwise-unused "variant" slot for this
			// kind; Token has no notion of a type variant of its own.
			withdrawn := uint64(0)
			if n.Token.Withdrawn {
				withdrawn = 1
			}
			enc.PutUint64(variantField, withdrawn)
			enc.PutUint64(ownerField, uint64(n.Token.UserIndex))
			enc.PutUint64(levelField, uint64(n.Token.Level))
			enc.PutTime(expiresField, n.Token.ExpiresAt)
			enc.PutString(secretField, n.Token.SecretHash)
			scopeField, _ := codec.FieldByName("scope_id")
			enc.PutUint64(scopeField, uint64(n.Token.Scope))
		}
	case types.KindEndpoint:
		if n.Endpoint != nil {
			enc.PutUint64(levelField, uint64(n.Endpoint.Variant))
			enc.PutString(endpointAddrField, n.Endpoint.HostConfig)
			enc.PutUint64(lenField, uint64(n.Endpoint.Status))
		}
	case types.KindPublicKey:
		if n.PublicKey != nil {
			enc.PutString(keyIDField, n.PublicKey.Serial)
			enc.PutString(pubKeyField, n.PublicKey.PEM)
			if n.PublicKey.HasEndpoint {
				enc.PutUint64(ownerField, uint64(n.PublicKey.OwningEndpoint))
			}
		}
	case types.KindSubscriber:
		if n.Subscriber != nil {
			enc.PutUint64(ownerField, uint64(n.Subscriber.Owner))
			enc.PutUint64(subscriberCursorField, n.Subscriber.Cursor)
		}
	case types.KindRule:
		if n.Rule != nil {
			enc.PutUint64(realmIDField, uint64(n.Rule.OwnerProject))
			enc.PutString(ruleExprField, n.Rule.Source)
		}
	}
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

// AddNode assigns the next dense index to n, persists it, and records the
// ID→index mapping. Must run inside tx (an Update transaction owned by
// internal/dispatch's five-step apply sequence).
func AddNode(tx *bolt.Tx, n *types.Node) (types.Index, error) {
	idMap := tx.Bucket(bucketIDMap)
	if idMap.Get(n.ID.Bytes()) != nil {
		return 0, apierr.Conflict("node id %s already exists", n.ID)
	}

	idx, err := nextIndex(tx)
	if err != nil {
		return 0, apierr.Fatal(err, "allocate node index")
	}
	n.Index = idx

	if err := tx.Bucket(bucketNodes).Put(idxKey(idx), encodeNode(n)); err != nil {
		return 0, apierr.Fatal(err, "write node %d", idx)
	}
	if err := idMap.Put(n.ID.Bytes(), idxKey(idx)); err != nil {
		return 0, apierr.Fatal(err, "write id map for %s", n.ID)
	}
	return idx, nil
}

// UpdateNode rewrites n at its existing Index, used by rename/retitle
// handlers that mutate a node in place rather than allocating a new one.
// n.Index must already be set (e.g. from a prior GetNodeByIndex).
func UpdateNode(tx *bolt.Tx, n *types.Node) error {
	if err := tx.Bucket(bucketNodes).Put(idxKey(n.Index), encodeNode(n)); err != nil {
		return apierr.Fatal(err, "update node %d", n.Index)
	}
	return nil
}

// GetNodeByIndex decodes the node stored at idx.
func GetNodeByIndex(tx *bolt.Tx, idx types.Index) (*types.Node, error) {
	raw := tx.Bucket(bucketNodes).Get(idxKey(idx))
	if raw == nil {
		return nil, apierr.NotFound("node index %d", idx)
	}
	return decodeNode(idx, raw)
}

// GetIndexByID resolves a stable ID to its dense index.
func GetIndexByID(tx *bolt.Tx, id types.ID) (types.Index, error) {
	raw := tx.Bucket(bucketIDMap).Get(id.Bytes())
	if raw == nil {
		return 0, apierr.NotFound("node id %s", id)
	}
	return indexFromKey(raw), nil
}

// GetNodeByID is GetIndexByID followed by GetNodeByIndex.
func GetNodeByID(tx *bolt.Tx, id types.ID) (*types.Node, error) {
	idx, err := GetIndexByID(tx, id)
	if err != nil {
		return nil, err
	}
	return GetNodeByIndex(tx, idx)
}

// decodeNode reads a node record in a single pass, requesting fields in
// strictly ascending field-id order (the only order codec.Decoder.Field
// supports: it matches only the next unconsumed pair and otherwise leaves
// the cursor in place, so any out-of-order request permanently desyncs
// every field read after it). Each kind's fields — common and kind-specific
// alike — are interleaved by their numeric id from internal/codec/fields.go,
// not grouped by "common fields first, then kind data" as the struct
// literal that used to build *types.Node might suggest.
func decodeNode(idx types.Index, raw []byte) (*types.Node, error) {
	dec, err := codec.NewDecoder(raw)
	if err != nil {
		return nil, apierr.Fatal(err, "decode node %d", idx)
	}
	idField, _ := codec.FieldByName("id")
	kindField, _ := codec.FieldByName("kind")
	nameField, _ := codec.FieldByName("name")
	descField, _ := codec.FieldByName("description")
	variantField, _ := codec.FieldByName("variant")
	tagsField, _ := codec.FieldByName("tags")
	createdField, _ := codec.FieldByName("created_at")
	updatedField, _ := codec.FieldByName("updated_at")
	ownerField, _ := codec.FieldByName("owner_id")
	realmIDField, _ := codec.FieldByName("realm_id")
	hashField, _ := codec.FieldByName("content_hash")
	lenField, _ := codec.FieldByName("content_len")
	locField, _ := codec.FieldByName("location")
	keyIDField, _ := codec.FieldByName("key_id")
	pubKeyField, _ := codec.FieldByName("public_key")
	secretField, _ := codec.FieldByName("secret_key_cipher")
	levelField, _ := codec.FieldByName("level")
	expiresField, _ := codec.FieldByName("expires_at")
	ruleExprField, _ := codec.FieldByName("rule_expr")
	endpointAddrField, _ := codec.FieldByName("endpoint_addr")
	subscriberCursorField, _ := codec.FieldByName("subscriber_cursor")
	metadataField, _ := codec.FieldByName("metadata")
	scopeField, _ := codec.FieldByName("scope_id")

	idBytes, err := dec.RequiredField(idField)
	if err != nil {
		return nil, apierr.Fatal(err, "decode node %d id", idx)
	}
	id, err := types.IDFromBytes(idBytes)
	if err != nil {
		return nil, apierr.Fatal(err, "decode node %d id bytes", idx)
	}

	n := &types.Node{ID: id, Index: idx}
	n.Kind = types.NodeKind(dec.Uint64(kindField))
	n.Name = dec.String(nameField)

	switch n.Kind {
	case types.KindGroup:
		desc := dec.String(descField)
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		n.Public = dec.Uint64(metadataField) == 1
		n.Group = &types.GroupData{Description: desc}

	case types.KindUser:
		email := dec.String(descField)
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		level := dec.Uint64(levelField)
		externalSubject := dec.String(endpointAddrField)
		n.Public = dec.Uint64(metadataField) == 1
		n.User = &types.UserData{
			Email:           email,
			ExternalSubject: externalSubject,
			Active:          level&1 == 1,
			Admin:           level&2 == 2,
		}

	case types.KindProject, types.KindCollection, types.KindDataset, types.KindObject:
		desc := dec.String(descField)
		tags := dec.String(tagsField)
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		hash := dec.String(hashField)
		length := dec.Uint64(lenField)
		loc := dec.String(locField)
		n.Public = dec.Uint64(metadataField) == 1
		n.Resource = &types.ResourceData{
			Description: desc,
			Tags:        splitTags(tags),
			ContentHash: hash,
			ContentLen:  length,
			Location:    loc,
		}

	case types.KindToken:
		// Withdrawn rides in the otherwise-unused "variant" slot for this
		// kind; see encodeKindData.
		withdrawn := dec.Uint64(variantField) == 1
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		owner := dec.Uint64(ownerField)
		secret := dec.String(secretField)
		level := dec.Uint64(levelField)
		expires := dec.Time(expiresField)
		n.Public = dec.Uint64(metadataField) == 1
		scope := dec.Uint64(scopeField)
		n.Token = &types.TokenData{
			UserIndex:  types.Index(owner),
			Level:      types.PermissionLevel(level),
			ExpiresAt:  expires,
			SecretHash: secret,
			Scope:      types.Index(scope),
			Withdrawn:  withdrawn,
		}

	case types.KindEndpoint:
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		status := dec.Uint64(lenField)
		variant := dec.Uint64(levelField)
		hostConfig := dec.String(endpointAddrField)
		n.Public = dec.Uint64(metadataField) == 1
		n.Endpoint = &types.EndpointData{
			Variant:    types.EndpointVariant(variant),
			HostConfig: hostConfig,
			Status:     types.EndpointStatus(status),
		}

	case types.KindPublicKey:
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		owner := dec.Uint64(ownerField)
		keyID := dec.String(keyIDField)
		pubKey := dec.String(pubKeyField)
		n.Public = dec.Uint64(metadataField) == 1
		n.PublicKey = &types.PublicKeyData{
			Serial:         keyID,
			PEM:            pubKey,
			OwningEndpoint: types.Index(owner),
			HasEndpoint:    owner != 0,
		}

	case types.KindSubscriber:
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		owner := dec.Uint64(ownerField)
		cursor := dec.Uint64(subscriberCursorField)
		n.Public = dec.Uint64(metadataField) == 1
		n.Subscriber = &types.SubscriberData{
			Owner:  types.Index(owner),
			Cursor: cursor,
		}

	case types.KindRule:
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		realmID := dec.Uint64(realmIDField)
		ruleExpr := dec.String(ruleExprField)
		n.Public = dec.Uint64(metadataField) == 1
		n.Rule = &types.RuleData{
			OwnerProject: types.Index(realmID),
			Source:       ruleExpr,
		}

	default:
		n.CreatedAt = dec.Time(createdField)
		n.UpdatedAt = dec.Time(updatedField)
		n.Public = dec.Uint64(metadataField) == 1
	}

	return n, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func outKey(from types.Index, kind types.EdgeKind, to types.Index) []byte {
	b := make([]byte, 9)
	binary.BigEndian.PutUint32(b[0:4], uint32(from))
	b[4] = byte(kind)
	binary.BigEndian.PutUint32(b[5:9], uint32(to))
	return b
}

func inKey(to types.Index, kind types.EdgeKind, from types.Index) []byte {
	b := make([]byte, 9)
	binary.BigEndian.PutUint32(b[0:4], uint32(to))
	b[4] = byte(kind)
	binary.BigEndian.PutUint32(b[5:9], uint32(from))
	return b
}

func prefix(idx types.Index, kind types.EdgeKind) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b[0:4], uint32(idx))
	b[4] = byte(kind)
	return b
}

// AddEdge records a directed edge, enforcing spec §3's structural
// invariants: endpoints must exist, a belongs_to edge must not create a
// cycle, and a node may carry at most one outgoing belongs_to (callers are
// expected to have checked the "at most one" part via HasParent before
// calling, since that's a domain rule about which kinds may even attempt
// it, not a graph-level invariant the edge store can know on its own).
func AddEdge(tx *bolt.Tx, from types.Index, kind types.EdgeKind, to types.Index, level types.PermissionLevel, name string) error {
	if _, err := GetNodeByIndex(tx, from); err != nil {
		return apierr.InvalidArgument("edge source %d does not exist", from)
	}
	if _, err := GetNodeByIndex(tx, to); err != nil {
		return apierr.InvalidArgument("edge target %d does not exist", to)
	}
	if kind == types.EdgeBelongsTo {
		if wouldCycle(tx, from, to) {
			return apierr.Conflict("belongs_to edge from %d to %d would create a cycle", from, to)
		}
	}

	val := make([]byte, 2)
	val[0] = byte(level)
	if kind == types.EdgeNamedRelation {
		val = append(val, []byte(name)...)
	}

	if err := tx.Bucket(bucketOutEdges).Put(outKey(from, kind, to), val); err != nil {
		return apierr.Fatal(err, "write out edge %d->%d", from, to)
	}
	if err := tx.Bucket(bucketInEdges).Put(inKey(to, kind, from), val); err != nil {
		return apierr.Fatal(err, "write in edge %d<-%d", to, from)
	}
	return nil
}

// wouldCycle reports whether adding from->to (belongs_to) would let a
// belongs_to walk starting at to eventually reach from.
func wouldCycle(tx *bolt.Tx, from, to types.Index) bool {
	if from == to {
		return true
	}
	cur := to
	seen := map[types.Index]bool{}
	for {
		parent, ok := Parent(tx, cur)
		if !ok {
			return false
		}
		if parent == from {
			return true
		}
		if seen[parent] {
			return false
		}
		seen[parent] = true
		cur = parent
	}
}

// Parent returns the single node a given index has a belongs_to edge to,
// if any.
func Parent(tx *bolt.Tx, idx types.Index) (types.Index, bool) {
	c := tx.Bucket(bucketOutEdges).Cursor()
	p := prefix(idx, types.EdgeBelongsTo)
	k, _ := c.Seek(p)
	if k == nil || len(k) < 9 || !bytesHasPrefix(k, p) {
		return 0, false
	}
	return indexFromKey(k[5:9]), true
}

func bytesHasPrefix(b, p []byte) bool {
	if len(b) < len(p) {
		return false
	}
	for i := range p {
		if b[i] != p[i] {
			return false
		}
	}
	return true
}

// Children returns the indices with a belongs_to edge pointing at parent.
func Children(tx *bolt.Tx, parent types.Index) []types.Index {
	var out []types.Index
	c := tx.Bucket(bucketInEdges).Cursor()
	p := prefix(parent, types.EdgeBelongsTo)
	for k, _ := c.Seek(p); k != nil && bytesHasPrefix(k, p); k, _ = c.Next() {
		out = append(out, indexFromKey(k[5:9]))
	}
	return out
}

// OutEdges returns the target indices and levels for every edge of kind
// originating at from.
func OutEdges(tx *bolt.Tx, from types.Index, kind types.EdgeKind) ([]types.Index, []types.PermissionLevel) {
	var idxs []types.Index
	var levels []types.PermissionLevel
	c := tx.Bucket(bucketOutEdges).Cursor()
	p := prefix(from, kind)
	for k, v := c.Seek(p); k != nil && bytesHasPrefix(k, p); k, v = c.Next() {
		idxs = append(idxs, indexFromKey(k[5:9]))
		if len(v) > 0 {
			levels = append(levels, types.PermissionLevel(v[0]))
		} else {
			levels = append(levels, types.LevelNone)
		}
	}
	return idxs, levels
}

// InEdges returns the source indices and levels for every edge of kind
// terminating at to, the mirror of OutEdges over bucketInEdges.
func InEdges(tx *bolt.Tx, to types.Index, kind types.EdgeKind) ([]types.Index, []types.PermissionLevel) {
	var idxs []types.Index
	var levels []types.PermissionLevel
	c := tx.Bucket(bucketInEdges).Cursor()
	p := prefix(to, kind)
	for k, v := c.Seek(p); k != nil && bytesHasPrefix(k, p); k, v = c.Next() {
		idxs = append(idxs, indexFromKey(k[5:9]))
		if len(v) > 0 {
			levels = append(levels, types.PermissionLevel(v[0]))
		} else {
			levels = append(levels, types.LevelNone)
		}
	}
	return idxs, levels
}

// CheckParentExists implements constraint.rs's ParentExists check.
func CheckParentExists(tx *bolt.Tx, parent types.Index) error {
	if _, err := GetNodeByIndex(tx, parent); err != nil {
		return apierr.InvalidArgument("parent %d does not exist", parent)
	}
	return nil
}

// CheckProjectNameUnique implements the project-namespace branch of
// constraint.rs's UniqueName check: project names are unique across every
// project, not scoped to a parent (projects have no belongs_to parent).
func CheckProjectNameUnique(tx *bolt.Tx, name string) error {
	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n, err := decodeNode(indexFromKey(k), v)
		if err != nil {
			return err
		}
		if n.Kind == types.KindProject && n.Name == name {
			return apierr.Conflict("project name %q already exists", name)
		}
	}
	return nil
}

// CheckSiblingNameUnique implements the hierarchy branch of
// constraint.rs's UniqueName check: name must be unique among the
// children of parent reachable by belongs_to.
func CheckSiblingNameUnique(tx *bolt.Tx, parent types.Index, name string) error {
	for _, child := range Children(tx, parent) {
		n, err := GetNodeByIndex(tx, child)
		if err != nil {
			return err
		}
		if n.Name == name {
			return apierr.Conflict("name %q already exists under parent %d", name, parent)
		}
	}
	return nil
}

// AnyNodeOfKind reports whether at least one node of kind exists, used by
// internal/dispatch to detect the pre-bootstrap state where RegisterUser
// must be reachable without an authenticated principal (spec §6's
// "the very first RegisterUser call is the one case Public() suffices").
func AnyNodeOfKind(tx *bolt.Tx, kind types.NodeKind) bool {
	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n, err := decodeNode(indexFromKey(k), v)
		if err != nil {
			continue
		}
		if n.Kind == kind {
			return true
		}
	}
	return false
}

// NodeCounts tallies live nodes by kind, for the Stats read (spec §6's
// GetStats). It's a full bucket scan rather than a maintained counter,
// matching AnyNodeOfKind's approach — stats are read rarely enough that
// maintaining a running tally isn't worth the extra write-path bookkeeping.
func NodeCounts(tx *bolt.Tx) map[string]int {
	counts := make(map[string]int)
	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n, err := decodeNode(indexFromKey(k), v)
		if err != nil {
			continue
		}
		counts[n.Kind.String()]++
	}
	return counts
}

// CheckProjectNameUniqueExcept is CheckProjectNameUnique but ignores a
// collision with except itself, for renaming a project to a name it
// already holds (a no-op rename) without falsely reporting a conflict.
func CheckProjectNameUniqueExcept(tx *bolt.Tx, name string, except types.Index) error {
	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		idx := indexFromKey(k)
		if idx == except {
			continue
		}
		n, err := decodeNode(idx, v)
		if err != nil {
			return err
		}
		if n.Kind == types.KindProject && n.Name == name {
			return apierr.Conflict("project name %q already exists", name)
		}
	}
	return nil
}

// CheckSiblingNameUniqueExcept is CheckSiblingNameUnique but ignores a
// collision with except itself.
func CheckSiblingNameUniqueExcept(tx *bolt.Tx, parent types.Index, name string, except types.Index) error {
	for _, child := range Children(tx, parent) {
		if child == except {
			continue
		}
		n, err := GetNodeByIndex(tx, child)
		if err != nil {
			return err
		}
		if n.Name == name {
			return apierr.Conflict("name %q already exists under parent %d", name, parent)
		}
	}
	return nil
}

// PublicUniverse returns the bitmap of every node index marked public,
// per spec §3: "Public universe = set of node indices marked public=true."
func PublicUniverse(tx *bolt.Tx) (*roaring.Bitmap, error) {
	bm := roaring.New()
	c := tx.Bucket(bucketNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		idx := indexFromKey(k)
		n, err := decodeNode(idx, v)
		if err != nil {
			return nil, err
		}
		if n.Public {
			bm.Add(uint32(idx))
		}
	}
	return bm, nil
}

// UniverseForGroups implements spec §3's read-permission universe: "union
// over groups the user is in of that group's granted indices plus
// descendants reachable by belongs_to", grounded on search.rs's
// get_read_permission_universe.
func UniverseForGroups(tx *bolt.Tx, groups []types.Index) (*roaring.Bitmap, error) {
	bm := roaring.New()
	for _, g := range groups {
		granted, _ := OutEdges(tx, g, types.EdgePermission)
		for _, idx := range granted {
			bm.Add(uint32(idx))
			addDescendants(tx, idx, bm)
		}
	}
	return bm, nil
}

func addDescendants(tx *bolt.Tx, idx types.Index, bm *roaring.Bitmap) {
	for _, child := range Children(tx, idx) {
		if bm.Contains(uint32(child)) {
			continue
		}
		bm.Add(uint32(child))
		addDescendants(tx, child, bm)
	}
}

// EffectiveLevel folds every permission edge reaching idx (directly, or via
// an ancestor's grant widened by belongs_to descent) to its maximum, per
// spec §3: "the effective level is the maximum across all paths granting
// access."
func EffectiveLevel(tx *bolt.Tx, groups []types.Index, idx types.Index) types.PermissionLevel {
	best := types.LevelNone
	for _, g := range groups {
		granted, levels := OutEdges(tx, g, types.EdgePermission)
		for i, gi := range granted {
			if gi == idx {
				best = types.Max(best, levels[i])
				continue
			}
			if isDescendant(tx, gi, idx) {
				best = types.Max(best, levels[i])
			}
		}
	}
	return best
}

func isDescendant(tx *bolt.Tx, ancestor, candidate types.Index) bool {
	cur := candidate
	seen := map[types.Index]bool{}
	for {
		parent, ok := Parent(tx, cur)
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		if seen[parent] {
			return false
		}
		seen[parent] = true
		cur = parent
	}
}

// GroupsForUser returns the indices of every group a user is a member_of.
func GroupsForUser(tx *bolt.Tx, user types.Index) []types.Index {
	idxs, _ := OutEdges(tx, user, types.EdgeMemberOf)
	return idxs
}

