package types

import "time"

// NodeKind tags the variant a Node record holds, per spec §3's "Node
// kinds" list.
type NodeKind uint8

const (
	KindUnknown NodeKind = iota
	KindRealm
	KindGroup
	KindUser
	KindProject
	KindCollection
	KindDataset
	KindObject
	KindToken
	KindEndpoint
	KindPublicKey
	KindSubscriber
	KindEvent
	KindRule
)

func (k NodeKind) String() string {
	switch k {
	case KindRealm:
		return "realm"
	case KindGroup:
		return "group"
	case KindUser:
		return "user"
	case KindProject:
		return "project"
	case KindCollection:
		return "collection"
	case KindDataset:
		return "dataset"
	case KindObject:
		return "object"
	case KindToken:
		return "token"
	case KindEndpoint:
		return "endpoint"
	case KindPublicKey:
		return "public_key"
	case KindSubscriber:
		return "subscriber"
	case KindEvent:
		return "event"
	case KindRule:
		return "rule"
	default:
		return "unknown"
	}
}

// EdgeKind tags a directed relation between two node indices, per spec §3's
// "Edge kinds" list. PermissionLevel is only meaningful on a Permission
// edge; it's zero (NONE) for every other kind.
type EdgeKind uint8

const (
	EdgeUnknown EdgeKind = iota
	EdgeBelongsTo
	EdgePermission
	EdgeMemberOf
	EdgeOwns
	EdgeTrusts
	EdgeReplicatedAt
	// EdgeNamedRelation covers the "user-defined named relations (variant
	// registry)" clause: Name carries the registered relation name.
	EdgeNamedRelation
	// EdgeRuleBinding attaches a Rule node to an additional project beyond
	// its OwnerProject; unlike belongs_to, a node may carry many of these,
	// since a rule can be bound to any number of projects.
	EdgeRuleBinding
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeBelongsTo:
		return "belongs_to"
	case EdgePermission:
		return "permission"
	case EdgeMemberOf:
		return "member_of"
	case EdgeOwns:
		return "owns"
	case EdgeTrusts:
		return "trusts"
	case EdgeReplicatedAt:
		return "replicated_at"
	case EdgeNamedRelation:
		return "named_relation"
	case EdgeRuleBinding:
		return "rule_binding"
	default:
		return "unknown"
	}
}

// PermissionLevel is a totally ordered permission grant, per spec §3:
// "Permission levels compare totally; the effective level is the maximum
// across all paths granting access."
type PermissionLevel uint8

const (
	LevelNone PermissionLevel = iota
	LevelRead
	LevelAppend
	LevelWrite
	LevelAdmin
)

func (l PermissionLevel) String() string {
	switch l {
	case LevelRead:
		return "READ"
	case LevelAppend:
		return "APPEND"
	case LevelWrite:
		return "WRITE"
	case LevelAdmin:
		return "ADMIN"
	default:
		return "NONE"
	}
}

// Satisfies reports whether l meets or exceeds required.
func (l PermissionLevel) Satisfies(required PermissionLevel) bool {
	return l >= required
}

// Max returns the greater of two permission levels, used when folding the
// per-path grants of §3's "effective level" rule.
func Max(a, b PermissionLevel) PermissionLevel {
	if a > b {
		return a
	}
	return b
}

// EndpointVariant distinguishes a persistent storage endpoint from a cache
// endpoint, per spec §3's Endpoint node kind.
type EndpointVariant uint8

const (
	EndpointPersistent EndpointVariant = iota
	EndpointCache
)

// EndpointStatus is the operational state of a registered endpoint.
type EndpointStatus uint8

const (
	EndpointStatusUnknown EndpointStatus = iota
	EndpointStatusAvailable
	EndpointStatusUnavailable
	EndpointStatusMaintenance
)

// Node is the common envelope every node kind is stored under; Kind selects
// which of the embedded pointers is populated. This mirrors the tagged-
// variant shape of the original's node enum while staying a plain Go
// struct, which internal/codec encodes as one field-tagged record per node
// regardless of kind.
type Node struct {
	ID        ID
	Index     Index
	Kind      NodeKind
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Public    bool

	Realm      *RealmData
	Group      *GroupData
	User       *UserData
	Resource   *ResourceData // Project, Collection, Dataset, Object share this shape
	Token      *TokenData
	Endpoint   *EndpointData
	PublicKey  *PublicKeyData
	Subscriber *SubscriberData
	Event      *EventData
	Rule       *RuleData
}

// RealmData holds Realm-specific fields.
type RealmData struct{}

// GroupData holds Group-specific fields.
type GroupData struct {
	Description string
}

// UserData holds User-specific fields. A user's tokens and trusted
// endpoints are not held here; they live only in the graph, as Token nodes
// and `trusts` edges.
type UserData struct {
	DisplayName     string
	Email           string
	ExternalSubject string
	Admin           bool
	ServiceAccount  bool
	Active          bool
}

// ResourceData is shared by Project, Collection, Dataset, and Object nodes
// — the spec describes them as "name unique among siblings" with no other
// kind-specific fields beyond an optional content hash for Object.
type ResourceData struct {
	Description string
	Tags        []string
	ContentHash string // Object only; empty for Project/Collection/Dataset
	ContentLen  uint64 // Object only
	Location    string // Object only: storage-endpoint-relative path
}

// TokenData holds Token-specific fields. Scope is the resource index the
// token was scoped to at creation time (spec §3's Lifecycle note).
type TokenData struct {
	UserIndex  Index
	Scope      Index
	Level      PermissionLevel
	ExpiresAt  time.Time
	Withdrawn  bool
	SecretHash string
}

// EndpointData holds Endpoint-specific fields.
type EndpointData struct {
	Variant    EndpointVariant
	HostConfig string
	Status     EndpointStatus
}

// PublicKeyData holds PublicKey-specific fields. OwningEndpoint is the zero
// Index when the key isn't bound to an endpoint.
type PublicKeyData struct {
	Serial         string
	OwningEndpoint Index
	HasEndpoint    bool
	PEM            string
}

// SubscriberData holds Subscriber-specific fields. Owner is either a User or
// a Group index; OwnerIsGroup disambiguates. Cursor is a denormalized
// snapshot for display only — internal/eventlog's own cursor bucket is the
// source of truth consulted by Poll, since advancing it must happen in the
// same transaction as the event scan without re-encoding the whole node.
type SubscriberData struct {
	Owner        Index
	OwnerIsGroup bool
	Cursor       uint64
}

// EventData holds Event-specific fields.
type EventData struct {
	EventID uint64
	TxBytes []byte
}

// RuleData holds Rule-specific fields. Source is retained for display and
// recompilation; the compiled program lives only in internal/rules's cache,
// never persisted, since expr.Program isn't serializable.
type RuleData struct {
	OwnerProject Index
	Source       string
}

// Edge is a directed relation between two node indices.
type Edge struct {
	From  Index
	Kind  EdgeKind
	To    Index
	Level PermissionLevel // meaningful only when Kind == EdgePermission
	Name  string          // meaningful only when Kind == EdgeNamedRelation
}
