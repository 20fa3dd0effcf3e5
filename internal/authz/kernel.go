package authz

import (
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/types"
)

// Principal is a resolved requester: the user index a validated token (or
// impersonation) traces back to, plus the facts Authorize needs to check
// contexts against. Groups and Admin/Active are read once per request from
// the graph, not cached across requests, matching warren's general
// pattern of re-reading store state rather than keeping a separate
// in-memory mirror.
type Principal struct {
	UserIndex types.Index
	Admin     bool
	Active    bool
	Groups    []types.Index
}

// LoadPrincipal resolves a Principal for userIdx from the graph.
func LoadPrincipal(tx *bolt.Tx, userIdx types.Index) (Principal, error) {
	n, err := graph.GetNodeByIndex(tx, userIdx)
	if err != nil {
		return Principal{}, err
	}
	if n.Kind != types.KindUser || n.User == nil {
		return Principal{}, apierr.InvalidArgument("index %d is not a user", userIdx)
	}
	return Principal{
		UserIndex: userIdx,
		Admin:     n.User.Admin,
		Active:    n.User.Active,
		Groups:    graph.GroupsForUser(tx, userIdx),
	}, nil
}

// CheckTokenLive verifies that tokenIdx names an existing, non-withdrawn
// Token node belonging to userIdx — spec §4.E's "checks... that (sub,
// token-idx) names a live token in the user record", applied on every
// request rather than trusted once at issuance, so withdrawing a token
// takes effect before its signed exp elapses.
func CheckTokenLive(tx *bolt.Tx, userIdx, tokenIdx types.Index) error {
	n, err := graph.GetNodeByIndex(tx, tokenIdx)
	if err != nil {
		return apierr.Unauthenticated("token index %d does not exist", tokenIdx)
	}
	if n.Kind != types.KindToken || n.Token == nil {
		return apierr.Unauthenticated("index %d is not a token", tokenIdx)
	}
	if n.Token.UserIndex != userIdx {
		return apierr.Unauthenticated("token %d does not belong to user %d", tokenIdx, userIdx)
	}
	if n.Token.Withdrawn {
		return apierr.Unauthenticated("token %d has been withdrawn", tokenIdx)
	}
	return nil
}

// Authorize checks that principal satisfies every context, per spec §4.F's
// four-step algorithm: each required context must independently hold.
func Authorize(tx *bolt.Tx, principal Principal, contexts []Context) error {
	for _, c := range contexts {
		if err := authorizeOne(tx, principal, c); err != nil {
			return err
		}
	}
	return nil
}

func authorizeOne(tx *bolt.Tx, p Principal, c Context) error {
	switch c.variant {
	case ctxPublic:
		return nil
	case ctxActivated:
		if !p.Active {
			return apierr.PermissionDenied("principal is not activated")
		}
		return nil
	case ctxUser:
		if p.UserIndex != c.userIndex && !p.Admin {
			return apierr.PermissionDenied("principal is not user %d", c.userIndex)
		}
		return nil
	case ctxGlobalAdmin:
		if !p.Admin {
			return apierr.PermissionDenied("principal is not a global admin")
		}
		return nil
	case ctxResource:
		return authorizeResource(tx, p, c.resourceIndex, c.level)
	case ctxSubscriberOwner:
		return authorizeSubscriberOwner(tx, p, c.resourceIndex)
	default:
		return apierr.Fatal(nil, "authz: unknown context variant %d", c.variant)
	}
}

// authorizeResource implements spec §4.F step 3: admin, direct ownership,
// or an ancestor grant (folded to its maximum by graph.EffectiveLevel)
// satisfies the requirement.
func authorizeResource(tx *bolt.Tx, p Principal, resource types.Index, required types.PermissionLevel) error {
	if p.Admin {
		return nil
	}
	owned, _ := graph.OutEdges(tx, p.UserIndex, types.EdgeOwns)
	for _, idx := range owned {
		if idx == resource {
			return nil
		}
	}
	if graph.EffectiveLevel(tx, p.Groups, resource).Satisfies(required) {
		return nil
	}
	return apierr.PermissionDenied("principal lacks %s on resource %d", required, resource)
}

func authorizeSubscriberOwner(tx *bolt.Tx, p Principal, subscriber types.Index) error {
	if p.Admin {
		return nil
	}
	n, err := graph.GetNodeByIndex(tx, subscriber)
	if err != nil {
		return err
	}
	if n.Kind != types.KindSubscriber || n.Subscriber == nil {
		return apierr.InvalidArgument("index %d is not a subscriber", subscriber)
	}
	if !n.Subscriber.OwnerIsGroup && n.Subscriber.Owner == p.UserIndex {
		return nil
	}
	if n.Subscriber.OwnerIsGroup {
		for _, g := range p.Groups {
			if g == n.Subscriber.Owner {
				return nil
			}
		}
	}
	return apierr.PermissionDenied("principal does not own subscriber %d", subscriber)
}

// AuthorizeImpersonation implements the proxy-impersonation resolution from
// permission_handler.rs's check_permissions: a proxy-bearer token acting_for
// a user must itself satisfy contexts+User(actingFor) (proving the proxy is
// trusted to act for that user), and the impersonated principal must
// independently satisfy the original contexts.
func AuthorizeImpersonation(tx *bolt.Tx, proxy, actingFor Principal, contexts []Context) error {
	extended := make([]Context, 0, len(contexts)+1)
	extended = append(extended, contexts...)
	extended = append(extended, User(actingFor.UserIndex))

	if err := Authorize(tx, proxy, extended); err != nil {
		return apierr.PermissionDenied("proxy not trusted to act for user %d", actingFor.UserIndex)
	}
	return Authorize(tx, actingFor, contexts)
}
