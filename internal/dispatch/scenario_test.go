package dispatch

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/codec"
	"github.com/cuemby/strata/internal/eventlog"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/identity"
	"github.com/cuemby/strata/internal/rules"
	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

// harness wires a Registry against a temp-dir store, an in-memory search
// index, and a fresh EdDSA keypair — the same components
// internal/consensus.FSM wires in production, minus Raft itself. These
// tests exercise Apply directly, the way a single committed log entry
// would be applied on any node.
type harness struct {
	t      *testing.T
	r      *Registry
	broker *eventlog.Broker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	names := append(append([][]byte{}, graph.Buckets()...), eventlog.Buckets()...)
	env, err := store.Open(t.TempDir(), names...)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	idx, err := search.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuer := identity.NewIssuer("test-key", priv, pub)

	broker := eventlog.NewBroker()
	reg := NewRegistry(env, rules.NewEngine(), idx, issuer, broker)
	return &harness{t: t, r: reg, broker: broker}
}

// apply hand-builds an envelope for tag, encoded by build, stamps
// requester, and runs it through Registry.Apply exactly as a committed
// Raft log entry would be.
func (h *harness) apply(tag Tag, requester types.Index, build func(*codec.Encoder)) (uint64, []byte, error) {
	enc := codec.NewEncoder()
	if build != nil {
		build(enc)
	}
	payload := encodeEnvelope(envelope{tag: tag, requester: requester, body: enc.Encode()})
	return h.r.Apply(payload)
}

func (h *harness) mustApply(tag Tag, requester types.Index, build func(*codec.Encoder)) []byte {
	h.t.Helper()
	_, result, err := h.apply(tag, requester, build)
	require.NoError(h.t, err)
	return result
}

func (h *harness) indexOf(id []byte) types.Index {
	h.t.Helper()
	parsedID, err := types.IDFromBytes(id)
	require.NoError(h.t, err)
	var idx types.Index
	require.NoError(h.t, h.r.env.View(func(tx *bolt.Tx) error {
		var err error
		idx, err = graph.GetIndexByID(tx, parsedID)
		return err
	}))
	return idx
}

// registerBootstrapUser runs the one RegisterUser call reachable before any
// User node exists, which Registry.resolvePrincipal special-cases to
// authorize under Public() rather than GlobalAdmin(); the resulting user
// is flagged Admin per handleRegisterUser's bootstrap branch.
func registerBootstrapUser(h *harness, name string) types.Index {
	h.t.Helper()
	idBytes := h.mustApply(TagRegisterUser, 0, func(e *codec.Encoder) {
		e.PutString(fName, name)
	})
	return h.indexOf(idBytes)
}

func registerUser(h *harness, admin types.Index, name string) types.Index {
	h.t.Helper()
	idBytes := h.mustApply(TagRegisterUser, admin, func(e *codec.Encoder) {
		e.PutString(fName, name)
	})
	return h.indexOf(idBytes)
}

// TestCreateProjectAndReadBack covers the first scenario: a freshly
// registered (bootstrap, hence admin) user creates a project and can read
// it straight back out of the graph by the ID the handler returned.
func TestCreateProjectAndReadBack(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")

	idBytes := h.mustApply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "galaxy")
		e.PutString(fDescription, "a catalog of galaxies")
		e.PutUint64(fPublic, 0)
	})
	id, err := types.IDFromBytes(idBytes)
	require.NoError(t, err)

	require.NoError(t, h.r.env.View(func(tx *bolt.Tx) error {
		node, err := graph.GetNodeByID(tx, id)
		require.NoError(t, err)
		require.Equal(t, types.KindProject, node.Kind)
		require.Equal(t, "galaxy", node.Name)
		require.Equal(t, "a catalog of galaxies", node.Resource.Description)
		require.False(t, node.Public)
		return nil
	}))
}

// TestHierarchyAndSiblingUniqueness covers the second scenario: a
// Collection nested under a Project, with the sibling-uniqueness
// constraint rejecting a second child of the same name under the same
// parent while allowing that name again under a different parent.
func TestHierarchyAndSiblingUniqueness(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")

	projectIdx := h.indexOf(h.mustApply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "atlas")
		e.PutUint64(fPublic, 0)
	}))
	otherProjectIdx := h.indexOf(h.mustApply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "atlas-2")
		e.PutUint64(fPublic, 0)
	}))

	childID := h.mustApply(TagCreateResource, admin, func(e *codec.Encoder) {
		e.PutString(fName, "raw")
		e.PutUint64(fVariant, uint64(types.KindCollection))
		e.PutUint64(fParentID, uint64(projectIdx))
	})
	require.NotEmpty(t, childID)

	_, _, err := h.apply(TagCreateResource, admin, func(e *codec.Encoder) {
		e.PutString(fName, "raw")
		e.PutUint64(fVariant, uint64(types.KindCollection))
		e.PutUint64(fParentID, uint64(projectIdx))
	})
	require.Error(t, err)
	require.Equal(t, apierr.KindConflict, apierr.KindOf(err))

	// The same name is free again under a different parent.
	secondChildID := h.mustApply(TagCreateResource, admin, func(e *codec.Encoder) {
		e.PutString(fName, "raw")
		e.PutUint64(fVariant, uint64(types.KindCollection))
		e.PutUint64(fParentID, uint64(otherProjectIdx))
	})
	require.NotEmpty(t, secondChildID)
}

// buildUniverse mirrors internal/dispatch/service.go's Search universe
// construction for a non-admin principal: the public universe, the
// caller's group-granted universe, and anything the caller directly owns.
func buildUniverse(h *harness, user types.Index) *roaring.Bitmap {
	h.t.Helper()
	bm := roaring.New()
	require.NoError(h.t, h.r.env.View(func(tx *bolt.Tx) error {
		pub, err := graph.PublicUniverse(tx)
		if err != nil {
			return err
		}
		bm.Or(pub)
		groups := graph.GroupsForUser(tx, user)
		grp, err := graph.UniverseForGroups(tx, groups)
		if err != nil {
			return err
		}
		bm.Or(grp)
		owned, _ := graph.OutEdges(tx, user, types.EdgeOwns)
		for _, idx := range owned {
			bm.Add(uint32(idx))
		}
		return nil
	}))
	return bm
}

// TestPermissionUniverseScopesSearch covers the third scenario: a group
// member can search and find a resource their group was granted READ
// access to, while an unrelated activated user searching the same term
// finds nothing — spec §4.C's permission-universe semantics.
func TestPermissionUniverseScopesSearch(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")
	member := registerUser(h, admin, "member")
	outsider := registerUser(h, admin, "outsider")

	groupIdx := h.indexOf(h.mustApply(TagCreateGroup, admin, func(e *codec.Encoder) {
		e.PutString(fName, "astronomers")
	}))
	projectID := h.mustApply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "nebula-survey")
		e.PutUint64(fPublic, 0)
	})
	projectIdx := h.indexOf(projectID)
	projectTypeID, err := types.IDFromBytes(projectID)
	require.NoError(t, err)

	require.NoError(t, h.r.env.Update(func(tx *bolt.Tx) error {
		if err := graph.AddEdge(tx, member, types.EdgeMemberOf, groupIdx, types.LevelNone, ""); err != nil {
			return err
		}
		return graph.AddEdge(tx, groupIdx, types.EdgePermission, projectIdx, types.LevelRead, "")
	}))

	memberUniverse := buildUniverse(h, member)
	outsiderUniverse := buildUniverse(h, outsider)

	_, memberHits, err := h.r.search.Query("nebula", nil, 0, 10, memberUniverse)
	require.NoError(t, err)
	require.Contains(t, memberHits, projectTypeID)

	_, outsiderHits, err := h.r.search.Query("nebula", nil, 0, 10, outsiderUniverse)
	require.NoError(t, err)
	require.NotContains(t, outsiderHits, projectTypeID)
}

// TestTokenCreationDerivesVerifiableSecret covers the fourth scenario: a
// created token's returned JWT validates, and the plaintext secret's
// sha256 matches the hash persisted on the Token node rather than the
// secret itself ever being stored.
func TestTokenCreationDerivesVerifiableSecret(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")

	_, result, err := h.apply(TagCreateToken, admin, func(e *codec.Encoder) {
		e.PutUint64(fOwnerID, uint64(admin))
		e.PutUint64(fLevel, uint64(types.LevelAdmin))
		e.PutUint64(fScopeID, uint64(admin))
	})
	require.NoError(t, err)

	tokenID, accessKey, secretHex, jwtStr, err := decodeTokenResult(result)
	require.NoError(t, err)
	require.NotEmpty(t, accessKey)
	require.NotEmpty(t, jwtStr)

	secretRaw, err := hex.DecodeString(secretHex)
	require.NoError(t, err)
	wantHash := sha256.Sum256(secretRaw)

	require.NoError(t, h.r.env.View(func(tx *bolt.Tx) error {
		node, err := graph.GetNodeByID(tx, tokenID)
		require.NoError(t, err)
		require.Equal(t, types.KindToken, node.Kind)
		require.Equal(t, hex.EncodeToString(wantHash[:]), node.Token.SecretHash)
		return nil
	}))

	claims, err := h.r.issuer.Validate(jwtStr)
	require.NoError(t, err)
	require.Equal(t, uint32(admin), claims.UserIndex)
	require.Equal(t, types.LevelAdmin, claims.Level)
}

// TestEventStreamRecordsEveryAttempt covers the fifth scenario: both a
// succeeding and a failing transaction append an event, and UnwrapEvent
// recovers the failed flag and the original proposed payload for each.
func TestEventStreamRecordsEveryAttempt(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")

	okEventID, _, err := h.apply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "ledger")
		e.PutUint64(fPublic, 0)
	})
	require.NoError(t, err)

	// A second RegisterUser from a non-admin principal is rejected by
	// GlobalAdmin(), but the attempt still appends a failed event.
	outsider := registerUser(h, admin, "outsider")
	failEventID, _, applyErr := h.apply(TagRegisterUser, outsider, func(e *codec.Encoder) {
		e.PutString(fName, "impostor")
	})
	require.Error(t, applyErr)
	require.NotEqual(t, okEventID, failEventID)

	require.NoError(t, h.r.env.View(func(tx *bolt.Tx) error {
		okBytes, err := eventlog.Get(tx, okEventID)
		require.NoError(t, err)
		failed, payload := UnwrapEvent(okBytes)
		require.False(t, failed)
		okEnv, derr := decodeEnvelope(payload)
		require.NoError(t, derr)
		require.Equal(t, TagCreateProject, okEnv.tag)

		failBytes, err := eventlog.Get(tx, failEventID)
		require.NoError(t, err)
		failedFlag, failPayload := UnwrapEvent(failBytes)
		require.True(t, failedFlag)
		failEnv, derr := decodeEnvelope(failPayload)
		require.NoError(t, derr)
		require.Equal(t, TagRegisterUser, failEnv.tag)
		return nil
	}))
}

// TestRuleBindingDeniesNonConformingResource covers the sixth scenario: a
// rule bound to a project rejects a resource that doesn't satisfy it,
// while an otherwise identical resource that does satisfy the rule is
// created successfully.
func TestRuleBindingDeniesNonConformingResource(t *testing.T) {
	h := newHarness(t)
	admin := registerBootstrapUser(h, "root")

	projectIdx := h.indexOf(h.mustApply(TagCreateProject, admin, func(e *codec.Encoder) {
		e.PutString(fName, "curated")
		e.PutUint64(fPublic, 0)
	}))

	ruleIdx := h.indexOf(h.mustApply(TagCreateRule, admin, func(e *codec.Encoder) {
		e.PutString(fRuleExpr, `"approved" in Tags`)
		e.PutUint64(fProjectID, uint64(projectIdx))
	}))
	require.NotZero(t, ruleIdx)

	_, _, err := h.apply(TagCreateResource, admin, func(e *codec.Encoder) {
		e.PutString(fName, "draft-object")
		e.PutUint64(fVariant, uint64(types.KindDataset))
		e.PutString(fTags, "draft")
		e.PutUint64(fParentID, uint64(projectIdx))
	})
	require.Error(t, err)
	require.Equal(t, apierr.KindPermissionDenied, apierr.KindOf(err))

	okID := h.mustApply(TagCreateResource, admin, func(e *codec.Encoder) {
		e.PutString(fName, "approved-object")
		e.PutUint64(fVariant, uint64(types.KindDataset))
		e.PutString(fTags, "approved")
		e.PutUint64(fParentID, uint64(projectIdx))
	})
	require.NotEmpty(t, okID)
}
