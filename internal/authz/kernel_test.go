package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

func newNode(t *testing.T, kind types.NodeKind, name string) *types.Node {
	t.Helper()
	id, err := types.NewID(time.Now())
	require.NoError(t, err)
	n := &types.Node{ID: id, Kind: kind, Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if kind == types.KindUser {
		n.User = &types.UserData{Active: true}
	}
	return n
}

func TestPublicAlwaysSucceeds(t *testing.T) {
	env, err := store.Open(t.TempDir(), graph.Buckets()...)
	require.NoError(t, err)
	defer env.Close()

	err = env.View(func(tx *bolt.Tx) error {
		return Authorize(tx, Principal{}, []Context{Public()})
	})
	require.NoError(t, err)
}

func TestActivatedRequiresActiveFlag(t *testing.T) {
	require.NoError(t, Authorize(nil, Principal{Active: true}, []Context{Activated()}))
	err := Authorize(nil, Principal{Active: false}, []Context{Activated()})
	require.Error(t, err)
	require.Equal(t, apierr.KindPermissionDenied, apierr.KindOf(err))
}

func TestGlobalAdminRequiresAdminFlag(t *testing.T) {
	require.NoError(t, Authorize(nil, Principal{Admin: true}, []Context{GlobalAdmin()}))
	require.Error(t, Authorize(nil, Principal{Admin: false}, []Context{GlobalAdmin()}))
}

func TestResourceContextViaGroupGrant(t *testing.T) {
	env, err := store.Open(t.TempDir(), graph.Buckets()...)
	require.NoError(t, err)
	defer env.Close()

	var groupIdx, projectIdx types.Index
	err = env.Update(func(tx *bolt.Tx) error {
		group := newNode(t, types.KindGroup, "g")
		groupIdx, err = graph.AddNode(tx, group)
		require.NoError(t, err)
		project := newNode(t, types.KindProject, "p")
		projectIdx, err = graph.AddNode(tx, project)
		require.NoError(t, err)
		return graph.AddEdge(tx, groupIdx, types.EdgePermission, projectIdx, types.LevelWrite, "")
	})
	require.NoError(t, err)

	err = env.View(func(tx *bolt.Tx) error {
		p := Principal{Groups: []types.Index{groupIdx}}
		require.NoError(t, Authorize(tx, p, []Context{Resource(projectIdx, types.LevelRead)}))
		err := Authorize(tx, p, []Context{Resource(projectIdx, types.LevelAdmin)})
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestAuthorizeImpersonationRequiresBothSides(t *testing.T) {
	env, err := store.Open(t.TempDir(), graph.Buckets()...)
	require.NoError(t, err)
	defer env.Close()

	var proxyUserIdx, targetUserIdx, projectIdx types.Index
	err = env.Update(func(tx *bolt.Tx) error {
		proxyUser := newNode(t, types.KindUser, "proxy")
		proxyUserIdx, err = graph.AddNode(tx, proxyUser)
		require.NoError(t, err)

		targetUser := newNode(t, types.KindUser, "target")
		targetUserIdx, err = graph.AddNode(tx, targetUser)
		require.NoError(t, err)

		project := newNode(t, types.KindProject, "p")
		projectIdx, err = graph.AddNode(tx, project)
		require.NoError(t, err)

		return graph.AddEdge(tx, targetUserIdx, types.EdgeOwns, projectIdx, types.LevelNone, "")
	})
	require.NoError(t, err)

	err = env.View(func(tx *bolt.Tx) error {
		proxy := Principal{UserIndex: proxyUserIdx, Admin: true}
		target := Principal{UserIndex: targetUserIdx}
		return AuthorizeImpersonation(tx, proxy, target, []Context{Resource(projectIdx, types.LevelWrite)})
	})
	require.NoError(t, err)

	err = env.View(func(tx *bolt.Tx) error {
		nonAdminProxy := Principal{UserIndex: proxyUserIdx}
		target := Principal{UserIndex: targetUserIdx}
		return AuthorizeImpersonation(tx, nonAdminProxy, target, []Context{Resource(projectIdx, types.LevelWrite)})
	})
	require.Error(t, err, "a proxy not itself authorized for the target user must be rejected")
}

func TestCheckTokenLive(t *testing.T) {
	env, err := store.Open(t.TempDir(), graph.Buckets()...)
	require.NoError(t, err)
	defer env.Close()

	var userIdx, otherUserIdx, liveTokenIdx, withdrawnTokenIdx types.Index
	err = env.Update(func(tx *bolt.Tx) error {
		user := newNode(t, types.KindUser, "u")
		userIdx, err = graph.AddNode(tx, user)
		require.NoError(t, err)

		otherUser := newNode(t, types.KindUser, "other")
		otherUserIdx, err = graph.AddNode(tx, otherUser)
		require.NoError(t, err)

		live := newNode(t, types.KindToken, "")
		live.Token = &types.TokenData{UserIndex: userIdx, Level: types.LevelRead}
		liveTokenIdx, err = graph.AddNode(tx, live)
		require.NoError(t, err)

		withdrawn := newNode(t, types.KindToken, "")
		withdrawn.Token = &types.TokenData{UserIndex: userIdx, Level: types.LevelRead, Withdrawn: true}
		withdrawnTokenIdx, err = graph.AddNode(tx, withdrawn)
		require.NoError(t, err)

		return nil
	})
	require.NoError(t, err)

	err = env.View(func(tx *bolt.Tx) error {
		require.NoError(t, CheckTokenLive(tx, userIdx, liveTokenIdx))

		err := CheckTokenLive(tx, userIdx, withdrawnTokenIdx)
		require.Error(t, err, "a withdrawn token must not be considered live")
		require.Equal(t, apierr.KindUnauthenticated, apierr.KindOf(err))

		err = CheckTokenLive(tx, otherUserIdx, liveTokenIdx)
		require.Error(t, err, "a token belonging to a different user must be rejected")

		err = CheckTokenLive(tx, userIdx, userIdx)
		require.Error(t, err, "a non-token index must be rejected")

		err = CheckTokenLive(tx, userIdx, types.Index(9999))
		require.Error(t, err, "a nonexistent token index must be rejected")
		return nil
	})
	require.NoError(t, err)
}
