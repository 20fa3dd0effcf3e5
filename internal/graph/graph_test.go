package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/store"
	"github.com/cuemby/strata/internal/types"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	env, err := store.Open(t.TempDir(), Buckets()...)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return Open(env)
}

func newNode(t *testing.T, kind types.NodeKind, name string) *types.Node {
	t.Helper()
	id, err := types.NewID(time.Now())
	require.NoError(t, err)
	return &types.Node{
		ID:        id,
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestAddNodeAssignsMonotonicIndices(t *testing.T) {
	g := newTestGraph(t)

	var last types.Index
	err := g.env.Update(func(tx *bolt.Tx) error {
		for i := 0; i < 5; i++ {
			n := newNode(t, types.KindProject, "proj")
			idx, err := AddNode(tx, n)
			require.NoError(t, err)
			if i > 0 {
				require.Equal(t, last+1, idx)
			}
			last = idx
		}
		return nil
	})
	require.NoError(t, err)
}

func TestGetNodeByIDRoundTrip(t *testing.T) {
	g := newTestGraph(t)
	n := newNode(t, types.KindProject, "my-project")
	n.Public = true
	n.Resource = &types.ResourceData{
		Description: "a test project",
		Tags:        []string{"alpha", "beta"},
	}

	err := g.env.Update(func(tx *bolt.Tx) error {
		_, err := AddNode(tx, n)
		return err
	})
	require.NoError(t, err)

	err = g.env.View(func(tx *bolt.Tx) error {
		got, err := GetNodeByID(tx, n.ID)
		require.NoError(t, err)
		require.Equal(t, n.Name, got.Name)
		require.Equal(t, n.Kind, got.Kind)
		require.True(t, n.CreatedAt.Equal(got.CreatedAt), "CreatedAt must round-trip")
		require.True(t, n.UpdatedAt.Equal(got.UpdatedAt), "UpdatedAt must round-trip")
		require.Equal(t, n.Public, got.Public)
		require.NotNil(t, got.Resource)
		require.Equal(t, n.Resource.Description, got.Resource.Description)
		require.Equal(t, n.Resource.Tags, got.Resource.Tags)
		return nil
	})
	require.NoError(t, err)
}

func TestSiblingNameUniqueness(t *testing.T) {
	g := newTestGraph(t)

	var parentIdx, childIdx types.Index
	err := g.env.Update(func(tx *bolt.Tx) error {
		parent := newNode(t, types.KindProject, "proj")
		var err error
		parentIdx, err = AddNode(tx, parent)
		require.NoError(t, err)

		require.NoError(t, CheckSiblingNameUnique(tx, parentIdx, "coll"))

		child := newNode(t, types.KindCollection, "coll")
		childIdx, err = AddNode(tx, child)
		require.NoError(t, err)
		return AddEdge(tx, childIdx, types.EdgeBelongsTo, parentIdx, types.LevelNone, "")
	})
	require.NoError(t, err)

	err = g.env.View(func(tx *bolt.Tx) error {
		err := CheckSiblingNameUnique(tx, parentIdx, "coll")
		require.Error(t, err)
		require.Equal(t, apierr.KindConflict, apierr.KindOf(err))
		return nil
	})
	require.NoError(t, err)
}

func TestProjectNameUniqueAcrossAllProjects(t *testing.T) {
	g := newTestGraph(t)

	err := g.env.Update(func(tx *bolt.Tx) error {
		require.NoError(t, CheckProjectNameUnique(tx, "shared-name"))
		n := newNode(t, types.KindProject, "shared-name")
		_, err := AddNode(tx, n)
		return err
	})
	require.NoError(t, err)

	err = g.env.View(func(tx *bolt.Tx) error {
		err := CheckProjectNameUnique(tx, "shared-name")
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestBelongsToCycleRejected(t *testing.T) {
	g := newTestGraph(t)

	err := g.env.Update(func(tx *bolt.Tx) error {
		a := newNode(t, types.KindCollection, "a")
		aIdx, err := AddNode(tx, a)
		require.NoError(t, err)

		b := newNode(t, types.KindCollection, "b")
		bIdx, err := AddNode(tx, b)
		require.NoError(t, err)

		require.NoError(t, AddEdge(tx, bIdx, types.EdgeBelongsTo, aIdx, types.LevelNone, ""))

		// a -> b would close a cycle since b already belongs_to a.
		err = AddEdge(tx, aIdx, types.EdgeBelongsTo, bIdx, types.LevelNone, "")
		require.Error(t, err)
		require.Equal(t, apierr.KindConflict, apierr.KindOf(err))
		return nil
	})
	require.NoError(t, err)
}

func TestUniverseForGroupsIncludesDescendants(t *testing.T) {
	g := newTestGraph(t)

	var groupIdx, projectIdx, collectionIdx types.Index
	err := g.env.Update(func(tx *bolt.Tx) error {
		var err error
		group := newNode(t, types.KindGroup, "scientists")
		groupIdx, err = AddNode(tx, group)
		require.NoError(t, err)

		project := newNode(t, types.KindProject, "proj")
		projectIdx, err = AddNode(tx, project)
		require.NoError(t, err)

		collection := newNode(t, types.KindCollection, "coll")
		collectionIdx, err = AddNode(tx, collection)
		require.NoError(t, err)
		require.NoError(t, AddEdge(tx, collectionIdx, types.EdgeBelongsTo, projectIdx, types.LevelNone, ""))

		return AddEdge(tx, groupIdx, types.EdgePermission, projectIdx, types.LevelRead, "")
	})
	require.NoError(t, err)

	err = g.env.View(func(tx *bolt.Tx) error {
		universe, err := UniverseForGroups(tx, []types.Index{groupIdx})
		require.NoError(t, err)
		require.True(t, universe.Contains(uint32(projectIdx)))
		require.True(t, universe.Contains(uint32(collectionIdx)))
		return nil
	})
	require.NoError(t, err)
}
