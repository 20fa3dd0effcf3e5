package store

import (
	"bytes"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/require"
)

var bucketTest = []byte("test")

func TestOpenCreatesBuckets(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, bucketTest)
	require.NoError(t, err)
	defer env.Close()

	err = env.View(func(tx *bolt.Tx) error {
		require.NotNil(t, tx.Bucket(bucketTest))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateAndView(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, bucketTest)
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTest).Put([]byte("k"), []byte("v"))
	}))

	var got []byte
	require.NoError(t, env.View(func(tx *bolt.Tx) error {
		got = tx.Bucket(bucketTest).Get([]byte("k"))
		return nil
	}))
	require.Equal(t, "v", string(got))
}

func TestCompact(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, bucketTest)
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTest).Put([]byte("k"), []byte("v"))
	}))

	dest := filepath.Join(dir, "compacted.db")
	require.NoError(t, env.Compact(dest))

	dst, err := bolt.Open(dest, 0o600, nil)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, dst.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTest).Get([]byte("k"))
		require.Equal(t, "v", string(v))
		return nil
	}))
}

func TestSnapshotAndRestore(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, bucketTest)
	require.NoError(t, err)

	require.NoError(t, env.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTest).Put([]byte("k"), []byte("v"))
	}))

	var buf bytes.Buffer
	require.NoError(t, env.Snapshot(&buf))

	require.NoError(t, env.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTest).Put([]byte("k"), []byte("overwritten"))
	}))

	require.NoError(t, env.Restore(bytes.NewReader(buf.Bytes())))
	defer env.Close()

	require.NoError(t, env.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTest).Get([]byte("k"))
		require.Equal(t, "v", string(v))
		return nil
	}))
}
