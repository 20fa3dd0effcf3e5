package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIDRoundTrip(t *testing.T) {
	now := time.Now()
	id, err := NewID(now)
	require.NoError(t, err)

	back, err := IDFromBytes(id.Bytes())
	require.NoError(t, err)
	require.Equal(t, id, back)
}

func TestIDTimeSortable(t *testing.T) {
	t1, err := NewID(time.Now())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	t2, err := NewID(time.Now())
	require.NoError(t, err)

	require.True(t, t1.String() < t2.String(), "ids must sort lexicographically by creation time")
}

func TestIDStringLength(t *testing.T) {
	id, err := NewID(time.Now())
	require.NoError(t, err)
	require.Len(t, id.String(), 26)
}

func TestIDTimeExtraction(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	id, err := NewID(now)
	require.NoError(t, err)
	require.WithinDuration(t, now, id.Time(), time.Millisecond)
}
