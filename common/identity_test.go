package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeIDString(t *testing.T) {
	id := NodeID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	require.Equal(t, "01:02:03:04:05:06", id.String())
}

func TestNodeIDOrdering(t *testing.T) {
	a := NodeID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	b := NodeID{0x01, 0x02, 0x03, 0x04, 0x05, 0x07}

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.True(t, b.Greater(a))
	require.False(t, a.Less(a))
}

func TestNodeIDIsZero(t *testing.T) {
	require.True(t, NodeID{}.IsZero())
	require.False(t, NodeID{0x01}.IsZero())
}
