package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelRegistry(t *testing.T) {
	r := NewChannelRegistry()
	conn := &recordingConn{}
	canceled := false
	r.Open("c1", conn, "token-1", func() { canceled = true })
	r.Open("c2", &recordingConn{}, "token-2", nil)

	b, ok := r.Get("c1")
	require.True(t, ok)
	assert.False(t, b.Bound())
	assert.Equal(t, "token-1", b.ClientToken)

	_, ok = r.Unbind("c1")
	assert.False(t, ok, "unbound channel has nothing to unbind")

	require.True(t, r.Bind("c1", "s1", "alice"))
	require.True(t, r.Bind("c2", "s1", "bob"))
	assert.False(t, r.Bind("missing", "s1", "carol"))

	found, ok := r.Lookup("s1", "bob")
	require.True(t, ok)
	assert.Equal(t, ChannelID("c2"), found.CID)
	_, ok = r.Lookup("s2", "bob")
	assert.False(t, ok)

	prev, ok := r.Unbind("c2")
	require.True(t, ok)
	assert.Equal(t, "bob", string(prev.ParticipantID))
	b, _ = r.Get("c2")
	assert.False(t, b.Bound())

	require.True(t, r.Bind("c2", "s1", "bob"))
	unbound := r.UnbindSession("s1")
	assert.Len(t, unbound, 2)
	_, ok = r.Lookup("s1", "alice")
	assert.False(t, ok)

	assert.True(t, r.Cancel("c1"))
	assert.True(t, canceled)
	assert.True(t, r.Cancel("c2"), "nil cancel is tolerated")
	assert.False(t, r.Cancel("missing"))

	closed, ok := r.Close("c1")
	require.True(t, ok)
	assert.Same(t, conn, closed.Conn)
	_, ok = r.Get("c1")
	assert.False(t, ok)
	_, ok = r.Close("c1")
	assert.False(t, ok)
}
