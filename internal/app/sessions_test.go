package app

import (
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu     sync.Mutex
	frames []string
	closed bool
}

func (c *recordingConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(f))
	return nil
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *recordingConn) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, ropts ...RegistryOption) (*SessionRegistry, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1700000000, 0)}
	opts := append([]RegistryOption{WithClock(clock.Now), WithInactivityThreshold(30 * time.Minute)}, ropts...)
	reg := NewSessionRegistry(nil, core.Options{TickInterval: time.Hour, GraceDelay: time.Hour}, opts...)
	return reg, clock
}

func TestSessionRegistryCreate(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id, err := reg.Create(CreateRequest{Name: "late night", Tier: domain.Tier2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, reg.Len())

	s, err := reg.Get(id)
	require.NoError(t, err)
	sum := s.Summary()
	assert.Equal(t, "late night", sum.Name)
	assert.Equal(t, domain.Tier2, sum.Tier)
	assert.Equal(t, 0, sum.Occupancy)
	assert.Equal(t, domain.PhaseIdle, sum.Phase)

	_, err = reg.Get("nope")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = reg.Create(CreateRequest{Name: "  ", Tier: domain.Tier1})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, 1, reg.Len())
}

func TestSessionRegistryIDCollision(t *testing.T) {
	reg, _ := newTestRegistry(t, WithIDGenerator(func() (domain.SessionID, error) { return "fixed", nil }))

	_, err := reg.Create(CreateRequest{Name: "one", Tier: domain.Tier1})
	require.NoError(t, err)
	_, err = reg.Create(CreateRequest{Name: "two", Tier: domain.Tier1})
	require.Error(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestNewSessionID(t *testing.T) {
	seen := make(map[domain.SessionID]struct{})
	for range 100 {
		id, err := NewSessionID()
		require.NoError(t, err)
		raw, err := base58.Decode(string(id))
		require.NoError(t, err)
		assert.Len(t, raw, idBytes)
		seen[id] = struct{}{}
	}
	assert.Greater(t, len(seen), 90)
}

func TestSessionRegistryListPublic(t *testing.T) {
	reg, clock := newTestRegistry(t)

	first, err := reg.Create(CreateRequest{Name: "first", Tier: domain.Tier1})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = reg.Create(CreateRequest{Name: "hidden", Tier: domain.Tier1, Visibility: domain.Private})
	require.NoError(t, err)
	clock.Advance(time.Second)
	third, err := reg.Create(CreateRequest{Name: "third", Tier: domain.Tier3, AccessSecret: "pw"})
	require.NoError(t, err)

	list := reg.ListPublic()
	require.Len(t, list, 2)
	assert.Equal(t, first, list[0].ID)
	assert.Equal(t, third, list[1].ID)
	assert.True(t, list[1].HasSecret)
	assert.Equal(t, 3, reg.Len())
}

func TestSessionRegistrySweep(t *testing.T) {
	reg, clock := newTestRegistry(t)

	idle, err := reg.Create(CreateRequest{Name: "idle", Tier: domain.Tier1})
	require.NoError(t, err)
	busy, err := reg.Create(CreateRequest{Name: "busy", Tier: domain.Tier1})
	require.NoError(t, err)

	s, err := reg.Get(busy)
	require.NoError(t, err)
	_, err = s.Join("alice", "", "tok-alice", &recordingConn{})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 0, reg.Sweep())

	clock.Advance(21 * time.Minute)
	_, err = reg.Get(idle)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = reg.Get(busy)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	busySess, ok := reg.Lookup(busy)
	require.True(t, ok)
	assert.False(t, busySess.Closed())
}

func TestSessionRegistryDelete(t *testing.T) {
	reg, _ := newTestRegistry(t)

	id, err := reg.Create(CreateRequest{Name: "x", Tier: domain.Tier1})
	require.NoError(t, err)
	s, err := reg.Get(id)
	require.NoError(t, err)
	conn := &recordingConn{}
	_, err = s.Join("alice", "", "tok-alice", conn)
	require.NoError(t, err)

	assert.False(t, reg.DeleteIfEmpty(id))

	reg.Delete(id)
	assert.Equal(t, 0, reg.Len())
	assert.True(t, s.Closed())
	frames := conn.Frames()
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[len(frames)-1], `"type":"session-ended"`)

	// idempotent
	reg.Delete(id)

	id, err = reg.Create(CreateRequest{Name: "y", Tier: domain.Tier1})
	require.NoError(t, err)
	assert.True(t, reg.DeleteIfEmpty(id))
	assert.False(t, reg.DeleteIfEmpty(id))
}
