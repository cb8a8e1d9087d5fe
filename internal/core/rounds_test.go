package core

import (
	"testing"
	"time"

	"github.com/dkeye/Tandem/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundStart(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 30)})

	require.ErrorIs(t, s.StartNextRound(), domain.ErrInvalidTransition)

	a, b := joinPair(t, s)
	require.NoError(t, s.StartNextRound())

	st := s.RoundStatus()
	assert.Equal(t, domain.RoundRunning, st.State)
	assert.Equal(t, 1, st.RoundNumber)
	assert.Equal(t, 30, st.RemainingSeconds)
	require.NotNil(t, st.Round)
	assert.Equal(t, "sess1-1", st.Round.ID)
	assert.Equal(t, domain.ParticipantID("alice"), st.Round.Performer)
	assert.Equal(t, domain.PhaseActive, s.Phase())

	performer := a.last(t)
	assert.Equal(t, KindRoundStart, performer["type"])
	assert.Equal(t, true, performer["isPerformer"])
	assert.Equal(t, "instruction p1", performer["fullInstruction"])
	assert.NotContains(t, performer, "teaserOnly")

	watcher := b.last(t)
	assert.Equal(t, false, watcher["isPerformer"])
	assert.Equal(t, "teaser p1", watcher["teaserOnly"])
	assert.NotContains(t, watcher, "fullInstruction")
	assert.Equal(t, "alice", watcher["performerId"])

	require.ErrorIs(t, s.StartNextRound(), domain.ErrInvalidTransition)
}

func TestRoundCountdown(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 2)})
	a, b := joinPair(t, s)
	require.NoError(t, s.StartNextRound())

	gen := currentGen(s)
	assert.False(t, s.tick(gen-1), "stale ticker must stop")
	assert.Equal(t, 2, s.RoundStatus().RemainingSeconds)

	assert.True(t, s.tick(gen))
	tick := b.last(t)
	assert.Equal(t, KindRoundTick, tick["type"])
	assert.EqualValues(t, 1, tick["remainingSeconds"])

	assert.False(t, s.tick(gen))
	st := s.RoundStatus()
	assert.Equal(t, domain.RoundIdle, st.State)
	assert.Nil(t, st.Round)
	assert.Equal(t, []domain.PromptRef{"p1"}, st.UsedPrompts)
	assert.Equal(t, KindRoundComplete, a.last(t)["type"])
	assert.Equal(t, KindRoundComplete, b.last(t)["type"])

	assert.False(t, s.tick(currentGen(s)), "no round, no tick")
}

func TestRoundPauseResume(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 10)})
	a, _ := joinPair(t, s)

	require.ErrorIs(t, s.Pause("alice"), domain.ErrInvalidTransition)
	require.NoError(t, s.StartNextRound())

	gen := currentGen(s)
	require.NoError(t, s.Pause("bob"))
	msg := a.last(t)
	assert.Equal(t, KindRoundPaused, msg["type"])
	assert.Equal(t, "bob", msg["byParticipantId"])
	assert.False(t, s.tick(gen))
	assert.Equal(t, 10, s.RoundStatus().RemainingSeconds)
	require.ErrorIs(t, s.Pause("bob"), domain.ErrInvalidTransition)

	require.NoError(t, s.Control("alice", KindResume))
	assert.Equal(t, KindRoundResumed, a.last(t)["type"])
	assert.Equal(t, domain.RoundRunning, s.RoundStatus().State)
	assert.True(t, s.tick(currentGen(s)))
	assert.Equal(t, 9, s.RoundStatus().RemainingSeconds)

	require.NoError(t, s.Pause("alice"))
	require.NoError(t, s.CompleteRound("alice"))
	assert.Equal(t, domain.RoundIdle, s.RoundStatus().State)
	require.ErrorIs(t, s.CompleteRound("alice"), domain.ErrInvalidTransition)
}

func TestRoundEmergency(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 10)})
	a, b := joinPair(t, s)
	require.NoError(t, s.StartNextRound())
	gen := currentGen(s)

	require.NoError(t, s.Control("bob", KindSafeword))
	for _, c := range []*fakeConn{a, b} {
		msg := c.last(t)
		assert.Equal(t, KindEmergency, msg["type"])
		assert.Equal(t, "bob", msg["byParticipantId"])
		assert.NotEmpty(t, msg["timestamp"])
	}
	assert.Equal(t, domain.PhaseEmergency, s.Phase())

	// a tick already in flight, even one carrying the current generation, is a no-op
	assert.False(t, s.tick(gen))
	assert.False(t, s.tick(currentGen(s)))
	assert.Equal(t, 10, s.RoundStatus().RemainingSeconds)

	// repeated safeword is accepted and silent
	a.reset()
	require.NoError(t, s.EmergencyStop("alice"))
	assert.Empty(t, a.raw())

	require.ErrorIs(t, s.Pause("alice"), domain.ErrInvalidTransition)
	require.ErrorIs(t, s.CompleteRound("alice"), domain.ErrInvalidTransition)

	require.NoError(t, s.Resume("alice"))
	st := s.RoundStatus()
	assert.Equal(t, domain.RoundIdle, st.State)
	assert.Nil(t, st.Round)
	assert.True(t, st.AwaitingConsent)
	assert.Equal(t, KindEmergencyCleared, b.last(t)["type"])
	require.ErrorIs(t, s.ResumeFromEmergency("alice"), domain.ErrInvalidTransition)

	t.Run("next round waits for both ready", func(t *testing.T) {
		require.NoError(t, s.Ready("alice"))
		assert.Equal(t, domain.RoundIdle, s.RoundStatus().State)
		ready := b.last(t)
		assert.Equal(t, KindReady, ready["type"])
		assert.Equal(t, "alice", ready["byParticipantId"])

		require.NoError(t, s.Ready("bob"))
		st := s.RoundStatus()
		assert.Equal(t, domain.RoundRunning, st.State)
		assert.Equal(t, 2, st.RoundNumber)
		assert.False(t, st.AwaitingConsent)
		assert.Equal(t, KindRoundStart, a.last(t)["type"])
	})
}

func TestRoundPromptRotation(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 5), prompt("p2", 5)})
	joinPair(t, s)

	var got []domain.PromptRef
	for range 3 {
		require.NoError(t, s.StartNextRound())
		got = append(got, s.RoundStatus().Round.Prompt.ID)
		require.NoError(t, s.CompleteRound("alice"))
	}
	assert.Equal(t, []domain.PromptRef{"p1", "p2", "p1"}, got)
	assert.Equal(t, 3, s.RoundStatus().RoundNumber)
}

func TestRoundCatalogEmpty(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{})
	joinPair(t, s)
	require.ErrorIs(t, s.StartNextRound(), domain.ErrCatalogEmpty)
	assert.Equal(t, domain.RoundIdle, s.RoundStatus().State)
}

func TestRoundLeaveCancels(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 10)})
	a, _ := joinPair(t, s)
	require.NoError(t, s.StartNextRound())

	s.Leave("bob", nil)
	kinds := a.kinds(t)
	require.GreaterOrEqual(t, len(kinds), 2)
	assert.Equal(t, []string{KindRoundCancelled, KindPeerLeft}, kinds[len(kinds)-2:])
	assert.Equal(t, "peer-left", a.msgs(t)[len(kinds)-2]["reason"])
	assert.Equal(t, domain.RoundIdle, s.RoundStatus().State)
	require.ErrorIs(t, s.StartNextRound(), domain.ErrInvalidTransition)
}

func TestRoundEnd(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 10)})
	a, b := joinPair(t, s)
	require.NoError(t, s.StartNextRound())

	require.NoError(t, s.Control("alice", KindEnd))
	msg := b.last(t)
	assert.Equal(t, KindSessionEnded, msg["type"])
	assert.Equal(t, "alice", msg["byParticipantId"])
	assert.Equal(t, domain.PhaseCompleted, s.Phase())

	a.reset()
	require.NoError(t, s.End("bob"))
	assert.Empty(t, a.raw())
	require.ErrorIs(t, s.EmergencyStop("bob"), domain.ErrInvalidTransition)
	require.ErrorIs(t, s.Ready("bob"), domain.ErrInvalidTransition)
	require.ErrorIs(t, s.Resume("bob"), domain.ErrInvalidTransition)
	require.ErrorIs(t, s.StartNextRound(), domain.ErrInvalidTransition)
}

func TestRoundControlGuards(t *testing.T) {
	s := newTestSession(t, "", stubCatalog{prompt("p1", 10)})
	joinPair(t, s)

	require.ErrorIs(t, s.Control("mallory", KindPause), domain.ErrUnauthenticated)
	require.ErrorIs(t, s.Control("alice", "dance"), domain.ErrInvalidInput)
}

func TestRoundAutoStart(t *testing.T) {
	entity, err := domain.NewSession("auto", "auto", domain.Tier1, domain.Public, "", time.Now())
	require.NoError(t, err)
	s := NewSession(entity, stubCatalog{prompt("p1", 30)}, Options{
		TickInterval: time.Hour,
		GraceDelay:   10 * time.Millisecond,
	})
	t.Cleanup(func() { s.Close(false) })

	_, err = s.Join("alice", "", "tok-alice", &fakeConn{})
	require.NoError(t, err)
	_, err = s.Join("bob", "", "tok-bob", &fakeConn{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.RoundStatus().State == domain.RoundRunning
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRoundEmergencyStopsLiveTicker(t *testing.T) {
	for i := range 50 {
		entity, err := domain.NewSession("live", "live", domain.Tier1, domain.Public, "", time.Now())
		require.NoError(t, err)
		s := NewSession(entity, stubCatalog{prompt("p1", 100000)}, Options{
			TickInterval: 50 * time.Microsecond,
			GraceDelay:   time.Hour,
		})

		a := &fakeConn{}
		_, err = s.Join("alice", "", "tok-alice", a)
		require.NoError(t, err)
		_, err = s.Join("bob", "", "tok-bob", &fakeConn{})
		require.NoError(t, err)
		require.NoError(t, s.StartNextRound())

		require.Eventually(t, func() bool {
			for _, k := range a.kinds(t) {
				if k == KindRoundTick {
					return true
				}
			}
			return false
		}, 2*time.Second, time.Millisecond)

		require.NoError(t, s.EmergencyStop("bob"))
		time.Sleep(5 * time.Millisecond)

		kinds := a.kinds(t)
		at := -1
		for j, k := range kinds {
			if k == KindEmergency {
				at = j
			}
		}
		require.GreaterOrEqual(t, at, 0, "iteration %d", i)
		for _, k := range kinds[at+1:] {
			assert.NotEqual(t, KindRoundTick, k, "iteration %d", i)
			assert.NotEqual(t, KindRoundComplete, k, "iteration %d", i)
		}
		assert.Equal(t, domain.RoundEmergency, s.RoundStatus().State)
		s.Close(false)
	}
}
