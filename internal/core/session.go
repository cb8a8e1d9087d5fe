package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/Tandem/internal/domain"
	"github.com/dkeye/Tandem/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is a threadsafe two-party session: membership, relay and the
// round machine share one lock, so every mutation of a session is serialized.
// It never closes adapter-owned connections; a channel displaced by rebind is handed back in JoinResult.
type Session struct {
	mu      sync.Mutex
	entity  *domain.Session
	members map[domain.ParticipantID]*memberSession

	catalog Catalog
	opts    Options
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	rounds roundMachine
}

func NewSession(entity *domain.Session, catalog Catalog, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		entity:  entity,
		members: make(map[domain.ParticipantID]*memberSession, entity.Capacity),
		catalog: catalog,
		opts:    opts.withDefaults(),
		logger:  log.With().Str("module", "core.session").Str("session", string(entity.ID)).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		rounds:  newRoundMachine(),
	}
}

func (s *Session) ID() domain.SessionID { return s.entity.ID }

// JoinResult tells the caller whether an older channel of the same participant was displaced.
type JoinResult struct {
	Rebound  bool
	Replaced SignalConnection
}

// Join admits pid bound to conn. owner identifies the client behind the channel;
// a participant already present is rebound only for the same non-empty owner.
// On success the joiner gets a session-state snapshot and everyone else a peer-joined delta.
func (s *Session) Join(pid domain.ParticipantID, secret, owner string, conn SignalConnection) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return JoinResult{}, domain.Errorf(domain.ErrNotFound, "session %s", s.entity.ID)
	}
	if err := domain.ValidateParticipantID(pid); err != nil {
		return JoinResult{}, err
	}
	existing, present := s.members[pid]
	rebind := present && owner != "" && existing.owner == owner
	if !rebind && s.entity.Full() {
		return JoinResult{}, domain.Errorf(domain.ErrFull, "session %s has %d/%d participants", s.entity.ID, s.entity.Occupancy(), s.entity.Capacity)
	}
	if present && !rebind {
		return JoinResult{}, domain.Errorf(domain.ErrAlreadyJoined, "participant id %s is taken", pid)
	}
	if s.entity.HasSecret() && secret != s.entity.AccessSecret {
		return JoinResult{}, domain.Errorf(domain.ErrUnauthorized, "access secret mismatch")
	}

	var res JoinResult
	if rebind {
		res = JoinResult{Rebound: true, Replaced: existing.signal}
		existing.signal = conn
		s.logger.Info().Str("participant", string(pid)).Msg("participant rebound to new channel")
	} else {
		meta, err := domain.NewParticipant(pid, s.opts.Now())
		if err != nil {
			return JoinResult{}, err
		}
		s.entity.Participants[pid] = meta
		s.members[pid] = &memberSession{meta: meta, signal: conn, owner: owner}
		s.logger.Info().Str("participant", string(pid)).Int("occupancy", s.entity.Occupancy()).Msg("participant joined")
	}

	s.sendLocked(pid, s.stateLocked(pid))
	if !rebind {
		s.announceLocked(KindPeerJoined, pid)
		if s.entity.Full() {
			s.scheduleAutoStartLocked()
		}
	}
	return res, nil
}

// Leave removes pid if conn is still its bound channel. A nil conn removes unconditionally.
// It returns the remaining occupancy and whether anything was removed.
func (s *Session) Leave(pid domain.ParticipantID, conn SignalConnection) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[pid]
	if !ok || (conn != nil && m.signal != conn) {
		return s.entity.Occupancy(), false
	}
	delete(s.members, pid)
	delete(s.entity.Participants, pid)
	s.logger.Info().Str("participant", string(pid)).Int("occupancy", s.entity.Occupancy()).Msg("participant left")

	s.rounds.onLeaveLocked(s)
	s.announceLocked(KindPeerLeft, pid)
	return s.entity.Occupancy(), true
}

// PublishResult reports delivery stats/backpressure to the orchestrator.
type PublishResult struct {
	SentTo  int
	Dropped []domain.ParticipantID
}

// Relay forwards an opaque negotiation payload from sender to every other participant.
// A sender that is no longer a member is dropped silently: it can race a leave.
func (s *Session) Relay(from domain.ParticipantID, kind string, payload json.RawMessage) PublishResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := PublishResult{}
	sender, ok := s.members[from]
	if !ok || s.closed {
		s.logger.Debug().Str("participant", string(from)).Str("kind", kind).Msg("relay from non-member dropped")
		return res
	}
	if kind == KindMediaControl {
		sender.meta.Media = applyMediaControl(sender.meta.Media, payload)
	}

	frame := EncodeRelay(kind, from, payload)
	for pid, m := range s.members {
		if pid == from {
			continue
		}
		if err := m.send(frame); err != nil {
			res.Dropped = append(res.Dropped, pid)
			continue
		}
		res.SentTo++
	}
	telemetry.GetMetrics().RelayedTotal.Add(s.ctx, int64(res.SentTo))
	if len(res.Dropped) > 0 {
		telemetry.GetMetrics().DroppedTotal.Add(s.ctx, int64(len(res.Dropped)))
	}
	s.logger.Debug().Str("from", string(from)).Str("kind", kind).Int("bytes", len(payload)).Int("sent_to", res.SentTo).Int("dropped", len(res.Dropped)).Msg("relay result")
	return res
}

func applyMediaControl(flags domain.MediaFlags, payload json.RawMessage) domain.MediaFlags {
	var p struct {
		Control string `json:"control"`
		Enabled *bool  `json:"enabled"`
	}
	if err := json.Unmarshal(payload, &p); err != nil || p.Enabled == nil {
		return flags
	}
	switch p.Control {
	case "video":
		flags.Video = *p.Enabled
	case "audio":
		flags.Audio = *p.Enabled
	}
	return flags
}

// Participant returns a copy of the participant meta, if present.
func (s *Session) Participant(pid domain.ParticipantID) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[pid]
	if !ok {
		return domain.Participant{}, false
	}
	return *m.meta, true
}

func (s *Session) Occupancy() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entity.Occupancy()
}

func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds.state.Phase()
}

func (s *Session) Summary() domain.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entity
	return domain.SessionSummary{
		ID:        e.ID,
		Code:      e.ID,
		Name:      e.DisplayName,
		Tier:      e.Tier,
		Occupancy: e.Occupancy(),
		Capacity:  e.Capacity,
		HasSecret: e.HasSecret(),
		Private:   e.Visibility == domain.Private,
		Phase:     s.rounds.state.Phase(),
		CreatedAt: e.CreatedAt,
	}
}

func (s *Session) Public() bool { return s.entity.Visibility == domain.Public }

// CheckSecret reports whether secret opens this session.
func (s *Session) CheckSecret(secret string) bool {
	return !s.entity.HasSecret() || s.entity.AccessSecret == secret
}

// Reapable reports whether the session is empty and older than threshold.
func (s *Session) Reapable(now time.Time, threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reapableLocked(now, threshold)
}

func (s *Session) reapableLocked(now time.Time, threshold time.Duration) bool {
	return s.entity.Occupancy() == 0 && now.Sub(s.entity.CreatedAt) > threshold
}

// CloseIfReapable closes the session when Reapable holds, atomically with the check,
// so a concurrent join either lands before (and keeps it alive) or sees it closed.
func (s *Session) CloseIfReapable(now time.Time, threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.reapableLocked(now, threshold) {
		return false
	}
	s.closeLocked(false)
	return true
}

// CloseIfEmpty closes the session when nobody is in it.
func (s *Session) CloseIfEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.entity.Occupancy() != 0 {
		return false
	}
	s.closeLocked(false)
	return true
}

// Close stops all timers and makes every later call a no-op. When notify is
// true the remaining participants get session-ended first.
func (s *Session) Close(notify bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(notify)
}

func (s *Session) closeLocked(notify bool) {
	if s.closed {
		return
	}
	if notify {
		s.broadcastLocked(Encode(ByMsg{Type: KindSessionEnded}))
	}
	s.rounds.stopTimersLocked()
	s.closed = true
	s.cancel()
	s.logger.Info().Msg("session closed")
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) stateLocked(to domain.ParticipantID) SessionStateMsg {
	ids := s.entity.ParticipantIDs()
	initiator := domain.Initiator(ids)
	return SessionStateMsg{
		Type:           KindSessionState,
		SessionID:      s.entity.ID,
		Name:           s.entity.DisplayName,
		Tier:           s.entity.Tier,
		You:            to,
		ParticipantIDs: ids,
		Occupancy:      len(ids),
		Capacity:       s.entity.Capacity,
		Phase:          s.rounds.state.Phase(),
		RoundNumber:    s.rounds.roundNumber,
		InitiatorID:    initiator,
		IsInitiator:    initiator != "" && initiator == to,
	}
}

// announceLocked sends a peer-joined/peer-left delta about subject to everyone else.
func (s *Session) announceLocked(kind string, subject domain.ParticipantID) {
	ids := s.entity.ParticipantIDs()
	initiator := domain.Initiator(ids)
	for pid := range s.members {
		if pid == subject {
			continue
		}
		s.sendLocked(pid, PeerMsg{
			Type:           kind,
			ParticipantID:  subject,
			Occupancy:      len(ids),
			ParticipantIDs: ids,
			InitiatorID:    initiator,
			IsInitiator:    initiator != "" && initiator == pid,
		})
	}
}

func (s *Session) sendLocked(to domain.ParticipantID, v any) {
	m, ok := s.members[to]
	if !ok {
		return
	}
	if err := m.send(Encode(v)); err != nil {
		s.logger.Warn().Err(err).Str("participant", string(to)).Msg("send dropped")
	}
}

func (s *Session) broadcastLocked(f Frame) {
	for pid, m := range s.members {
		if err := m.send(f); err != nil {
			s.logger.Warn().Err(err).Str("participant", string(pid)).Msg("broadcast dropped")
		}
	}
}
