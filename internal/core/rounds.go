package core

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Tandem/internal/domain"
	"github.com/dkeye/Tandem/internal/telemetry"
)

type roundMachine struct {
	state       domain.RoundState
	current     *domain.Round
	remaining   int
	used        map[domain.PromptRef]struct{}
	roundNumber int

	// gen invalidates ticker goroutines and grace timers scheduled before the
	// last state change. Bumped under the session lock only.
	gen      uint64
	stopTick context.CancelFunc
	grace    *time.Timer

	// set by resumeFromEmergency: the next round waits for every participant's ready.
	awaitingConsent bool
}

func newRoundMachine() roundMachine {
	return roundMachine{state: domain.RoundIdle, used: make(map[domain.PromptRef]struct{})}
}

// RoundStatus is a point-in-time copy of the round machine.
type RoundStatus struct {
	State            domain.RoundState
	Round            *domain.Round
	RemainingSeconds int
	RoundNumber      int
	UsedPrompts      []domain.PromptRef
	AwaitingConsent  bool
}

func (s *Session) RoundStatus() RoundStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &s.rounds
	st := RoundStatus{
		State:            r.state,
		RemainingSeconds: r.remaining,
		RoundNumber:      r.roundNumber,
		AwaitingConsent:  r.awaitingConsent,
	}
	if r.current != nil {
		cp := *r.current
		st.Round = &cp
	}
	for ref := range r.used {
		st.UsedPrompts = append(st.UsedPrompts, ref)
	}
	return st
}

// Control applies a round-machine message sent by participant by.
func (s *Session) Control(by domain.ParticipantID, kind string) error {
	switch kind {
	case KindPause:
		return s.Pause(by)
	case KindResume:
		return s.Resume(by)
	case KindSafeword:
		return s.EmergencyStop(by)
	case KindComplete:
		return s.CompleteRound(by)
	case KindReady:
		return s.Ready(by)
	case KindEnd:
		return s.End(by)
	}
	return domain.Errorf(domain.ErrInvalidInput, "unknown control %q", kind)
}

func (s *Session) guardLocked(by domain.ParticipantID) error {
	if s.closed {
		return domain.Errorf(domain.ErrNotFound, "session %s", s.entity.ID)
	}
	if _, ok := s.members[by]; !ok {
		return domain.Errorf(domain.ErrUnauthenticated, "%s is not a participant", by)
	}
	return nil
}

func invalid(op string, st domain.RoundState) error {
	return domain.Errorf(domain.ErrInvalidTransition, "%s not allowed while %s", op, st)
}

func (s *Session) StartNextRound() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.Errorf(domain.ErrNotFound, "session %s", s.entity.ID)
	}
	return s.startNextRoundLocked()
}

func (s *Session) startNextRoundLocked() error {
	r := &s.rounds
	if r.state != domain.RoundIdle {
		return invalid("start", r.state)
	}
	if !s.entity.Full() {
		return domain.Errorf(domain.ErrInvalidTransition, "waiting for participants (%d/%d)", s.entity.Occupancy(), s.entity.Capacity)
	}
	prompt, err := s.drawPromptLocked()
	if err != nil {
		return err
	}
	ids := s.entity.ParticipantIDs()
	performer := ids[s.opts.Intn(len(ids))]

	r.roundNumber++
	round := &domain.Round{
		ID:              fmt.Sprintf("%s-%d", s.entity.ID, r.roundNumber),
		Number:          r.roundNumber,
		Prompt:          prompt,
		Tier:            s.entity.Tier,
		DurationSeconds: max(prompt.DurationSeconds, 1),
		Performer:       performer,
	}
	r.current = round
	r.remaining = round.DurationSeconds
	r.state = domain.RoundRunning
	r.awaitingConsent = false
	for _, m := range s.members {
		m.meta.Ready = false
	}
	s.startTickerLocked()

	for pid := range s.members {
		msg := RoundStartMsg{
			Type:            KindRoundStart,
			RoundID:         round.ID,
			RoundNumber:     round.Number,
			Tier:            round.Tier,
			DurationSeconds: round.DurationSeconds,
			Performer:       performer,
			IsPerformer:     pid == performer,
			Title:           prompt.Title,
		}
		if pid == performer {
			msg.FullInstruction = prompt.Instruction
		} else {
			msg.TeaserOnly = prompt.Teaser
		}
		s.sendLocked(pid, msg)
	}
	telemetry.GetMetrics().RoundsStartedTotal.Add(s.ctx, 1)
	s.logger.Info().Str("round", round.ID).Str("prompt", string(prompt.ID)).Str("performer", string(performer)).Int("duration", round.DurationSeconds).Msg("round started")
	return nil
}

// drawPromptLocked picks uniformly among unused prompts of the session tier,
// starting over once every prompt of the tier has been used.
func (s *Session) drawPromptLocked() (domain.Prompt, error) {
	var all []domain.Prompt
	if s.catalog != nil {
		all = s.catalog.Prompts(s.entity.Tier)
	}
	if len(all) == 0 {
		return domain.Prompt{}, domain.Errorf(domain.ErrCatalogEmpty, "%s", s.entity.Tier)
	}
	r := &s.rounds
	pool := make([]domain.Prompt, 0, len(all))
	for _, p := range all {
		if _, used := r.used[p.ID]; !used {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		clear(r.used)
		pool = all
	}
	return pool[s.opts.Intn(len(pool))], nil
}

func (s *Session) startTickerLocked() {
	r := &s.rounds
	r.stopTickLocked()
	ctx, cancel := context.WithCancel(s.ctx)
	r.stopTick = cancel
	go s.runTicker(ctx, r.gen)
}

func (r *roundMachine) stopTickLocked() {
	r.gen++
	if r.stopTick != nil {
		r.stopTick()
		r.stopTick = nil
	}
}

func (r *roundMachine) stopTimersLocked() {
	r.stopTickLocked()
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
}

func (s *Session) runTicker(ctx context.Context, gen uint64) {
	t := time.NewTicker(s.opts.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.tick(gen) {
				return
			}
		}
	}
}

// tick advances the countdown by one step. It reports whether the ticker should keep going.
func (s *Session) tick(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &s.rounds
	// Emergency wins over any tick that was already in flight.
	if r.state == domain.RoundEmergency {
		return false
	}
	if s.closed || gen != r.gen || r.state != domain.RoundRunning || r.current == nil {
		return false
	}
	r.remaining--
	if r.remaining <= 0 {
		r.remaining = 0
		s.completeLocked()
		return false
	}
	s.broadcastLocked(Encode(RoundTickMsg{Type: KindRoundTick, RoundID: r.current.ID, RemainingSeconds: r.remaining}))
	return true
}

func (s *Session) completeLocked() {
	r := &s.rounds
	r.stopTickLocked()
	round := r.current
	r.used[round.Prompt.ID] = struct{}{}
	r.current = nil
	r.remaining = 0
	r.state = domain.RoundIdle
	s.broadcastLocked(Encode(RoundCompleteMsg{Type: KindRoundComplete, RoundID: round.ID}))
	telemetry.GetMetrics().RoundsCompletedTotal.Add(s.ctx, 1)
	s.logger.Info().Str("round", round.ID).Msg("round complete")
	s.scheduleAutoStartLocked()
}

func (s *Session) scheduleAutoStartLocked() {
	r := &s.rounds
	if r.grace != nil {
		r.grace.Stop()
	}
	gen := r.gen
	r.grace = time.AfterFunc(s.opts.GraceDelay, func() { s.autoStart(gen) })
}

func (s *Session) autoStart(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &s.rounds
	if s.closed || gen != r.gen || r.state != domain.RoundIdle || r.awaitingConsent || !s.entity.Full() {
		return
	}
	if err := s.startNextRoundLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("auto start")
	}
}

func (s *Session) Pause(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	if r.state != domain.RoundRunning {
		return invalid("pause", r.state)
	}
	r.stopTickLocked()
	r.state = domain.RoundPaused
	s.broadcastLocked(Encode(RoundControlMsg{Type: KindRoundPaused, RoundID: r.current.ID, RemainingSeconds: r.remaining, By: by}))
	return nil
}

// Resume continues a paused round, or leaves Emergency when the session is in it.
func (s *Session) Resume(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	switch r.state {
	case domain.RoundPaused:
		r.state = domain.RoundRunning
		s.startTickerLocked()
		s.broadcastLocked(Encode(RoundControlMsg{Type: KindRoundResumed, RoundID: r.current.ID, RemainingSeconds: r.remaining, By: by}))
		return nil
	case domain.RoundEmergency:
		return s.resumeFromEmergencyLocked(by)
	}
	return invalid("resume", r.state)
}

// EmergencyStop freezes the session from any non-terminal state.
func (s *Session) EmergencyStop(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	switch r.state {
	case domain.RoundCompleted:
		return invalid("safeword", r.state)
	case domain.RoundEmergency:
		return nil
	}
	r.stopTimersLocked()
	r.state = domain.RoundEmergency
	s.broadcastLocked(Encode(EmergencyMsg{Type: KindEmergency, By: by, Timestamp: s.opts.Now().UTC()}))
	telemetry.GetMetrics().EmergenciesTotal.Add(s.ctx, 1)
	s.logger.Warn().Str("by", string(by)).Msg("safeword engaged")
	return nil
}

func (s *Session) ResumeFromEmergency(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	return s.resumeFromEmergencyLocked(by)
}

// resumeFromEmergencyLocked always lands in Idle: the interrupted round is dropped
// and the next one starts only after every participant sent ready.
func (s *Session) resumeFromEmergencyLocked(by domain.ParticipantID) error {
	r := &s.rounds
	if r.state != domain.RoundEmergency {
		return invalid("resume from emergency", r.state)
	}
	r.state = domain.RoundIdle
	r.current = nil
	r.remaining = 0
	r.awaitingConsent = true
	for _, m := range s.members {
		m.meta.Ready = false
	}
	s.broadcastLocked(Encode(ByMsg{Type: KindEmergencyCleared, By: by}))
	s.logger.Info().Str("by", string(by)).Msg("emergency cleared")
	return nil
}

// CompleteRound ends the current round early through the normal completion path.
func (s *Session) CompleteRound(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	if r.state != domain.RoundRunning && r.state != domain.RoundPaused {
		return invalid("complete-round", r.state)
	}
	s.completeLocked()
	return nil
}

func (s *Session) Ready(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	if r.state == domain.RoundCompleted {
		return invalid("ready", r.state)
	}
	s.members[by].meta.Ready = true
	for pid := range s.members {
		if pid != by {
			s.sendLocked(pid, ByMsg{Type: KindReady, By: by})
		}
	}
	if r.state != domain.RoundIdle || !r.awaitingConsent || !s.entity.Full() {
		return nil
	}
	for _, m := range s.members {
		if !m.meta.Ready {
			return nil
		}
	}
	return s.startNextRoundLocked()
}

// End is terminal: nothing leaves Completed.
func (s *Session) End(by domain.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guardLocked(by); err != nil {
		return err
	}
	r := &s.rounds
	if r.state == domain.RoundCompleted {
		return nil
	}
	r.stopTimersLocked()
	r.state = domain.RoundCompleted
	r.current = nil
	r.remaining = 0
	s.broadcastLocked(Encode(ByMsg{Type: KindSessionEnded, By: by}))
	s.logger.Info().Str("by", string(by)).Msg("session ended")
	return nil
}

// onLeaveLocked keeps "active implies full": a running or paused round is cancelled.
func (r *roundMachine) onLeaveLocked(s *Session) {
	if r.state != domain.RoundRunning && r.state != domain.RoundPaused {
		return
	}
	round := r.current
	r.stopTickLocked()
	r.state = domain.RoundIdle
	r.current = nil
	r.remaining = 0
	s.broadcastLocked(Encode(RoundCancelledMsg{Type: KindRoundCancelled, RoundID: round.ID, Reason: "peer-left"}))
}
