package core

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Tandem/internal/domain"
	"github.com/rs/zerolog/log"
)

// Message kinds carried in the "type" field of every frame.
const (
	KindJoin         = "join"
	KindLeave        = "leave"
	KindPing         = "ping"
	KindOffer        = "offer"
	KindAnswer       = "answer"
	KindICECandidate = "ice-candidate"
	KindMediaControl = "media-control"
	KindPause        = "pause"
	KindResume       = "resume"
	KindSafeword     = "safeword"
	KindComplete     = "complete-round"
	KindReady        = "ready"
	KindEnd          = "end"

	KindSessionState     = "session-state"
	KindPeerJoined       = "peer-joined"
	KindPeerLeft         = "peer-left"
	KindRoundStart       = "round-start"
	KindRoundTick        = "round-tick"
	KindRoundPaused      = "round-paused"
	KindRoundResumed     = "round-resumed"
	KindRoundComplete    = "round-complete"
	KindRoundCancelled   = "round-cancelled"
	KindEmergency        = "emergency"
	KindEmergencyCleared = "emergency-cleared"
	KindSessionEnded     = "session-ended"
	KindLeft             = "left"
	KindPong             = "pong"
	KindError            = "error"
)

// IsRelayKind reports whether frames of this kind are forwarded verbatim to the peer.
func IsRelayKind(kind string) bool {
	switch kind {
	case KindOffer, KindAnswer, KindICECandidate, KindMediaControl:
		return true
	}
	return false
}

// IsControlKind reports whether the kind drives the round machine.
func IsControlKind(kind string) bool {
	switch kind {
	case KindPause, KindResume, KindSafeword, KindComplete, KindReady, KindEnd:
		return true
	}
	return false
}

type SessionStateMsg struct {
	Type           string                 `json:"type"`
	SessionID      domain.SessionID       `json:"sessionId"`
	Name           string                 `json:"name"`
	Tier           domain.Tier            `json:"intensityTier"`
	You            domain.ParticipantID   `json:"participantId"`
	ParticipantIDs []domain.ParticipantID `json:"participantIds"`
	Occupancy      int                    `json:"occupancy"`
	Capacity       int                    `json:"capacity"`
	Phase          domain.Phase           `json:"phase"`
	RoundNumber    int                    `json:"roundNumber"`
	InitiatorID    domain.ParticipantID   `json:"initiatorId,omitempty"`
	IsInitiator    bool                   `json:"isInitiator"`
}

// PeerMsg is used for both peer-joined and peer-left.
type PeerMsg struct {
	Type           string                 `json:"type"`
	ParticipantID  domain.ParticipantID   `json:"participantId"`
	Occupancy      int                    `json:"occupancy"`
	ParticipantIDs []domain.ParticipantID `json:"participantIds"`
	InitiatorID    domain.ParticipantID   `json:"initiatorId,omitempty"`
	IsInitiator    bool                   `json:"isInitiator"`
}

// RoundStartMsg has two views: the performer gets FullInstruction,
// everyone else gets TeaserOnly. Never both.
type RoundStartMsg struct {
	Type            string               `json:"type"`
	RoundID         string               `json:"roundId"`
	RoundNumber     int                  `json:"roundNumber"`
	Tier            domain.Tier          `json:"tier"`
	DurationSeconds int                  `json:"durationSeconds"`
	Performer       domain.ParticipantID `json:"performerId"`
	IsPerformer     bool                 `json:"isPerformer"`
	Title           string               `json:"title,omitempty"`
	FullInstruction string               `json:"fullInstruction,omitempty"`
	TeaserOnly      string               `json:"teaserOnly,omitempty"`
}

type RoundTickMsg struct {
	Type             string `json:"type"`
	RoundID          string `json:"roundId"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

type RoundControlMsg struct {
	Type             string               `json:"type"`
	RoundID          string               `json:"roundId"`
	RemainingSeconds int                  `json:"remainingSeconds"`
	By               domain.ParticipantID `json:"byParticipantId"`
}

type RoundCompleteMsg struct {
	Type    string `json:"type"`
	RoundID string `json:"roundId"`
}

type RoundCancelledMsg struct {
	Type    string `json:"type"`
	RoundID string `json:"roundId"`
	Reason  string `json:"reason"`
}

type EmergencyMsg struct {
	Type      string               `json:"type"`
	By        domain.ParticipantID `json:"byParticipantId"`
	Timestamp time.Time            `json:"timestamp"`
}

type ByMsg struct {
	Type string               `json:"type"`
	By   domain.ParticipantID `json:"byParticipantId"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorMsg(err error) ErrorMsg {
	return ErrorMsg{Type: KindError, Code: domain.ErrorCode(err), Message: err.Error()}
}

// Encode marshals an outbound message. Failures are logged and yield nil.
func Encode(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core.protocol").Msg("encode")
		return nil
	}
	return b
}

// EncodeRelay builds a forwarded negotiation frame. The payload bytes are
// spliced in untouched so the receiver sees exactly what the sender wrote.
func EncodeRelay(kind string, from domain.ParticipantID, payload json.RawMessage) Frame {
	k, _ := json.Marshal(kind)
	f, _ := json.Marshal(from)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	out := make([]byte, 0, len(payload)+len(k)+len(f)+48)
	out = append(out, `{"type":`...)
	out = append(out, k...)
	out = append(out, `,"fromParticipantId":`...)
	out = append(out, f...)
	out = append(out, `,"payload":`...)
	out = append(out, payload...)
	out = append(out, '}')
	return out
}
