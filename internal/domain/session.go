// Package domain contains entities without transport, just meta-data and small rules.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	SessionCapacity   = 2
	MaxDisplayNameLen = 64
)

type SessionID string

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

type Tier uint8

const (
	Tier1 Tier = iota + 1
	Tier2
	Tier3
)

func (t Tier) Valid() bool { return t >= Tier1 && t <= Tier3 }

func (t Tier) String() string {
	if !t.Valid() {
		return "tier-invalid"
	}
	return fmt.Sprintf("tier-%d", t)
}

// ParseTier accepts the wire form (tier-1), a bare number, and the legacy names.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tier-1", "1", "soft":
		return Tier1, nil
	case "tier-2", "2", "hot":
		return Tier2, nil
	case "tier-3", "3", "spicy":
		return Tier3, nil
	}
	return 0, Errorf(ErrInvalidInput, "unknown intensity tier %q", s)
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, Errorf(ErrInvalidInput, "invalid tier %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Phase is the coarse session state reported on the wire.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseActive    Phase = "active"
	PhaseEmergency Phase = "emergency"
	PhaseCompleted Phase = "completed"
)

// Session is the record of one two-party session.
// Mutated only by core.Session under its lock.
type Session struct {
	ID           SessionID
	DisplayName  string
	Tier         Tier
	Capacity     int
	Visibility   Visibility
	AccessSecret string
	CreatedAt    time.Time
	Participants map[ParticipantID]*Participant
}

func NewSession(id SessionID, name string, tier Tier, vis Visibility, secret string, now time.Time) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Errorf(ErrInvalidInput, "display name empty")
	}
	if len(name) > MaxDisplayNameLen {
		return nil, Errorf(ErrInvalidInput, "display name too long")
	}
	if !tier.Valid() {
		return nil, Errorf(ErrInvalidInput, "invalid intensity tier")
	}
	if vis == "" {
		vis = Public
	}
	if vis != Public && vis != Private {
		return nil, Errorf(ErrInvalidInput, "unknown visibility %q", vis)
	}
	return &Session{
		ID:           id,
		DisplayName:  name,
		Tier:         tier,
		Capacity:     SessionCapacity,
		Visibility:   vis,
		AccessSecret: secret,
		CreatedAt:    now,
		Participants: make(map[ParticipantID]*Participant, SessionCapacity),
	}, nil
}

func (s *Session) Occupancy() int { return len(s.Participants) }
func (s *Session) Full() bool     { return len(s.Participants) >= s.Capacity }
func (s *Session) HasSecret() bool {
	return s.AccessSecret != ""
}

// ParticipantIDs returns the member ids in a stable (sorted) order.
func (s *Session) ParticipantIDs() []ParticipantID {
	out := make([]ParticipantID, 0, len(s.Participants))
	for id := range s.Participants {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// SessionSummary is the read-only projection used by listings.
type SessionSummary struct {
	ID        SessionID `json:"id"`
	Code      SessionID `json:"code"`
	Name      string    `json:"name"`
	Tier      Tier      `json:"intensityTier"`
	Occupancy int       `json:"occupancy"`
	Capacity  int       `json:"capacity"`
	HasSecret bool      `json:"hasSecret"`
	Private   bool      `json:"private"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"createdAt"`
}
