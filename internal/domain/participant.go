package domain

import (
	"slices"
	"time"
)

const MaxParticipantIDLen = 36

type ParticipantID string

// MediaFlags is the last self-reported capture state of a participant.
// Advisory only; nothing in the server enforces it.
type MediaFlags struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`
}

// Participant is the per-session meta of one bound identity.
// The transport endpoint lives next to it in core, never in here.
type Participant struct {
	ID       ParticipantID
	JoinedAt time.Time
	Ready    bool
	Media    MediaFlags
}

// NewParticipant avoids raw literals in adapters and keeps construction obvious.
func NewParticipant(id ParticipantID, now time.Time) (*Participant, error) {
	if err := ValidateParticipantID(id); err != nil {
		return nil, err
	}
	return &Participant{
		ID:       id,
		JoinedAt: now,
		Media:    MediaFlags{Video: true, Audio: true},
	}, nil
}

func ValidateParticipantID(id ParticipantID) error {
	if len(id) == 0 {
		return Errorf(ErrInvalidInput, "participant id empty")
	}
	if len(id) > MaxParticipantIDLen {
		return Errorf(ErrInvalidInput, "participant id too long")
	}
	return nil
}

// Initiator picks the participant expected to send the first offer.
// Defined only for a full two-party session; otherwise it returns "".
func Initiator(ids []ParticipantID) ParticipantID {
	if len(ids) != 2 {
		return ""
	}
	return slices.Min(ids)
}
