package domain

type PromptRef string

// Prompt is one entry of the external round catalog.
type Prompt struct {
	ID              PromptRef `yaml:"id" json:"id"`
	Tier            Tier      `yaml:"tier" json:"tier"`
	Title           string    `yaml:"title" json:"title"`
	Category        string    `yaml:"category" json:"category"`
	Teaser          string    `yaml:"teaser" json:"teaser"`
	Instruction     string    `yaml:"instruction" json:"instruction"`
	DurationSeconds int       `yaml:"duration" json:"durationSeconds"`
}

// RoundState is the state of the per-session round machine.
type RoundState int

const (
	RoundIdle RoundState = iota
	RoundRunning
	RoundPaused
	RoundEmergency
	RoundCompleted
)

func (s RoundState) String() string {
	switch s {
	case RoundIdle:
		return "idle"
	case RoundRunning:
		return "running"
	case RoundPaused:
		return "paused"
	case RoundEmergency:
		return "emergency"
	case RoundCompleted:
		return "completed"
	}
	return "unknown"
}

// Phase folds the round state into the coarse session phase.
func (s RoundState) Phase() Phase {
	switch s {
	case RoundRunning, RoundPaused:
		return PhaseActive
	case RoundEmergency:
		return PhaseEmergency
	case RoundCompleted:
		return PhaseCompleted
	}
	return PhaseIdle
}

// Round is transient: it lives only while it is the current round.
type Round struct {
	ID              string
	Number          int
	Prompt          Prompt
	Tier            Tier
	DurationSeconds int
	Performer       ParticipantID
}
