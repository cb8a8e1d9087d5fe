package app

import (
	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a participant whose channel could not take a relayed frame.
type Policy interface {
	OnBackPressure(sess *core.Session, pid domain.ParticipantID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Session, domain.ParticipantID) BackpressureAction {
	return KickMember
}

// TolerantPolicy never kicks; the dropped frame is simply lost.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(*core.Session, domain.ParticipantID) BackpressureAction {
	return NoAction
}
