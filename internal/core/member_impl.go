package core

import "github.com/dkeye/Tandem/internal/domain"

// memberSession pairs participant meta with its current transport endpoint.
// This is what a session stores and fans out to.
type memberSession struct {
	meta   *domain.Participant
	signal SignalConnection
	// owner is the client token that joined; only it may rebind the slot.
	owner  string
}

func (m *memberSession) send(f Frame) error {
	if m.signal == nil {
		return ErrClosed
	}
	return m.signal.TrySend(f)
}
