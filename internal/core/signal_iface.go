package core

import "errors"

// Frame is a raw encoded message for one channel.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts the messaging transport of one participant.
// Owned by the adapter; the adapter must Close() it. TrySend must never block.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
