package app

import (
	"context"
	"sync"

	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/dkeye/Tandem/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// ChannelID identifies one open signaling channel.
type ChannelID string

// Binding is what the gateway knows about a channel. SessionID and
// ParticipantID are empty until a join succeeds.
type Binding struct {
	CID           ChannelID
	SessionID     domain.SessionID
	ParticipantID domain.ParticipantID
	Conn          core.SignalConnection
	ClientToken   string
	Cancel        context.CancelFunc
}

func (b Binding) Bound() bool { return b.SessionID != "" }

// ChannelRegistry maps open channels to their (session, participant) identity.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[ChannelID]*Binding
}

func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[ChannelID]*Binding)}
}

// Open registers a fresh, unbound channel.
func (r *ChannelRegistry) Open(cid ChannelID, conn core.SignalConnection, clientToken string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[cid] = &Binding{CID: cid, Conn: conn, ClientToken: clientToken, Cancel: cancel}
	telemetry.GetMetrics().ActiveChannels.Add(context.Background(), 1)
	log.Info().Str("module", "app.channels").Str("cid", string(cid)).Msg("channel opened")
}

func (r *ChannelRegistry) Get(cid ChannelID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.channels[cid]; ok {
		return *b, true
	}
	return Binding{}, false
}

// Bind attaches an identity to an open channel.
func (r *ChannelRegistry) Bind(cid ChannelID, sid domain.SessionID, pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.channels[cid]
	if !ok {
		return false
	}
	b.SessionID = sid
	b.ParticipantID = pid
	log.Info().Str("module", "app.channels").Str("cid", string(cid)).Str("session", string(sid)).Str("participant", string(pid)).Msg("channel bound")
	return true
}

// Unbind drops the identity but keeps the channel open. Returns the previous binding.
func (r *ChannelRegistry) Unbind(cid ChannelID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.channels[cid]
	if !ok || !b.Bound() {
		return Binding{}, false
	}
	prev := *b
	b.SessionID = ""
	b.ParticipantID = ""
	log.Info().Str("module", "app.channels").Str("cid", string(cid)).Str("session", string(prev.SessionID)).Msg("channel unbound")
	return prev, true
}

// Close forgets the channel entirely and returns what it was bound to.
func (r *ChannelRegistry) Close(cid ChannelID) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.channels[cid]
	if !ok {
		return Binding{}, false
	}
	delete(r.channels, cid)
	telemetry.GetMetrics().ActiveChannels.Add(context.Background(), -1)
	log.Info().Str("module", "app.channels").Str("cid", string(cid)).Msg("channel closed")
	return *b, true
}

// Lookup finds the channel currently bound to (sid, pid).
func (r *ChannelRegistry) Lookup(sid domain.SessionID, pid domain.ParticipantID) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.channels {
		if b.SessionID == sid && b.ParticipantID == pid {
			return *b, true
		}
	}
	return Binding{}, false
}

// UnbindSession drops every binding to sid and returns them.
func (r *ChannelRegistry) UnbindSession(sid domain.SessionID) []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Binding
	for _, b := range r.channels {
		if b.SessionID == sid {
			out = append(out, *b)
			b.SessionID = ""
			b.ParticipantID = ""
		}
	}
	return out
}

// Cancel stops the pumps of a channel, which closes it.
func (r *ChannelRegistry) Cancel(cid ChannelID) bool {
	r.mu.RLock()
	b, ok := r.channels[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if b.Cancel != nil {
		b.Cancel()
	}
	log.Info().Str("module", "app.channels").Str("cid", string(cid)).Msg("canceled channel")
	return true
}
