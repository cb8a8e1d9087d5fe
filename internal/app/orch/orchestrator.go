package orch

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/dkeye/Tandem/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Orchestrator is the gateway logic between channels and sessions.
// Transport adapters call it; it never touches sockets itself.
type Orchestrator struct {
	Channels *app.ChannelRegistry
	Sessions *app.SessionRegistry
	Policy   app.Policy

	// DeleteEmptyOnLeave removes a session as soon as its last participant leaves.
	DeleteEmptyOnLeave bool
}

// JoinRequest is the payload of a join message.
type JoinRequest struct {
	SessionID     domain.SessionID     `json:"sessionId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	AccessSecret  string               `json:"accessSecret,omitempty"`
}

// Connect registers a new unbound channel.
func (o *Orchestrator) Connect(cid app.ChannelID, conn core.SignalConnection, clientToken string, cancel context.CancelFunc) {
	o.Channels.Open(cid, conn, clientToken, cancel)
}

// Join runs the join protocol for an unbound channel.
func (o *Orchestrator) Join(cid app.ChannelID, req JoinRequest) error {
	err := o.join(cid, req)
	m := telemetry.GetMetrics()
	if err != nil {
		m.JoinsRejectedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("code", domain.ErrorCode(err))))
		log.Info().Str("module", "orch").Str("cid", string(cid)).Str("session", string(req.SessionID)).Err(err).Msg("join rejected")
		return err
	}
	m.JoinsTotal.Add(context.Background(), 1)
	return nil
}

func (o *Orchestrator) join(cid app.ChannelID, req JoinRequest) error {
	b, ok := o.Channels.Get(cid)
	if !ok {
		return domain.Errorf(domain.ErrUnauthenticated, "unknown channel")
	}
	if b.Bound() {
		return domain.Errorf(domain.ErrAlreadyJoined, "channel already joined %s as %s", b.SessionID, b.ParticipantID)
	}
	if req.SessionID == "" {
		return domain.Errorf(domain.ErrInvalidInput, "session id empty")
	}
	pid := req.ParticipantID
	if pid == "" {
		pid = domain.ParticipantID(b.ClientToken)
	}
	if err := domain.ValidateParticipantID(pid); err != nil {
		return err
	}

	sess, err := o.Sessions.Get(req.SessionID)
	if err != nil {
		return err
	}
	res, err := sess.Join(pid, req.AccessSecret, b.ClientToken, b.Conn)
	if err != nil {
		return err
	}
	if res.Rebound {
		if old, ok := o.Channels.Lookup(req.SessionID, pid); ok && old.CID != cid {
			o.Channels.Unbind(old.CID)
			o.Channels.Cancel(old.CID)
			log.Info().Str("module", "orch").Str("old_cid", string(old.CID)).Str("cid", string(cid)).Msg("replaced participant channel")
		}
	}
	o.Channels.Bind(cid, req.SessionID, pid)
	log.Info().Str("module", "orch").Str("cid", string(cid)).Str("session", string(req.SessionID)).Str("participant", string(pid)).Msg("joined")
	return nil
}

// bound resolves the identity and session of a channel, or ErrUnauthenticated.
func (o *Orchestrator) bound(cid app.ChannelID) (app.Binding, *core.Session, error) {
	b, ok := o.Channels.Get(cid)
	if !ok || !b.Bound() {
		return app.Binding{}, nil, domain.Errorf(domain.ErrUnauthenticated, "channel has not joined a session")
	}
	sess, ok := o.Sessions.Lookup(b.SessionID)
	if !ok || sess.Closed() {
		// session closed under us; the channel is effectively unbound now
		o.Channels.Unbind(cid)
		return app.Binding{}, nil, domain.Errorf(domain.ErrUnauthenticated, "session %s is gone", b.SessionID)
	}
	return b, sess, nil
}

// Relay forwards a negotiation message from cid to its peer.
func (o *Orchestrator) Relay(cid app.ChannelID, kind string, payload json.RawMessage) error {
	b, sess, err := o.bound(cid)
	if err != nil {
		return err
	}
	res := sess.Relay(b.ParticipantID, kind, payload)
	if o.Policy == nil {
		return nil
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(sess, slow) {
		case app.KickMember:
			if victim, ok := o.Channels.Lookup(b.SessionID, slow); ok {
				log.Warn().Str("module", "orch").Str("session", string(b.SessionID)).Str("participant", string(slow)).Msg("kicking slow participant")
				o.Channels.Cancel(victim.CID)
			}
		case app.NoAction:
		}
	}
	return nil
}

// Control applies a round-machine message from cid.
func (o *Orchestrator) Control(cid app.ChannelID, kind string) error {
	b, sess, err := o.bound(cid)
	if err != nil {
		return err
	}
	return sess.Control(b.ParticipantID, kind)
}

// Leave takes cid out of its session but keeps the channel open.
func (o *Orchestrator) Leave(cid app.ChannelID) error {
	b, ok := o.Channels.Unbind(cid)
	if !ok {
		return domain.Errorf(domain.ErrUnauthenticated, "channel has not joined a session")
	}
	o.leave(b)
	return nil
}

// OnDisconnect is the channel-close path; abrupt transport failures land here too.
func (o *Orchestrator) OnDisconnect(cid app.ChannelID) {
	b, ok := o.Channels.Close(cid)
	if !ok || !b.Bound() {
		return
	}
	o.leave(b)
}

func (o *Orchestrator) leave(b app.Binding) {
	sess, ok := o.Sessions.Lookup(b.SessionID)
	if !ok {
		return
	}
	remaining, left := sess.Leave(b.ParticipantID, b.Conn)
	if !left {
		return
	}
	log.Info().Str("module", "orch").Str("cid", string(b.CID)).Str("session", string(b.SessionID)).Str("participant", string(b.ParticipantID)).Int("remaining", remaining).Msg("left")
	if remaining == 0 && o.DeleteEmptyOnLeave {
		o.Sessions.DeleteIfEmpty(b.SessionID)
	}
}

// CloseSession deletes a session immediately, notifying and unbinding its participants.
func (o *Orchestrator) CloseSession(id domain.SessionID, secret string) error {
	sess, err := o.Sessions.Get(id)
	if err != nil {
		return err
	}
	if !sess.CheckSecret(secret) {
		return domain.Errorf(domain.ErrUnauthorized, "access secret mismatch")
	}
	o.Sessions.Delete(id)
	for _, b := range o.Channels.UnbindSession(id) {
		log.Info().Str("module", "orch").Str("cid", string(b.CID)).Str("session", string(id)).Msg("unbound by session close")
	}
	return nil
}
