package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Tandem/internal/app"
	"github.com/dkeye/Tandem/internal/app/orch"
	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/rs/zerolog/log"
)

// envelope is the union of every inbound message shape.
type envelope struct {
	Type          string               `json:"type"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
	SessionID     domain.SessionID     `json:"sessionId,omitempty"`
	ParticipantID domain.ParticipantID `json:"participantId,omitempty"`
	AccessSecret  string               `json:"accessSecret,omitempty"`
}

type typeOnly struct {
	Type string `json:"type"`
}

// dispatch handles one inbound message. A panic is confined to that message:
// the requester gets an internal error and the channel keeps reading.
func (ctl *SignalWSController) dispatch(cid app.ChannelID, c *WsSignalConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "signal").Str("cid", string(cid)).Msg("handler recovered")
			ctl.replyError(c, errors.New("internal error"))
		}
	}()
	ctl.handleSignal(cid, c, data)
}

func (ctl *SignalWSController) handleSignal(cid app.ChannelID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("cid", string(cid)).Msg("bad json")
		ctl.replyError(c, domain.Errorf(domain.ErrInvalidInput, "malformed message"))
		return
	}

	switch {
	case env.Type == core.KindJoin:
		ctl.handleJoin(cid, c, env)
	case env.Type == core.KindLeave:
		ctl.handleLeave(cid, c)
	case env.Type == core.KindPing:
		ctl.sendJSON(c, typeOnly{Type: core.KindPong})
	case core.IsRelayKind(env.Type):
		ctl.handleRelay(cid, c, env)
	case core.IsControlKind(env.Type):
		ctl.handleControl(cid, c, env.Type)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.replyError(c, domain.Errorf(domain.ErrInvalidInput, "unknown message type %q", env.Type))
	}
}

func (ctl *SignalWSController) handleJoin(cid app.ChannelID, c *WsSignalConn, env envelope) {
	err := ctl.Orch.Join(cid, orch.JoinRequest{
		SessionID:     env.SessionID,
		ParticipantID: env.ParticipantID,
		AccessSecret:  env.AccessSecret,
	})
	if err != nil {
		ctl.replyError(c, err)
	}
}

func (ctl *SignalWSController) handleLeave(cid app.ChannelID, c *WsSignalConn) {
	if err := ctl.Orch.Leave(cid); err != nil {
		ctl.dropUnbound(cid, core.KindLeave, err)
		return
	}
	ctl.sendJSON(c, typeOnly{Type: core.KindLeft})
}

func (ctl *SignalWSController) handleRelay(cid app.ChannelID, c *WsSignalConn, env envelope) {
	if err := ctl.Orch.Relay(cid, env.Type, env.Payload); err != nil {
		ctl.dropUnbound(cid, env.Type, err)
	}
}

func (ctl *SignalWSController) handleControl(cid app.ChannelID, c *WsSignalConn, kind string) {
	err := ctl.Orch.Control(cid, kind)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnauthenticated):
		ctl.dropUnbound(cid, kind, err)
	default:
		log.Info().Str("module", "signal").Str("cid", string(cid)).Str("type", kind).Err(err).Msg("control rejected")
		ctl.replyError(c, err)
	}
}

func (ctl *SignalWSController) dropUnbound(cid app.ChannelID, kind string, err error) {
	log.Warn().Str("module", "signal").Str("cid", string(cid)).Str("type", kind).Err(err).Msg("dropped message")
}

func (ctl *SignalWSController) replyError(c *WsSignalConn, err error) {
	ctl.sendJSON(c, core.NewErrorMsg(err))
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	f := core.Encode(v)
	if f == nil {
		return
	}
	_ = c.TrySend(f)
}
