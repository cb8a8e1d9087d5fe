package signal

import (
	"encoding/json"
	"testing"

	"github.com/dkeye/Tandem/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedConn() *WsSignalConn {
	return &WsSignalConn{send: make(chan core.Frame, 8)}
}

func nextMsg(t *testing.T, c *WsSignalConn) map[string]any {
	t.Helper()
	select {
	case f := <-c.send:
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		return m
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func TestDispatchSurvivesHandlerPanic(t *testing.T) {
	// no orchestrator: any join dereferences nil and panics inside the handler
	ctl := &SignalWSController{}
	c := newBufferedConn()

	require.NotPanics(t, func() {
		ctl.dispatch("c1", c, []byte(`{"type":"join","sessionId":"abc","participantId":"alice"}`))
	})
	msg := nextMsg(t, c)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "internal", msg["code"])

	// the same channel keeps being served
	ctl.dispatch("c1", c, []byte(`{"type":"ping"}`))
	assert.Equal(t, "pong", nextMsg(t, c)["type"])
}

func TestDispatchMalformed(t *testing.T) {
	ctl := &SignalWSController{}
	c := newBufferedConn()

	ctl.dispatch("c1", c, []byte(`{not json`))
	msg := nextMsg(t, c)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "invalid_input", msg["code"])

	ctl.dispatch("c1", c, []byte(`{"type":"dance"}`))
	assert.Equal(t, "invalid_input", nextMsg(t, c)["code"])
}
