package app

import (
	"github.com/MrWong99/scamguard/internal/call"
	"github.com/MrWong99/scamguard/internal/config"
	"github.com/MrWong99/scamguard/pkg/provider/capture/relay"
)

// Client message types.
const (
	msgAuth    = "auth"
	msgStart   = "start"
	msgEnd     = "end"
	msgReset   = "reset"
	msgCapture = "capture"
)

// Server message types.
const (
	msgHello = "hello"
	msgState = "state"
	msgError = "error"
)

// clientMessage is a text frame sent by the browser. Binary frames carry
// PCM audio for the stream engine and are not decoded as messages.
type clientMessage struct {
	Type string `json:"type"`

	// Token replaces the identity token (auth).
	Token string `json:"token,omitempty"`

	// Event is a speech engine signal (capture, relay engine only).
	Event *relay.Event `json:"event,omitempty"`
}

// serverMessage is a text frame sent to the browser.
type serverMessage struct {
	Type string `json:"type"`

	// hello
	CallID string               `json:"call_id,omitempty"`
	Engine config.CaptureEngine `json:"engine,omitempty"`

	// state
	State *stateView `json:"state,omitempty"`

	// capture
	Command *relay.Command `json:"command,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// stateView is the call state as rendered by the browser.
type stateView struct {
	call.Snapshot
	Ended bool `json:"ended"`
}

func stateMessage(s call.Snapshot) serverMessage {
	return serverMessage{Type: msgState, State: &stateView{Snapshot: s, Ended: s.Ended()}}
}
