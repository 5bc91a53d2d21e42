// Package gateway implements the client side of the agent gateway: the
// HTTP tool-invocation API, the push connection with its challenge/response
// handshake, and normalization of inbound event frames.
package gateway

import "encoding/json"

// Frame types on the push protocol.
const (
	FrameEvent = "event"
	FrameReq   = "req"
	FrameRes   = "res"
)

// EventChallenge is the event name the server sends to start the handshake.
const EventChallenge = "connect.challenge"

// Consumed telemetry event names.
const (
	EventAgent     = "agent"
	EventHealth    = "health"
	EventHeartbeat = "heartbeat"
	EventPresence  = "presence"
	EventChat      = "chat"
)

// Frame is one JSON message on the push connection. The Type discriminator
// decides which of the remaining fields are meaningful.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`   // event frames
	Method  string          `json:"method,omitempty"` // req frames
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      bool            `json:"ok,omitempty"` // res frames
	Error   string          `json:"error,omitempty"`
}

// Protocol version bounds advertised in the connect request.
const (
	minProtocolVersion = 1
	maxProtocolVersion = 3
)

// authRequestID tags the single connect request so the matching response
// can be recognized.
const authRequestID = "connect-1"

type connectParams struct {
	MinProtocolVersion int         `json:"minProtocolVersion"`
	MaxProtocolVersion int         `json:"maxProtocolVersion"`
	Client             clientInfo  `json:"client"`
	Role               string      `json:"role"`
	Scopes             []string    `json:"scopes"`
	Auth               connectAuth `json:"auth"`
}

type clientInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type connectAuth struct {
	Token string `json:"token"`
}

func connectFrame(clientID, version, token string) (*Frame, error) {
	params, err := json.Marshal(connectParams{
		MinProtocolVersion: minProtocolVersion,
		MaxProtocolVersion: maxProtocolVersion,
		Client:             clientInfo{ID: clientID, Version: version},
		Role:               "collector",
		Scopes:             []string{"events:read", "tools:invoke"},
		Auth:               connectAuth{Token: token},
	})
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:   FrameReq,
		ID:     authRequestID,
		Method: "connect",
		Params: params,
	}, nil
}
