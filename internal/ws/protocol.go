package ws

import (
	"github.com/histoboard/backend/internal/histogram"
)

type MessageType string

// Server -> client.
const (
	MsgHello MessageType = "hello"
	MsgPlot  MessageType = "plot"
	MsgClear MessageType = "clear"
	MsgError MessageType = "error"
)

// Client -> server.
const (
	MsgTrigger   MessageType = "trigger"
	MsgSetHeader MessageType = "set_header"
	MsgReset     MessageType = "reset"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type HelloPayload struct {
	SessionID      string  `json:"sessionId"`
	PoissonRate    float64 `json:"poissonRate"`
	MaxUploadBytes int64   `json:"maxUploadBytes"`
}

type PlotPayload struct {
	Branch string         `json:"branch"`
	Plot   histogram.Plot `json:"plot"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// ClientMessage is the single inbound frame shape. Source is set for
// trigger frames ("normal" or "poisson"); Header for set_header frames.
type ClientMessage struct {
	Type   MessageType `json:"type"`
	Source string      `json:"source,omitempty"`
	Header bool        `json:"header,omitempty"`
}
