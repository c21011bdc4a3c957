// Package api defines the wire API between the relay and its endpoints.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	t - (required) one of the predefined unique packet types;
//	p - (optional) packet payload with arbitrary data.
//
// All packets are fire-and-forget: neither side waits for a response,
// delivery ordering is guaranteed per connection only.
package api

import (
	"github.com/goccy/go-json"
)

type PT uint8

// Packet codes:
//
//	1x - shared codes
//	1xx - device (player) codes
//	2xx - remote-control codes
const (
	Frame           PT = 10
	SessionStop     PT = 11
	SessionStart    PT = 101
	RequestKeyframe PT = 102
	SessionJoined   PT = 201
)

func (p PT) String() string {
	switch p {
	case Frame:
		return "Frame"
	case SessionStop:
		return "SessionStop"
	case SessionStart:
		return "SessionStart"
	case RequestKeyframe:
		return "RequestKeyframe"
	case SessionJoined:
		return "SessionJoined"
	default:
		return "Unknown"
	}
}

type In struct {
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // 2-pass unmarshal
}

type Out struct {
	T       PT  `json:"t"`
	Payload any `json:"p,omitempty"`
}

// Frame types on the wire.
const (
	FTKeyframe uint8 = 1
	FTDelta    uint8 = 2
)

type (
	// FramePayload carries one captured screen frame.
	// Sid is set by the device and dropped before the viewer fan-out.
	FramePayload struct {
		Sid  string `json:"sid,omitempty"`
		Type uint8  `json:"ft"`
		Data []byte `json:"data"`
	}
	SessionPayload struct {
		Sid string `json:"sid"`
	}
	SessionJoinedPayload struct {
		Sid      string `json:"sid"`
		DeviceId string `json:"device_id"`
		Active   bool   `json:"active"`
	}
)

func Encode(t PT, payload any) ([]byte, error) { return json.Marshal(Out{T: t, Payload: payload}) }

func Decode(data []byte) (In, error) {
	var in In
	err := json.Unmarshal(data, &in)
	return in, err
}

// Unwrap decodes a packet payload into a concrete type.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
