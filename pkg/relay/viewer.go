package relay

import (
	"github.com/castmill/relay/pkg/api"
	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/logger"
	"github.com/castmill/relay/pkg/network/websocket"
	"github.com/castmill/relay/pkg/session"
)

// viewer wraps the websocket of a connected remote-control client.
// It implements session.ViewerEndpoint.
type viewer struct {
	sock *websocket.WS
	log  *logger.Logger
}

func newViewer(sock *websocket.WS, log *logger.Logger) *viewer {
	return &viewer{sock: sock, log: log.Extend(log.With().Str("rc", sock.Id().Short()))}
}

func (v *viewer) Id() com.Uid           { return v.sock.Id() }
func (v *viewer) Done() <-chan struct{} { return v.sock.Done() }

// RelayFrame pushes a frame down to the remote-control client.
// Non-blocking: when this particular socket can't keep up, the frame is
// dropped here and the client recovers from the next keyframe.
func (v *viewer) RelayFrame(frame session.Frame) {
	data, err := api.Encode(api.Frame, api.FramePayload{Type: frameTypeToWire(frame.Type), Data: frame.Payload})
	if err != nil {
		v.log.Error().Err(err).Msg("encode frame fail")
		return
	}
	if !v.sock.TryWrite(data) {
		v.log.Debug().Msg("slow viewer, frame dropped")
	}
}

func (v *viewer) notify(t api.PT, payload any) {
	data, err := api.Encode(t, payload)
	if err != nil {
		v.log.Error().Err(err).Msgf("encode %v fail", t)
		return
	}
	v.sock.Write(data)
}

func frameTypeToWire(t session.FrameType) uint8 {
	if t == session.Keyframe {
		return api.FTKeyframe
	}
	return api.FTDelta
}

func frameTypeFromWire(t uint8) session.FrameType {
	switch t {
	case api.FTKeyframe:
		return session.Keyframe
	case api.FTDelta:
		return session.Delta
	}
	return session.FrameType(0)
}
