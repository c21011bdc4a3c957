package relay

import (
	"github.com/castmill/relay/pkg/api"
	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/logger"
	"github.com/castmill/relay/pkg/network/websocket"
)

// device wraps the websocket of a connected signage player.
// It implements session.DeviceEndpoint.
type device struct {
	deviceId string
	sock     *websocket.WS
	log      *logger.Logger
}

func newDevice(deviceId string, sock *websocket.WS, log *logger.Logger) *device {
	return &device{
		deviceId: deviceId,
		sock:     sock,
		log:      log.Extend(log.With().Str("dev", deviceId)),
	}
}

func (d *device) Id() com.Uid           { return d.sock.Id() }
func (d *device) Done() <-chan struct{} { return d.sock.Done() }

// RequestKeyframe asks the player to produce a fresh keyframe.
// Called from the coordinator loop, so the send must not block.
func (d *device) RequestKeyframe(sid string) {
	data, err := api.Encode(api.RequestKeyframe, api.SessionPayload{Sid: sid})
	if err != nil {
		d.log.Error().Err(err).Msg("encode keyframe request fail")
		return
	}
	if !d.sock.TryWrite(data) {
		d.log.Warn().Str("sid", sid).Msg("keyframe request dropped, device not keeping up")
	}
}

func (d *device) notify(t api.PT, payload any) {
	data, err := api.Encode(t, payload)
	if err != nil {
		d.log.Error().Err(err).Msgf("encode %v fail", t)
		return
	}
	d.sock.Write(data)
}
