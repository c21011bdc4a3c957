package relay

import (
	"errors"
	"net/http"

	"github.com/castmill/relay/pkg/api"
	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/logger"
	"github.com/castmill/relay/pkg/network/websocket"
	"github.com/castmill/relay/pkg/session"
	"github.com/goccy/go-json"
)

// Hub terminates the websocket connections of devices and remote-control
// clients and translates their packets into coordinator calls. All session
// state lives in the coordinator; the hub only tracks which device sockets
// are currently connected so fresh sessions can be bound to them.
type Hub struct {
	log         *logger.Logger
	coordinator *session.Coordinator
	devices     com.Map[string, *device]
}

func NewHub(coordinator *session.Coordinator, log *logger.Logger) *Hub {
	return &Hub{
		log:         log,
		coordinator: coordinator,
		devices:     com.NewMap[string, *device](),
	}
}

// handleDevice handles a signage player connection. The player attaches as
// the device endpoint of every live session of its device id; sessions
// created later are bound on creation. A reconnect simply replaces the
// endpoint in each session (last call wins).
func (h *Hub) handleDevice(w http.ResponseWriter, r *http.Request) {
	deviceId := r.URL.Query().Get("device_id")
	if deviceId == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	sock, err := websocket.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("device socket upgrade fail")
		return
	}
	d := newDevice(deviceId, sock, h.log)
	d.log.Info().Msg("device connected")

	sock.OnMessage = h.deviceRoutes(d)
	h.devices.Put(deviceId, d)
	sock.Listen()

	for _, s := range h.coordinator.ListSessionsForDevice(deviceId) {
		if err := h.coordinator.SetDeviceEndpoint(s.Id, d); err == nil {
			d.notify(api.SessionStart, api.SessionPayload{Sid: s.Id})
		}
	}

	<-sock.Done()
	// a reconnect may have already replaced this entry
	h.devices.RemoveIf(deviceId, func(c *device) bool { return c == d })
	d.log.Info().Msg("device disconnected")
}

func (h *Hub) deviceRoutes(d *device) websocket.MessageHandler {
	return func(message []byte, err error) {
		if err != nil {
			return
		}
		in, err := api.Decode(message)
		if err != nil {
			d.log.Error().Err(err).Msg("malformed packet")
			return
		}
		switch in.T {
		case api.Frame:
			p := api.Unwrap[api.FramePayload](in.Payload)
			if p == nil {
				d.log.Error().Msg("malformed frame packet")
				return
			}
			h.coordinator.EnqueueFrame(p.Sid, session.Frame{Type: frameTypeFromWire(p.Type), Payload: p.Data})
		case api.SessionStop:
			p := api.Unwrap[api.SessionPayload](in.Payload)
			if p == nil {
				d.log.Error().Msg("malformed stop packet")
				return
			}
			if err := h.coordinator.StopSession(p.Sid); err != nil {
				d.log.Debug().Err(err).Str("sid", p.Sid).Msg("stop fail")
			}
		default:
			d.log.Warn().Msgf("unhandled packet %v", in.T)
		}
	}
}

// handleRC handles a remote-control client connection. With a session_id
// the client joins an existing session as an extra viewer, otherwise a new
// session is created for the requested device. When the device is already
// connected the session is activated right away and the player is told to
// start capturing.
func (h *Hub) handleRC(w http.ResponseWriter, r *http.Request) {
	deviceId := r.URL.Query().Get("device_id")
	if deviceId == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	sid := r.URL.Query().Get("session_id")

	sock, err := websocket.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("rc socket upgrade fail")
		return
	}
	v := newViewer(sock, h.log)
	sock.OnMessage = h.viewerRoutes(v)
	sock.Listen()

	var info session.Info
	joined := false
	if sid != "" {
		err := h.coordinator.AddViewer(sid, v)
		// a repeated join is as good as a successful one
		if err == nil || errors.Is(err, session.ErrViewerExists) {
			info, joined = h.info(sid)
		} else {
			v.log.Debug().Err(err).Str("sid", sid).Msg("join fail, starting a new session")
		}
	}
	if !joined {
		sid = com.NewUid().String()
		if info, err = h.coordinator.CreateSession(sid, deviceId, v); err != nil {
			v.log.Error().Err(err).Msg("create session fail")
			sock.Close()
			return
		}
		if d, err := h.devices.Find(deviceId); err == nil {
			if err := h.coordinator.SetDeviceEndpoint(sid, d); err == nil {
				d.notify(api.SessionStart, api.SessionPayload{Sid: sid})
				info, _ = h.info(sid)
			}
		}
	}
	v.log.Info().Str("sid", sid).Msg("viewer joined")
	v.notify(api.SessionJoined, api.SessionJoinedPayload{
		Sid:      sid,
		DeviceId: deviceId,
		Active:   info.Status == session.Active,
	})
}

func (h *Hub) viewerRoutes(v *viewer) websocket.MessageHandler {
	return func(message []byte, err error) {
		if err != nil {
			return
		}
		in, err := api.Decode(message)
		if err != nil {
			v.log.Error().Err(err).Msg("malformed packet")
			return
		}
		switch in.T {
		case api.SessionStop:
			p := api.Unwrap[api.SessionPayload](in.Payload)
			if p == nil {
				v.log.Error().Msg("malformed stop packet")
				return
			}
			if err := h.coordinator.StopSession(p.Sid); err != nil {
				v.log.Debug().Err(err).Str("sid", p.Sid).Msg("stop fail")
			}
		default:
			v.log.Warn().Msgf("unhandled packet %v", in.T)
		}
	}
}

func (h *Hub) info(sid string) (session.Info, bool) {
	info, ok := h.coordinator.GetSession(sid)
	return info, ok
}

// handleSessions lists the live sessions of one device as JSON.
// Read-only, meant for the platform dashboard and debugging.
func (h *Hub) handleSessions(w http.ResponseWriter, r *http.Request) {
	deviceId := r.URL.Query().Get("device_id")
	if deviceId == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	list := h.coordinator.ListSessionsForDevice(deviceId)
	if list == nil {
		list = []session.Info{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(list); err != nil {
		h.log.Error().Err(err).Msg("sessions list encode fail")
	}
}
