package session

import (
	"errors"
	"time"

	"github.com/castmill/relay/pkg/com"
	"github.com/castmill/relay/pkg/config"
	"github.com/castmill/relay/pkg/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrViewerExists    = errors.New("viewer already added")
)

// Coordinator is the single serialized authority over all live sessions.
// Every operation runs to completion on one goroutine before the next one
// starts, so the session map needs no locking and concurrent create/join/
// frame/disconnect events cannot race each other.
type Coordinator struct {
	conf config.Session
	log  *logger.Logger

	ops      chan func()
	done     chan struct{}
	sessions map[string]*session
}

func NewCoordinator(conf config.Session, log *logger.Logger) *Coordinator {
	c := &Coordinator{
		conf:     conf,
		log:      log,
		ops:      make(chan func(), 128),
		done:     make(chan struct{}),
		sessions: make(map[string]*session, 10),
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.done:
			return
		}
	}
}

// post schedules an operation on the coordinator loop without waiting.
func (c *Coordinator) post(op func()) {
	select {
	case c.ops <- op:
	case <-c.done:
	}
}

// call runs an operation on the loop and waits for its completion.
func (c *Coordinator) call(op func()) {
	ran := make(chan struct{})
	c.post(func() { op(); close(ran) })
	select {
	case <-ran:
	case <-c.done:
	}
}

// Close stops the coordinator loop. All sessions are gone with it:
// the relay holds no durable state.
func (c *Coordinator) Close() { close(c.done) }

// watch posts a synthetic endpoint-down event into the serialized stream
// when the endpoint's transport dies. Done closes exactly once, so each
// disconnect is observed exactly once.
func (c *Coordinator) watch(ep Endpoint) {
	go func() {
		select {
		case <-ep.Done():
			c.post(func() { c.handleEndpointDown(ep) })
		case <-c.done:
		}
	}()
}

// CreateSession registers a new session in Pending status with the given
// endpoint as its sole viewer. Fails with ErrSessionExists when the id is
// already live; the existing session is left untouched.
func (c *Coordinator) CreateSession(id, deviceId string, viewer ViewerEndpoint) (info Info, err error) {
	c.call(func() {
		if _, ok := c.sessions[id]; ok {
			err = ErrSessionExists
			return
		}
		s := &session{
			id:        id,
			deviceId:  deviceId,
			status:    Pending,
			createdAt: time.Now(),
			viewers:   map[com.Uid]ViewerEndpoint{viewer.Id(): viewer},
			queue:     newQueue(c.conf.MaxQueueSize),
		}
		c.sessions[id] = s
		c.watch(viewer)
		activeSessions.Inc()
		c.log.Info().Str("sid", id).Str("d", deviceId).Msg("session created")
		info = s.info()
	})
	return
}

// AddViewer attaches one more viewer to a live session.
// Adding the same endpoint twice fails with ErrViewerExists.
func (c *Coordinator) AddViewer(id string, viewer ViewerEndpoint) (err error) {
	c.call(func() {
		s, ok := c.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		if _, ok := s.viewers[viewer.Id()]; ok {
			err = ErrViewerExists
			return
		}
		s.viewers[viewer.Id()] = viewer
		c.watch(viewer)
		c.log.Info().Str("sid", id).Str("v", viewer.Id().Short()).Msg("viewer added")
	})
	return
}

// RemoveViewer detaches a viewer. Removing the last viewer destroys the
// session, so the caller must not assume the session is still live after.
func (c *Coordinator) RemoveViewer(id string, viewer ViewerEndpoint) (err error) {
	c.call(func() {
		s, ok := c.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		delete(s.viewers, viewer.Id())
		if len(s.viewers) == 0 {
			c.destroy(s, "last viewer left")
		}
	})
	return
}

// SetDeviceEndpoint attaches the producing device and activates the session.
// A repeated call replaces the endpoint (device reconnect), last call wins.
func (c *Coordinator) SetDeviceEndpoint(id string, device DeviceEndpoint) (err error) {
	c.call(func() {
		s, ok := c.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		s.device = device
		s.status = Active
		c.watch(device)
		c.log.Info().Str("sid", id).Str("dev", device.Id().Short()).Msg("device attached")
	})
	return
}

// EnqueueFrame runs the frame through the admission policy and fans it out
// to the current viewers. Fire-and-forget: an unknown session id is normal,
// since a device may keep streaming for a moment after teardown.
func (c *Coordinator) EnqueueFrame(id string, frame Frame) {
	c.post(func() {
		s, ok := c.sessions[id]
		if !ok {
			c.log.Debug().Str("sid", id).Msg("frame for unknown session")
			return
		}
		c.admit(s, frame)
	})
}

// StopSession tears the session down regardless of its viewer count.
func (c *Coordinator) StopSession(id string) (err error) {
	c.call(func() {
		s, ok := c.sessions[id]
		if !ok {
			err = ErrSessionNotFound
			return
		}
		c.destroy(s, "stopped")
	})
	return
}

// GetSession returns a snapshot of a live session.
func (c *Coordinator) GetSession(id string) (info Info, ok bool) {
	c.call(func() {
		if s, found := c.sessions[id]; found {
			info, ok = s.info(), true
		}
	})
	return
}

// ListSessionsForDevice returns snapshots of every live session of a device.
// Linear in the live session count.
func (c *Coordinator) ListSessionsForDevice(deviceId string) (list []Info) {
	c.call(func() {
		for _, s := range c.sessions {
			if s.deviceId == deviceId {
				list = append(list, s.info())
			}
		}
	})
	return
}

// admit applies the frame admission policy.
//
// Keyframes always win: the pending queue is cleared, the drop counter is
// reset and the frame goes out, so a viewer that fell behind always has a
// path back to a decodable state. Deltas are only useful when the whole
// chain since the last keyframe got through — once the queue is full they
// are shed and, after MaxPFrameDrops consecutive sheds, the device is asked
// for a fresh keyframe exactly once per stall.
func (c *Coordinator) admit(s *session, frame Frame) {
	switch {
	case frame.Type == Keyframe:
		s.queue.Clear()
		s.drops = 0
		c.fanOut(s, frame)
	case frame.Type == Delta && !s.queue.Full():
		s.queue.Push(frame)
		s.drops = 0
		c.fanOut(s, frame)
	case frame.Type == Delta:
		s.drops++
		framesDropped.Inc()
		if s.drops == c.conf.MaxPFrameDrops {
			c.requestKeyframe(s)
		} else if s.drops > c.conf.MaxPFrameDrops {
			c.log.Debug().Str("sid", s.id).Int("drops", s.drops).Msg("still stalled")
		}
	default:
		c.log.Warn().Str("sid", s.id).Msgf("frame of unknown type %d dropped", frame.Type)
	}
}

func (c *Coordinator) fanOut(s *session, frame Frame) {
	for _, v := range s.viewers {
		v.RelayFrame(frame)
	}
	framesRelayed.WithLabelValues(frame.Type.String()).Inc()
}

func (c *Coordinator) requestKeyframe(s *session) {
	if s.device == nil {
		c.log.Warn().Str("sid", s.id).Msg("stalled with no device attached")
		return
	}
	c.log.Info().Str("sid", s.id).Msg("requesting a keyframe")
	s.device.RequestKeyframe(s.id)
	keyframeRequests.Inc()
}

// handleEndpointDown reacts to a dead transport. A dead device endpoint
// kills its session; a dead viewer leaves the session, killing it when it
// was the last one. Endpoints are never shared across sessions, so the scan
// stops at the first match. A second delivery for the same endpoint, or one
// for an endpoint that was already replaced, finds nothing and is a no-op.
func (c *Coordinator) handleEndpointDown(ep Endpoint) {
	id := ep.Id()
	for _, s := range c.sessions {
		if s.device != nil && s.device.Id() == id {
			c.destroy(s, "device disconnected")
			return
		}
		if _, ok := s.viewers[id]; ok {
			delete(s.viewers, id)
			c.log.Info().Str("sid", s.id).Str("v", id.Short()).Msg("viewer disconnected")
			if len(s.viewers) == 0 {
				c.destroy(s, "last viewer disconnected")
			}
			return
		}
	}
	c.log.Debug().Str("ep", id.Short()).Msg("down event for unknown endpoint")
}

func (c *Coordinator) destroy(s *session, reason string) {
	delete(c.sessions, s.id)
	activeSessions.Dec()
	c.log.Info().Str("sid", s.id).Str("d", s.deviceId).Msgf("session destroyed: %s", reason)
}
