package session

import (
	"time"

	"github.com/castmill/relay/pkg/com"
)

type FrameType uint8

const (
	Keyframe FrameType = iota + 1 // self-contained, decodable on its own
	Delta                         // depends on every frame since the last keyframe
)

func (t FrameType) String() string {
	switch t {
	case Keyframe:
		return "keyframe"
	case Delta:
		return "delta"
	}
	return "unknown"
}

// Frame is a single captured screen frame. The payload is opaque to the
// relay and passes through untouched.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Endpoint is a live transport handle attached to a session.
// Done must close exactly once when the underlying connection dies;
// the coordinator relies on it for cleanup.
type Endpoint interface {
	Id() com.Uid
	Done() <-chan struct{}
}

// ViewerEndpoint receives relayed frames. RelayFrame must not block —
// a slow consumer is the transport's problem, not the coordinator's.
type ViewerEndpoint interface {
	Endpoint
	RelayFrame(frame Frame)
}

// DeviceEndpoint produces frames and accepts keyframe requests.
type DeviceEndpoint interface {
	Endpoint
	RequestKeyframe(sid string)
}

type Status uint8

const (
	Pending Status = iota // created, no device attached yet
	Active                // device attached
)

func (s Status) String() string {
	if s == Active {
		return "active"
	}
	return "pending"
}

// session is the live relay state of one device-to-viewers link,
// owned exclusively by the coordinator loop.
type session struct {
	id        string
	deviceId  string
	status    Status
	createdAt time.Time

	device  DeviceEndpoint
	viewers map[com.Uid]ViewerEndpoint
	queue   *queue
	drops   int // consecutive delta drops since the last keyframe
}

// Info is a read-only session snapshot.
type Info struct {
	Id        string    `json:"id"`
	DeviceId  string    `json:"device_id"`
	Status    Status    `json:"status"`
	Viewers   int       `json:"viewers"`
	QueueLen  int       `json:"queue_len"`
	Drops     int       `json:"drops"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *session) info() Info {
	return Info{
		Id:        s.id,
		DeviceId:  s.deviceId,
		Status:    s.status,
		Viewers:   len(s.viewers),
		QueueLen:  s.queue.Len(),
		Drops:     s.drops,
		CreatedAt: s.createdAt,
	}
}
