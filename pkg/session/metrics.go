package session

import "github.com/prometheus/client_golang/prometheus"

var (
	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_active",
		Help: "Number of live relay sessions.",
	})
	framesRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_relayed_total",
		Help: "Frames admitted and fanned out to viewers.",
	}, []string{"type"})
	framesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Delta frames shed due to a full session queue.",
	})
	keyframeRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_keyframe_requests_total",
		Help: "Keyframe requests sent to devices after a drop stall.",
	})
)

func init() {
	prometheus.MustRegister(activeSessions, framesRelayed, framesDropped, keyframeRequests)
}
