package relay

import (
	"context"
	"net/http"

	"github.com/castmill/relay/pkg/config"
	"github.com/castmill/relay/pkg/logger"
	"github.com/castmill/relay/pkg/monitoring"
	"github.com/castmill/relay/pkg/network/httpx"
	"github.com/castmill/relay/pkg/service"
	"github.com/castmill/relay/pkg/session"
)

// Relay is the remote-control relay service: an HTTP/WebSocket front plus
// the session coordinator behind it.
type Relay struct {
	conf        config.RelayConfig
	log         *logger.Logger
	coordinator *session.Coordinator
	services    service.Group
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	coordinator := session.NewCoordinator(conf.Relay.Session, log)
	hub := NewHub(coordinator, log)

	srv, err := httpx.NewServer(
		conf.Relay.Server.Address,
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws/device", hub.handleDevice)
			h.HandleFunc("/ws/rc", hub.handleRC)
			h.HandleFunc("/api/sessions", hub.handleSessions)
			return h
		},
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	r := &Relay{conf: conf, log: log, coordinator: coordinator}
	r.services.Add(srv)
	if conf.Relay.Monitoring.IsEnabled() {
		m, err := monitoring.New(conf.Relay.Monitoring, "relay", log)
		if err != nil {
			return nil, err
		}
		r.services.Add(m)
	}
	return r, nil
}

func (r *Relay) Run() { r.services.Start() }

func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.services.Shutdown(ctx)
	r.coordinator.Close()
	return err
}
