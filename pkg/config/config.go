package config

import (
	flag "github.com/spf13/pflag"
)

type (
	// RelayConfig is the root of the relay service configuration.
	RelayConfig struct {
		Relay Relay
	}
	Relay struct {
		Debug      bool
		Server     Server
		Session    Session
		Monitoring Monitoring
	}
	Server struct {
		Address string `fig:"address" default:":8089"`
	}
	// Session contains the frame admission policy knobs.
	Session struct {
		// MaxQueueSize caps the number of pending (in-flight) frames per session.
		MaxQueueSize int `fig:"maxQueueSize" default:"100"`
		// MaxPFrameDrops is the number of consecutively dropped delta frames
		// after which the device is asked for a fresh keyframe.
		MaxPFrameDrops int `fig:"maxPFrameDrops" default:"5"`
	}
	Monitoring struct {
		Port             int    `fig:"port" default:"6603"`
		URLPrefix        string `fig:"urlPrefix" default:"/relay"`
		MetricEnabled    bool   `fig:"metricEnabled"`
		ProfilingEnabled bool   `fig:"profilingEnabled"`
	}
)

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// NewRelayConfig loads the config from a file and the environment.
// Panics on a missing or broken config since the service can't run without one.
func NewRelayConfig(path string) (conf RelayConfig) {
	if err := LoadConfig(&conf, path); err != nil {
		panic(err)
	}
	return
}

func (c *RelayConfig) ParseFlags() {
	c.Relay.WithFlags()
	flag.Parse()
}

func (r *Relay) WithFlags() {
	flag.BoolVarP(&r.Debug, "debug", "d", r.Debug, "enable debug logging")
	flag.StringVar(&r.Server.Address, "address", r.Server.Address, "server address")
	flag.IntVar(&r.Session.MaxQueueSize, "maxQueue", r.Session.MaxQueueSize, "max pending frames per session")
	flag.IntVar(&r.Session.MaxPFrameDrops, "maxDrops", r.Session.MaxPFrameDrops, "delta frame drops before a keyframe request")
}
