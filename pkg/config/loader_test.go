package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	var conf RelayConfig
	if err := LoadConfig(&conf, "../../configs"); err != nil {
		t.Fatal(err)
	}
	if conf.Relay.Session.MaxQueueSize != 100 {
		t.Errorf("maxQueueSize %v, want 100", conf.Relay.Session.MaxQueueSize)
	}
	if conf.Relay.Session.MaxPFrameDrops != 5 {
		t.Errorf("maxPFrameDrops %v, want 5", conf.Relay.Session.MaxPFrameDrops)
	}
	if conf.Relay.Server.Address != ":8089" {
		t.Errorf("address %v, want :8089", conf.Relay.Server.Address)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	_ = os.Setenv("CASTMILL_RELAY_RELAY_SESSION_MAXPFRAMEDROPS", "7")
	defer func() { _ = os.Unsetenv("CASTMILL_RELAY_RELAY_SESSION_MAXPFRAMEDROPS") }()

	var conf RelayConfig
	if err := LoadConfig(&conf, "../../configs"); err != nil {
		t.Fatal(err)
	}
	if conf.Relay.Session.MaxPFrameDrops != 7 {
		t.Errorf("maxPFrameDrops %v, want 7 from env", conf.Relay.Session.MaxPFrameDrops)
	}
}
