package config

import "testing"

func TestExampleConfig(t *testing.T) {
	cfg, err := LoadAndValidate("../config.example.yaml")
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if cfg.Persistence.Type != "file" || cfg.Upstream.Nameserver != "77.88.8.1:53" {
		t.Errorf("unexpected example config: %+v", cfg)
	}
}
