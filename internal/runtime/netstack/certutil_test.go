package netstack

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestGenerateSelfSignedTLS(t *testing.T) {
	cfg, err := GenerateSelfSignedTLS([]string{"localhost", "127.0.0.1"}, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version %x", cfg.MinVersion)
	}
	leaf := cfg.Certificates[0]
	if len(leaf.Certificate) == 0 {
		t.Fatalf("certificate chain empty")
	}
}

func TestHTTP3ServerLifecycle(t *testing.T) {
	cfg, err := GenerateSelfSignedTLS([]string{"127.0.0.1"}, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	srv := NewHTTP3Server("127.0.0.1:0", cfg, nil)
	addr, err := srv.Start()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if addr == "" {
		t.Fatalf("no bound address")
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
