package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/danmuck/treegrid/internal/testutil/testlog"
	"github.com/danmuck/treegrid/internal/testutil/tlstest"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestShouldRetryAndSleepBackoff(t *testing.T) {
	testlog.Start(t)
	if !ShouldRetry(0, 100) {
		t.Fatalf("zero max should retry forever")
	}
	if ShouldRetry(3, 3) {
		t.Fatalf("attempt 3 of 3 should stop")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := BackoffConfig{InitialDelay: time.Hour}
	if err := SleepBackoff(ctx, cfg, 1, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValidateTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.ValidateTransport(); err != nil {
		t.Fatalf("development default should validate: %v", err)
	}
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	if err := cfg.ValidateTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
	cfg.TLS.Mutual = true
	if err := cfg.ValidateTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
	cfg.TLS.CertFile = "peer.crt"
	cfg.TLS.KeyFile = "peer.key"
	if err := cfg.ValidateTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}
	cfg.SecurityMode = "lab"
	if err := cfg.ValidateTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
}

func TestTLSConfigsFromFiles(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "treegrid-test-ca")
	certFile, keyFile := ca.IssuePeerCert(t, dir, "rank-0")

	cfg := DefaultConfig()
	cfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: certFile, KeyFile: keyFile, CAFile: ca.CAFile()}
	if err := cfg.ValidateTransport(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	server, err := cfg.ServerTLS()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	if server.ClientCAs == nil || len(server.Certificates) != 1 {
		t.Fatalf("unexpected server tls: %+v", server)
	}
	client, err := cfg.ClientTLS("127.0.0.1")
	if err != nil {
		t.Fatalf("client tls: %v", err)
	}
	if client.ServerName != "127.0.0.1" || client.RootCAs == nil || len(client.Certificates) != 1 {
		t.Fatalf("unexpected client tls: %+v", client)
	}
}
