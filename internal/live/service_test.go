package live

import (
	"context"
	"testing"
	"time"

	"github.com/r3e-network/turbulence/internal/logging"
)

func TestServiceStartServesRouterAndStopShutsDownCleanly(t *testing.T) {
	log := logging.New("live-service-test", logging.Config{Level: "error", Format: "json"})
	srv := NewService("127.0.0.1:0", NewServer(log), log)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	if srv.server == nil || srv.server.Handler == nil {
		t.Fatal("expected Start to install the live router as the HTTP server's handler")
	}

	if srv.Name() != "live" {
		t.Fatalf("expected service name 'live', got %q", srv.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
}

func TestServiceStopWithoutStartIsNoop(t *testing.T) {
	log := logging.New("live-service-test", logging.Config{Level: "error", Format: "json"})
	srv := NewService("127.0.0.1:0", NewServer(log), log)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("expected no error stopping an unstarted service, got %v", err)
	}
}
