package live

import (
	"context"
	"net/http"
	"time"

	"github.com/r3e-network/turbulence/internal/logging"
	"github.com/r3e-network/turbulence/internal/system"
)

// Service wraps Server as a system.Service so an Application can start and
// stop the live-update HTTP listener alongside every other subsystem.
type Service struct {
	addr   string
	srv    *Server
	server *http.Server
	log    *logging.Logger
}

var _ system.Service = (*Service)(nil)

// NewService builds the live-channel Service bound to addr.
func NewService(addr string, srv *Server, log *logging.Logger) *Service {
	return &Service{addr: addr, srv: srv, log: log}
}

func (s *Service) Name() string { return "live" }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("live channel server error")
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
