package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	core "github.com/R3E-Network/proofwork/internal/app/core/service"
	"github.com/R3E-Network/proofwork/internal/app/system"
)

// Service exposes the HTTP API and fits into the system manager lifecycle
// alongside the outbox processors and lease reaper.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logrus.Entry
}

// NewService builds the Service from Deps, constructing the router once.
func NewService(addr string, deps *Deps, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	deps.Log = log
	return &Service{
		addr:    addr,
		handler: NewRouter(deps),
		log:     log,
	}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "http" }

func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "http",
		Domain:       "proofwork",
		Layer:        core.LayerIngress,
		Capabilities: []string{"rest-api"},
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http server error")
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
