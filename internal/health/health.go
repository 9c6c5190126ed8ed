// Package health serves liveness and readiness over HTTP.
package health

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Probe reports one unit's readiness. Any error marks the service not ready.
type Probe func() error

// Server answers /healthz (process is up) and /readyz (all probes pass).
// Probes are registered before Start; the set never changes afterwards.
type Server struct {
	echo   *echo.Echo
	logger *log.Logger
	probes map[string]Probe
}

func NewServer(logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{echo: e, logger: logger, probes: make(map[string]Probe)}
	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	return s
}

// Add registers a named readiness probe.
func (s *Server) Add(name string, probe Probe) {
	s.probes[name] = probe
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) readyz(c echo.Context) error {
	failures := map[string]string{}
	for name, probe := range s.probes {
		if err := probe(); err != nil {
			s.logger.WithField("probe", name).Warnf("not ready: %v", err)
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		return c.JSON(http.StatusServiceUnavailable, failures)
	}
	return c.NoContent(http.StatusOK)
}

// Start blocks serving the endpoints until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
