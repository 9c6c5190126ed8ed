package fanout

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// Server bridges subscriptions to HTTP: each stream endpoint authorizes the
// caller, then relays channel notifications as server-sent events until the
// client disconnects.
type Server struct {
	echo   *echo.Echo
	sub    *Subscriber
	logger *log.Logger
}

func NewServer(sub *Subscriber, logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	s := &Server{echo: e, sub: sub, logger: logger}
	e.GET("/streams/users", s.streamUser)
	e.GET("/streams/sessions", s.streamSessions)
	return s
}

// streamUser relays the user's own channel. Users always may watch
// themselves, so there is no membership check here.
func (s *Server) streamUser(c echo.Context) error {
	user := c.QueryParam("user")
	if user == "" {
		return c.String(http.StatusBadRequest, "missing user")
	}
	flusher, ok := startStream(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	s.sub.UserUpdates(c.Request().Context(), user, s.deliver(c, flusher))
	return nil
}

// streamSessions authorizes the user against every requested session and
// relays those sessions' channels plus the user's own.
func (s *Server) streamSessions(c echo.Context) error {
	user := c.QueryParam("user")
	if user == "" {
		return c.String(http.StatusBadRequest, "missing user")
	}
	sessions := splitList(c.QueryParam("sessions"))
	if len(sessions) == 0 {
		return c.String(http.StatusBadRequest, "missing sessions")
	}
	ctx := c.Request().Context()
	member, err := s.sub.MemberOfAll(ctx, user, sessions)
	if err != nil {
		s.logger.Errorf("membership check: %v", err)
		return c.String(http.StatusServiceUnavailable, "membership index unavailable")
	}
	if !member {
		return c.String(http.StatusForbidden, ErrNotMember.Error())
	}
	flusher, ok := startStream(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	return s.sub.SessionUpdates(ctx, user, sessions, s.deliver(c, flusher))
}

func (s *Server) deliver(c echo.Context, flusher http.Flusher) func(channel string, n Notification) {
	return func(channel string, n Notification) {
		payload, err := sonic.Marshal(n)
		if err != nil {
			s.logger.WithField("channel", channel).Errorf("encode notification: %v", err)
			return
		}
		if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", channel, payload); err != nil {
			s.logger.Errorf("write event: %v", err)
			return
		}
		flusher.Flush()
	}
}

// startStream commits the SSE headers. After this point the handler can only
// stream; errors no longer reach the client as a status code.
func startStream(c echo.Context) (http.Flusher, bool) {
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Start blocks serving the stream endpoints until Shutdown.
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
