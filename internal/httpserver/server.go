// Package httpserver exposes the conversation transports and the text API over
// HTTP with echo.
package httpserver

import (
	"context"
	"embed"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/chadiek/voiceloop/internal/auth"
	"github.com/chadiek/voiceloop/internal/conversation"
	"github.com/chadiek/voiceloop/internal/dialogue"
	"github.com/chadiek/voiceloop/internal/metrics"
)

//go:embed static
var staticFiles embed.FS

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Gate           *auth.Gate
	Conversations  *conversation.Factory
	Metrics        *metrics.Metrics
	ICEServersJSON string
	MinClipBytes   int
	Logger         zerolog.Logger
}

// Server bundles the echo router and the conversations it started.
type Server struct {
	Router *echo.Echo

	deps Deps
	chat *dialogue.Exchange
	log  zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		Router: echo.New(),
		deps:   d,
		chat:   d.Conversations.Exchange(0),
		log:    d.Logger,
		base:   base,
		cancel: cancel,
	}
	e := s.Router
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
	e.GET("/", func(c echo.Context) error { return c.FileFS("static/index.html", staticFiles) })

	gated := d.Gate.Middleware()
	e.POST("/api/login", s.login)
	e.POST("/api/logout", s.logout)
	api := e.Group("/api", gated)
	api.POST("/chat", s.chatMessage)
	api.POST("/transcribe", s.transcribe)
	e.GET("/ws/voice", s.voiceSocket, gated)
	e.POST("/rtc/offer", s.rtcOffer, gated)
	return s
}

// Shutdown cancels live conversations and waits for them to finish archiving.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if s.deps.Metrics != nil {
				s.deps.Metrics.RecordRequest(route, strconv.Itoa(v.Status))
			}
			ev := s.log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = s.log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	})
}
