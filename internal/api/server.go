package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/repchat/internal/api/auth"
	"github.com/repchat/internal/changefeed"
	"github.com/repchat/internal/chat"
	"github.com/repchat/internal/conversation"
	"github.com/repchat/internal/handoff"
	"github.com/repchat/internal/sales"
)

// MergeQueue defers merge runs to the job queue.
type MergeQueue interface {
	QueueMergeDuplicates(ctx context.Context, requestedBy string) (int64, error)
}

// TwilioWebhook verifies inbound provider callbacks. An empty AuthToken
// disables verification.
type TwilioWebhook struct {
	AuthToken  string
	WebhookURL string
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	Chat         *chat.Service
	Handoff      *handoff.Coordinator
	Sales        *sales.Service
	Merger       *conversation.Merger
	Queue        MergeQueue
	Feed         changefeed.Subscriber
	Tokens       *auth.TokenService
	Twilio       TwilioWebhook
	AllowOrigins []string
	Ready        func(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	port     int
	deps     Deps
	upgrader websocket.Upgrader
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo: e,
		port: port,
		deps: deps,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	e.Validator = newValidator()
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	if len(deps.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: deps.AllowOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})
	s.echo.GET("/ready", s.ready)

	v1 := s.echo.Group("/api/v1")

	// widget
	v1.POST("/chats", s.startChat)
	conv := v1.Group("/conversations/:id")
	conv.GET("", s.getConversation)
	conv.GET("/messages", s.listMessages)
	conv.POST("/messages", s.sendMessage)
	conv.PATCH("/messages/:msgID", s.editMessage)
	conv.POST("/delivered", s.markDelivered)
	conv.POST("/read", s.markRead)
	conv.GET("/typing", s.getTyping)
	conv.POST("/typing", s.setTyping)
	conv.POST("/transfer", s.transferToHuman)
	conv.GET("/events", s.streamEvents)
	conv.GET("/ws", s.websocketEvents)

	// provider callbacks
	s.echo.POST("/webhooks/twilio/sms", s.twilioInbound)

	// admin
	admin := v1.Group("", auth.RequireAuth(s.deps.Tokens))
	admin.PATCH("/conversations/:id/status", s.setConversationStatus)
	admin.POST("/conversations/:id/sale", s.markSale)
	admin.GET("/sales/:id", s.getSale)
	admin.PATCH("/sales/:id/status", s.setSaleStatus)
	admin.GET("/sales/:id/audit", s.listAudit)
	admin.GET("/sales/:id/evidence", s.getEvidence)
	admin.GET("/admin/merge/preview", s.previewMerge)
	admin.POST("/admin/merge", s.runMerge)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.port).Msg("api listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info().Msg("api shutting down")
	return s.echo.Shutdown(sctx)
}

func (s *Server) ready(c echo.Context) error {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request().Context()); err != nil {
			log.Warn().Err(err).Msg("readiness check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
