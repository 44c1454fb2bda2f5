package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"PhysioFlow/internal/session"
)

// RequestIDKey is the header carrying the per-request ID.
const RequestIDKey = "X-Request-ID"

// Options configures the relay.
type Options struct {
	AllowOrigins []string
	Greeting     string
	ReplyTimeout time.Duration
	Logger       *slog.Logger

	// PongWait is how long a websocket may stay silent; pings go out at 9/10 of it.
	PongWait time.Duration
}

// Server exposes a reply provider over HTTP and WebSocket.
type Server struct {
	upstream session.ReplyProvider
	opts     Options
	logger   *slog.Logger
	engine   *gin.Engine
}

// NewServer wires routes and middleware around upstream.
func NewServer(upstream session.ReplyProvider, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		upstream: upstream,
		opts:     opts,
		logger:   opts.Logger,
		engine:   gin.New(),
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	if len(opts.AllowOrigins) > 0 {
		s.engine.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", RequestIDKey},
			ExposeHeaders:    []string{"Content-Length", RequestIDKey},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	s.engine.GET("/healthz", s.health)
	s.engine.POST("/get-groq-feedback", s.ask("Prompt missing"))
	s.engine.POST("/groq/ask", s.ask("Prompt is required"))
	s.engine.POST("/get-feedback", s.poseFeedback)
	s.engine.POST("/track-movement", s.trackMovement)
	s.engine.GET("/ws", s.chatWS)

	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr, "upstream", s.upstream.Name())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("relay shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDKey, requestID)

		c.Next()

		if c.Request.URL.Path == "/healthz" {
			return
		}
		latency := time.Since(start)
		logger := s.logger.With(
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client_ip", c.ClientIP(),
			"status", c.Writer.Status(),
			"latency_ms", latency.Milliseconds(),
		)
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("request completed with server error")
		case status >= 400:
			logger.Warn("request completed with client error")
		default:
			logger.Info("request completed")
		}
	}
}
