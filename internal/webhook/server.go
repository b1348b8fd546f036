package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"market-alerts/internal/model"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// MaxBodyBytes bounds webhook request bodies.
const MaxBodyBytes int64 = 64 << 10

// Submitter accepts events for asynchronous delivery.
type Submitter interface {
	Submit(ctx context.Context, channel string, event model.AlertEvent)
}

// Options configure the webhook routes.
type Options struct {
	Secret          string
	AlertChannel    string
	ExchangeChannel string
	ServiceName     string
}

// Handler serves the inbound webhook endpoints.
type Handler struct {
	submit Submitter
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewHandler constructs a webhook handler.
func NewHandler(submit Submitter, opts Options, logger zerolog.Logger) *Handler {
	return &Handler{
		submit: submit,
		opts:   opts,
		logger: logger.With().Str("component", "webhook").Logger(),
		now:    time.Now,
	}
}

// NewRouter builds the gin engine with tracing, recovery and the webhook routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	name := h.opts.ServiceName
	if name == "" {
		name = "marketalerts"
	}
	r.Use(otelgin.Middleware(name))
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)

	hooks := r.Group("/webhook", SecretAuth(h.opts.Secret), LimitBody(MaxBodyBytes))
	hooks.POST("/alert", h.Alert)
	hooks.POST("/exchange", h.Exchange)
}

// SecretAuth enforces the shared secret header. An empty secret disables it.
func SecretAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		provided := strings.TrimSpace(c.GetHeader(SecretHeader))
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + SecretHeader + " header"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid webhook secret"})
			return
		}
		c.Next()
	}
}

// LimitBody caps the request body; reads past limit fail and bind as 400.
func LimitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Alert accepts a trading-tool alert and acknowledges before delivery.
func (h *Handler) Alert(c *gin.Context) {
	var req AlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn().Err(err).Msg("rejecting malformed alert webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ev := req.AlertEvent(h.now())
	h.submit.Submit(c.Request.Context(), h.opts.AlertChannel, ev)
	h.logger.Info().Str("symbol", ev.InstrumentID).Str("event_id", ev.ID).Msg("alert webhook received")
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// Exchange accepts an exchange event and acknowledges before delivery.
func (h *Handler) Exchange(c *gin.Context) {
	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn().Err(err).Msg("rejecting malformed exchange webhook")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ev := req.AlertEvent(h.now())
	h.submit.Submit(c.Request.Context(), h.opts.ExchangeChannel, ev)
	h.logger.Info().Str("symbol", ev.InstrumentID).Str("event_id", ev.ID).Msg("exchange webhook received")
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// within shutdownTimeout.
func Serve(ctx context.Context, listen string, handler http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, handler, shutdownTimeout, logger)
}

func serveListener(ctx context.Context, ln net.Listener, handler http.Handler, shutdownTimeout time.Duration, logger zerolog.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info().Str("addr", ln.Addr().String()).Msg("webhook server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("webhook server stopped")
	return nil
}
