// Package httpapi exposes studio sessions over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adstudio/internal/apperr"
	"adstudio/internal/metrics"
	"adstudio/internal/session"
)

const (
	SessionHeader  = "X-Session-ID"
	workspaceKey   = "workspace"
	maxUploadBytes = 25 << 20
)

type Credentials interface {
	IsSet() bool
	Set(ctx context.Context, secret string) error
	Clear(ctx context.Context) error
}

type KeyValidator interface {
	Validate(ctx context.Context, key string) (string, error)
}

type Options struct {
	Sessions    *session.Store
	Credentials Credentials
	// Validator checks a key before it is stored; nil stores it as given.
	Validator KeyValidator
	// RequestTimeout bounds synchronous generation calls.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type Server struct {
	sessions  *session.Store
	creds     Credentials
	validator KeyValidator
	timeout   time.Duration
	logger    *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &Server{
		sessions:  opts.Sessions,
		creds:     opts.Credentials,
		validator: opts.Validator,
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(s.recovery(), s.logging(), metricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/credential", s.getCredential)
	api.PUT("/credential", s.putCredential)
	api.DELETE("/credential", s.deleteCredential)

	ws := api.Group("", s.workspace())
	ws.GET("/assets", s.listAssets)
	ws.POST("/models", s.createModel)
	ws.POST("/models/save", s.saveModel)
	ws.POST("/products", s.createProduct)
	ws.POST("/generate", s.generate)
	ws.POST("/cancel", s.cancel)
	ws.GET("/state", s.state)
	ws.GET("/events", s.events)
	ws.POST("/music", s.music)
	ws.GET("/export.zip", s.exportZip)

	scenes := ws.Group("/scenes/:id")
	scenes.POST("/select", s.selectScene)
	scenes.POST("/retry", s.retryFrames)
	scenes.POST("/adapt/:platform", s.adapt)
	scenes.POST("/block-prompt/:frame", s.blockPrompt)
	scenes.POST("/edit/:frame", s.editFrame)
	scenes.POST("/suggest", s.suggest)
	scenes.POST("/rewrite", s.rewrite)
	scenes.POST("/video", s.video)

	return r
}

// workspace resolves the session from the header, creating one on demand,
// and echoes its id back.
func (s *Server) workspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, created := s.sessions.GetOrCreate(c.GetHeader(SessionHeader))
		if created {
			s.logger.Debug("session opened", "session", ws.ID)
		}
		c.Header(SessionHeader, ws.ID)
		c.Set(workspaceKey, ws)
		c.Next()
	}
}

func current(c *gin.Context) *session.Workspace {
	return c.MustGet(workspaceKey).(*session.Workspace)
}

func (s *Server) callContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}

func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"session", c.Writer.Header().Get(SessionHeader),
			"dur_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					"err", fmt.Sprintf("%v", rec),
					"stack", string(debug.Stack()),
					"path", c.Request.URL.Path,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
			}
		}()
		c.Next()
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) fail(c *gin.Context, err error) {
	body := errorBody{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		body.Error = ae.Message
		if ae.Err != nil {
			body.Error += ": " + ae.Err.Error()
		}
		body.Reason = ae.Reason
		body.Detail = ae.Detail
	}
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Request.URL.Path, "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, format string, args ...any) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
		Error: fmt.Sprintf(format, args...),
		Kind:  string(apperr.KindInvalidInput),
	})
}

func sceneID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		badRequest(c, "invalid scene id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}
