// Package http provides the convsim HTTP API.
//
// POST /api/v1/runs runs a trajectory document synchronously and returns
// its result. POST /api/v1/validate checks a document without running it.
// Documents are YAML unless Content-Type names JSON or TOML.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/logging"
	"github.com/fyrsmithlabs/convsim/internal/orchestrator"
	"github.com/fyrsmithlabs/convsim/internal/services"
	"github.com/fyrsmithlabs/convsim/internal/target"
	"github.com/fyrsmithlabs/convsim/internal/trajectory"
)

// maxBodySize matches the document size limit.
const maxBodySize = "1M"

// Runner builds and runs trajectory documents.
type Runner interface {
	Build(doc *definition.Document) (*trajectory.Trajectory, error)
	RunDocument(ctx context.Context, doc *definition.Document, progress orchestrator.ProgressCallback) (*trajectory.Result, error)
}

var _ Runner = (*services.Registry)(nil)

// Server provides HTTP endpoints for convsim.
type Server struct {
	echo   *echo.Echo
	runner Runner
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RunTimeout bounds a single run request. Zero means no bound beyond
	// the client's own connection.
	RunTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(runner Runner, logger *zap.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			// Clients may send their own X-Request-ID.
			if id := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(id) {
				req := c.Request()
				c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
			}
			if err := next(c); err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		runner: runner,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1", middleware.BodyLimit(maxBodySize))
	v1.POST("/runs", s.handleRun)
	v1.POST("/validate", s.handleValidate)
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRun parses the body as a document, runs it and returns the result.
func (s *Server) handleRun(c echo.Context) error {
	doc, err := s.readDocument(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	res, err := s.runner.RunDocument(ctx, doc, nil)
	if err != nil {
		return s.runFailed(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// handleValidate parses and builds the document without running it.
func (s *Server) handleValidate(c echo.Context) error {
	doc, err := s.readDocument(c)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusUnprocessableEntity {
			return c.JSON(http.StatusOK, invalid(he.Internal))
		}
		return err
	}

	t, err := s.runner.Build(doc)
	if err != nil {
		return c.JSON(http.StatusOK, invalid(err))
	}

	resp := ValidateResponse{
		Valid: true,
		Steps: t.Steps.Len(),
		Start: string(t.Steps.Start()),
	}
	for _, id := range t.Steps.Terminals() {
		resp.Terminals = append(resp.Terminals, string(id))
	}
	return c.JSON(http.StatusOK, resp)
}

func invalid(err error) ValidateResponse {
	var lines []string
	for _, l := range strings.Split(err.Error(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return ValidateResponse{Valid: false, Errors: lines}
}

// readDocument decodes the request body. Unparseable or invalid documents
// are 422 with the cause attached as Internal.
func (s *Server) readDocument(c echo.Context) (*definition.Document, error) {
	format, err := formatOf(c.Request().Header.Get(echo.HeaderContentType))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "reading request body").SetInternal(err)
	}
	if len(body) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "request body is required")
	}

	doc, err := definition.Parse(body, format)
	if err != nil {
		s.logger.Debug("rejected trajectory document", zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
	}
	return doc, nil
}

func formatOf(contentType string) (definition.Format, error) {
	if contentType == "" {
		return definition.FormatYAML, nil
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("malformed content type %q", contentType)
	}
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/plain":
		return definition.FormatYAML, nil
	case echo.MIMEApplicationJSON:
		return definition.FormatJSON, nil
	case "application/toml", "text/toml":
		return definition.FormatTOML, nil
	}
	return "", fmt.Errorf("unsupported content type %q", mt)
}

// runFailed maps run errors onto status codes.
func (s *Server) runFailed(c echo.Context, err error) error {
	var runErr *orchestrator.RunError
	switch {
	case errors.As(err, &runErr):
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		return c.JSON(status, RunErrorResponse{
			Error:     runErr.Err.Error(),
			Phase:     runErr.Phase,
			TurnIndex: runErr.TurnIndex,
			Steps:     runErr.Traces,
		})
	case errors.Is(err, definition.ErrInvalidDocument),
		errors.Is(err, trajectory.ErrMissingUserModel),
		errors.Is(err, target.ErrInvalidSpec),
		errors.Is(err, services.ErrNoTarget):
		return c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	}
	s.logger.Error("trajectory run failed", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
