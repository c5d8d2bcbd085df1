// Package server exposes the flow dispatcher over HTTP. The surface is a
// small JSON API: post a message to a conversation, read a conversation
// back, and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/modelflow/modelflow/contextwindow"
	"github.com/modelflow/modelflow/core/chat"
	"github.com/modelflow/modelflow/flow"
	"github.com/modelflow/modelflow/provider"
	"github.com/modelflow/modelflow/store"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Config holds HTTP server parameters.
type Config struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`
	// WriteTimeoutMillis bounds response writes. It must exceed the flow's
	// worst-case dispatch time (call timeout times retry attempts) or slow
	// provider calls are cut off at the HTTP layer.
	WriteTimeoutMillis int `json:"write_timeout_ms,omitempty" yaml:"write_timeout_ms,omitempty"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 8089, WriteTimeoutMillis: 300_000}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Host != "" {
		c.Host = source.Host
	}
	if source.Port > 0 {
		c.Port = source.Port
	}
	if source.WriteTimeoutMillis > 0 {
		c.WriteTimeoutMillis = source.WriteTimeoutMillis
	}
}

// Server wraps an echo application around a Flow.
type Server struct {
	cfg     Config
	flow    *flow.Flow
	app     *echo.Echo
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg Config, f *flow.Flow) (*Server, error) {
	if f == nil {
		return nil, errors.New("flow must not be nil")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			return nil
		},
	}))

	srv := &Server{
		cfg:     cfg,
		flow:    f,
		app:     e,
		address: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	slog.Info("starting server", "addr", s.address)

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutMillis) * time.Millisecond,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/healthz", s.handleHealth)
	s.app.POST("/v1/conversations/:id/messages", s.handleSend)
	s.app.GET("/v1/conversations/:id/messages", s.handleHistory)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type sendRequest struct {
	Content string                `json:"content"`
	Params  chat.GenerationParams `json:"params,omitempty"`
}

type messagesResponse struct {
	ConversationID string         `json:"conversation_id"`
	Messages       []chat.Message `json:"messages"`
}

func (s *Server) handleSend(c echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "conversation id is required",
			Type:    "invalid_request_error",
		}
	}

	var req sendRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Content == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "content is required",
			Type:    "invalid_request_error",
		}
	}

	reply, err := s.flow.Send(c.Request().Context(), conversationID, req.Content, req.Params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleHistory(c echo.Context) error {
	conversationID := c.Param("id")
	if conversationID == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "conversation id is required",
			Type:    "invalid_request_error",
		}
	}

	messages, err := s.flow.History(c.Request().Context(), conversationID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, messagesResponse{
		ConversationID: conversationID,
		Messages:       messages,
	})
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Stage   string `json:"stage,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, stage string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Stage = stage
	return c.JSON(status, payload)
}

func errorHandler(err error, c echo.Context) {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, "")
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		_ = writeError(c, echoErr.Code, fmt.Sprintf("%v", echoErr.Message), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError maps the dispatch error taxonomy onto HTTP statuses. Budget
// failures are the client's fault, transient provider and store failures
// are retryable, fatal provider failures are an upstream problem.
func toHTTPError(err error) error {
	var stage string
	var de *flow.DispatchError
	if errors.As(err, &de) {
		stage = string(de.Stage)
	}

	switch {
	case errors.Is(err, contextwindow.ErrMessageTooLarge):
		return requestError{
			Status:  http.StatusRequestEntityTooLarge,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, provider.ErrUnknownModel):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, flow.ErrRetriesExhausted), errors.Is(err, store.ErrUnavailable):
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: err.Error(),
			Type:    "transient_error",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return requestError{
			Status:  http.StatusGatewayTimeout,
			Message: err.Error(),
			Type:    "transient_error",
		}
	case provider.IsTransient(err):
		return requestError{
			Status:  http.StatusServiceUnavailable,
			Message: err.Error(),
			Type:    "transient_error",
		}
	case provider.IsFatal(err):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: err.Error(),
			Type:    "upstream_error",
		}
	}

	msg := "internal server error"
	if stage != "" {
		msg = fmt.Sprintf("dispatch failed at stage %s", stage)
	}
	return requestError{
		Status:  http.StatusInternalServerError,
		Message: msg,
		Type:    "server_error",
	}
}
