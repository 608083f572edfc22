package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rahul/handsfree/internal/agent"
	"github.com/rahul/handsfree/internal/governance"
	"github.com/rahul/handsfree/internal/observability"
	"github.com/rahul/handsfree/internal/store"
	"go.uber.org/zap"
)

const (
	defaultAuditLimit = 50
	// maxBodyBytes caps request bodies on the API routes.
	maxBodyBytes = 1 << 20
)

// AuditReader exposes the in-memory audit trail.
type AuditReader interface {
	RecentLogs(n int) []governance.ActionLog
}

// CommandReader exposes persisted command history.
type CommandReader interface {
	RecentCommands(ctx context.Context, n int) ([]store.CommandRecord, error)
}

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Text    string `json:"text" binding:"required"`
	ChatID  string `json:"chat_id"`
	Context string `json:"context"`
}

// PlanRequest is the body of POST /api/v1/plans. Raw is model output in any
// of the forms the parser accepts.
type PlanRequest struct {
	Raw string `json:"raw" binding:"required"`
}

type HTTPGateway struct {
	Addr     string
	Token    string
	Handler  PlanHandler
	Audit    AuditReader
	Commands CommandReader
	Logger   *observability.Logger

	server *http.Server
}

func NewHTTPGateway(addr, token string, handler PlanHandler, audit AuditReader, commands CommandReader, logger *observability.Logger) *HTTPGateway {
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &HTTPGateway{
		Addr:     addr,
		Token:    token,
		Handler:  handler,
		Audit:    audit,
		Commands: commands,
		Logger:   logger,
	}
}

// Router registers routes and middleware.
func (h *HTTPGateway) Router() *gin.Engine {
	r := gin.New()
	r.Use(recovery(h.Logger), requestLogger(h.Logger))

	v1 := r.Group("/api/v1")
	v1.Use(bearerAuth(h.Token), limitBody(maxBodyBytes))
	{
		v1.POST("/commands", h.postCommand)
		v1.POST("/plans", h.postPlan)
		v1.GET("/audit", h.getAudit)
		v1.GET("/commands", h.getCommands)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"assistant": observability.Status(),
		})
	})
	return r
}

func (h *HTTPGateway) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:              h.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	h.Logger.Zap().Info("http gateway listening", zap.String("addr", h.Addr))

	errCh := make(chan error, 1)
	go func() { errCh <- h.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http gateway: %w", err)
	case <-ctx.Done():
		return h.Stop()
	}
}

// Send is unsupported; HTTP replies travel in the response body.
func (h *HTTPGateway) Send(string, string) error {
	return ErrNoPush
}

func (h *HTTPGateway) Stop() error {
	if h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}

// POST /api/v1/commands
func (h *HTTPGateway) postCommand(c *gin.Context) {
	var req CommandRequest
	if !bindJSON(c, &req) {
		return
	}
	out := h.Handler.Handle(c.Request.Context(), agent.Command{
		ChatID:        req.ChatID,
		Source:        "http",
		Text:          req.Text,
		ScreenContext: req.Context,
	})
	c.JSON(http.StatusOK, out)
}

// POST /api/v1/plans
func (h *HTTPGateway) postPlan(c *gin.Context) {
	var req PlanRequest
	if !bindJSON(c, &req) {
		return
	}
	out := h.Handler.ExecutePlan(c.Request.Context(), agent.Command{Source: "http"}, req.Raw)
	c.JSON(http.StatusOK, out)
}

// GET /api/v1/audit?last=N
func (h *HTTPGateway) getAudit(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit trail not available"})
		return
	}
	n, ok := lastParam(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": h.Audit.RecentLogs(n)})
}

// GET /api/v1/commands?last=N
func (h *HTTPGateway) getCommands(c *gin.Context) {
	if h.Commands == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "command history not available"})
		return
	}
	n, ok := lastParam(c)
	if !ok {
		return
	}
	recs, err := h.Commands.RecentCommands(c.Request.Context(), n)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": recs})
}

// bindJSON decodes the body into obj and writes the error response itself.
func bindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
	return false
}

func lastParam(c *gin.Context) (int, bool) {
	raw := c.DefaultQuery("last", strconv.Itoa(defaultAuditLimit))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "last must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || got != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func recovery(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Zap().Error("panic recovered", zap.Any("panic", err), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func requestLogger(logger *observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Zap().Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("errors", c.Errors.String()),
		)
	}
}
