// Package api exposes printer operations over HTTP and WebSocket
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/thereceipt/escpos-bridge/internal/printer"
)

// Operation names, shared by HTTP routes and WebSocket events
const (
	EventTestConnection = "testConnection"
	EventPrint          = "print"
	EventPrintWithImage = "printWithImage"
	EventOpenDrawer     = "openDrawer"
	EventAutodetect     = "autodetect"
)

var routes = map[string]string{
	"/printer/test-connection":  EventTestConnection,
	"/printer/print":            EventPrint,
	"/printer/print-with-image": EventPrintWithImage,
	"/printer/open-drawer":      EventOpenDrawer,
	"/printer/autodetect":       EventAutodetect,
}

var errUnknownEvent = errors.New("unknown event")

// Server is the API server
type Server struct {
	router   *gin.Engine
	service  *printer.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
	hub      *hub
}

// NewServer creates a new API server
func NewServer(service *printer.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	server := &Server{
		router:  router,
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		hub: newHub(),
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	for path, event := range routes {
		s.router.POST(path, s.handleOperation(event))
	}

	// WebSocket
	s.router.GET("/ws", s.handleWebSocket)

	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the API server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// start validates the arguments decoded by decode and launches event.
// Operations run detached from ctx cancellation; their own deadlines bound
// them.
func (s *Server) start(ctx context.Context, event string, decode func(interface{}) error) (<-chan printer.Result, error) {
	ctx = context.WithoutCancel(ctx)

	switch event {
	case EventAutodetect:
		var opts printer.AutodetectOptions
		if err := decode(&opts); err != nil {
			return nil, malformed(err)
		}
		return s.service.Autodetect(ctx, opts)

	case EventTestConnection, EventPrint, EventPrintWithImage, EventOpenDrawer:
		var opts printer.Options
		if err := decode(&opts); err != nil {
			return nil, malformed(err)
		}
		switch event {
		case EventTestConnection:
			return s.service.TestConnection(ctx, opts)
		case EventPrint:
			return s.service.Print(ctx, opts)
		case EventPrintWithImage:
			return s.service.PrintWithImage(ctx, opts)
		default:
			return s.service.OpenDrawer(ctx, opts)
		}
	}

	return nil, fmt.Errorf("%w: %s", errUnknownEvent, event)
}

func malformed(err error) error {
	return &printer.ArgumentError{Field: "body", Message: fmt.Sprintf("invalid request body: %v", err)}
}

// handleOperation runs event and replies with its result
func (s *Server) handleOperation(event string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		results, err := s.start(c.Request.Context(), event, func(v interface{}) error {
			if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		})
		if err != nil {
			status, body := rejection(err)
			c.JSON(status, body)
			return
		}

		select {
		case res := <-results:
			if res.Success && event == EventAutodetect {
				s.hub.broadcast(WSMessage{Event: EventPrinterFound, ID: requestID, Data: res})
			}
			c.JSON(200, res)
		case <-c.Request.Context().Done():
			s.logger.Info("client went away before completion",
				zap.String("event", event),
				zap.String("request_id", requestID),
			)
		}
	}
}

// rejection maps a synchronous failure to a status code and Result body
func rejection(err error) (int, printer.Result) {
	var argErr *printer.ArgumentError
	switch {
	case errors.As(err, &argErr):
		return 400, printer.Result{ErrorKind: argErr.Kind(), Error: argErr.Message}
	case errors.Is(err, errUnknownEvent):
		return 404, printer.Result{ErrorKind: printer.KindInvalidArgument, Error: err.Error()}
	default:
		return 503, printer.Result{ErrorKind: printer.KindUnknown, Error: err.Error()}
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
