// Package server exposes the query engine over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/xhad/repochat/internal/models"
	"github.com/xhad/repochat/internal/types"
	"github.com/xhad/repochat/pkg/engine"
)

// Message types.
const (
	TypeQuery               = "query"
	TypeContextCheck        = "context_check"
	TypeResponse            = "response"
	TypeInsufficientContext = "insufficient_context"
	TypeError               = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

// CheckData accompanies a context_check message.
type CheckData struct {
	Query       string   `json:"query"`
	Sufficiency int      `json:"sufficiency_score"`
	Threshold   int      `json:"threshold"`
	Round       int      `json:"round"`
	Sources     []string `json:"sources"`
}

// ResultData accompanies a response or insufficient_context message.
type ResultData struct {
	Status  engine.Status `json:"status"`
	Query   string        `json:"query"`
	Rounds  int           `json:"rounds"`
	Sources []string      `json:"sources"`
	Usage   models.Usage  `json:"usage"`
}

// SessionFactory builds a fresh engine session for each query.
type SessionFactory func(cfg engine.Config) (*engine.Session, error)

type Config struct {
	Addr      string
	Namespace string
	Engine    engine.Config
	Logger    *slog.Logger
}

type WSServer struct {
	config     Config
	newSession SessionFactory
	index      types.Index
	logger     *slog.Logger
}

// NewWSServer serves queries with sessions from newSession. index may be nil,
// in which case /stats is not registered.
func NewWSServer(config Config, newSession SessionFactory, index types.Index) *WSServer {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	return &WSServer{
		config:     config,
		newSession: newSession,
		index:      index,
		logger:     logger,
	}
}

// Handler returns the router with every endpoint registered.
func (s *WSServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.index != nil {
		r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws", s.handleWebSocket)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *WSServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *WSServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *WSServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.index.Stats(r.Context(), s.config.Namespace)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// conn serialises writes; gorilla connections allow one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "error", err)
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(c, Message{Type: TypeError, Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}
		if msg.Type != "" && msg.Type != TypeQuery {
			s.sendMessage(c, Message{Type: TypeError, Content: fmt.Sprintf("unknown message type %q", msg.Type)})
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			s.sendMessage(c, Message{Type: TypeError, Content: "empty query"})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleQuery(ctx, c, msg.Content)
		}()
	}
}

func (s *WSServer) handleQuery(ctx context.Context, c *conn, query string) {
	cfg := s.config.Engine
	cfg.OnEntry = func(e models.ChatLogEntry) {
		s.sendMessage(c, Message{
			Type:    TypeContextCheck,
			Content: e.Inputs.Query,
			Data: CheckData{
				Query:       e.Inputs.Query,
				Sufficiency: e.Sufficiency,
				Threshold:   e.Threshold,
				Round:       e.Round,
				Sources:     e.Inputs.Sources,
			},
		})
	}

	session, err := s.newSession(cfg)
	if err != nil {
		s.sendMessage(c, Message{Type: TypeError, Content: err.Error()})
		return
	}

	result, err := session.Chat(ctx, query)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("query failed", "query", query, "error", err)
			s.sendMessage(c, Message{Type: TypeError, Content: err.Error()})
		}
		return
	}

	msgType := TypeResponse
	if !result.Answered() {
		msgType = TypeInsufficientContext
	}
	s.sendMessage(c, Message{
		Type:    msgType,
		Content: result.Text(),
		Data: ResultData{
			Status:  result.Status,
			Query:   result.Query,
			Rounds:  result.Rounds,
			Sources: result.Context.Sources,
			Usage:   result.Usage,
		},
	})
}

func (s *WSServer) sendMessage(c *conn, msg Message) {
	if err := c.send(msg); err != nil {
		s.logger.Debug("websocket write failed", "type", msg.Type, "error", err)
	}
}
