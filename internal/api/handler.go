package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/usecase"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Bot is the chatbot surface exposed over HTTP
type Bot interface {
	PendingQueues() []domain.QueueStatus
	IdleStatus() domain.IdleSnapshot
	RecentHistory(ctx context.Context, chatID string, limit int) ([]domain.Turn, error)
	EnqueueSystem(chatID, content string) error
}

// TaskSchedule reports the next run of every scheduled task
type TaskSchedule interface {
	NextRuns() map[string]time.Time
}

// Server provides the local status API used by the mcp command
type Server struct {
	bot    Bot
	tasks  TaskSchedule
	logger *slog.Logger
	now    func() time.Time

	mux    *http.ServeMux
	server *http.Server
	port   int
}

// QueuesResponse is returned by GET /api/queues
type QueuesResponse struct {
	Count  int                  `json:"count"`
	Queues []domain.QueueStatus `json:"queues"`
}

// IdleResponse is returned by GET /api/idle
type IdleResponse struct {
	domain.IdleSnapshot
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// HistoryResponse is returned by GET /api/history/{chat_id}
type HistoryResponse struct {
	ChatID string        `json:"chat_id"`
	Turns  []domain.Turn `json:"turns"`
}

// TaskStatus is one entry of GET /api/tasks
type TaskStatus struct {
	ID      string    `json:"id"`
	NextRun time.Time `json:"next_run"`
}

// EnqueueRequest is the body of POST /api/enqueue
type EnqueueRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// NewServer creates a new API server. tasks may be nil.
func NewServer(bot Bot, tasks TaskSchedule, port int) *Server {
	s := &Server{
		bot:    bot,
		tasks:  tasks,
		logger: logging.ForComponent(logging.CompAPI),
		now:    time.Now,
		port:   port,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/queues", s.handleQueues)
	mux.HandleFunc("/api/idle", s.handleIdle)
	mux.HandleFunc("/api/history/", s.handleHistory)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/enqueue", s.handleEnqueue)
	s.mux = mux
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler of the API
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called. After Stop it returns nil immediately.
func (s *Server) Start() error {
	s.logger.Info("api_listening", slog.Int("port", s.port))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	queues := s.bot.PendingQueues()
	s.writeJSON(w, QueuesResponse{Count: len(queues), Queues: queues})
}

func (s *Server) handleIdle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.bot.IdleStatus()
	s.writeJSON(w, IdleResponse{
		IdleSnapshot:     snap,
		RemainingSeconds: int64(snap.Remaining(s.now()).Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Parse path: /api/history/{chat_id}
	chatID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/history/"), "/")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	turns, err := s.bot.RecentHistory(r.Context(), chatID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	s.writeJSON(w, HistoryResponse{ChatID: chatID, Turns: turns})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tasks := []TaskStatus{}
	if s.tasks != nil {
		for id, next := range s.tasks.NextRuns() {
			tasks = append(tasks, TaskStatus{ID: id, NextRun: next})
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].NextRun.Before(tasks[j].NextRun) })
	s.writeJSON(w, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ChatID == "" || strings.TrimSpace(req.Content) == "" {
		http.Error(w, "chat_id and content are required", http.StatusBadRequest)
		return
	}

	if err := s.bot.EnqueueSystem(req.ChatID, req.Content); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("system_message_enqueued", slog.String("chat_id", req.ChatID))
	s.writeJSON(w, map[string]interface{}{"success": true})
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrEmptyChatID):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrQueueClosed):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
