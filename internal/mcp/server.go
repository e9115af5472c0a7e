package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/heshi2019/Read-KouriChat/internal/api"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// StatusSource is where the tools read bot state from
type StatusSource interface {
	Queues(ctx context.Context) (*api.QueuesResponse, error)
	Idle(ctx context.Context) (*api.IdleResponse, error)
	History(ctx context.Context, chatID string, limit int) (*api.HistoryResponse, error)
	Tasks(ctx context.Context) ([]api.TaskStatus, error)
	Enqueue(ctx context.Context, chatID, content string) error
}

var _ StatusSource = (*Client)(nil)

// Server exposes the bot status as MCP tools
type Server struct {
	server *mcp.Server
	source StatusSource
	logger *slog.Logger
}

// NewServer creates the MCP server and registers its tools
func NewServer(source StatusSource, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "kouri-status",
			Version: version,
		}, nil),
		source: source,
		logger: logging.ForComponent(logging.CompMCP),
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdio until ctx is done or the client disconnects
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp_stdio_started")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatbot_queue_status",
		Description: "List the conversations with buffered messages waiting for their quiet period to elapse.",
	}, s.handleQueueStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatbot_idle_status",
		Description: "Show the idle re-engagement countdown: state, when it fires and how many unprompted messages went unanswered.",
	}, s.handleIdleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatbot_recent_history",
		Description: "Read the most recent stored exchanges of a chat, oldest first.",
	}, s.handleRecentHistory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatbot_task_schedule",
		Description: "List the scheduled tasks and their next run time.",
	}, s.handleTaskSchedule)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "chatbot_enqueue_system",
		Description: "Queue an instruction for the bot in a chat. The bot answers it in character after the quiet period.",
	}, s.handleEnqueueSystem)
}

// EmptyInput is used by tools without arguments
type EmptyInput struct{}

// QueueEntry is one pending conversation queue
type QueueEntry struct {
	Key          string `json:"key"`
	ChatID       string `json:"chat_id"`
	SenderName   string `json:"sender_name"`
	IsGroup      bool   `json:"is_group"`
	Sender       string `json:"sender"`
	MessageCount int    `json:"message_count"`
	HasLink      bool   `json:"has_link"`
	LastUpdate   string `json:"last_update"`
}

// QueueStatusOutput is the output of chatbot_queue_status
type QueueStatusOutput struct {
	Count  int          `json:"count"`
	Queues []QueueEntry `json:"queues"`
}

func (s *Server) handleQueueStatus(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, QueueStatusOutput, error) {
	resp, err := s.source.Queues(ctx)
	if err != nil {
		return nil, QueueStatusOutput{}, err
	}

	out := QueueStatusOutput{Count: resp.Count, Queues: make([]QueueEntry, 0, len(resp.Queues))}
	for _, q := range resp.Queues {
		out.Queues = append(out.Queues, QueueEntry{
			Key:          q.Key,
			ChatID:       q.ChatID,
			SenderName:   q.SenderName,
			IsGroup:      q.IsGroup,
			Sender:       q.Sender,
			MessageCount: q.MessageCount,
			HasLink:      q.HasLink,
			LastUpdate:   formatTime(q.LastUpdate),
		})
	}
	return nil, out, nil
}

// IdleStatusOutput is the output of chatbot_idle_status
type IdleStatusOutput struct {
	State            string `json:"state"`
	EndTime          string `json:"end_time,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	UnansweredCount  int    `json:"unanswered_count"`
}

func (s *Server) handleIdleStatus(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, IdleStatusOutput, error) {
	resp, err := s.source.Idle(ctx)
	if err != nil {
		return nil, IdleStatusOutput{}, err
	}
	return nil, IdleStatusOutput{
		State:            string(resp.State),
		EndTime:          formatTime(resp.EndTime),
		RemainingSeconds: resp.RemainingSeconds,
		UnansweredCount:  resp.UnansweredCount,
	}, nil
}

// RecentHistoryInput selects the chat and how many turns to read
type RecentHistoryInput struct {
	ChatID string `json:"chat_id" jsonschema:"The chat id to read history from"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of turns to return (default 20)"`
}

// TurnEntry is one stored exchange
type TurnEntry struct {
	SenderName string `json:"sender_name"`
	Message    string `json:"message"`
	Reply      string `json:"reply"`
	IsSystem   bool   `json:"is_system"`
	CreatedAt  string `json:"created_at"`
}

// RecentHistoryOutput is the output of chatbot_recent_history
type RecentHistoryOutput struct {
	ChatID string      `json:"chat_id"`
	Turns  []TurnEntry `json:"turns"`
}

func (s *Server) handleRecentHistory(ctx context.Context, req *mcp.CallToolRequest, input RecentHistoryInput) (*mcp.CallToolResult, RecentHistoryOutput, error) {
	if input.ChatID == "" {
		return nil, RecentHistoryOutput{}, fmt.Errorf("chat_id is required")
	}

	resp, err := s.source.History(ctx, input.ChatID, input.Limit)
	if err != nil {
		return nil, RecentHistoryOutput{}, err
	}

	out := RecentHistoryOutput{ChatID: resp.ChatID, Turns: make([]TurnEntry, 0, len(resp.Turns))}
	for _, t := range resp.Turns {
		out.Turns = append(out.Turns, TurnEntry{
			SenderName: t.SenderName,
			Message:    t.Message,
			Reply:      t.Reply,
			IsSystem:   t.IsSystem,
			CreatedAt:  formatTime(t.CreatedAt),
		})
	}
	return nil, out, nil
}

// TaskEntry is one scheduled task
type TaskEntry struct {
	ID      string `json:"id"`
	NextRun string `json:"next_run"`
}

// TaskScheduleOutput is the output of chatbot_task_schedule
type TaskScheduleOutput struct {
	Tasks []TaskEntry `json:"tasks"`
}

func (s *Server) handleTaskSchedule(ctx context.Context, req *mcp.CallToolRequest, input EmptyInput) (*mcp.CallToolResult, TaskScheduleOutput, error) {
	tasks, err := s.source.Tasks(ctx)
	if err != nil {
		return nil, TaskScheduleOutput{}, err
	}

	out := TaskScheduleOutput{Tasks: make([]TaskEntry, 0, len(tasks))}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, TaskEntry{ID: t.ID, NextRun: formatTime(t.NextRun)})
	}
	return nil, out, nil
}

// EnqueueSystemInput is the input of chatbot_enqueue_system
type EnqueueSystemInput struct {
	ChatID  string `json:"chat_id" jsonschema:"The chat id to send the instruction to"`
	Content string `json:"content" jsonschema:"The instruction the bot should act on"`
}

// EnqueueSystemOutput is the output of chatbot_enqueue_system
type EnqueueSystemOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleEnqueueSystem(ctx context.Context, req *mcp.CallToolRequest, input EnqueueSystemInput) (*mcp.CallToolResult, EnqueueSystemOutput, error) {
	if input.ChatID == "" || input.Content == "" {
		return nil, EnqueueSystemOutput{Success: false, Error: "chat_id and content are required"}, nil
	}
	if err := s.source.Enqueue(ctx, input.ChatID, input.Content); err != nil {
		return nil, EnqueueSystemOutput{Success: false, Error: err.Error()}, nil
	}
	s.logger.Info("mcp_enqueue", slog.String("chat_id", input.ChatID))
	return nil, EnqueueSystemOutput{Success: true}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
