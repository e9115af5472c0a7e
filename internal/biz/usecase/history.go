package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

const historyWriteTimeout = 5 * time.Second

// HistoryUsecase persists conversation turns on a background worker so
// replies never wait on storage.
type HistoryUsecase struct {
	repo   repo.HistoryRepo
	logger *slog.Logger

	ch        chan *domain.Turn
	wg        sync.WaitGroup
	startOnce sync.Once

	mu        sync.RWMutex
	closed    bool
	abandoned atomic.Bool
	dropped   atomic.Int64
}

// NewHistoryUsecase creates a history writer with the given buffer size
func NewHistoryUsecase(historyRepo repo.HistoryRepo, buffer int) *HistoryUsecase {
	if buffer <= 0 {
		buffer = 256
	}
	return &HistoryUsecase{
		repo:   historyRepo,
		logger: logging.ForComponent(logging.CompHistory),
		ch:     make(chan *domain.Turn, buffer),
	}
}

// Start launches the write worker
func (uc *HistoryUsecase) Start() {
	uc.startOnce.Do(func() {
		uc.wg.Add(1)
		go uc.run()
	})
}

func (uc *HistoryUsecase) run() {
	defer uc.wg.Done()
	for turn := range uc.ch {
		if uc.abandoned.Load() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		if err := uc.repo.SaveTurn(ctx, turn); err != nil {
			uc.logger.Error("history_save_failed",
				slog.String("chat_id", turn.ChatID),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

// Record hands a turn to the worker without blocking.
// Turns are dropped once the writer is closed or its buffer is full.
func (uc *HistoryUsecase) Record(turn *domain.Turn) {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	if uc.closed {
		uc.dropped.Add(1)
		return
	}
	select {
	case uc.ch <- turn:
	default:
		uc.dropped.Add(1)
		uc.logger.Warn("history_buffer_full", slog.String("chat_id", turn.ChatID))
	}
}

// Recent returns up to limit of the newest turns of a chat, oldest first
func (uc *HistoryUsecase) Recent(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	return uc.repo.RecentTurns(ctx, chatID, limit)
}

// Count returns the number of stored turns of a chat
func (uc *HistoryUsecase) Count(ctx context.Context, chatID string) (int, error) {
	return uc.repo.CountTurns(ctx, chatID)
}

// Dropped returns how many turns were never handed to storage
func (uc *HistoryUsecase) Dropped() int64 {
	return uc.dropped.Load()
}

// Close stops accepting turns. With drain set it waits for queued turns to be
// written; otherwise queued turns are discarded.
func (uc *HistoryUsecase) Close(drain bool) {
	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return
	}
	uc.closed = true
	if !drain {
		uc.abandoned.Store(true)
		uc.dropped.Add(int64(len(uc.ch)))
	}
	close(uc.ch)
	uc.mu.Unlock()

	uc.wg.Wait()
	uc.logger.Info("history_closed", slog.Bool("drain", drain), slog.Int64("dropped", uc.dropped.Load()))
}
