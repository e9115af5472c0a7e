package usecase

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

var (
	// ErrEmptyChatID is returned when a message carries no chat id
	ErrEmptyChatID = errors.New("chat id is empty")
	// ErrQueueClosed is returned when enqueueing after shutdown
	ErrQueueClosed = errors.New("message queue is shut down")
)

// DefaultJitterTolerance is how much earlier than the window a flush may still proceed
const DefaultJitterTolerance = 100 * time.Millisecond

// QueueConfig configures the debounce window
type QueueConfig struct {
	Timeout         time.Duration
	JitterTolerance time.Duration
}

// FlushFunc receives a queue that was removed from the store.
// It runs on the timer goroutine and outside the store lock.
type FlushFunc func(q *domain.ConversationQueue)

// QueueUsecase buffers inbound messages per conversation key and flushes
// each key once it has been quiet for the configured window.
type QueueUsecase struct {
	cfg    QueueConfig
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*domain.ConversationQueue
	timers map[string]*time.Timer
	closed bool

	onFlush    FlushFunc
	onActivity func()
}

// NewQueueUsecase creates a queue store
func NewQueueUsecase(cfg QueueConfig) *QueueUsecase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.JitterTolerance <= 0 {
		cfg.JitterTolerance = DefaultJitterTolerance
	}
	return &QueueUsecase{
		cfg:    cfg,
		now:    time.Now,
		logger: logging.ForComponent(logging.CompQueue),
		queues: make(map[string]*domain.ConversationQueue),
		timers: make(map[string]*time.Timer),
	}
}

// SetFlushHandler sets the callback that processes flushed queues
func (uc *QueueUsecase) SetFlushHandler(fn FlushFunc) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.onFlush = fn
}

// SetActivityHook sets the callback run for every message from a real participant
func (uc *QueueUsecase) SetActivityHook(fn func()) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.onActivity = fn
}

// Timeout returns the debounce window
func (uc *QueueUsecase) Timeout() time.Duration {
	return uc.cfg.Timeout
}

// Enqueue appends a message to the queue of its key and restarts the key's timer.
// Metadata is only taken from the first message of a queue.
func (uc *QueueUsecase) Enqueue(meta domain.QueueMetadata, message string, hasLink bool, urls []string) error {
	if meta.ChatID == "" {
		return ErrEmptyChatID
	}
	key := meta.Key()

	uc.mu.Lock()
	if uc.closed {
		uc.mu.Unlock()
		return ErrQueueClosed
	}

	now := uc.now()
	q, ok := uc.queues[key]
	if !ok {
		q = domain.NewConversationQueue(meta, message, now)
		uc.queues[key] = q
	} else {
		q.Append(message, now)
	}
	q.RecordLinks(hasLink, urls)
	q.Generation++
	count := len(q.Messages)

	if t, ok := uc.timers[key]; ok && !t.Stop() {
		// Already running; its generation check turns it into a no-op
		uc.logger.Debug("timer_already_fired", slog.String("key", key))
	}
	uc.armLocked(key, q.Generation, uc.cfg.Timeout)
	activity := uc.onActivity
	uc.mu.Unlock()

	uc.logger.Debug("message_enqueued",
		slog.String("key", key),
		slog.Int("count", count),
		slog.Bool("has_link", hasLink),
		slog.String("sender", meta.Sender.String()))

	// Bot-generated messages must not count as conversation activity
	if activity != nil && meta.Sender == domain.SenderHuman {
		activity()
	}
	return nil
}

// armLocked schedules a flush check for key. Caller holds uc.mu.
func (uc *QueueUsecase) armLocked(key string, generation uint64, after time.Duration) {
	uc.timers[key] = time.AfterFunc(after, func() {
		uc.fire(key, generation)
	})
}

func (uc *QueueUsecase) fire(key string, generation uint64) {
	q := uc.flushTrigger(key, generation)
	if q == nil {
		return
	}

	uc.mu.Lock()
	handler := uc.onFlush
	uc.mu.Unlock()
	if handler == nil {
		uc.logger.Warn("flush_without_handler", slog.String("key", key))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("flush_panic", slog.String("key", key), slog.Any("panic", r))
		}
	}()
	handler(q)
}

// flushTrigger removes and returns the queue for key when its window has elapsed.
// It returns nil when the key is gone, a newer message superseded this timer,
// or the window has not elapsed yet; in the last case the check is re-armed.
func (uc *QueueUsecase) flushTrigger(key string, generation uint64) *domain.ConversationQueue {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	q, ok := uc.queues[key]
	if !ok || uc.closed {
		return nil
	}
	if q.Generation != generation {
		// A later Enqueue owns the live timer
		return nil
	}

	elapsed := uc.now().Sub(q.LastUpdate)
	if elapsed < uc.cfg.Timeout-uc.cfg.JitterTolerance {
		remaining := uc.cfg.Timeout - elapsed
		uc.logger.Debug("flush_deferred", slog.String("key", key), slog.Duration("remaining", remaining))
		uc.armLocked(key, generation, remaining)
		return nil
	}

	delete(uc.queues, key)
	delete(uc.timers, key)
	uc.logger.Info("queue_flushed",
		slog.String("key", key),
		slog.Int("count", len(q.Messages)),
		slog.Bool("has_link", q.HasLink))
	return q
}

// Pending returns a snapshot of all queues waiting to be flushed, sorted by key
func (uc *QueueUsecase) Pending() []domain.QueueStatus {
	uc.mu.Lock()
	result := make([]domain.QueueStatus, 0, len(uc.queues))
	for _, q := range uc.queues {
		result = append(result, q.Status())
	}
	uc.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// Len returns the number of pending queues
func (uc *QueueUsecase) Len() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.queues)
}

// Shutdown cancels every pending timer and discards unflushed queues.
// It returns the number of queues dropped.
func (uc *QueueUsecase) Shutdown() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if uc.closed {
		return 0
	}
	uc.closed = true
	for _, t := range uc.timers {
		t.Stop()
	}
	dropped := len(uc.queues)
	uc.timers = make(map[string]*time.Timer)
	uc.queues = make(map[string]*domain.ConversationQueue)

	uc.logger.Info("queue_shutdown", slog.Int("dropped", dropped))
	return dropped
}
