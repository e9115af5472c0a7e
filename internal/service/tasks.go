package service

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// SystemEnqueuer pushes bot-generated instructions into a chat
type SystemEnqueuer interface {
	EnqueueSystem(chatID, content string) error
}

type taskState struct {
	task    domain.ScheduledTask
	nextRun time.Time
}

// TaskRunner fires scheduled tasks into the conversation queue at their cron times
type TaskRunner struct {
	target SystemEnqueuer
	logger *slog.Logger
	now    func() time.Time

	pollInterval time.Duration

	tasksMu sync.Mutex
	tasks   []*taskState

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewTaskRunner validates every cron expression and computes the first run times
func NewTaskRunner(tasks []domain.ScheduledTask, target SystemEnqueuer) (*TaskRunner, error) {
	r := &TaskRunner{
		target:       target,
		logger:       logging.ForComponent(logging.CompTasks),
		now:          time.Now,
		pollInterval: 15 * time.Second,
	}

	g := gronx.New()
	now := r.now()
	for _, task := range tasks {
		if len(strings.Fields(task.Cron)) != 5 || !g.IsValid(task.Cron) {
			return nil, fmt.Errorf("task %s: invalid cron expression %q", task.ID, task.Cron)
		}
		next, err := nextRun(task.Cron, now)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.ID, err)
		}
		r.tasks = append(r.tasks, &taskState{task: task, nextRun: next})
	}
	return r, nil
}

// Start starts the poll loop
func (r *TaskRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running || len(r.tasks) == 0 {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.loop(r.stopCh)
	r.logger.Info("tasks_started", slog.Int("tasks", len(r.tasks)), slog.Duration("poll", r.pollInterval))
}

// Stop stops the poll loop
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("tasks_stopped")
}

func (r *TaskRunner) loop(stop <-chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runDue()
		case <-stop:
			return
		}
	}
}

// runDue fires every task whose next run time has passed and returns how many fired
func (r *TaskRunner) runDue() int {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()

	now := r.now()
	fired := 0
	for _, st := range r.tasks {
		if now.Before(st.nextRun) {
			continue
		}
		r.run(st.task)
		fired++

		next, err := nextRun(st.task.Cron, now)
		if err != nil {
			r.logger.Error("task_reschedule_failed", slog.String("task", st.task.ID), slog.String("error", err.Error()))
			next = now.Add(24 * time.Hour)
		}
		st.nextRun = next
	}
	return fired
}

// nextRun returns the first tick of expr in a minute after the one containing t
func nextRun(expr string, t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(expr, t.Truncate(time.Minute).Add(59*time.Second), false)
}

func (r *TaskRunner) run(task domain.ScheduledTask) {
	if err := r.target.EnqueueSystem(task.ChatID, task.Content); err != nil {
		r.logger.Error("task_enqueue_failed",
			slog.String("task", task.ID),
			slog.String("chat_id", task.ChatID),
			slog.String("error", err.Error()))
		return
	}
	r.logger.Info("task_fired", slog.String("task", task.ID), slog.String("chat_id", task.ChatID))
}

// NextRuns returns the next run time of every task, keyed by task id
func (r *TaskRunner) NextRuns() map[string]time.Time {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()

	out := make(map[string]time.Time, len(r.tasks))
	for _, st := range r.tasks {
		out[st.task.ID] = st.nextRun
	}
	return out
}
