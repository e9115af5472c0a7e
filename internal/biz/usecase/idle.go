package usecase

import (
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// AttemptPlaceholder is replaced with the current unanswered count in the idle instruction
const AttemptPlaceholder = "{{count}}"

// IdleConfig configures the re-engagement countdown
type IdleConfig struct {
	MinHours float64
	MaxHours float64
	Quiet    domain.QuietHours
	Targets  []string
	// Template is the persona-specific opener of the synthetic message
	Template string
	// Instruction is appended to Template; AttemptPlaceholder is substituted
	Instruction string
}

// Enqueuer accepts messages into the conversation queue
type Enqueuer interface {
	Enqueue(meta domain.QueueMetadata, message string, hasLink bool, urls []string) error
}

// IdleUsecase sends an unprompted message to a random target after a random
// period without conversation activity.
type IdleUsecase struct {
	cfg    IdleConfig
	queue  Enqueuer
	logger *slog.Logger

	now       func() time.Time
	randFloat func() float64
	randIntN  func(n int) int

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	state      domain.IdleState
	endTime    time.Time
	unanswered int
}

// NewIdleUsecase creates the countdown; call Start to arm it
func NewIdleUsecase(cfg IdleConfig, queue Enqueuer) *IdleUsecase {
	if cfg.MaxHours < cfg.MinHours {
		cfg.MinHours, cfg.MaxHours = cfg.MaxHours, cfg.MinHours
	}
	return &IdleUsecase{
		cfg:       cfg,
		queue:     queue,
		logger:    logging.ForComponent(logging.CompIdle),
		now:       time.Now,
		randFloat: rand.Float64,
		randIntN:  rand.IntN,
	}
}

// rearm restarts the countdown after an expiry unless Reset or Stop already did
func (uc *IdleUsecase) rearm(gen uint64) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if gen != uc.generation {
		return
	}
	uc.startLocked()
}

// Start (re)arms the countdown with a fresh random delay
func (uc *IdleUsecase) Start() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.startLocked()
}

func (uc *IdleUsecase) startLocked() {
	if uc.state == domain.IdleStopped {
		return
	}
	if uc.timer != nil {
		uc.timer.Stop()
	}

	delay := uc.nextDelay()
	uc.generation++
	gen := uc.generation
	uc.endTime = uc.now().Add(delay)
	uc.state = domain.IdleArmed
	uc.timer = time.AfterFunc(delay, func() { uc.fire(gen) })

	uc.logger.Info("idle_armed",
		slog.Duration("delay", delay),
		slog.Time("end_time", uc.endTime),
		slog.Int("unanswered", uc.unanswered))
}

// nextDelay draws uniformly from [MinHours, MaxHours]
func (uc *IdleUsecase) nextDelay() time.Duration {
	hours := uc.cfg.MinHours + uc.randFloat()*(uc.cfg.MaxHours-uc.cfg.MinHours)
	delay := time.Duration(hours * float64(time.Hour))
	if delay < time.Second {
		delay = time.Second
	}
	return delay
}

// fire runs one expiry of the countdown armed with generation gen. A timer
// superseded by Reset or Stop does nothing.
func (uc *IdleUsecase) fire(gen uint64) {
	uc.mu.Lock()
	if gen != uc.generation || uc.state != domain.IdleArmed {
		uc.mu.Unlock()
		return
	}
	uc.state = domain.IdleFiring
	uc.mu.Unlock()

	defer uc.rearm(gen)
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("idle_fire_panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if uc.inQuietHours() {
		uc.logger.Info("idle_quiet_hours", slog.String("range", uc.cfg.Quiet.String()))
		return
	}

	if len(uc.cfg.Targets) == 0 {
		uc.logger.Warn("idle_no_targets")
		return
	}
	target := uc.cfg.Targets[uc.randIntN(len(uc.cfg.Targets))]

	uc.mu.Lock()
	if gen != uc.generation || uc.state == domain.IdleStopped {
		// Real activity or shutdown arrived while firing
		uc.mu.Unlock()
		uc.logger.Debug("idle_fire_superseded", slog.String("target", target))
		return
	}
	uc.unanswered++
	count := uc.unanswered
	uc.mu.Unlock()

	meta := domain.QueueMetadata{
		ChatID:     target,
		SenderName: domain.SystemSenderName,
		Username:   domain.SystemSenderName,
		IsGroup:    false,
		Sender:     domain.SenderSystem,
	}
	if err := uc.queue.Enqueue(meta, uc.Compose(count), false, nil); err != nil {
		uc.logger.Error("idle_enqueue_failed",
			slog.String("target", target),
			slog.String("error", err.Error()))
		return
	}
	uc.logger.Info("idle_message_enqueued", slog.String("target", target), slog.Int("attempt", count))
}

// inQuietHours fails open on a malformed window
func (uc *IdleUsecase) inQuietHours() bool {
	if !uc.cfg.Quiet.Enabled() {
		return false
	}
	quiet, err := uc.cfg.Quiet.IsQuiet(uc.now())
	if err != nil {
		uc.logger.Warn("quiet_hours_invalid",
			slog.String("range", uc.cfg.Quiet.String()),
			slog.String("error", err.Error()))
	}
	return quiet
}

// Compose builds the synthetic message for the given attempt number
func (uc *IdleUsecase) Compose(attempt int) string {
	instruction := strings.ReplaceAll(uc.cfg.Instruction, AttemptPlaceholder, strconv.Itoa(attempt))
	if instruction == "" {
		return uc.cfg.Template
	}
	if uc.cfg.Template == "" {
		return instruction
	}
	return uc.cfg.Template + " " + instruction
}

// Reset records conversation activity: the unanswered count is cleared and the countdown restarts
func (uc *IdleUsecase) Reset() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.state == domain.IdleStopped {
		return
	}
	uc.unanswered = 0
	uc.startLocked()
}

// Stop cancels the countdown permanently
func (uc *IdleUsecase) Stop() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.timer != nil {
		uc.timer.Stop()
		uc.timer = nil
	}
	uc.state = domain.IdleStopped
	uc.logger.Info("idle_stopped")
}

// Snapshot returns the current countdown state
func (uc *IdleUsecase) Snapshot() domain.IdleSnapshot {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return domain.IdleSnapshot{
		State:           uc.state,
		EndTime:         uc.endTime,
		UnansweredCount: uc.unanswered,
	}
}

// UnansweredCount returns how many unprompted messages went without a reply
func (uc *IdleUsecase) UnansweredCount() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.unanswered
}
