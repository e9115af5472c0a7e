package biz

import (
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/biz/usecase"
)

// Config groups the settings of every usecase
type Config struct {
	Queue         usecase.QueueConfig
	Flush         usecase.FlushConfig
	Idle          usecase.IdleConfig
	Reply         usecase.ReplyConfig
	ListenList    []string
	VoiceKeywords []string
	HistoryBuffer int
}

// Repos are the collaborators the usecases depend on.
// Link and Image may be nil to disable those features.
type Repos struct {
	Message repo.MessageRepo
	History repo.HistoryRepo
	LLM     repo.LLMRepo
	Link    repo.LinkRepo
	Image   repo.ImageRepo
}

// Usecases contains all usecases
type Usecases struct {
	Queue   *usecase.QueueUsecase
	Flush   *usecase.FlushUsecase
	Idle    *usecase.IdleUsecase
	Reply   *usecase.ReplyUsecase
	History *usecase.HistoryUsecase
	Filter  *usecase.FilterUsecase
}

// NewUsecases builds the usecases and connects the queue to the flush
// processor and the idle countdown.
func NewUsecases(repos Repos, cfg Config) *Usecases {
	historyUC := usecase.NewHistoryUsecase(repos.History, cfg.HistoryBuffer)
	replyUC := usecase.NewReplyUsecase(repos.LLM, repos.Message, repos.Image, historyUC, cfg.Reply)
	flushUC := usecase.NewFlushUsecase(repos.Link, usecase.NewKeywordClassifier(cfg.VoiceKeywords...), replyUC, historyUC, cfg.Flush)
	queueUC := usecase.NewQueueUsecase(cfg.Queue)
	idleUC := usecase.NewIdleUsecase(cfg.Idle, queueUC)

	queueUC.SetFlushHandler(flushUC.Handle)
	queueUC.SetActivityHook(idleUC.Reset)

	return &Usecases{
		Queue:   queueUC,
		Flush:   flushUC,
		Idle:    idleUC,
		Reply:   replyUC,
		History: historyUC,
		Filter:  usecase.NewFilterUsecase(cfg.ListenList),
	}
}
