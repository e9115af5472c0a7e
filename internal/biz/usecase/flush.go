package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// Classifier decides how a flushed batch should be answered
type Classifier interface {
	IsVoiceRequest(text string) bool
	IsRandomImageRequest(text string) bool
}

// Responder produces and delivers a reply for one request kind
type Responder interface {
	RespondText(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error)
	RespondVoice(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error)
	RespondImage(ctx context.Context, req *domain.ReplyRequest) (*domain.ReplyResult, error)
}

// TurnRecorder persists a finished exchange without blocking the caller
type TurnRecorder interface {
	Record(turn *domain.Turn)
}

// FlushConfig configures flush processing
type FlushConfig struct {
	// Timeout bounds one flush including link extraction and reply delivery
	Timeout time.Duration
}

// FlushUsecase turns a flushed queue into a reply
type FlushUsecase struct {
	links      repo.LinkRepo
	classifier Classifier
	responder  Responder
	recorder   TurnRecorder
	cfg        FlushConfig
	logger     *slog.Logger
}

// NewFlushUsecase creates a flush processor. links may be nil to disable link enrichment.
func NewFlushUsecase(links repo.LinkRepo, classifier Classifier, responder Responder, recorder TurnRecorder, cfg FlushConfig) *FlushUsecase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	return &FlushUsecase{
		links:      links,
		classifier: classifier,
		responder:  responder,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logging.ForComponent(logging.CompFlush),
	}
}

// Classify picks the reply kind; voice wins over random image, which wins over text
func (uc *FlushUsecase) Classify(text string) domain.RequestKind {
	switch {
	case uc.classifier.IsVoiceRequest(text):
		return domain.RequestVoice
	case uc.classifier.IsRandomImageRequest(text):
		return domain.RequestRandomImage
	default:
		return domain.RequestText
	}
}

// Handle is the queue flush callback
func (uc *FlushUsecase) Handle(q *domain.ConversationQueue) {
	ctx, cancel := context.WithTimeout(context.Background(), uc.cfg.Timeout)
	defer cancel()

	if err := uc.Process(ctx, q); err != nil {
		uc.logger.Error("flush_failed",
			slog.String("key", q.Key),
			slog.String("error", err.Error()))
	}
}

// Process builds the combined content of a queue, dispatches it and records the turn
func (uc *FlushUsecase) Process(ctx context.Context, q *domain.ConversationQueue) error {
	content := q.Combined()
	if q.HasLink {
		content = uc.enrich(ctx, content, q.FirstURL())
	}

	req := &domain.ReplyRequest{
		ChatID:     q.ChatID,
		SenderName: q.SenderName,
		Username:   q.Username,
		IsGroup:    q.IsGroup,
		Sender:     q.Sender,
		Message:    content,
	}

	kind := uc.Classify(content)
	uc.logger.Info("flush_dispatch",
		slog.String("key", q.Key),
		slog.String("kind", kind.String()),
		slog.Int("messages", len(q.Messages)),
		slog.Bool("system", q.IsSystem()))

	var (
		result *domain.ReplyResult
		err    error
	)
	switch kind {
	case domain.RequestVoice:
		result, err = uc.responder.RespondVoice(ctx, req)
	case domain.RequestRandomImage:
		result, err = uc.responder.RespondImage(ctx, req)
	default:
		result, err = uc.responder.RespondText(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("%s reply: %w", kind, err)
	}
	if result == nil || result.Reply == "" {
		return nil
	}

	if uc.recorder != nil {
		prompt := result.Prompt
		if prompt == "" {
			prompt = content
		}
		uc.recorder.Record(domain.NewTurn(q.ChatID, q.SenderName, prompt, result.Reply, q.IsSystem()))
	}
	return nil
}

// enrich appends the readable content of url; failures leave content unchanged
func (uc *FlushUsecase) enrich(ctx context.Context, content, url string) string {
	if uc.links == nil || url == "" {
		return content
	}
	extracted, err := uc.links.ExtractContent(ctx, url)
	if err != nil {
		uc.logger.Warn("link_extract_failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		return content
	}
	if extracted == "" {
		return content
	}
	return content + "\n\n" + extracted
}
