package repo

import (
	"context"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
)

// HistoryRepo stores conversation turns
type HistoryRepo interface {
	SaveTurn(ctx context.Context, turn *domain.Turn) error
	// RecentTurns returns at most limit turns of a chat, oldest first
	RecentTurns(ctx context.Context, chatID string, limit int) ([]domain.Turn, error)
	CountTurns(ctx context.Context, chatID string) (int, error)
	Close() error
}
