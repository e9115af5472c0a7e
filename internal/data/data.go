package data

import (
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
	"github.com/heshi2019/Read-KouriChat/internal/infra/feishu"
	llm "github.com/heshi2019/Read-KouriChat/internal/infra/openai"
)

// Options configures the optional repositories
type Options struct {
	HistoryDBPath  string
	Speech         SpeechConfig
	LinksEnabled   bool
	LinkMaxChars   int
	LinkTimeout    time.Duration
	RandomImageURL string
}

// Repositories contains all repositories
type Repositories struct {
	Message repo.MessageRepo
	History repo.HistoryRepo
	LLM     repo.LLMRepo
	Link    repo.LinkRepo
	Image   repo.ImageRepo
}

// NewRepositories creates all repositories. visionClient may be nil.
func NewRepositories(
	feishuClient *feishu.Client,
	chatClient *llm.Client,
	visionClient *llm.Client,
	opts Options,
) (*Repositories, error) {
	historyRepo, err := NewHistoryRepo(opts.HistoryDBPath)
	if err != nil {
		return nil, err
	}

	repos := &Repositories{
		Message: NewFeishuRepo(feishuClient),
		History: historyRepo,
		LLM:     NewLLMRepo(chatClient, visionClient, opts.Speech),
		Image:   NewImageRepo(opts.RandomImageURL),
	}
	if opts.LinksEnabled {
		repos.Link = NewLinkRepo(LinkConfig{MaxChars: opts.LinkMaxChars, Timeout: opts.LinkTimeout})
	}
	return repos, nil
}

// Close releases the repositories holding resources
func (r *Repositories) Close() error {
	return r.History.Close()
}
