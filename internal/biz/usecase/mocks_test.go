package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/repo"
)

// Mock implementations

type mockLLM struct {
	mu        sync.Mutex
	reply     string
	err       error
	speakErr  error
	prompts   []string
	systems   []string
	histories [][]repo.ChatMessage
	spoken    []string
}

func (m *mockLLM) Chat(ctx context.Context, systemPrompt string, history []repo.ChatMessage, userMessage string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems = append(m.systems, systemPrompt)
	m.histories = append(m.histories, history)
	m.prompts = append(m.prompts, userMessage)
	return m.reply, m.err
}

func (m *mockLLM) Speak(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	if m.speakErr != nil {
		return nil, m.speakErr
	}
	return []byte("OggS"), nil
}

func (m *mockLLM) DescribeImage(ctx context.Context, imagePath, prompt string) (string, error) {
	return "a cat on a sofa", nil
}

type mockMessages struct {
	mu       sync.Mutex
	texts    []string
	images   int
	audios   int
	imageErr error
	audioErr error
}

func (m *mockMessages) SendText(ctx context.Context, chatID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *mockMessages) SendImage(ctx context.Context, chatID string, image []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.imageErr != nil {
		return m.imageErr
	}
	m.images++
	return nil
}

func (m *mockMessages) SendAudio(ctx context.Context, chatID string, audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audioErr != nil {
		return m.audioErr
	}
	m.audios++
	return nil
}

func (m *mockMessages) sentTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockImages struct {
	err error
}

func (m *mockImages) RandomImage(ctx context.Context) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

type mockLinks struct {
	content string
	err     error
	mu      sync.Mutex
	fetched []string
}

func (m *mockLinks) DetectLinks(text string) []string {
	return nil
}

func (m *mockLinks) ExtractContent(ctx context.Context, url string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, url)
	return m.content, m.err
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	turns   []domain.Turn
	saveErr error
	block   chan struct{}
}

func (m *mockHistoryRepo) SaveTurn(ctx context.Context, turn *domain.Turn) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.turns = append(m.turns, *turn)
	return nil
}

func (m *mockHistoryRepo) RecentTurns(ctx context.Context, chatID string, limit int) ([]domain.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Turn
	for _, t := range m.turns {
		if t.ChatID == chatID {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (m *mockHistoryRepo) CountTurns(ctx context.Context, chatID string) (int, error) {
	turns, _ := m.RecentTurns(ctx, chatID, 0)
	return len(turns), nil
}

func (m *mockHistoryRepo) Close() error { return nil }

func (m *mockHistoryRepo) saved() []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Turn(nil), m.turns...)
}

type mockEnqueuer struct {
	mu       sync.Mutex
	metas    []domain.QueueMetadata
	messages []string
	err      error
}

func (m *mockEnqueuer) Enqueue(meta domain.QueueMetadata, message string, hasLink bool, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.metas = append(m.metas, meta)
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockEnqueuer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

var errBoom = errors.New("boom")
