package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/heshi2019/Read-KouriChat/internal/biz"
	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/biz/usecase"
	"github.com/heshi2019/Read-KouriChat/internal/data"
	llm "github.com/heshi2019/Read-KouriChat/internal/infra/openai"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// Config represents application configuration
type Config struct {
	// Feishu configuration
	Feishu FeishuConfig

	// Chat model configuration
	LLM LLMConfig

	// Vision model configuration (optional, falls back to LLM)
	Vision LLMConfig

	// Text-to-speech configuration
	Speech data.SpeechConfig

	// Queue configuration
	Queue QueueConfig

	// Idle re-engagement configuration
	AutoMessage AutoMessageConfig

	// Reply delivery configuration
	Reply ReplyConfig

	// Links and random images
	Media MediaConfig

	// History storage
	History HistoryConfig

	// Status API
	API APIConfig

	// Logging
	Log logging.Config

	// Prompts configuration (loaded from YAML)
	Prompts *PromptsConfig

	// ListenList restricts the chats the bot answers in, by chat id or name
	ListenList []string

	// VoiceKeywords extend the built-in voice request keywords
	VoiceKeywords []string

	// Debug mode
	Debug bool
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
	BotName   string // Bot name, stripped from group mentions
	ImageDir  string
}

// LLMConfig contains an OpenAI-compatible endpoint
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// QueueConfig contains the debounce window
type QueueConfig struct {
	TimeoutSeconds int
}

// AutoMessageConfig contains the idle countdown settings
type AutoMessageConfig struct {
	MinHours   float64
	MaxHours   float64
	QuietStart string
	QuietEnd   string
	// Targets are chat ids; empty falls back to ListenList
	Targets []string
	// Content overrides the prompts file template when set
	Content string
}

// ReplyConfig contains reply delivery settings
type ReplyConfig struct {
	MaxGroups           int // Stored turns sent as prior context
	PartIntervalSeconds float64
}

// MediaConfig contains link extraction and random image settings
type MediaConfig struct {
	RandomImageURL     string
	LinkExtractEnabled bool
	LinkMaxChars       int
	LinkTimeoutSeconds int
}

// HistoryConfig contains history storage settings
type HistoryConfig struct {
	DBPath string
	Buffer int
}

// APIConfig contains the status API settings
type APIConfig struct {
	Port int
	// URL is where the mcp and send commands reach a running bot
	URL string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	homeDir, _ := os.UserHomeDir()

	historyDBPath := os.Getenv("HISTORY_DB_PATH")
	if historyDBPath == "" {
		historyDBPath = filepath.Join(homeDir, ".kouri", "history.db")
	}

	imageDir := os.Getenv("IMAGE_DIR")
	if imageDir == "" {
		imageDir = filepath.Join(os.TempDir(), "kouri-images")
	}

	apiPort := envInt("API_PORT", 9876)
	apiURL := os.Getenv("BRIDGE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:" + strconv.Itoa(apiPort)
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("DEEPSEEK_API_KEY")
	}

	chat := LLMConfig{
		APIKey:      apiKey,
		BaseURL:     envString("LLM_BASE_URL", "https://api.deepseek.com/v1"),
		Model:       envString("LLM_MODEL", "deepseek-chat"),
		MaxTokens:   envInt("MAX_TOKEN", 2000),
		Temperature: float32(envFloat("TEMPERATURE", 1.1)),
	}

	vision := LLMConfig{
		APIKey:      os.Getenv("IMAGE_RECOGNITION_API_KEY"),
		BaseURL:     os.Getenv("IMAGE_RECOGNITION_BASE_URL"),
		Model:       os.Getenv("IMAGE_RECOGNITION_MODEL"),
		MaxTokens:   chat.MaxTokens,
		Temperature: 0.7,
	}

	listenList := envList("LISTEN_LIST")

	// Load prompts from YAML
	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		logging.ForComponent(logging.CompConfig).Warn("prompts_load_failed", "error", err.Error())
		promptsConfig = DefaultPromptsConfig()
	}

	return &Config{
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
			BotName:   os.Getenv("BOT_NAME"),
			ImageDir:  imageDir,
		},
		LLM:    chat,
		Vision: vision,
		Speech: data.SpeechConfig{
			Model: os.Getenv("TTS_MODEL"),
			Voice: os.Getenv("TTS_VOICE"),
		},
		Queue: QueueConfig{
			TimeoutSeconds: envInt("QUEUE_TIMEOUT_SECONDS", 8),
		},
		AutoMessage: AutoMessageConfig{
			MinHours:   envFloat("AUTO_MESSAGE_MIN_HOURS", 1),
			MaxHours:   envFloat("AUTO_MESSAGE_MAX_HOURS", 3),
			QuietStart: envString("QUIET_TIME_START", "22:00"),
			QuietEnd:   envString("QUIET_TIME_END", "08:00"),
			Targets:    envList("AUTO_MESSAGE_TARGETS"),
			Content:    os.Getenv("AUTO_MESSAGE_CONTENT"),
		},
		Reply: ReplyConfig{
			MaxGroups:           envInt("MAX_GROUPS", 15),
			PartIntervalSeconds: envFloat("REPLY_PART_INTERVAL_SECONDS", 3),
		},
		Media: MediaConfig{
			RandomImageURL:     os.Getenv("RANDOM_IMAGE_URL"),
			LinkExtractEnabled: envBool("LINK_EXTRACT_ENABLED", true),
			LinkMaxChars:       envInt("LINK_MAX_CHARS", 4000),
			LinkTimeoutSeconds: envInt("LINK_TIMEOUT_SECONDS", 30),
		},
		History: HistoryConfig{
			DBPath: historyDBPath,
			Buffer: envInt("HISTORY_BUFFER", 256),
		},
		API: APIConfig{
			Port: apiPort,
			URL:  strings.TrimRight(apiURL, "/"),
		},
		Log: logging.Config{
			LogDir: envString("LOG_DIR", "logs"),
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Prompts:       promptsConfig,
		ListenList:    listenList,
		VoiceKeywords: envList("VOICE_KEYWORDS"),
		Debug:         os.Getenv("DEBUG") == "true",
	}
}

// QuietHours returns the configured quiet window
func (c *AutoMessageConfig) QuietHours() domain.QuietHours {
	return domain.QuietHours{Start: c.QuietStart, End: c.QuietEnd}
}

// IdleTargets returns the chats that may receive unprompted messages
func (c *Config) IdleTargets() []string {
	if len(c.AutoMessage.Targets) > 0 {
		return c.AutoMessage.Targets
	}
	return c.ListenList
}

// ToBizConfig converts to usecase configuration
func (c *Config) ToBizConfig() biz.Config {
	prompts := c.Prompts
	if prompts == nil {
		prompts = DefaultPromptsConfig()
	}

	template := prompts.AutoMessage.Template
	if c.AutoMessage.Content != "" {
		template = c.AutoMessage.Content
	}

	return biz.Config{
		Queue: usecase.QueueConfig{
			Timeout: time.Duration(c.Queue.TimeoutSeconds) * time.Second,
		},
		Idle: usecase.IdleConfig{
			MinHours:    c.AutoMessage.MinHours,
			MaxHours:    c.AutoMessage.MaxHours,
			Quiet:       c.AutoMessage.QuietHours(),
			Targets:     c.IdleTargets(),
			Template:    template,
			Instruction: prompts.AutoMessage.Instruction,
		},
		Reply: usecase.ReplyConfig{
			SystemPrompt:    prompts.Persona.SystemPrompt,
			GroupPrompt:     prompts.Persona.GroupPrompt,
			ContextTurns:    c.Reply.MaxGroups,
			PartInterval:    time.Duration(c.Reply.PartIntervalSeconds * float64(time.Second)),
			ImageSentText:   prompts.Replies.ImageSent,
			ImageFailedText: prompts.Replies.ImageFailed,
		},
		ListenList:    c.ListenList,
		VoiceKeywords: c.VoiceKeywords,
		HistoryBuffer: c.History.Buffer,
	}
}

// ToDataOptions converts to repository options
func (c *Config) ToDataOptions() data.Options {
	return data.Options{
		HistoryDBPath:  c.History.DBPath,
		Speech:         c.Speech,
		LinksEnabled:   c.Media.LinkExtractEnabled,
		LinkMaxChars:   c.Media.LinkMaxChars,
		LinkTimeout:    time.Duration(c.Media.LinkTimeoutSeconds) * time.Second,
		RandomImageURL: c.Media.RandomImageURL,
	}
}

// ToClientConfig converts to the OpenAI client configuration
func (c LLMConfig) ToClientConfig() llm.Config {
	return llm.Config{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

// VisionEnabled reports whether a separate vision model is configured
func (c *Config) VisionEnabled() bool {
	return c.Vision.Model != ""
}

// VisionClientConfig fills missing vision endpoint settings from the chat model
func (c *Config) VisionClientConfig() llm.Config {
	v := c.Vision
	if v.APIKey == "" {
		v.APIKey = c.LLM.APIKey
	}
	if v.BaseURL == "" {
		v.BaseURL = c.LLM.BaseURL
	}
	return v.ToClientConfig()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required"}
	}
	if c.LLM.APIKey == "" {
		return &ConfigError{Field: "LLM_API_KEY", Message: "required"}
	}
	if c.Queue.TimeoutSeconds <= 0 {
		return &ConfigError{Field: "QUEUE_TIMEOUT_SECONDS", Message: "must be positive"}
	}
	if c.AutoMessage.MinHours < 0 || c.AutoMessage.MaxHours < c.AutoMessage.MinHours {
		return &ConfigError{Field: "AUTO_MESSAGE_MIN_HOURS/AUTO_MESSAGE_MAX_HOURS", Message: "need 0 <= min <= max"}
	}
	c.warnQuietHours()
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return &ConfigError{Field: "API_PORT", Message: "out of range"}
	}
	return nil
}

// warnQuietHours reports a malformed quiet window. It is not fatal: the idle
// scheduler treats an unparsable window as not quiet.
func (c *Config) warnQuietHours() {
	quiet := c.AutoMessage.QuietHours()
	if !quiet.Enabled() {
		return
	}
	logger := logging.ForComponent(logging.CompConfig)
	if _, err := domain.ParseClock(quiet.Start); err != nil {
		logger.Warn("quiet_hours_invalid", "field", "QUIET_TIME_START", "error", err.Error())
	}
	if _, err := domain.ParseClock(quiet.End); err != nil {
		logger.Warn("quiet_hours_invalid", "field", "QUIET_TIME_END", "error", err.Error())
	}
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

// envList splits a comma separated value, dropping blanks
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
