package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/heshi2019/Read-KouriChat/internal/biz/domain"
	"github.com/heshi2019/Read-KouriChat/internal/logging"
)

// PromptsConfig contains all prompt configurations loaded from YAML
type PromptsConfig struct {
	Persona     PersonaPrompts         `yaml:"persona"`
	AutoMessage AutoMessagePrompts     `yaml:"auto_message"`
	Replies     ReplyTexts             `yaml:"replies"`
	Vision      VisionPrompts          `yaml:"vision"`
	Tasks       []domain.ScheduledTask `yaml:"tasks"`
}

// PersonaPrompts contains the character prompts
type PersonaPrompts struct {
	SystemPrompt string `yaml:"system_prompt"`
	GroupPrompt  string `yaml:"group_prompt"`
}

// AutoMessagePrompts contains the idle re-engagement text
type AutoMessagePrompts struct {
	Template string `yaml:"template"`
	// Instruction supports {{count}}
	Instruction string `yaml:"instruction"`
}

// ReplyTexts contains fixed captions
type ReplyTexts struct {
	ImageSent   string `yaml:"image_sent"`
	ImageFailed string `yaml:"image_failed"`
}

// VisionPrompts contains image recognition prompts
type VisionPrompts struct {
	ImagePrompt string `yaml:"image_prompt"`
}

// LoadPromptsConfig loads prompts configuration from YAML file
func LoadPromptsConfig(configPath string) (*PromptsConfig, error) {
	logger := logging.ForComponent(logging.CompConfig)

	// Try multiple paths
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/prompts.yaml",
			"/etc/kouri/prompts.yaml",
		}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, filepath.Join(home, ".kouri", "prompts.yaml"))
		}
		// Add path relative to executable
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "prompts.yaml"))
		}
	}

	var data []byte
	var loadedPath string

	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, fmt.Errorf("read prompts %s: %w", configPath, os.ErrNotExist)
		}
		logger.Info("prompts_defaults", "reason", "no prompts.yaml found")
		return DefaultPromptsConfig(), nil
	}

	logger.Info("prompts_loaded", "path", loadedPath)

	var config PromptsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse prompts.yaml: %w", err)
	}

	config.fillDefaults()
	if err := config.validateTasks(); err != nil {
		return nil, err
	}

	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PromptsConfig) fillDefaults() {
	defaults := DefaultPromptsConfig()

	if c.Persona.SystemPrompt == "" {
		c.Persona.SystemPrompt = defaults.Persona.SystemPrompt
	}
	if c.Persona.GroupPrompt == "" {
		c.Persona.GroupPrompt = defaults.Persona.GroupPrompt
	}
	if c.AutoMessage.Template == "" {
		c.AutoMessage.Template = defaults.AutoMessage.Template
	}
	if c.AutoMessage.Instruction == "" {
		c.AutoMessage.Instruction = defaults.AutoMessage.Instruction
	}
	if c.Replies.ImageSent == "" {
		c.Replies.ImageSent = defaults.Replies.ImageSent
	}
	if c.Replies.ImageFailed == "" {
		c.Replies.ImageFailed = defaults.Replies.ImageFailed
	}
	if c.Vision.ImagePrompt == "" {
		c.Vision.ImagePrompt = defaults.Vision.ImagePrompt
	}
}

// validateTasks requires every task to name a chat and some content
func (c *PromptsConfig) validateTasks() error {
	seen := make(map[string]bool, len(c.Tasks))
	for i, task := range c.Tasks {
		if task.ID == "" {
			c.Tasks[i].ID = fmt.Sprintf("task-%d", i+1)
		}
		if seen[c.Tasks[i].ID] {
			return &ConfigError{Field: "tasks", Message: "duplicate id " + c.Tasks[i].ID}
		}
		seen[c.Tasks[i].ID] = true
		if task.ChatID == "" || task.Content == "" || task.Cron == "" {
			return &ConfigError{Field: "tasks[" + c.Tasks[i].ID + "]", Message: "chat_id, content and cron are required"}
		}
	}
	return nil
}

// DefaultPromptsConfig returns the default prompts configuration
func DefaultPromptsConfig() *PromptsConfig {
	return &PromptsConfig{
		Persona: PersonaPrompts{
			SystemPrompt: `你是Kouri，一个活泼可爱、有点小脾气的女孩子，正在和主人用飞书聊天。

## 说话方式
- 像真人聊天一样，一次说几句短的话，用 $ 分隔每一条消息
- 不要使用括号描述动作或心情
- 不要输出时间戳
- 不要说自己是AI或者语言模型

## 记住
- 参考之前的聊天内容，不要重复说过的话
- 回复要自然、口语化`,
			GroupPrompt: `你现在在一个群聊里。用户的消息会以 <用户 昵称> 标签包裹。
只回复标签里这位用户，回复简短，不要替其他人说话。`,
		},
		AutoMessage: AutoMessagePrompts{
			Template:    "请你模拟系统设置的角色，根据之前的聊天内容在飞书上找对方发消息，想知道对方在做什么，并跟对方报备自己在做什么、什么心情，语气自然，与之前的不要重复。",
			Instruction: "这是对方第{{count}}次未回复你，对方可能因为在忙碌或者有自己的事没有回复你，根据上下文联系，判断用户现在的状态，回复符合角色的话语，不要重复之前的说法。",
		},
		Replies: ReplyTexts{
			ImageSent:   "给主人你找了一张好看的图片哦~",
			ImageFailed: "抱歉主人，图片发送失败了...",
		},
		Vision: VisionPrompts{
			ImagePrompt: "请描述这个图片",
		},
	}
}
