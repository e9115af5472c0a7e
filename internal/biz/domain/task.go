package domain

// ScheduledTask pushes a fixed instruction into a chat on a cron schedule
type ScheduledTask struct {
	ID      string `yaml:"id" json:"id"`
	ChatID  string `yaml:"chat_id" json:"chat_id"`
	Content string `yaml:"content" json:"content"`
	Cron    string `yaml:"cron" json:"cron"`
}
