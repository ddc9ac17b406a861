package config

import (
	"time"
)

type ChatConfig struct {
	// TTLWindow is the rolling inactivity window. Every qualifying mutation
	// pushes expires_at forward by this much from now.
	TTLWindow time.Duration `yaml:"ttl_window"`

	// SweepInterval is how often the expiry watchdog scans for overdue
	// active chats.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Retention is how long terminal chat documents stay queryable before
	// the store's TTL index reclaims them.
	Retention time.Duration `yaml:"retention"`

	MaxMessageLength int `yaml:"max_message_length"`
}

func loadChatConfig() *ChatConfig {
	return &ChatConfig{
		TTLWindow:        getEnvAsDuration("CHAT_TTL_WINDOW", 20*time.Minute),
		SweepInterval:    getEnvAsDuration("CHAT_SWEEP_INTERVAL", 30*time.Second),
		Retention:        getEnvAsDuration("CHAT_RETENTION", 7*24*time.Hour),
		MaxMessageLength: getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 1000),
	}
}
