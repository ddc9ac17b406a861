package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatStatusTerminal(t *testing.T) {
	assert.False(t, ChatStatusActive.Terminal())
	assert.False(t, ChatStatusPending.Terminal())
	assert.True(t, ChatStatusCompleted.Terminal())
	assert.True(t, ChatStatusExpired.Terminal())
	assert.True(t, ChatStatusRejected.Terminal())
}

func TestChatExpiryWindow(t *testing.T) {
	now := time.Now()
	chat := &Chat{Status: ChatStatusActive}
	chat.Touch(now, 20*time.Minute)

	assert.False(t, chat.IsExpired(now))
	assert.False(t, chat.IsExpired(now.Add(19*time.Minute)))
	// The deadline itself counts as expired.
	assert.True(t, chat.IsExpired(now.Add(20*time.Minute)))
	assert.True(t, chat.IsExpired(now.Add(time.Hour)))

	assert.Equal(t, 20*time.Minute, chat.RemainingTTL(now))
	assert.Equal(t, time.Minute, chat.RemainingTTL(now.Add(19*time.Minute)))
	assert.Equal(t, time.Duration(0), chat.RemainingTTL(now.Add(25*time.Minute)))
}

func TestTouchSlidesTheWindow(t *testing.T) {
	start := time.Now()
	chat := &Chat{Status: ChatStatusActive}
	chat.Touch(start, 20*time.Minute)
	firstDeadline := chat.ExpiresAt

	later := start.Add(5 * time.Minute)
	chat.Touch(later, 20*time.Minute)

	assert.Equal(t, later, chat.LastActivity)
	assert.True(t, chat.ExpiresAt.After(firstDeadline))
	assert.Equal(t, later.Add(20*time.Minute), chat.ExpiresAt)
}

func TestRemainingTTLZeroForNonActive(t *testing.T) {
	now := time.Now()
	chat := &Chat{Status: ChatStatusCompleted}
	chat.ExpiresAt = now.Add(10 * time.Minute)
	assert.Equal(t, time.Duration(0), chat.RemainingTTL(now))
}

func TestNormalizeLanguageFallsBackToEnglish(t *testing.T) {
	assert.Equal(t, LanguageEnglish, NormalizeLanguage(LanguageEnglish))
	assert.Equal(t, LanguageHindi, NormalizeLanguage(LanguageHindi))
	assert.Equal(t, LanguageEnglish, NormalizeLanguage("fr"))
	assert.Equal(t, LanguageEnglish, NormalizeLanguage(""))
}
