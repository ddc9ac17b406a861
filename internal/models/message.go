package models

import (
	"time"
)

type SenderRole string
type MessageLanguage string

const (
	SenderRoleRequester SenderRole = "requester"
	SenderRoleOwner     SenderRole = "owner"
	SenderRoleSystem    SenderRole = "system"

	LanguageEnglish MessageLanguage = "en"
	LanguageHindi   MessageLanguage = "hi"
)

// Message is one entry in a chat's append-only log. ID and Timestamp are
// assigned by the server at commit time, never by the client; Timestamp is
// the authoritative ordering key.
type Message struct {
	ID           string          `json:"id" bson:"_id" validate:"required"`
	SenderRole   SenderRole      `json:"sender_role" bson:"sender_role" validate:"required"`
	Content      string          `json:"content" bson:"content" validate:"required"`
	Language     MessageLanguage `json:"language" bson:"language"`
	IsPredefined bool            `json:"is_predefined" bson:"is_predefined"`
	SessionToken string          `json:"session_token" bson:"session_token"`
	Timestamp    time.Time       `json:"timestamp" bson:"timestamp"`
}

func ValidSenderRole(role SenderRole) bool {
	switch role {
	case SenderRoleRequester, SenderRoleOwner, SenderRoleSystem:
		return true
	}
	return false
}

// NormalizeLanguage falls back to English for anything outside the fixed set.
// The tag is informational only.
func NormalizeLanguage(lang MessageLanguage) MessageLanguage {
	switch lang {
	case LanguageEnglish, LanguageHindi:
		return lang
	}
	return LanguageEnglish
}
