package utils

import "time"

// Application Constants
const (
	AppName    = "QRGuard"
	AppVersion = "1.0.0"

	// Default values
	DefaultLanguage = "en"
	DefaultTimeZone = "UTC"

	// Chat Constants
	DefaultChatTTL      = 20 * time.Minute
	MaxMessageLength    = 1000
	MobileNumberLength  = 10
	SessionTokenLength  = 32
	MaxVehicleKeyLength = 10
	MinVehicleKeyLength = 2

	// System message texts, appended by the lifecycle manager
	SystemMsgReporterJoined = "A new reporter joined this chat"
	SystemMsgOwnerJoined    = "Vehicle owner joined the chat"
	SystemMsgOwnerRejoined  = "Vehicle owner rejoined the chat"
	SystemMsgChatEnded      = "Chat has been ended"

	// History retrieval
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100

	// Response statuses
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrValidationFailed = "Validation failed"
	ErrInternalServer   = "Internal server error"
	ErrChatNotFound     = "Chat not found"
	ErrChatNotActive    = "Chat is not active"
	ErrServiceBusy      = "Service temporarily unreachable, please retry"
)
