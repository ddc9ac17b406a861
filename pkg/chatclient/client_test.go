package chatclient

import (
	"runtime"
	"testing"
	"time"

	"qrguard/internal/models"
	"qrguard/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

func TestPruneLoopStartsOnlyOnce(t *testing.T) {
	client := New(Config{
		BaseURL:      "http://localhost:8080/api/v1",
		SocketURL:    "ws://localhost:8080/ws",
		SessionToken: "token",
		SenderRole:   models.SenderRoleRequester,
	}, testLogger(t))
	defer client.Close()

	before := runtime.NumGoroutine()

	// Every reconnect would call this again; only the first may spawn.
	client.startPruneLoop()
	client.startPruneLoop()
	client.startPruneLoop()

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() == before+1
	}, time.Second, 10*time.Millisecond)
}

func TestCloseStopsPruneLoop(t *testing.T) {
	client := New(Config{SessionToken: "token"}, testLogger(t))

	before := runtime.NumGoroutine()
	client.startPruneLoop()
	require.NoError(t, client.Close())

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() == before
	}, time.Second, 10*time.Millisecond)
}
