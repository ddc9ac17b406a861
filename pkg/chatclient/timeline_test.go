package chatclient

import (
	"fmt"
	"testing"
	"time"

	"qrguard/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func canonical(id, content string, role models.SenderRole, ts time.Time) models.Message {
	return models.Message{
		ID:         id,
		SenderRole: role,
		Content:    content,
		Language:   models.LanguageEnglish,
		Timestamp:  ts,
	}
}

func TestApplyCanonicalIsIdempotent(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()
	msg := canonical("m1", "hello", models.SenderRoleOwner, now)

	assert.True(t, tl.ApplyCanonical(msg, now))
	assert.False(t, tl.ApplyCanonical(msg, now))
	assert.False(t, tl.ApplyCanonical(msg, now.Add(time.Minute)))
	assert.Equal(t, 1, tl.Len())
}

func TestApplyCanonicalDedupsWithoutIDByContentAndTimestamp(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	// Same content and timestamp, no id: one entry.
	a := models.Message{SenderRole: models.SenderRoleOwner, Content: "ping", Timestamp: now}
	assert.True(t, tl.ApplyCanonical(a, now))
	assert.False(t, tl.ApplyCanonical(a, now))

	// Same content at a different timestamp is a distinct message.
	b := models.Message{SenderRole: models.SenderRoleOwner, Content: "ping", Timestamp: now.Add(time.Second)}
	assert.True(t, tl.ApplyCanonical(b, now))
	assert.Equal(t, 2, tl.Len())
}

func TestProvisionalReplacedInPlaceByEcho(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	before := canonical("m0", "earlier", models.SenderRoleOwner, now.Add(-time.Minute))
	require.True(t, tl.ApplyCanonical(before, now))

	local := tl.AppendProvisional(models.SenderRoleRequester, "headlights on", models.LanguageEnglish, false, "token", now)
	assert.Contains(t, local.ID, "local-")
	require.Equal(t, 2, tl.Len())

	echo := canonical("m1", "headlights on", models.SenderRoleRequester, now.Add(200*time.Millisecond))
	require.True(t, tl.ApplyCanonical(echo, now))

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].ID)
	// Replaced, not appended: the slot keeps its position and takes the
	// server id and timestamp.
	assert.Equal(t, "m1", msgs[1].ID)
	assert.Equal(t, echo.Timestamp, msgs[1].Timestamp)
}

func TestEchoOutsideToleranceAppendsInstead(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	tl.AppendProvisional(models.SenderRoleRequester, "hello", models.LanguageEnglish, false, "token", now)

	late := canonical("m1", "hello", models.SenderRoleRequester, now.Add(DefaultMatchTolerance+time.Second))
	require.True(t, tl.ApplyCanonical(late, now))

	// The provisional entry is still waiting; the late echo did not claim it.
	assert.Equal(t, 2, tl.Len())
}

func TestEchoOnlyClaimsMatchingRole(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	tl.AppendProvisional(models.SenderRoleRequester, "ok", models.LanguageEnglish, false, "token", now)

	other := canonical("m1", "ok", models.SenderRoleOwner, now)
	require.True(t, tl.ApplyCanonical(other, now))
	assert.Equal(t, 2, tl.Len())
}

func TestPruneStaleDropsOnlyOverdueProvisionals(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	stale := tl.AppendProvisional(models.SenderRoleRequester, "lost", models.LanguageEnglish, false, "token", now.Add(-10*time.Second))
	tl.AppendProvisional(models.SenderRoleRequester, "fresh", models.LanguageEnglish, false, "token", now)
	require.True(t, tl.ApplyCanonical(canonical("m1", "confirmed", models.SenderRoleOwner, now.Add(-time.Hour)), now))

	failed := tl.PruneStale(now)
	require.Len(t, failed, 1)
	assert.Equal(t, stale.ID, failed[0].ID)

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fresh", msgs[0].Content)
	assert.Equal(t, "confirmed", msgs[1].Content)
}

func TestResetReplacesStateWholesale(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	tl.AppendProvisional(models.SenderRoleRequester, "will vanish", models.LanguageEnglish, false, "token", now)
	require.True(t, tl.ApplyCanonical(canonical("old", "old message", models.SenderRoleOwner, now), now))

	snapshot := []models.Message{
		canonical("s1", "first", models.SenderRoleSystem, now.Add(-2*time.Minute)),
		canonical("s2", "second", models.SenderRoleRequester, now.Add(-time.Minute)),
	}
	tl.Reset(snapshot)

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "s1", msgs[0].ID)
	assert.Equal(t, "s2", msgs[1].ID)

	// Dedup indexes were rebuilt: snapshot entries are known, old ones are
	// gone.
	assert.False(t, tl.ApplyCanonical(snapshot[0], now))
	assert.True(t, tl.ApplyCanonical(canonical("old", "old message", models.SenderRoleOwner, now), now))
}

func TestReplayedBroadcastBurstYieldsOneEntryEach(t *testing.T) {
	tl := NewTimeline()
	now := time.Now()

	for i := 0; i < 3; i++ {
		for j := 0; j < 5; j++ {
			msg := canonical(fmt.Sprintf("m%d", j), fmt.Sprintf("msg %d", j), models.SenderRoleOwner, now.Add(time.Duration(j)*time.Second))
			tl.ApplyCanonical(msg, now)
		}
	}

	msgs := tl.Messages()
	require.Len(t, msgs, 5)
	for j, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("m%d", j), msg.ID)
	}
}
