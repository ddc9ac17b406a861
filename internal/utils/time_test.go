package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "19m 30s", FormatDuration(19*time.Minute+30*time.Second))
	assert.Equal(t, "1h 5m 0s", FormatDuration(time.Hour+5*time.Minute))
	assert.Equal(t, "0s", FormatDuration(0))
}

func TestTimeISORoundTrip(t *testing.T) {
	ts := time.Date(2026, 9, 1, 10, 30, 0, 250_000_000, time.UTC)

	formatted := FormatTimeISO(ts)
	assert.Equal(t, "2026-09-01T10:30:00.250Z", formatted)

	parsed, err := ParseTimeISO(formatted)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	// Whole-second timestamps parse too.
	parsed, err = ParseTimeISO("2026-09-01T10:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 0, parsed.Nanosecond())
}
