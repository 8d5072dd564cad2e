package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZonedUsesConfiguredLocation(t *testing.T) {
	z, err := New("Asia/Jakarta")
	require.NoError(t, err)

	// 2024-03-01 20:30 UTC is already 2024-03-02 in Jakarta (UTC+7).
	z.now = func() time.Time { return time.Date(2024, 3, 1, 20, 30, 0, 0, time.UTC) }

	now := z.Now()
	assert.Equal(t, "240302", DatePrefix(now))
	assert.Equal(t, "2024-03-02 03:30:00", now.Format(TimestampLayout))
}

func TestNewRejectsUnknownZone(t *testing.T) {
	_, err := New("Mars/Olympus")
	assert.Error(t, err)

	_, err = New("")
	assert.Error(t, err)
}
