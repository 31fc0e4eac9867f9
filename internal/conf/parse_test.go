package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	day := 24 * time.Hour
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"14 days", 14 * day},
		{"1 day", day},
		{"2 weeks", 14 * day},
		{"2 months", 60 * day},
		{"1 year", 365 * day},
		{"  3 Days  ", 3 * day},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePeriod(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePeriodRejectsMalformed(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "days", "2", "two months", "2 fortnights", "-1 days"} {
		t.Run(input, func(t *testing.T) {
			t.Parallel()
			_, err := ParsePeriod(input)
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	clock, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 8, Minute: 30}, clock)
	assert.Equal(t, "08:30", clock.String())

	for _, input := range []string{"", "8", "24:00", "12:60", "aa:bb"} {
		_, err := ParseClock(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestClockNext(t *testing.T) {
	t.Parallel()

	clock := Clock{Hour: 8, Minute: 0}
	now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), clock.Next(now))

	// At or past the scheduled time rolls to tomorrow.
	now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), clock.Next(now))
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := &Settings{}
	valid.Database.SQLite.Enabled = true
	valid.Database.SQLite.Path = "test.db"
	valid.Notification.Retention = "30 days"
	valid.Alerts.Rules = []AlertRuleSettings{
		{Type: "rare_species", Enabled: true, Species: []string{"Corvus corax"}},
		{Type: "first_return", Enabled: true, Period: "2 months"},
	}
	valid.Notification.Channels = []ChannelSettings{
		{Name: "mail", Type: "email", Digest: true, DigestTime: "08:00"},
	}
	require.NoError(t, ValidateSettings(valid))

	bad := *valid
	bad.Notification.Retention = "forever"
	assert.Error(t, ValidateSettings(&bad))

	bad = *valid
	bad.Alerts.Rules = []AlertRuleSettings{{Type: "first_return", Enabled: true, Period: "soon"}}
	assert.Error(t, ValidateSettings(&bad))

	bad = *valid
	bad.Notification.Channels = []ChannelSettings{{Name: "x", Type: "pigeon"}}
	assert.Error(t, ValidateSettings(&bad))

	bad = *valid
	bad.Notification.Channels = []ChannelSettings{{Name: "d", Type: "email", Digest: true, DigestTime: "25:00"}}
	assert.Error(t, ValidateSettings(&bad))
}
