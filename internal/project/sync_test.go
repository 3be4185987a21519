package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 8, 5, hour, min, 0, 0, time.Local)
}

func TestNextForceSyncDelay(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Duration
	}{
		// 10:00 -> 12:30 same day
		{at(10, 0), 2*time.Hour + 30*time.Minute},
		// 23:45 -> 03:30 next day
		{at(23, 45), 3*time.Hour + 45*time.Minute},
		{at(0, 0), 3*time.Hour + 30*time.Minute},
		{at(3, 30), 5 * time.Hour},    // slot boundary rolls to 08:30
		{at(18, 0), 15 * time.Minute}, // 18:15 slot
		{at(23, 30), 4 * time.Hour},   // last slot boundary wraps to 03:30
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, NextForceSyncDelay(tc.now), "now=%v", tc.now)
	}
}

func TestDedupSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"},
		dedupSorted([]string{"a", "a", "b", "c", "c"}))
	assert.Empty(t, dedupSorted(nil))
}

func TestSmartSyncDrainsQueue(t *testing.T) {
	p, home := newTestProject(t, []moduleSpec{
		{name: "src", files: map[string]string{"a.cpp": "void fn() {}\n"}},
	})

	abs := home + "/src/a.cpp"
	rewrite(t, abs, "void renamed() {}\n")

	// duplicates collapse to one build
	p.modified = append(p.modified, abs, abs, abs)
	p.SmartSync()

	assert.Empty(t, p.modified)
	_, err := p.QuerySymbolDefinition("c:@F@renamed#")
	assert.NoError(t, err)
}
