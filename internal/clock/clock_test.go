package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayBounds(t *testing.T) {
	c, err := New("Asia/Shanghai")
	require.NoError(t, err)

	start, end, err := c.DayBounds("2025-12-19")
	require.NoError(t, err)

	want := time.Date(2025, 12, 19, 0, 0, 0, 0, c.Location()).Unix()
	assert.Equal(t, want, start)
	assert.Equal(t, start+86399, end)
}

func TestDayBoundsInvalid(t *testing.T) {
	c, _ := New("")
	_, _, err := c.DayBounds("not-a-date")
	assert.Error(t, err)
}

func TestSameDay(t *testing.T) {
	c, _ := New("Asia/Shanghai")
	a := time.Date(2025, 12, 19, 23, 59, 0, 0, c.Location())
	b := time.Date(2025, 12, 19, 0, 0, 1, 0, c.Location())
	d := time.Date(2025, 12, 20, 0, 0, 1, 0, c.Location())
	assert.True(t, c.SameDay(a, b))
	assert.False(t, c.SameDay(a, d))
}

func TestWallMinuteStableWithinMinute(t *testing.T) {
	c, _ := New("Asia/Shanghai")
	t1 := time.Date(2025, 12, 19, 18, 0, 0, 0, c.Location())
	t2 := time.Date(2025, 12, 19, 18, 0, 59, 0, c.Location())
	assert.Equal(t, c.WallMinute(t1), c.WallMinute(t2))
}

func TestDefaultZone(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", c.Location().String())
}
