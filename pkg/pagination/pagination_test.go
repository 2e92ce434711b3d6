package pagination

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
	assert.Equal(t, DefaultLimit, NormalizeLimit(-4))
	assert.Equal(t, 7, NormalizeLimit(7))
	assert.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+50))
	assert.Equal(t, 8, LimitWithBuffer(7))
}

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.FixedZone("CET", 3600))
	id := uuid.New()

	encoded := EncodeCursor(Cursor{CreatedAt: at, ID: id})
	require.NotEmpty(t, encoded)

	got, err := ParseCursor(encoded)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(at))
	assert.Equal(t, id, got.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	got, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	for _, value := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := ParseCursor(value)
		assert.ErrorIs(t, err, errMalformedCursor, value)
	}
}

func TestTrim(t *testing.T) {
	rows := []int{1, 2, 3, 4}

	page, more := Trim(rows, 3)
	assert.Equal(t, []int{1, 2, 3}, page)
	assert.True(t, more)

	page, more = Trim(rows, 10)
	assert.Equal(t, rows, page)
	assert.False(t, more)
}
