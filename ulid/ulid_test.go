package ulid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULID(t *testing.T) {
	tm := time.Now()

	ul1, err := MakeULID(tm)
	require.NoError(t, err)
	ul2, err := MakeULID(tm)
	require.NoError(t, err)

	assert.NotEqual(t, ul1.String(), ul2.String())
	assert.Equal(t, tm.UnixMilli(), int64(ul1.Time()))
	t.Logf("ulid string 1 and 2: %s | %s", ul1.String(), ul2.String())
}

func TestULIDSortsByTime(t *testing.T) {
	early, err := MakeULID(time.Unix(1700000000, 0))
	require.NoError(t, err)
	late, err := MakeULID(time.Unix(1700000060, 0))
	require.NoError(t, err)

	assert.Less(t, early.String(), late.String())
}
