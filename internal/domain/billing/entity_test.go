package billing

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallCost(t *testing.T) {
	cases := []struct {
		duration, rate, want int64
	}{
		{0, 10, 0},
		{45, 0, 0},
		{1, 10, 1},
		{45, 10, 8},
		{60, 10, 10},
		{61, 10, 11},
		{3600, 7, 420},
	}
	for _, tc := range cases {
		got, err := CallCost(tc.duration, tc.rate)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "duration=%d rate=%d", tc.duration, tc.rate)
	}
}

func TestCallCost_RejectsOverflow(t *testing.T) {
	for _, tc := range [][2]int64{
		{math.MaxInt64, 2},
		{math.MaxInt64 / 10, 11},
		{math.MaxInt64, 1},
	} {
		_, err := CallCost(tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidInput, "duration=%d rate=%d", tc[0], tc[1])
	}

	got, err := CallCost(math.MaxInt64/1000, 1000)
	require.NoError(t, err)
	assert.Positive(t, got)
}

func TestBattleWinner(t *testing.T) {
	b := &Battle{Host1ID: uuid.New(), Host2ID: uuid.New()}

	winner, w, l := battleWinner(b, 500, 300)
	assert.Equal(t, b.Host1ID, winner)
	assert.Equal(t, int64(500), w)
	assert.Equal(t, int64(300), l)

	winner, _, _ = battleWinner(b, 10, 11)
	assert.Equal(t, b.Host2ID, winner)

	winner, _, _ = battleWinner(b, 500, 500)
	assert.Equal(t, uuid.Nil, winner)

	assert.Equal(t, 1, b.HostSlot(b.Host1ID))
	assert.Equal(t, 2, b.HostSlot(b.Host2ID))
	assert.Equal(t, 0, b.HostSlot(uuid.New()))
}
