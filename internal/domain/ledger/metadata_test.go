package ledger

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadata(t *testing.T) {
	battleID := uuid.New()
	raw, err := json.Marshal(BattleRewardMeta{BattleID: battleID, WinnerTotal: 500, LoserTotal: 300, RewardPct: 50})
	require.NoError(t, err)

	meta, err := DecodeMetadata(TypeBattleReward, raw)
	require.NoError(t, err)
	reward, ok := meta.(BattleRewardMeta)
	require.True(t, ok)
	assert.Equal(t, int64(500), reward.WinnerTotal)

	session, counterparty := meta.Refs()
	require.NotNil(t, session)
	assert.Equal(t, battleID, *session)
	assert.Nil(t, counterparty)
}

func TestDecodeMetadata_EmptyAndUnknown(t *testing.T) {
	meta, err := DecodeMetadata(TypeOther, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeOther, meta.TransactionType())

	_, err = DecodeMetadata(Type("mystery"), []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeMetadata(TypeCall, []byte(`{"call_id": 12}`))
	assert.Error(t, err)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusCompleted))
	assert.True(t, StatusPending.CanTransition(StatusCancelled))
	assert.True(t, StatusCompleted.CanTransition(StatusRefunded))
	assert.False(t, StatusCompleted.CanTransition(StatusFailed))
	assert.False(t, StatusFailed.CanTransition(StatusCompleted))
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCompleted.Terminal())
}
