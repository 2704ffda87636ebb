package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	w := &Wallet{Stars: 10}

	require.NoError(t, w.Apply(CurrencyStars, -10))
	assert.Equal(t, int64(0), w.Stars)
	assert.Equal(t, int64(10), w.TotalSpent)

	err := w.Apply(CurrencyStars, -1)
	var short *InsufficientFundsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, int64(1), short.Required)
	assert.Equal(t, int64(0), short.Available)

	require.NoError(t, w.Apply(CurrencyUSD, 250))
	assert.Equal(t, int64(250), w.Balance(CurrencyUSD))
	assert.Equal(t, int64(250), w.SecondaryEarned)
}

func TestParseCurrency(t *testing.T) {
	c, err := ParseCurrency("USD")
	require.NoError(t, err)
	assert.Equal(t, CurrencyUSD, c)

	_, err = ParseCurrency("stars")
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
