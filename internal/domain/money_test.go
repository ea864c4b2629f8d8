package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cents, err := ParseAmount("3000.00")
	require.NoError(t, err)
	assert.Equal(t, int64(300000), cents)

	cents, err = ParseAmount(" 12.345 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1235), cents)

	_, err = ParseAmount("-1")
	require.True(t, errors.Is(err, ErrValidation))

	_, err = ParseAmount("abc")
	require.True(t, errors.Is(err, ErrValidation))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "3000.00", FormatAmount(300000))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, "-1.50", FormatAmount(-150))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0", Percent(10, 0).String())
	assert.Equal(t, "-2.5", Percent(-25, 1000).String())
	assert.Equal(t, "33.33", Percent(1, 3).String())
}

func TestProductSetStockRecomputesTotal(t *testing.T) {
	var p Product
	p.SetStock(3, 4, 5)
	assert.Equal(t, 12, p.TotalStock)
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := Invalid("items", "must not be empty")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "items must not be empty")
}
