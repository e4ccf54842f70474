package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentityChecksums(t *testing.T) {
	id, err := ParseIdentity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, Identity("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), id)

	_, err = ParseIdentity("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestIdentityIsZero(t *testing.T) {
	assert.True(t, Identity("").IsZero())
	assert.True(t, MustIdentity("0x0000000000000000000000000000000000000000").IsZero())
	assert.False(t, MustIdentity("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed").IsZero())
}

func TestPoolIdentityIsDeterministic(t *testing.T) {
	a := PoolIdentity("coinflip")
	b := PoolIdentity("coinflip")
	c := PoolIdentity("other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsZero())
	_, err := ParseIdentity(a.String())
	assert.NoError(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "0.1", FormatAmount(100_000_000))
	assert.Equal(t, "1", FormatAmount(UnitsPerCoin))
	assert.Equal(t, "0.00089088", FormatAmount(890_880))
	assert.Equal(t, "0", FormatAmount(0))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0.1", want: 100_000_000},
		{in: "2", want: 2 * UnitsPerCoin},
		{in: " 0.000000001 ", want: 1},
		{in: "0.0000000001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "99999999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "", CodeOf(nil))
	assert.Equal(t, CodeUnauthorized, CodeOf(ErrUnauthorized))
	assert.Equal(t, CodeInsufficientRewardVault,
		CodeOf(fmt.Errorf("engine: play round: %w", ErrInsufficientRewardVault)))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestErrorForCode(t *testing.T) {
	assert.Equal(t, ErrNoPendingReward, ErrorForCode(CodeNoPendingReward))
	assert.Nil(t, ErrorForCode(CodeInternal))
	assert.Nil(t, ErrorForCode("SOMETHING_ELSE"))
}

func TestPredictionValid(t *testing.T) {
	assert.True(t, PredictionTails.Valid())
	assert.True(t, PredictionHeads.Valid())
	assert.False(t, Prediction(2).Valid())
	assert.Equal(t, "heads", PredictionHeads.String())
}
