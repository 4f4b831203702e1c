package timeunit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinutes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"midnight", "00:00", 0},
		{"eight", "08:00", 480},
		{"eighteen", "18:00", 1080},
		{"half past nine", "09:30", 570},
		{"last minute", "23:59", 1439},
		{"end of day", "24:00", 1440},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinutes(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMinutes_Malformed(t *testing.T) {
	inputs := []string{"", "8:00", "08:0", "0800", "08-00", "25:00", "24:01", "12:60", "ab:cd", "08:00 "}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := ToMinutes(input)
			assert.True(t, errors.Is(err, ErrMalformed), "expected ErrMalformed for %q, got %v", input, err)
		})
	}
}

func TestFromMinutes(t *testing.T) {
	got, err := FromMinutes(480)
	require.NoError(t, err)
	assert.Equal(t, "08:00", got)

	got, err = FromMinutes(1440)
	require.NoError(t, err)
	assert.Equal(t, "24:00", got)

	_, err = FromMinutes(-1)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = FromMinutes(1441)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRoundTrip(t *testing.T) {
	for m := 0; m <= MinutesPerDay; m++ {
		s := MustFromMinutes(m)
		back, err := ToMinutes(s)
		require.NoError(t, err, s)
		require.Equal(t, m, back, s)

		again, err := FromMinutes(back)
		require.NoError(t, err)
		require.Equal(t, s, again)
	}
}
