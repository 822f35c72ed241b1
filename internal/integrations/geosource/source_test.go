package geosource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeAuto, m)

	m, err = ParseMode("synthetic")
	require.NoError(t, err)
	require.Equal(t, ModeSynthetic, m)

	_, err = ParseMode("gps")
	require.Error(t, err)
}
