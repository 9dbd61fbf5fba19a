package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perr "ghstrata/internal/platform/errors"
)

func TestParseHour(t *testing.T) {
	want := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-01-02-5", "2024-01-02-05", "2024-01-02T05", "2024-01-02T05:42:00Z"} {
		got, err := parseHour(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	got, err := parseHour("2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, want.Add(-5*time.Hour), got)

	_, err = parseHour("yesterday")
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}

func TestResetNeedsConfirmation(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"reset"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
	assert.Equal(t, perr.ExitFatal, perr.ExitCode(err))
}

func TestRangeRejectsBadArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"range", "2024-01-01-0"})
	assert.Error(t, rootCmd.Execute())

	rootCmd.SetArgs([]string{"range", "nope", "2024-01-01-0"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}
