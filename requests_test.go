package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendEntriesResponseSuccess(t *testing.T) {
	response := &AppendEntriesResponse{Outcome: Success}
	require.True(t, response.Success())

	response.Outcome = Retry
	require.False(t, response.Success())

	response.Outcome = Rejected
	require.False(t, response.Success())
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "success", Success.String())
	require.Equal(t, "retry", Retry.String())
	require.Equal(t, "rejected", Rejected.String())
}
