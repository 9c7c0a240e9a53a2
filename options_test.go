package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithElectionTimeoutAppliesOption(t *testing.T) {
	var o options
	require.NoError(t, WithElectionTimeout(500*time.Millisecond)(&o))
	require.Equal(t, 500*time.Millisecond, o.electionTimeout)
}

func TestWithMaxEntriesPerRPCRejectsNonPositive(t *testing.T) {
	var o options
	require.Error(t, WithMaxEntriesPerRPC(0)(&o))
	require.Error(t, WithMaxEntriesPerRPC(-1)(&o))
}

func TestWithLogRejectsNil(t *testing.T) {
	var o options
	require.Error(t, WithLog(nil)(&o))
}

func TestWithTransportRejectsNil(t *testing.T) {
	var o options
	require.Error(t, WithTransport(nil)(&o))
}
