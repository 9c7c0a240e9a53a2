package raft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChangeTokenResolvesOnChange(t *testing.T) {
	manager := newChangeManager()
	token := newChangeToken[ChangeResponse](time.Second)
	manager.addChange(1, 1, token.responseCh)

	manager.resolveChange(1, "ok", 1)

	result := token.Await()
	require.NoError(t, result.Error())
	require.Equal(t, "ok", result.Success().ApplicationResponse)
}

func TestChangeTokenTimesOut(t *testing.T) {
	token := newChangeToken[ChangeResponse](10 * time.Millisecond)
	result := token.Await()
	require.Equal(t, ErrTimeout, result.Error())
}

func TestChangeManagerNotifyLostLeadership(t *testing.T) {
	manager := newChangeManager()
	token := newChangeToken[ChangeResponse](time.Second)
	manager.addChange(1, 1, token.responseCh)

	manager.notifyLostLeadership("node-1", "node-2")

	result := token.Await()
	require.Error(t, result.Error())
	notLeader, ok := result.Error().(NotLeaderError)
	require.True(t, ok)
	require.Equal(t, "node-2", notLeader.KnownLeader)
}

func TestChangeManagerTransferConfigChange(t *testing.T) {
	manager := newChangeManager()
	token := newChangeToken[Configuration](time.Second)
	manager.addConfigChange(1, 1, token.responseCh)

	manager.transferConfigChange(1, 2)
	manager.resolveConfigChange(2, Configuration{Index: 2})

	result := token.Await()
	require.NoError(t, result.Error())
	require.Equal(t, uint64(2), result.Success().Index)
}
