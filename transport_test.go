package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHandler struct {
	appendEntriesCalls int
}

func (h *fakeHandler) AppendEntries(request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	h.appendEntriesCalls++
	response.Outcome = Success
	return nil
}

func (h *fakeHandler) RequestVote(request *RequestVoteRequest, response *RequestVoteResponse) error {
	response.VoteGranted = true
	return nil
}

func (h *fakeHandler) InstallSnapshot(request *InstallSnapshotRequest, response *InstallSnapshotResponse) error {
	return nil
}

func TestLocalTransportRoutesToHandler(t *testing.T) {
	handler := &fakeHandler{}
	transport := NewLocalTransport("127.0.0.1:9001")
	transport.SetRequestHandler(handler)
	require.NoError(t, transport.Run())
	defer transport.Close()

	sender := NewLocalTransport("127.0.0.1:9002")
	response := &AppendEntriesResponse{}
	require.NoError(t, sender.AppendEntries("127.0.0.1:9001", &AppendEntriesRequest{}, response))
	require.Equal(t, 1, handler.appendEntriesCalls)
	require.True(t, response.Success())
}

func TestLocalTransportDisconnectBlocksSends(t *testing.T) {
	handler := &fakeHandler{}
	transport := NewLocalTransport("127.0.0.1:9003")
	transport.SetRequestHandler(handler)
	require.NoError(t, transport.Run())
	defer transport.Close()

	sender := NewLocalTransport("127.0.0.1:9004").(*localTransport)
	sender.DisconnectFrom("127.0.0.1:9003")

	response := &AppendEntriesResponse{}
	err := sender.AppendEntries("127.0.0.1:9003", &AppendEntriesRequest{}, response)
	require.Error(t, err)

	sender.ReconnectTo("127.0.0.1:9003")
	require.NoError(t, sender.AppendEntries("127.0.0.1:9003", &AppendEntriesRequest{}, response))
}

func TestLocalTransportUnreachableAfterClose(t *testing.T) {
	handler := &fakeHandler{}
	transport := NewLocalTransport("127.0.0.1:9005")
	transport.SetRequestHandler(handler)
	require.NoError(t, transport.Run())
	require.NoError(t, transport.Close())

	sender := NewLocalTransport("127.0.0.1:9006")
	response := &AppendEntriesResponse{}
	require.Error(t, sender.AppendEntries("127.0.0.1:9005", &AppendEntriesRequest{}, response))
}
