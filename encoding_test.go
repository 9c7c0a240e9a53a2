package raft

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogEntryEncodeDecodeRoundTrip(t *testing.T) {
	entry := NewTypedLogEntry(5, 2, ConfigurationEntry, []byte("payload"))

	var buf bytes.Buffer
	n, err := entry.Encode(&buf)
	require.NoError(t, err)
	require.Equal(t, buf.Len(), n)

	decoded := &LogEntry{}
	_, err = decoded.Decode(&buf)
	require.NoError(t, err)

	require.Equal(t, entry.Index(), decoded.Index())
	require.Equal(t, entry.Term(), decoded.Term())
	require.Equal(t, entry.Type(), decoded.Type())
	require.Equal(t, entry.Data(), decoded.Data())
}

func TestPersistentStateEncodeDecodeRoundTrip(t *testing.T) {
	state := &persistentState{term: 7, votedFor: "node-2"}

	var buf bytes.Buffer
	require.NoError(t, encodePersistentState(&buf, state))

	decoded, err := decodePersistentState(&buf)
	require.NoError(t, err)
	require.Equal(t, state.term, decoded.term)
	require.Equal(t, state.votedFor, decoded.votedFor)
}

func TestSnapshotEncodeDecodeRoundTrip(t *testing.T) {
	snapshot := &Snapshot{LastIncludedIndex: 10, LastIncludedTerm: 3, Data: []byte("state")}

	var buf bytes.Buffer
	require.NoError(t, encodeSnapshot(&buf, snapshot))

	decoded, err := decodeSnapshot(&buf)
	require.NoError(t, err)
	require.Equal(t, *snapshot, decoded)
}

func TestConfigurationEncodeDecodeRoundTrip(t *testing.T) {
	configuration := &Configuration{
		Members:   map[string]string{"a": "addr-a", "b": "addr-b"},
		IsVoter:   map[string]bool{"a": true, "b": true},
		NewVoters: map[string]bool{"a": true, "b": true, "c": true},
		Index:     4,
	}

	data, err := encodeConfiguration(configuration)
	require.NoError(t, err)

	decoded, err := decodeConfiguration(data)
	require.NoError(t, err)
	require.Equal(t, configuration.Members, decoded.Members)
	require.Equal(t, configuration.NewVoters, decoded.NewVoters)
	require.True(t, decoded.IsJoint())
}
