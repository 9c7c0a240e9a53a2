package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotStorageWriteAndRead(t *testing.T) {
	storage, err := NewSnapshotStorage(t.TempDir())
	require.NoError(t, err)

	snapshot := &Snapshot{LastIncludedIndex: 5, LastIncludedTerm: 2, Data: []byte("state")}

	writer, err := storage.NewSnapshotFile(snapshot.LastIncludedIndex, snapshot.LastIncludedTerm)
	require.NoError(t, err)
	require.NoError(t, encodeSnapshot(writer, snapshot))
	require.NoError(t, writer.Close())

	reader, err := storage.SnapshotReader(0)
	require.NoError(t, err)
	require.NotNil(t, reader)
	defer reader.Close()

	decoded, err := decodeSnapshot(reader)
	require.NoError(t, err)
	require.Equal(t, *snapshot, decoded)
}

func TestSnapshotStorageReaderNilWhenEmpty(t *testing.T) {
	storage, err := NewSnapshotStorage(t.TempDir())
	require.NoError(t, err)

	reader, err := storage.SnapshotReader(0)
	require.NoError(t, err)
	require.Nil(t, reader)
}
