package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateStorageSetAndGet(t *testing.T) {
	storage, err := NewStateStorage(t.TempDir())
	require.NoError(t, err)

	term, vote, err := storage.State()
	require.NoError(t, err)
	require.Equal(t, uint64(0), term)
	require.Equal(t, "", vote)

	require.NoError(t, storage.SetState(3, "node-1"))

	term, vote, err = storage.State()
	require.NoError(t, err)
	require.Equal(t, uint64(3), term)
	require.Equal(t, "node-1", vote)
}

func TestStateStoragePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	storage, err := NewStateStorage(dir)
	require.NoError(t, err)
	require.NoError(t, storage.SetState(5, "node-2"))

	reopened, err := NewStateStorage(dir)
	require.NoError(t, err)
	term, vote, err := reopened.State()
	require.NoError(t, err)
	require.Equal(t, uint64(5), term)
	require.Equal(t, "node-2", vote)
}
