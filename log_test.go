package raft

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogAppendAndGet(t *testing.T) {
	log := NewLog(t.TempDir())
	require.NoError(t, log.Open())
	defer log.Close()

	e1 := NewLogEntry(1, 1, []byte("a"))
	e2 := NewLogEntry(2, 1, []byte("b"))
	last, err := log.AppendEntries(e1, e2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	got, err := log.GetEntry(1)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), got.Data())

	require.Equal(t, uint64(2), log.LastIndex())
	require.Equal(t, uint64(1), log.LastTerm())
}

func TestLogAppendConflictTruncates(t *testing.T) {
	log := NewLog(t.TempDir())
	require.NoError(t, log.Open())
	defer log.Close()

	_, err := log.AppendEntries(NewLogEntry(1, 1, []byte("a")), NewLogEntry(2, 1, []byte("b")))
	require.NoError(t, err)

	_, err = log.AppendEntries(NewLogEntry(2, 2, []byte("b-conflict")))
	require.NoError(t, err)

	require.Equal(t, uint64(2), log.LastIndex())
	entry, err := log.GetEntry(2)
	require.NoError(t, err)
	require.Equal(t, []byte("b-conflict"), entry.Data())
	require.Equal(t, uint64(2), entry.Term())
}

func TestLogReopenReplaysEntries(t *testing.T) {
	dir := t.TempDir()

	log := NewLog(dir)
	require.NoError(t, log.Open())
	_, err := log.AppendEntries(NewLogEntry(1, 1, []byte("a")), NewLogEntry(2, 1, []byte("b")))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	reopened := NewLog(dir)
	require.NoError(t, reopened.Open())
	defer reopened.Close()

	require.Equal(t, uint64(2), reopened.LastIndex())
	entry, err := reopened.GetEntry(2)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), entry.Data())
}

func TestLogTruncatePrefixCompactsFile(t *testing.T) {
	log := NewLog(t.TempDir())
	require.NoError(t, log.Open())
	defer log.Close()

	_, err := log.AppendEntries(
		NewLogEntry(1, 1, []byte("a")),
		NewLogEntry(2, 1, []byte("b")),
		NewLogEntry(3, 2, []byte("c")),
	)
	require.NoError(t, err)

	require.NoError(t, log.TruncatePrefix(2, 1))

	require.False(t, log.Contains(1))
	require.False(t, log.Contains(2))
	require.True(t, log.Contains(3))

	term, ok := log.EntryTerm(2)
	require.True(t, ok)
	require.Equal(t, uint64(1), term)
}

func TestVolatileLogPrefixCompactedTermLookup(t *testing.T) {
	vlog := NewVolatileLog()
	vlog.AppendEntries(NewLogEntry(1, 1, nil), NewLogEntry(2, 1, nil), NewLogEntry(3, 2, nil))
	vlog.TruncatePrefix(2, 1)

	term, ok := vlog.EntryTerm(2)
	require.True(t, ok)
	require.Equal(t, uint64(1), term)

	require.Equal(t, uint64(2), vlog.PrevIndex())
	require.Equal(t, uint64(1), vlog.PrevTerm())
	require.Equal(t, uint64(3), vlog.LastIndex())
}
