package raft

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
)

// EntryType distinguishes the kinds of entries that may occupy a log slot.
type EntryType uint32

const (
	// ChangeEntry carries an application-level change destined for the
	// state machine's Apply method.
	ChangeEntry EntryType = iota

	// ConfigurationEntry carries a serialized Configuration, including
	// joint-consensus transitions.
	ConfigurationEntry

	// NoopEntry is appended by a new leader at the start of its term so
	// that it can determine commitment of entries from prior terms.
	NoopEntry
)

func (t EntryType) String() string {
	switch t {
	case ChangeEntry:
		return "change"
	case ConfigurationEntry:
		return "configuration"
	case NoopEntry:
		return "noop"
	default:
		panic("invalid entry type")
	}
}

// LogEntry is a single slot in the replicated log.
type LogEntry struct {
	index     uint64
	term      uint64
	entryType EntryType
	data      []byte
	offset    int64
}

// NewLogEntry creates a change entry with the given index, term, and data.
func NewLogEntry(index uint64, term uint64, data []byte) *LogEntry {
	return &LogEntry{index: index, term: term, entryType: ChangeEntry, data: data}
}

// NewTypedLogEntry creates a log entry of the given type.
func NewTypedLogEntry(index uint64, term uint64, entryType EntryType, data []byte) *LogEntry {
	return &LogEntry{index: index, term: term, entryType: entryType, data: data}
}

func (e *LogEntry) Index() uint64 { return e.index }

func (e *LogEntry) Term() uint64 { return e.term }

func (e *LogEntry) Type() EntryType { return e.entryType }

func (e *LogEntry) Data() []byte { return e.data }

// IsConflict reports whether the other entry occupies the same index but
// originated in a different term.
func (e *LogEntry) IsConflict(other *LogEntry) bool {
	return e.index == other.index && e.term != other.term
}

type gobLogEntry struct {
	Index     uint64
	Term      uint64
	EntryType EntryType
	Data      []byte
}

// Encode writes the entry to w as a length-prefixed gob record, returning
// the number of bytes written including the length prefix.
func (e *LogEntry) Encode(w io.Writer) (int, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobLogEntry{
		Index:     e.index,
		Term:      e.term,
		EntryType: e.entryType,
		Data:      e.data,
	}); err != nil {
		return 0, err
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(buf.Len()))
	n, err := w.Write(lenBuf)
	if err != nil {
		return n, err
	}
	m, err := w.Write(buf.Bytes())
	return n + m, err
}

// Decode reads a length-prefixed gob record from r into the entry.
func (e *LogEntry) Decode(r io.Reader) (int, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return 0, err
	}
	length := binary.LittleEndian.Uint32(lenBuf)

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, err
	}

	var decoded gobLogEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
		return 0, err
	}

	e.index = decoded.Index
	e.term = decoded.Term
	e.entryType = decoded.EntryType
	e.data = decoded.Data

	return int(length) + 4, nil
}
