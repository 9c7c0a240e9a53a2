package raft

import "fmt"

const invalidIndexErrorFormat = "invalid index: log does not contain index %d"

// VolatileLog is the in-memory representation of the log. Entries with index
// less than or equal to prevIndex have been compacted away by a snapshot;
// prevIndex/prevTerm record the index and term of the last such entry so
// that log-matching checks against the compacted prefix still work.
type VolatileLog struct {
	entries   []*LogEntry
	prevIndex uint64
	prevTerm  uint64
}

func NewVolatileLog() *VolatileLog {
	return &VolatileLog{entries: make([]*LogEntry, 0)}
}

func (l *VolatileLog) Size() int {
	return len(l.entries)
}

// FirstIndex returns the index of the oldest entry still held in memory.
// It is zero if no entries are held in memory, including when every entry
// has been compacted away.
func (l *VolatileLog) FirstIndex() uint64 {
	if len(l.entries) == 0 {
		return 0
	}
	return l.entries[0].Index()
}

func (l *VolatileLog) LastIndex() uint64 {
	if len(l.entries) == 0 {
		return l.prevIndex
	}
	return l.entries[len(l.entries)-1].Index()
}

func (l *VolatileLog) LastTerm() uint64 {
	if len(l.entries) == 0 {
		return l.prevTerm
	}
	return l.entries[len(l.entries)-1].Term()
}

// PrevIndex returns the index of the last entry compacted away by a snapshot.
func (l *VolatileLog) PrevIndex() uint64 { return l.prevIndex }

// PrevTerm returns the term of the last entry compacted away by a snapshot.
func (l *VolatileLog) PrevTerm() uint64 { return l.prevTerm }

func (l *VolatileLog) AppendEntries(entries ...*LogEntry) {
	l.entries = append(l.entries, entries...)
}

func (l *VolatileLog) GetEntry(index uint64) (*LogEntry, error) {
	if !l.Contains(index) {
		return nil, fmt.Errorf(invalidIndexErrorFormat, index)
	}
	return l.entries[index-l.entries[0].Index()], nil
}

// EntryTerm returns the term of the entry at index, including the term of
// the compacted prefix boundary, and whether the term is known at all.
func (l *VolatileLog) EntryTerm(index uint64) (uint64, bool) {
	if index == l.prevIndex {
		return l.prevTerm, true
	}
	entry, err := l.GetEntry(index)
	if err != nil {
		return 0, false
	}
	return entry.Term(), true
}

func (l *VolatileLog) Truncate(from uint64) error {
	if !l.Contains(from) {
		return fmt.Errorf("invalid index: log does not contain %d", from)
	}
	l.entries = l.entries[:from-l.entries[0].Index()]
	return nil
}

// TruncatePrefix drops every entry with index <= through, recording through
// and throughTerm as the new compacted-prefix boundary. It is used after a
// snapshot is taken or installed.
func (l *VolatileLog) TruncatePrefix(through uint64, throughTerm uint64) {
	if through <= l.prevIndex {
		return
	}
	if l.Contains(through) {
		idx := through - l.entries[0].Index()
		l.entries = l.entries[idx+1:]
	} else {
		l.entries = l.entries[:0]
	}
	l.prevIndex = through
	l.prevTerm = throughTerm
}

func (l *VolatileLog) Clear() {
	l.entries = make([]*LogEntry, 0)
	l.prevIndex = 0
	l.prevTerm = 0
}

func (l *VolatileLog) Contains(index uint64) bool {
	if len(l.entries) == 0 {
		return false
	}
	return l.entries[0].Index() <= index && index <= l.entries[len(l.entries)-1].Index()
}
