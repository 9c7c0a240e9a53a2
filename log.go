package raft

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/raftkeep/raft/internal/errors"
)

// Error strings.
const (
	errInvalidIndex = "index %d does not exist"
	errLogOpen      = "log %s is open"
	errLogClosed    = "log %s is closed"
)

// Log represents the component of raft responsible for durably storing and
// retrieving the replicated log.
type Log interface {
	// Open opens the log for reading and writing.
	Open() error

	// Close closes the log.
	Close() error

	// IsOpen reports whether the log is open.
	IsOpen() bool

	// GetEntry returns the entry at the given index.
	GetEntry(index uint64) (*LogEntry, error)

	// EntryTerm returns the term of the entry at index, including entries
	// compacted away by a snapshot, and whether the term is known.
	EntryTerm(index uint64) (uint64, bool)

	// Contains reports whether the log holds an in-memory entry at index.
	Contains(index uint64) bool

	// AppendEntries appends entries to the log, truncating any conflicting
	// suffix first, and returns the index of the last entry appended.
	AppendEntries(entries ...*LogEntry) (uint64, error)

	// Truncate removes every entry with index >= the given index.
	Truncate(index uint64) error

	// TruncatePrefix removes every entry with index <= through and records
	// the term of that boundary entry, used after taking or installing a
	// snapshot.
	TruncatePrefix(through uint64, throughTerm uint64) error

	LastTerm() uint64
	FirstIndex() uint64
	LastIndex() uint64
	Size() int
	Path() string
}

// persistentLog is the durable implementation of the Log interface. It
// append-only writes entries to a file and mirrors them into a VolatileLog
// for fast lookups. Every method except Open and Close takes its own mutex;
// the Raft member additionally serializes access with its single coarse
// mutex.
type persistentLog struct {
	path string
	file *os.File
	vlog *VolatileLog
	mu   sync.Mutex
}

// NewLog creates a new durable log rooted at path/log.
func NewLog(path string) Log {
	return &persistentLog{path: filepath.Join(path, "log"), vlog: NewVolatileLog()}
}

func (l *persistentLog) Open() error {
	if l.file != nil {
		return errors.WrapError(nil, errLogOpen, l.path)
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return errors.WrapError(err, err.Error())
	}
	l.file = file

	for {
		var err error
		entry := &LogEntry{}

		if entry.offset, err = l.file.Seek(0, io.SeekCurrent); err != nil {
			return errors.WrapError(err, err.Error())
		}

		if _, err = entry.Decode(file); err != nil {
			if err == io.EOF {
				break
			}
			return errors.WrapError(err, err.Error())
		}

		l.vlog.AppendEntries(entry)
	}

	return nil
}

func (l *persistentLog) Close() error {
	if l.file == nil {
		return errors.WrapError(nil, errLogClosed, l.path)
	}
	l.file.Close()
	l.file = nil
	l.vlog.Clear()
	return nil
}

func (l *persistentLog) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

func (l *persistentLog) GetEntry(index uint64) (*LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil, errors.WrapError(nil, errLogClosed, l.path)
	}
	return l.vlog.GetEntry(index)
}

func (l *persistentLog) EntryTerm(index uint64) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.EntryTerm(index)
}

func (l *persistentLog) Contains(index uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.Contains(index)
}

func (l *persistentLog) AppendEntries(entries ...*LogEntry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, errors.WrapError(nil, errLogClosed, l.path)
	}

	var toAppend []*LogEntry

	for i, entry := range entries {
		if l.vlog.LastIndex() < entry.Index() {
			toAppend = entries[i:]
			break
		}

		existing, err := l.vlog.GetEntry(entry.Index())
		if err == nil && existing.IsConflict(entry) {
			if err := l.truncate(entry.Index()); err != nil {
				return 0, err
			}
			toAppend = entries[i:]
			break
		}
	}

	if err := l.persistEntries(toAppend...); err != nil {
		return 0, err
	}
	l.vlog.AppendEntries(toAppend...)

	if len(toAppend) != 0 {
		return toAppend[len(toAppend)-1].Index(), nil
	}

	return 0, nil
}

func (l *persistentLog) Truncate(index uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.truncate(index)
}

func (l *persistentLog) TruncatePrefix(through uint64, throughTerm uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.WrapError(nil, errLogClosed, l.path)
	}

	// Rewrite the log file to contain only entries past the new prefix
	// boundary; the compacted entries are retained in the snapshot instead.
	l.vlog.TruncatePrefix(through, throughTerm)

	tmpFile, err := os.CreateTemp(filepath.Dir(l.path), "log-tmp-")
	if err != nil {
		return errors.WrapError(err, err.Error())
	}
	for _, entry := range l.remainingEntries() {
		if entry.offset, err = tmpFile.Seek(0, io.SeekCurrent); err != nil {
			return errors.WrapError(err, err.Error())
		}
		if _, err = entry.Encode(tmpFile); err != nil {
			return errors.WrapError(err, err.Error())
		}
	}
	if err := tmpFile.Sync(); err != nil {
		return errors.WrapError(err, err.Error())
	}

	l.file.Close()
	if err := os.Rename(tmpFile.Name(), l.path); err != nil {
		return errors.WrapError(err, err.Error())
	}
	l.file = tmpFile

	return nil
}

func (l *persistentLog) remainingEntries() []*LogEntry {
	first := l.vlog.FirstIndex()
	last := l.vlog.LastIndex()
	if first == 0 || first > last {
		return nil
	}
	entries := make([]*LogEntry, 0, last-first+1)
	for i := first; i <= last; i++ {
		entry, err := l.vlog.GetEntry(i)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func (l *persistentLog) LastTerm() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.LastTerm()
}

func (l *persistentLog) FirstIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.FirstIndex()
}

func (l *persistentLog) LastIndex() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.LastIndex()
}

func (l *persistentLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

func (l *persistentLog) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vlog.Size()
}

func (l *persistentLog) persistEntries(entries ...*LogEntry) error {
	// Expects log mutex to be held.
	if l.file == nil {
		return errors.WrapError(nil, errLogClosed, l.path)
	}

	for _, entry := range entries {
		var err error
		if entry.offset, err = l.file.Seek(0, io.SeekCurrent); err != nil {
			return errors.WrapError(err, err.Error())
		}
		if _, err = entry.Encode(l.file); err != nil {
			return errors.WrapError(err, err.Error())
		}
	}

	return nil
}

func (l *persistentLog) truncate(index uint64) error {
	// Expects log mutex to be held.
	if l.file == nil {
		return errors.WrapError(nil, errLogClosed, l.path)
	}

	if !l.vlog.Contains(index) {
		return errors.WrapError(nil, errInvalidIndex, index)
	}

	entry, err := l.vlog.GetEntry(index)
	if err != nil {
		return errors.WrapError(err, err.Error())
	}

	if err := l.file.Truncate(entry.offset); err != nil {
		return errors.WrapError(err, err.Error())
	}

	return l.vlog.Truncate(index)
}
