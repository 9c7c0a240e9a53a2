package raft

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/raftkeep/raft/internal/numeric"
)

// SnapshotMetadata identifies a persisted snapshot: which numbered snapshot
// it is, and the log boundary it compacts up through.
type SnapshotMetadata struct {
	ID                uint64
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
}

// snapshotFile pairs a snapshot's on-disk path with its decoded metadata.
type snapshotFile struct {
	path     string
	metadata SnapshotMetadata
}

// SnapshotStorage persists point-in-time snapshots of the state machine so a
// member can recover, or catch up a lagging peer, without replaying its
// entire log.
type SnapshotStorage interface {
	NewSnapshotFile(lastIncludedIndex, lastIncludedTerm uint64) (io.WriteCloser, error)
	SnapshotReader(id uint64) (io.ReadCloser, error)
}

// snapshotWriteCloser buffers a snapshot in a temp file and only makes it
// visible to readers - by renaming it into place - once Close succeeds, so a
// crash mid-write never leaves a corrupt snapshot where SnapshotReader would
// find it.
type snapshotWriteCloser struct {
	tmpFile *os.File
	path    string
}

func (s *snapshotWriteCloser) Write(p []byte) (int, error) {
	return s.tmpFile.Write(p)
}

func (s *snapshotWriteCloser) Close() error {
	defer os.Remove(s.tmpFile.Name())
	if err := s.tmpFile.Sync(); err != nil {
		return err
	}
	if err := s.tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(s.tmpFile.Name(), s.path)
}

// persistentSnapshotStorage implements SnapshotStorage on top of a directory
// of numbered snapshot-N.bin files. It is not concurrent safe; callers
// serialize access (the Raft member guards it with its single coarse
// mutex).
type persistentSnapshotStorage struct {
	dir       string
	snapshots map[string]snapshotFile
	nextID    uint64
}

// NewSnapshotStorage creates a snapshot storage rooted at path/snapshots,
// creating the directory if needed, and picks up any snapshots already on
// disk there.
func NewSnapshotStorage(path string) (SnapshotStorage, error) {
	dir := filepath.Join(path, "snapshots")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	storage := &persistentSnapshotStorage{dir: dir, snapshots: make(map[string]snapshotFile)}
	if err := storage.scan(); err != nil {
		return nil, err
	}
	for _, snapshot := range storage.snapshots {
		storage.nextID = numeric.Max(storage.nextID, snapshot.metadata.ID+1)
	}

	return storage, nil
}

func (p *persistentSnapshotStorage) NewSnapshotFile(lastIncludedIndex, lastIncludedTerm uint64) (io.WriteCloser, error) {
	tmpFile, err := os.CreateTemp(p.dir, "snapshot-tmp-")
	if err != nil {
		return nil, err
	}

	id := p.nextID
	path := filepath.Join(p.dir, fmt.Sprintf("snapshot-%d.bin", id))
	writer := &snapshotWriteCloser{path: path, tmpFile: tmpFile}

	metadata := &SnapshotMetadata{ID: id, LastIncludedIndex: lastIncludedIndex, LastIncludedTerm: lastIncludedTerm}
	if err := encodeSnapshotMetadata(writer, metadata); err != nil {
		return nil, err
	}

	p.nextID++
	return writer, nil
}

// SnapshotReader returns a reader positioned after the metadata header of
// the snapshot with the given id, or of the latest snapshot if id is 0. It
// returns a nil reader and a nil error, rather than failing, when no
// matching snapshot exists.
func (p *persistentSnapshotStorage) SnapshotReader(id uint64) (io.ReadCloser, error) {
	if err := p.scan(); err != nil {
		return nil, err
	}

	var latest *snapshotFile
	for path, snapshot := range p.snapshots {
		snapshot := snapshot
		if id != 0 && snapshot.metadata.ID == id {
			return p.open(path)
		}
		if id == 0 && (latest == nil || snapshot.metadata.ID > latest.metadata.ID) {
			latest = &snapshot
		}
	}
	if id == 0 && latest != nil {
		return p.open(latest.path)
	}

	return nil, nil
}

func (p *persistentSnapshotStorage) open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := decodeSnapshotMetadata(file); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// scan picks up any snapshot files written to disk since the last scan.
func (p *persistentSnapshotStorage) scan() error {
	entries, err := filepath.Glob(filepath.Join(p.dir, "snapshot-*.bin"))
	if err != nil {
		return err
	}

	for _, path := range entries {
		if _, ok := p.snapshots[path]; ok {
			continue
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}

		metadata, err := decodeSnapshotMetadata(bufio.NewReader(file))
		file.Close()
		if err != nil {
			return err
		}

		p.snapshots[path] = snapshotFile{path: path, metadata: metadata}
	}

	return nil
}
