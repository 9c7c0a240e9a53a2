package raft

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
)

// writeGob writes a length-prefixed gob encoding of v to w.
func writeGob(w io.Writer, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	size := int32(buf.Len())
	if err := binary.Write(w, binary.BigEndian, size); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// readGob reads a length-prefixed gob encoding from r into v.
func readGob(r io.Reader, v interface{}) error {
	var size int32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}

// gobPersistentState mirrors the persisted term/vote pair with exported
// fields so gob, which cannot see unexported struct fields, can encode it.
type gobPersistentState struct {
	Term     uint64
	VotedFor string
}

func encodePersistentState(w io.Writer, state *persistentState) error {
	return writeGob(w, gobPersistentState{Term: state.term, VotedFor: state.votedFor})
}

func decodePersistentState(r io.Reader) (persistentState, error) {
	var decoded gobPersistentState
	if err := readGob(r, &decoded); err != nil {
		return persistentState{}, err
	}
	return persistentState{term: decoded.Term, votedFor: decoded.VotedFor}, nil
}

func encodeSnapshotMetadata(w io.Writer, metadata *SnapshotMetadata) error {
	return writeGob(w, metadata)
}

func decodeSnapshotMetadata(r io.Reader) (SnapshotMetadata, error) {
	var metadata SnapshotMetadata
	err := readGob(r, &metadata)
	return metadata, err
}

func encodeSnapshot(w io.Writer, snapshot *Snapshot) error {
	return writeGob(w, snapshot)
}

func decodeSnapshot(r io.Reader) (Snapshot, error) {
	var snapshot Snapshot
	err := readGob(r, &snapshot)
	return snapshot, err
}

func encodeConfiguration(configuration *Configuration) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(configuration); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeConfiguration(data []byte) (Configuration, error) {
	var configuration Configuration
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&configuration); err != nil {
		return Configuration{}, err
	}
	return configuration, nil
}
