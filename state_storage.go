package raft

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/raftkeep/raft/internal/errors"
)

// StateStorage persists the two fields a Raft member must recover across a
// restart in order to preserve the "vote once per term" safety property:
// the current term and who it voted for in that term.
type StateStorage interface {
	// SetState persists term and vote. The storage must be open, or an
	// error is returned.
	SetState(term uint64, vote string) error

	// State returns the most recently persisted term and vote, or zero and
	// an empty string if nothing has been persisted yet.
	State() (uint64, string, error)
}

type persistentState struct {
	term     uint64
	votedFor string
}

// persistentStateStorage implements StateStorage by rewriting a single file
// on every SetState call, caching the last-written value so State reads
// don't touch disk once a value has been set or loaded. It is not
// concurrent safe; callers serialize access (the Raft member guards it with
// its single coarse mutex).
type persistentStateStorage struct {
	path   string
	cached *persistentState
}

// NewStateStorage creates a state storage rooted at path/state/state.bin.
func NewStateStorage(path string) (StateStorage, error) {
	dir := filepath.Join(path, "state")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.WrapError(err, err.Error())
	}
	return &persistentStateStorage{path: filepath.Join(dir, "state.bin")}, nil
}

func (p *persistentStateStorage) SetState(term uint64, votedFor string) error {
	tmp, err := os.CreateTemp(filepath.Dir(p.path), "state-tmp-")
	if err != nil {
		return errors.WrapError(err, err.Error())
	}

	state := persistentState{term: term, votedFor: votedFor}
	if err := encodePersistentState(tmp, &state); err != nil {
		return errors.WrapError(err, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		return errors.WrapError(err, err.Error())
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapError(err, err.Error())
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return errors.WrapError(err, err.Error())
	}

	p.cached = &state
	return nil
}

func (p *persistentStateStorage) State() (uint64, string, error) {
	if p.cached != nil {
		return p.cached.term, p.cached.votedFor, nil
	}

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", errors.WrapError(err, err.Error())
	}

	state, err := decodePersistentState(bytes.NewReader(data))
	if err != nil && err != io.EOF {
		return 0, "", errors.WrapError(err, err.Error())
	}
	p.cached = &state
	return state.term, state.votedFor, nil
}
