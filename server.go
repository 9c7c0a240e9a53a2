package raft

import (
	"github.com/raftkeep/raft/internal/errors"
)

// Server wraps a Raft instance with durable storage rooted at a single
// directory and a ready-to-use net/rpc transport, so that running a member
// as its own process only requires a handful of constructor arguments
// instead of wiring Log/StateStorage/SnapshotStorage/Transport by hand.
type Server struct {
	raft *Raft
}

// NewServer creates a Server for id, listening at address, participating in
// the cluster described by members. All durable state - the log, persisted
// term/vote, and snapshots - is rooted at dataDir.
func NewServer(id string, address string, members map[string]string, dataDir string, fsm StateMachine, opts ...Option) (*Server, error) {
	log := NewLog(dataDir)

	stateStorage, err := NewStateStorage(dataDir)
	if err != nil {
		return nil, errors.WrapError(err, "failed to create new server: %s", err.Error())
	}

	snapshotStorage, err := NewSnapshotStorage(dataDir)
	if err != nil {
		return nil, errors.WrapError(err, "failed to create new server: %s", err.Error())
	}

	opts = append([]Option{WithTransport(NewNetRPCTransport(address))}, opts...)

	raft, err := NewRaft(id, address, members, log, stateStorage, snapshotStorage, fsm, opts...)
	if err != nil {
		return nil, errors.WrapError(err, "failed to create new server: %s", err.Error())
	}

	return &Server{raft: raft}, nil
}

// Start starts the underlying Raft instance and begins serving RPCs.
func (s *Server) Start() error {
	return s.raft.Start()
}

// Stop stops the underlying Raft instance and closes its transport.
func (s *Server) Stop() error {
	return s.raft.Stop()
}

// Status returns the status of the underlying Raft instance.
func (s *Server) Status() Status {
	return s.raft.Status()
}

// ProposeChange submits a change to be replicated and applied to the state
// machine, returning a token the caller can Await for the result.
func (s *Server) ProposeChange(change []byte) ChangeToken[ChangeResponse] {
	return s.raft.ProposeChange(change)
}

// ProposeConfigChange submits a change of cluster membership.
func (s *Server) ProposeConfigChange(members map[string]string, voters map[string]bool) ChangeToken[Configuration] {
	return s.raft.ProposeConfigChange(members, voters)
}

// GetStateForInit lets a joining member bootstrap from the leader without
// replaying the whole log.
func (s *Server) GetStateForInit() (InitState, error) {
	return s.raft.GetStateForInit()
}
