package raft

import "fmt"

// EntryConflictError describes a log entry at a given index that conflicts
// with an entry already present at that index (same index, different term).
// The log resolves such conflicts by truncating the conflicting suffix and
// does not itself return this error.
type EntryConflictError struct {
	Index uint64
}

func (e EntryConflictError) Error() string {
	return fmt.Sprintf("log entry at index %d conflicts with existing entry", e.Index)
}

// NotLeaderError is returned when an operation that requires leadership is
// submitted to a server that is not the leader. KnownLeader is empty if the
// server does not know who the current leader is.
type NotLeaderError struct {
	ServerID    string
	KnownLeader string
}

func (e NotLeaderError) Error() string {
	if e.KnownLeader == "" {
		return fmt.Sprintf("server %s is not the leader and does not know the current leader", e.ServerID)
	}
	return fmt.Sprintf("server %s is not the leader, known leader is %s", e.ServerID, e.KnownLeader)
}

// InvariantViolationError describes an internal invariant that raft depends
// on for correctness being violated. The member reports such violations
// through the logger's Fatalf and does not itself return this error.
type InvariantViolationError struct {
	Message string
}

func (e InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Message)
}

// RejectedError is returned when a proposed change is rejected by the state
// machine's acceptability predicate rather than by a raft-level constraint.
type RejectedError struct {
	Reason string
}

func (e RejectedError) Error() string {
	return fmt.Sprintf("change rejected: %s", e.Reason)
}

// SupersededError indicates that a proposed change's log slot was overwritten
// by a later leader before the entry was committed.
type SupersededError struct {
	Index uint64
	Term  uint64
}

func (e SupersededError) Error() string {
	return fmt.Sprintf("entry at index %d was superseded before it committed (observed term %d)", e.Index, e.Term)
}
