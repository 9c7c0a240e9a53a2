package raft

// Snapshot is a point-in-time, compacted representation of a StateMachine's
// state, together with the index and term of the last log entry it reflects.
type Snapshot struct {
	// LastIncludedIndex is the index of the last entry the snapshot reflects.
	LastIncludedIndex uint64

	// LastIncludedTerm is the term of the last entry the snapshot reflects.
	LastIncludedTerm uint64

	// Data is the serialized state machine state, opaque to raft.
	Data []byte
}

// StateMachine is an interface representing a replicated state machine.
//
// Apply, Accepts, Snapshot, and Restore must all be safe to call
// concurrently with one another, since the member may invoke Accepts from
// a replication path while Apply is running on the apply loop.
type StateMachine interface {
	// Apply applies the given log entry to the state machine and returns
	// a value made available to the proposer that is waiting on the
	// corresponding change token.
	Apply(entry *LogEntry) interface{}

	// Accepts reports whether the state machine is willing to admit the
	// given change. The leader consults it before appending a proposal; a
	// follower consults it only for incoming entries beyond the smaller of
	// the leader's commit index and the last index the request carries,
	// never for entries it already knows to be committed - an
	// already-committed decision can never be revisited.
	Accepts(change []byte) bool

	// Snapshot returns a snapshot of the current state of the state machine.
	// The bytes contained in the snapshot must be serialized in a way that
	// the Restore function can understand.
	Snapshot() (Snapshot, error)

	// Restore recovers the state of the state machine given a snapshot that
	// was produced by Snapshot or received from a leader via InstallSnapshot.
	Restore(snapshot *Snapshot) error
}
