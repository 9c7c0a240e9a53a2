package raft

// Outcome classifies how a server responded to an AppendEntries RPC. It
// distinguishes a transient log-mismatch (the leader should retry with an
// earlier prevLogIndex) from an outright rejection (the leader should not
// retry the same entries - either its term is stale, or the application's
// acceptability predicate refused one of the proposed changes).
type Outcome uint32

const (
	// Success indicates the entries were appended (or the heartbeat was
	// accepted) and the follower's log now matches through the request's
	// last entry.
	Success Outcome = iota

	// Retry indicates a log-matching failure: the follower's log diverges
	// from the leader's at or before prevLogIndex. The leader should retry
	// with a smaller prevLogIndex, using ConflictIndex/ConflictTerm as a hint.
	Retry

	// Rejected indicates the request cannot succeed by retrying with a
	// smaller prevLogIndex: either the request's term was stale, or the
	// state machine's Accepts predicate refused one of the proposed changes.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Rejected:
		return "rejected"
	default:
		panic("invalid outcome")
	}
}

// AppendEntriesRequest is sent by a leader to replicate log entries (or, with
// no entries, as a heartbeat) to a follower.
type AppendEntriesRequest struct {
	LeaderID     string
	LeaderCommit uint64
	Term         uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*LogEntry
}

// AppendEntriesResponse is a follower's reply to an AppendEntriesRequest.
type AppendEntriesResponse struct {
	Term    uint64
	Outcome Outcome

	// ConflictIndex/ConflictTerm let the leader skip backwards by a whole
	// term's worth of entries instead of one at a time when Outcome is
	// Retry, per the standard Raft log-backtracking optimization.
	ConflictIndex uint64
	ConflictTerm  uint64

	// RejectedIndex names the entry the acceptability predicate refused
	// when Outcome is Rejected, so the leader can withdraw that specific
	// change token without treating it as a leadership or log-matching
	// problem.
	RejectedIndex uint64
}

func (r *AppendEntriesResponse) Success() bool { return r.Outcome == Success }

// RequestVoteRequest is sent by a candidate to solicit a vote.
type RequestVoteRequest struct {
	CandidateID  string
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse is a server's reply to a RequestVoteRequest.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// InstallSnapshotRequest is sent by a leader to a follower whose log has
// fallen so far behind that the leader has already compacted away the
// entries the follower would need.
type InstallSnapshotRequest struct {
	LeaderID          string
	Term              uint64
	LastIncludedIndex uint64
	LastIncludedTerm  uint64
	Data              []byte
}

// InstallSnapshotResponse is a follower's reply to an InstallSnapshotRequest.
type InstallSnapshotResponse struct {
	Term uint64
}
