package raft

import (
	"time"

	"github.com/raftkeep/raft/internal/errors"
)

// takeSnapshot asks the state machine for a snapshot reflecting everything
// applied so far, persists it, and compacts the portion of the log the
// snapshot now makes redundant. Runs on its own goroutine, outside r.mu,
// since StateMachine.Snapshot must tolerate concurrent Apply calls.
func (r *Raft) takeSnapshot() {
	r.mu.Lock()
	if r.lastApplied == 0 || r.lastApplied <= r.lastIncludedIndex {
		r.mu.Unlock()
		return
	}
	lastApplied := r.lastApplied
	r.mu.Unlock()

	snapshot, err := r.fsm.Snapshot()
	if err != nil {
		r.logger.Errorf("server %s failed taking snapshot: %s", r.id, err.Error())
		return
	}

	r.mu.Lock()
	term, ok := r.log.EntryTerm(lastApplied)
	r.mu.Unlock()
	if !ok {
		r.logger.Errorf("server %s could not determine the term for snapshot boundary %d", r.id, lastApplied)
		return
	}
	snapshot.LastIncludedIndex = lastApplied
	snapshot.LastIncludedTerm = term

	r.mu.Lock()
	writer, err := r.snapshotStorage.NewSnapshotFile(snapshot.LastIncludedIndex, snapshot.LastIncludedTerm)
	r.mu.Unlock()
	if err != nil {
		r.logger.Errorf("server %s failed creating a snapshot file: %s", r.id, err.Error())
		return
	}
	if err := encodeSnapshot(writer, &snapshot); err != nil {
		writer.Close()
		r.logger.Errorf("server %s failed encoding snapshot: %s", r.id, err.Error())
		return
	}
	if err := writer.Close(); err != nil {
		r.logger.Errorf("server %s failed persisting snapshot: %s", r.id, err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if snapshot.LastIncludedIndex <= r.lastIncludedIndex {
		return
	}
	if err := r.log.TruncatePrefix(snapshot.LastIncludedIndex, snapshot.LastIncludedTerm); err != nil {
		r.logger.Fatalf("server %s failed compacting the log after taking a snapshot: %s", r.id, err.Error())
	}
	r.lastIncludedIndex = snapshot.LastIncludedIndex
	r.lastIncludedTerm = snapshot.LastIncludedTerm

	r.logger.Infof("server %s took a snapshot through index %d", r.id, snapshot.LastIncludedIndex)
}

// sendInstallSnapshot sends a peer whose nextIndex has fallen behind the
// local log's compacted prefix the entire latest snapshot, since the leader
// no longer holds the entries the peer would need to catch up incrementally.
// Expects r.mu to be held by the caller; the RPC runs on its own goroutine.
func (r *Raft) sendInstallSnapshot(peer *Peer) {
	snapshot, err := loadLatestSnapshot(r.snapshotStorage)
	if err != nil || snapshot == nil {
		if err != nil {
			r.logger.Errorf("server %s failed loading snapshot to send to %s: %s", r.id, peer.ID(), err.Error())
		}
		return
	}

	request := &InstallSnapshotRequest{
		LeaderID:          r.id,
		Term:              r.currentTerm,
		LastIncludedIndex: snapshot.LastIncludedIndex,
		LastIncludedTerm:  snapshot.LastIncludedTerm,
		Data:              snapshot.Data,
	}

	go func() {
		response := &InstallSnapshotResponse{}
		err := r.transport.InstallSnapshot(peer.Address(), request, response)

		r.mu.Lock()
		defer r.mu.Unlock()

		if err != nil {
			r.logger.Debugf("server %s failed sending InstallSnapshot to %s: %s", r.id, peer.ID(), err.Error())
			return
		}
		if r.state != Leader || r.currentTerm != request.Term {
			return
		}
		if response.Term > r.currentTerm {
			r.stepDownToFollower(response.Term)
			return
		}

		peer.setMatchIndex(request.LastIncludedIndex)
		peer.setNextIndex(request.LastIncludedIndex + 1)
		r.commitCond.Broadcast()
	}()
}

// InstallSnapshot handles an inbound InstallSnapshot RPC, restoring the state
// machine from the leader's snapshot and discarding any log prefix it
// supersedes. It implements RequestHandler.
func (r *Raft) InstallSnapshot(request *InstallSnapshotRequest, response *InstallSnapshotResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Stopped {
		return errors.WrapError(nil, "server %s is stopped and no longer serving requests", r.id)
	}

	response.Term = r.currentTerm

	if request.Term < r.currentTerm {
		return nil
	}
	if request.Term > r.currentTerm {
		r.stepDownToFollower(request.Term)
		response.Term = r.currentTerm
	}
	r.state = Follower
	r.leaderID = request.LeaderID
	r.lastContact = time.Now()

	if request.LastIncludedIndex <= r.lastIncludedIndex {
		return nil
	}

	// The restore, the snapshot-file write, and the log/index bookkeeping
	// below all happen with r.mu held throughout: releasing it here would let
	// applyLoop apply an entry from before the restore on top of it, or let
	// another InstallSnapshot/AppendEntries RPC observe a half-restored
	// state machine.
	snapshot := &Snapshot{
		LastIncludedIndex: request.LastIncludedIndex,
		LastIncludedTerm:  request.LastIncludedTerm,
		Data:              request.Data,
	}
	if err := r.fsm.Restore(snapshot); err != nil {
		return errors.WrapError(err, "failed to restore state machine from installed snapshot: %s", err.Error())
	}

	writer, err := r.snapshotStorage.NewSnapshotFile(snapshot.LastIncludedIndex, snapshot.LastIncludedTerm)
	if err != nil {
		return errors.WrapError(err, "failed to persist installed snapshot: %s", err.Error())
	}
	if err := encodeSnapshot(writer, snapshot); err != nil {
		writer.Close()
		return errors.WrapError(err, "failed to persist installed snapshot: %s", err.Error())
	}
	if err := writer.Close(); err != nil {
		return errors.WrapError(err, "failed to persist installed snapshot: %s", err.Error())
	}

	if err := r.log.TruncatePrefix(snapshot.LastIncludedIndex, snapshot.LastIncludedTerm); err != nil {
		r.logger.Fatalf("server %s failed compacting the log after installing a snapshot: %s", r.id, err.Error())
	}
	r.lastIncludedIndex = snapshot.LastIncludedIndex
	r.lastIncludedTerm = snapshot.LastIncludedTerm
	if r.lastApplied < snapshot.LastIncludedIndex {
		r.lastApplied = snapshot.LastIncludedIndex
	}
	if r.commitIndex < snapshot.LastIncludedIndex {
		r.commitIndex = snapshot.LastIncludedIndex
	}

	return nil
}

