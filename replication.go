package raft

import (
	"time"

	"github.com/raftkeep/raft/internal/errors"
)

// heartbeatLoop periodically sends AppendEntries RPCs - carrying new entries
// when there are any, otherwise serving as an empty heartbeat - to every peer
// while this instance is the leader.
func (r *Raft) heartbeatLoop() {
	defer r.wg.Done()

	for {
		time.Sleep(r.options.heartbeatInterval)

		r.mu.Lock()
		if r.state == Stopped {
			r.mu.Unlock()
			return
		}
		if r.state == Leader {
			r.sendAppendEntriesToAll()
		}
		r.mu.Unlock()
	}
}

// sendAppendEntriesToAll fans out an AppendEntries RPC to every peer. Expects
// r.mu to be held by the caller.
func (r *Raft) sendAppendEntriesToAll() {
	for _, peer := range r.peers {
		r.sendAppendEntries(peer)
	}
}

// sendAppendEntries sends a single peer whatever entries it needs next, or
// falls back to InstallSnapshot if the entries it needs have already been
// compacted out of the log. Expects r.mu to be held by the caller; the RPC
// itself is dispatched on its own goroutine so the caller is never blocked.
func (r *Raft) sendAppendEntries(peer *Peer) {
	nextIndex := peer.getNextIndex()

	if nextIndex <= r.lastIncludedIndex {
		r.sendInstallSnapshot(peer)
		return
	}

	prevLogIndex := nextIndex - 1
	prevLogTerm, ok := r.log.EntryTerm(prevLogIndex)
	if !ok {
		r.sendInstallSnapshot(peer)
		return
	}

	var entries []*LogEntry
	lastIndex := r.log.LastIndex()
	for index := nextIndex; index <= lastIndex && len(entries) < r.options.maxEntriesPerRPC; index++ {
		entry, err := r.log.GetEntry(index)
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}

	request := &AppendEntriesRequest{
		LeaderID:     r.id,
		Term:         r.currentTerm,
		LeaderCommit: r.commitIndex,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
		Entries:      entries,
	}

	go func() {
		response := &AppendEntriesResponse{}
		err := r.transport.AppendEntries(peer.Address(), request, response)

		r.mu.Lock()
		defer r.mu.Unlock()

		if err != nil {
			r.logger.Debugf("server %s failed sending AppendEntries to %s: %s", r.id, peer.ID(), err.Error())
			return
		}
		if r.state != Leader || r.currentTerm != request.Term {
			return
		}

		if response.Term > r.currentTerm {
			r.stepDownToFollower(response.Term)
			return
		}

		switch response.Outcome {
		case Success:
			if len(request.Entries) > 0 {
				matched := request.Entries[len(request.Entries)-1].Index()
				peer.setMatchIndex(matched)
				peer.setNextIndex(matched + 1)
			} else if request.PrevLogIndex > peer.getMatchIndex() {
				peer.setMatchIndex(request.PrevLogIndex)
			}
			r.commitCond.Broadcast()
		case Retry:
			next := response.ConflictIndex
			if next == 0 || next >= peer.getNextIndex() {
				next = peer.getNextIndex() - 1
			}
			if next < 1 {
				next = 1
			}
			peer.setNextIndex(next)
		case Rejected:
			r.logger.Debugf("server %s was rejected by %s at term %d", r.id, peer.ID(), response.Term)
			if response.RejectedIndex != 0 {
				r.changes.rejectChange(response.RejectedIndex, RejectedError{
					Reason: "a member's state machine declined to accept the proposed change",
				})
			}
		}
	}()
}

// AppendEntries handles an inbound AppendEntries RPC. It implements
// RequestHandler.
func (r *Raft) AppendEntries(request *AppendEntriesRequest, response *AppendEntriesResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Stopped {
		return errors.WrapError(nil, "server %s is stopped and no longer serving requests", r.id)
	}

	response.Term = r.currentTerm
	response.Outcome = Rejected

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

	if request.PrevLogIndex > 0 {
		term, ok := r.log.EntryTerm(request.PrevLogIndex)
		if !ok {
			response.Outcome = Retry
			response.ConflictIndex = r.log.LastIndex() + 1
			return nil
		}
		if term != request.PrevLogTerm {
			response.Outcome = Retry
			response.ConflictTerm = term
			response.ConflictIndex = firstIndexOfTerm(r.log, term, request.PrevLogIndex)
			return nil
		}
	}

	// Only entries beyond the smaller of the leader's commit index and the
	// last index this request carries are checked; entries this member
	// already knows to be committed are never checked.
	acceptFrom := request.LeaderCommit
	if len(request.Entries) > 0 && request.Entries[len(request.Entries)-1].Index() < acceptFrom {
		acceptFrom = request.Entries[len(request.Entries)-1].Index()
	}
	if acceptFrom < r.commitIndex {
		acceptFrom = r.commitIndex
	}
	for _, entry := range request.Entries {
		if entry.Type() == ChangeEntry && entry.Index() > acceptFrom && !r.fsm.Accepts(entry.Data()) {
			response.Outcome = Rejected
			response.RejectedIndex = entry.Index()
			return nil
		}
	}

	if len(request.Entries) > 0 {
		r.supersedeConflicting(request.Entries)
		if _, err := r.log.AppendEntries(request.Entries...); err != nil {
			return errors.WrapError(err, err.Error())
		}
	}

	if request.LeaderCommit > r.commitIndex {
		lastNew := request.PrevLogIndex
		if len(request.Entries) > 0 {
			lastNew = request.Entries[len(request.Entries)-1].Index()
		}
		if request.LeaderCommit < lastNew {
			r.commitIndex = request.LeaderCommit
		} else {
			r.commitIndex = lastNew
		}
		r.applyCond.Broadcast()
	}

	response.Outcome = Success
	return nil
}

// supersedeConflicting notifies the change manager about any pending change
// tokens at indices about to be overwritten, mirroring the conflict check
// log.AppendEntries performs internally before it truncates - this instance
// was leader at an earlier term, proposed changes that never committed, and
// is now a follower whose uncommitted tail is being discarded in favor of a
// different leader's entries. Expects r.mu to be held by the caller.
func (r *Raft) supersedeConflicting(entries []*LogEntry) {
	for _, entry := range entries {
		if entry.Index() > r.log.LastIndex() {
			return
		}
		existing, err := r.log.GetEntry(entry.Index())
		if err != nil {
			return
		}
		if !existing.IsConflict(entry) {
			continue
		}
		for index := entry.Index(); index <= r.log.LastIndex(); index++ {
			r.changes.notifySuperseded(index, entry.Term())
		}
		return
	}
}

// firstIndexOfTerm walks backwards from before, which shares term, to find
// the earliest index in that term - the standard Raft conflict-backtracking
// optimization, letting the leader skip an entire mismatched term at once.
func firstIndexOfTerm(log Log, term uint64, before uint64) uint64 {
	index := before
	for index > log.FirstIndex() {
		t, ok := log.EntryTerm(index - 1)
		if !ok || t != term {
			break
		}
		index--
	}
	return index
}

// commitLoop advances the commit index while this instance is the leader,
// waking whenever a peer's match index changes or leadership is gained,
// lost, or the instance stops.
func (r *Raft) commitLoop() {
	defer r.wg.Done()

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.state != Stopped {
		if r.state != Leader {
			r.commitCond.Wait()
			continue
		}
		r.advanceCommitIndex()
		r.commitCond.Wait()
	}
}

// advanceCommitIndex recomputes the commit index from peer match indices,
// only ever advancing it to an entry replicated - and thus committed - in
// the current term, per the Raft leader-completeness safety rule. Expects
// r.mu to be held by the caller.
func (r *Raft) advanceCommitIndex() {
	matchIndex := make(map[string]uint64, len(r.peers))
	for id, peer := range r.peers {
		matchIndex[id] = peer.getMatchIndex()
	}

	candidate := r.configuration.quorumMatchIndex(r.id, r.log.LastIndex(), matchIndex)
	if candidate <= r.commitIndex {
		return
	}

	term, ok := r.log.EntryTerm(candidate)
	if !ok || term != r.currentTerm {
		return
	}

	r.commitIndex = candidate
	r.applyCond.Broadcast()
}

// applyLoop applies newly committed entries to the state machine in order,
// resolving whatever change tokens await them.
func (r *Raft) applyLoop() {
	defer r.wg.Done()

	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		for r.state != Stopped && r.lastApplied >= r.commitIndex {
			r.applyCond.Wait()
		}
		if r.state == Stopped {
			return
		}

		entries := make([]*LogEntry, 0, r.commitIndex-r.lastApplied)
		for index := r.lastApplied + 1; index <= r.commitIndex; index++ {
			entry, err := r.log.GetEntry(index)
			if err != nil {
				r.logger.Fatalf("server %s failed reading committed entry %d: %s", r.id, index, err.Error())
			}
			entries = append(entries, entry)
		}

		r.mu.Unlock()
		for _, entry := range entries {
			r.applyEntry(entry)
		}
		r.mu.Lock()

		r.lastApplied = entries[len(entries)-1].Index()
	}
}

// applyEntry dispatches a single committed entry to the state machine, or
// handles it directly if it is a noop or configuration entry. Called without
// r.mu held.
func (r *Raft) applyEntry(entry *LogEntry) {
	switch entry.Type() {
	case ChangeEntry:
		response := r.fsm.Apply(entry)
		r.mu.Lock()
		r.changes.resolveChange(entry.Index(), response, entry.Term())
		r.entriesSinceSnapshot++
		r.maybeTakeSnapshot()
		r.mu.Unlock()
	case NoopEntry:
		r.mu.Lock()
		r.entriesSinceSnapshot++
		r.maybeTakeSnapshot()
		r.mu.Unlock()
	case ConfigurationEntry:
		r.applyConfigurationEntry(entry)
	}
}

// applyConfigurationEntry finalizes a committed configuration entry. A
// committed joint (C_old,new) entry triggers the leader to immediately append
// the stable C_new entry that completes the transition; a committed stable
// entry installs the new configuration and resolves the change it began.
func (r *Raft) applyConfigurationEntry(entry *LogEntry) {
	configuration, err := decodeConfiguration(entry.Data())
	if err != nil {
		r.logger.Fatalf("server %s failed decoding committed configuration at index %d: %s", r.id, entry.Index(), err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if configuration.IsJoint() {
		if r.state == Leader {
			stable := &Configuration{Members: configuration.Members, IsVoter: configuration.NewVoters}
			data, err := encodeConfiguration(stable)
			if err != nil {
				r.logger.Fatalf("server %s failed encoding follow-up configuration: %s", r.id, err.Error())
			}
			next := NewTypedLogEntry(r.log.LastIndex()+1, r.currentTerm, ConfigurationEntry, data)
			if _, err := r.log.AppendEntries(next); err != nil {
				r.logger.Fatalf("server %s failed appending follow-up configuration: %s", r.id, err.Error())
			}
			r.changes.transferConfigChange(entry.Index(), next.Index())
			r.sendAppendEntriesToAll()
		}
		return
	}

	r.configuration = &configuration
	r.rebuildPeers()
	r.changes.resolveConfigChange(entry.Index(), configuration)
	r.stepDownIfRemoved()
}

// stepDownIfRemoved stops this instance from participating further once the
// configuration it just installed no longer lists it as a voter - the rule
// that a member not in C_new steps down once C_new commits. Expects r.mu to
// be held by the caller.
func (r *Raft) stepDownIfRemoved() {
	if r.configuration.isVoterIn(r.id) {
		return
	}
	wasLeader := r.state == Leader
	r.state = Stopped
	if wasLeader {
		r.changes.notifyLostLeadership(r.id, "")
	}
	r.applyCond.Broadcast()
	r.commitCond.Broadcast()
	r.logger.Infof("server %s is no longer a voting member of the cluster configuration and has stepped down", r.id)
}

// maybeTakeSnapshot starts a snapshot in the background once enough entries
// have been applied since the last one. Expects r.mu to be held by the
// caller.
func (r *Raft) maybeTakeSnapshot() {
	if r.entriesSinceSnapshot < r.options.snapshotThreshold {
		return
	}
	r.entriesSinceSnapshot = 0
	go r.takeSnapshot()
}
