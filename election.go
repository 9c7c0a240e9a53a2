package raft

import (
	"time"

	"github.com/raftkeep/raft/internal/errors"
	"github.com/raftkeep/raft/internal/randtime"
)

// electionLoop periodically checks whether an election should be started,
// sleeping a randomized interval between options.electionTimeout and twice
// that so that followers do not all become candidates simultaneously.
func (r *Raft) electionLoop() {
	defer r.wg.Done()

	for {
		timeout := randtime.Timeout(r.options.electionTimeout, 2*r.options.electionTimeout)
		time.Sleep(timeout)

		r.mu.Lock()
		if r.state == Stopped {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		r.election()
	}
}

// election starts a new election if this server has not heard from a leader
// within the election timeout and is not the leader. A candidate whose
// election has not produced a leader starts another one at a higher term.
func (r *Raft) election() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Leader || time.Since(r.lastContact) < r.options.electionTimeout {
		return
	}

	votesReceived := map[string]bool{r.id: true}
	r.becomeCandidate()
	r.sendRequestVoteToAll(votesReceived)
}

func (r *Raft) becomeCandidate() {
	r.state = Candidate
	r.currentTerm++
	r.votedFor = r.id
	r.leaderID = ""
	r.persistTermAndVote()
	r.lastContact = time.Now()
	r.logger.Infof("server %s has entered the candidate state: term = %d", r.id, r.currentTerm)
}

func (r *Raft) becomeLeader() {
	r.state = Leader
	r.leaderID = r.id
	for _, peer := range r.peers {
		peer.setNextIndex(r.log.LastIndex() + 1)
		peer.setMatchIndex(0)
	}

	// Append a no-op entry so that entries from prior terms can be
	// determined committed once this entry itself commits.
	noop := NewTypedLogEntry(r.log.LastIndex()+1, r.currentTerm, NoopEntry, nil)
	if _, err := r.log.AppendEntries(noop); err != nil {
		r.logger.Fatalf("server %s failed appending no-op entry: %s", r.id, err.Error())
	}

	r.sendAppendEntriesToAll()
	r.commitCond.Broadcast()
	r.logger.Infof("server %s has entered the leader state: term = %d", r.id, r.currentTerm)
}

// stepDownToFollower transitions to the follower state upon observing a
// term greater than currentTerm, resetting vote and known leadership.
func (r *Raft) stepDownToFollower(term uint64) {
	wasLeader := r.state == Leader
	r.state = Follower
	r.currentTerm = term
	r.votedFor = ""
	r.leaderID = ""
	r.persistTermAndVote()
	if wasLeader {
		r.changes.notifyLostLeadership(r.id, "")
	}
	r.commitCond.Broadcast()
	r.logger.Infof("server %s has entered the follower state: term = %d", r.id, r.currentTerm)
}

func (r *Raft) hasQuorum(votes map[string]bool) bool {
	return r.configuration.hasQuorum(votes)
}

// RequestVote handles an inbound vote request. It implements RequestHandler.
func (r *Raft) RequestVote(request *RequestVoteRequest, response *RequestVoteResponse) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Stopped {
		return errors.WrapError(nil, "server %s is stopped and no longer serving requests", r.id)
	}

	r.logger.Debugf("server %s received RequestVote RPC: candidateID = %s, term = %d, lastLogIndex = %d, lastLogTerm = %d",
		r.id, request.CandidateID, request.Term, request.LastLogIndex, request.LastLogTerm)

	response.Term = r.currentTerm
	response.VoteGranted = false

	if request.Term < r.currentTerm {
		return nil
	}

	if request.Term > r.currentTerm {
		r.stepDownToFollower(request.Term)
		response.Term = r.currentTerm
	}

	if r.votedFor != "" && r.votedFor != request.CandidateID {
		return nil
	}

	lastLogTerm := r.log.LastTerm()
	if r.lastIncludedIndex > r.log.LastIndex() {
		lastLogTerm = r.lastIncludedTerm
	}
	lastLogIndex := r.log.LastIndex()
	if lastLogIndex < r.lastIncludedIndex {
		lastLogIndex = r.lastIncludedIndex
	}

	if request.LastLogTerm < lastLogTerm ||
		(request.LastLogTerm == lastLogTerm && lastLogIndex > request.LastLogIndex) {
		return nil
	}

	r.lastContact = time.Now()
	r.votedFor = request.CandidateID
	response.VoteGranted = true
	r.persistTermAndVote()

	return nil
}

// sendRequestVoteToAll fans out RequestVote RPCs to every peer in parallel,
// tallying votes and becoming leader once a quorum is reached in every
// active voter set (accounting for a joint-consensus transition).
func (r *Raft) sendRequestVoteToAll(votes map[string]bool) {
	request := &RequestVoteRequest{
		CandidateID:  r.id,
		Term:         r.currentTerm,
		LastLogIndex: r.log.LastIndex(),
		LastLogTerm:  r.log.LastTerm(),
	}

	for _, peer := range r.peers {
		peer := peer
		go func() {
			response := &RequestVoteResponse{}
			err := r.transport.RequestVote(peer.Address(), request, response)

			r.mu.Lock()
			defer r.mu.Unlock()

			if err != nil || r.state != Candidate || r.currentTerm != request.Term {
				return
			}

			if response.Term > r.currentTerm {
				r.stepDownToFollower(response.Term)
				return
			}

			if response.VoteGranted {
				votes[peer.ID()] = true
			}

			if r.hasQuorum(votes) && r.state == Candidate {
				r.becomeLeader()
			}
		}()
	}
}
